package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found_error"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

func TestClientSendsBearerToken(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /v1/conversations": `{"conversations":[]}`,
	})

	resp, err := ts.client().get(ctx, "/v1/conversations")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if err := decodeJSON(resp, nil); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("got %d requests", len(ts.requests))
	}
	if ts.requests[0].Auth != "Bearer test-token" {
		t.Errorf("auth header = %q", ts.requests[0].Auth)
	}
}

func TestClientOmitsEmptyToken(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /health": `{"status":"ok"}`,
	})

	client := ts.client()
	client.token = ""
	if _, err := client.get(ctx, "/health"); err != nil {
		t.Fatalf("get: %v", err)
	}
	if ts.requests[0].Auth != "" {
		t.Errorf("auth header = %q, want empty", ts.requests[0].Auth)
	}
}

func TestDecodeJSONErrorEnvelope(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := ts.client().get(ctx, "/v1/memory/missing")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	err = decodeJSON(resp, nil)
	if err == nil {
		t.Fatal("expected error from 404 envelope")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("error = %v, want envelope message", err)
	}
}

func TestMemoryCommandsHitAPI(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /v1/memory":        `{"success":true}`,
		"DELETE /v1/memory/goal": `{"success":true}`,
		"GET /v1/memory/search":  `{"success":true,"count":1,"results":[{"key":"goal","value":"run","score":0.9}]}`,
		"POST /v1/memory/import": `{"success":true,"count":3}`,
		"GET /v1/conversations":  `{"conversations":[{"id":"c1","title":"Hi","last_message_at":"2026-01-01T00:00:00Z"}]}`,
	})
	client := ts.client()

	resp, err := client.post(ctx, "/v1/memory", map[string]any{"key": "goal", "value": "run"})
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if err := decodeJSON(resp, nil); err != nil {
		t.Fatalf("decode: %v", err)
	}

	resp, err = client.delete(ctx, "/v1/memory/goal")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := decodeJSON(resp, nil); err != nil {
		t.Fatalf("decode: %v", err)
	}

	var search struct {
		Results []struct {
			Key string `json:"key"`
		} `json:"results"`
	}
	resp, err = client.get(ctx, "/v1/memory/search?q=run")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if err := decodeJSON(resp, &search); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(search.Results) != 1 || search.Results[0].Key != "goal" {
		t.Errorf("search results = %+v", search.Results)
	}

	if ts.requests[0].Method != http.MethodPost || ts.requests[0].Path != "/v1/memory" {
		t.Errorf("first request = %+v", ts.requests[0])
	}
	if !strings.Contains(ts.requests[0].Body, `"key":"goal"`) {
		t.Errorf("post body = %s", ts.requests[0].Body)
	}
}
