package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newFakeSearchServer(t *testing.T) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("format") != "json" {
			http.Error(w, "expected json format", http.StatusBadRequest)
			return
		}
		switch r.URL.Query().Get("q") {
		case "boom":
			http.Error(w, "upstream unavailable", http.StatusBadGateway)
		case "empty":
			w.Write([]byte(`{"results":[]}`))
		default:
			w.Write([]byte(`{"results":[
				{"title":"<span>Go</span> programming","url":"https://go.dev","content":"The <b>Go</b> language."},
				{"title":"Second","url":"https://example.com/2","content":"s2"},
				{"title":"Third","url":"https://example.com/3","content":"s3"}
			]}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSearchStripsMarkupAndLimits(t *testing.T) {
	srv := newFakeSearchServer(t)
	client := NewSearchClient(srv.URL, srv.Client())

	results, err := client.Search(context.Background(), "go", 2)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Title != "Go programming" {
		t.Errorf("title = %q, want markup stripped", results[0].Title)
	}
	if results[0].Snippet != "The Go language." {
		t.Errorf("snippet = %q, want markup stripped", results[0].Snippet)
	}
	if results[0].URL != "https://go.dev" {
		t.Errorf("url = %q", results[0].URL)
	}
}

func TestSearchUpstreamError(t *testing.T) {
	srv := newFakeSearchServer(t)
	client := NewSearchClient(srv.URL, srv.Client())

	if _, err := client.Search(context.Background(), "boom", 5); err == nil {
		t.Fatal("expected error on upstream failure")
	}
}

func TestWebSearchTool(t *testing.T) {
	srv := newFakeSearchServer(t)
	r := NewRegistry()
	RegisterWebSearch(r, NewSearchClient(srv.URL, srv.Client()))

	res := r.Dispatch(context.Background(), "u1", ToolWebSearch, json.RawMessage(`{"query":"go","limit":1}`))
	if !res.Success {
		t.Fatalf("web search failed: %s", res.Error)
	}
	if res.Count != 1 {
		t.Errorf("count = %d, want 1", res.Count)
	}

	res = r.Dispatch(context.Background(), "u1", ToolWebSearch, json.RawMessage(`{"query":"  "}`))
	if res.Success {
		t.Error("blank query accepted")
	}
}

func TestStripHTML(t *testing.T) {
	cases := []struct{ in, want string }{
		{"plain text", "plain text"},
		{"<b>bold</b> move", "bold move"},
		{"a < b", "a < b"},
	}
	for _, tc := range cases {
		if got := stripHTML(tc.in); got != tc.want {
			t.Errorf("stripHTML(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
