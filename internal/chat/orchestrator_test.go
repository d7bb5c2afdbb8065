package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/stridelabs/stride/internal/conversation"
	"github.com/stridelabs/stride/internal/tools"
)

type scriptedStream struct {
	resps []openai.ChatCompletionStreamResponse
	err   error // returned once the scripted responses are drained
}

func (s *scriptedStream) Recv() (openai.ChatCompletionStreamResponse, error) {
	if len(s.resps) == 0 {
		if s.err != nil {
			return openai.ChatCompletionStreamResponse{}, s.err
		}
		return openai.ChatCompletionStreamResponse{}, io.EOF
	}
	r := s.resps[0]
	s.resps = s.resps[1:]
	return r, nil
}

func (s *scriptedStream) Close() error { return nil }

type fakeStreamer struct {
	scripts []*scriptedStream
	reqs    []openai.ChatCompletionRequest
}

func (f *fakeStreamer) StreamChat(ctx context.Context, req openai.ChatCompletionRequest) (Stream, error) {
	f.reqs = append(f.reqs, req)
	if len(f.scripts) == 0 {
		return nil, errors.New("no scripted stream left")
	}
	s := f.scripts[0]
	f.scripts = f.scripts[1:]
	return s, nil
}

type fakeSaver struct {
	calls  int
	userID string
	convID string
	msgs   []conversation.Message
	err    error
}

func (s *fakeSaver) Save(ctx context.Context, userID, conversationID string, msgs []conversation.Message) error {
	s.calls++
	s.userID = userID
	s.convID = conversationID
	s.msgs = msgs
	return s.err
}

func textChunk(s string) openai.ChatCompletionStreamResponse {
	return openai.ChatCompletionStreamResponse{Choices: []openai.ChatCompletionStreamChoice{
		{Delta: openai.ChatCompletionStreamChoiceDelta{Content: s}},
	}}
}

func reasoningChunk(s string) openai.ChatCompletionStreamResponse {
	return openai.ChatCompletionStreamResponse{Choices: []openai.ChatCompletionStreamChoice{
		{Delta: openai.ChatCompletionStreamChoiceDelta{ReasoningContent: s}},
	}}
}

func finishChunk(reason openai.FinishReason) openai.ChatCompletionStreamResponse {
	return openai.ChatCompletionStreamResponse{Choices: []openai.ChatCompletionStreamChoice{
		{FinishReason: reason},
	}}
}

func toolCallChunk(idx int, id, name, argsFragment string) openai.ChatCompletionStreamResponse {
	return openai.ChatCompletionStreamResponse{Choices: []openai.ChatCompletionStreamChoice{
		{Delta: openai.ChatCompletionStreamChoiceDelta{ToolCalls: []openai.ToolCall{{
			Index:    &idx,
			ID:       id,
			Type:     openai.ToolTypeFunction,
			Function: openai.FunctionCall{Name: name, Arguments: argsFragment},
		}}}},
	}}
}

func userTurn(text string) Request {
	return Request{
		ConversationID: "c1",
		Messages: []conversation.Message{{
			ID:    "m0",
			Role:  conversation.RoleUser,
			Parts: []conversation.Part{{Type: conversation.PartText, Text: text}},
		}},
	}
}

func collectSink(events *[]Event) Sink {
	return func(e Event) error {
		*events = append(*events, e)
		return nil
	}
}

func newEchoRegistry(calls *[]string) *tools.Registry {
	r := tools.NewRegistry()
	for _, name := range append(tools.MemoryToolNames, tools.ToolWebSearch) {
		r.Register(tools.Tool{
			Name: name,
			Handler: func(ctx context.Context, userID string, args json.RawMessage) tools.Result {
				*calls = append(*calls, name+":"+string(args))
				return tools.Result{Success: true, Message: "ok"}
			},
		})
	}
	return r
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunStreamsTextAndPersists(t *testing.T) {
	streamer := &fakeStreamer{scripts: []*scriptedStream{{resps: []openai.ChatCompletionStreamResponse{
		reasoningChunk("thinking"),
		textChunk("Hello"),
		textChunk(", world"),
		finishChunk(openai.FinishReasonStop),
	}}}}
	saver := &fakeSaver{}
	o := NewOrchestrator(streamer, tools.NewRegistry(), saver, discardLogger())

	var events []Event
	if err := o.Run(context.Background(), "u1", userTurn("hi"), collectSink(&events)); err != nil {
		t.Fatalf("run: %v", err)
	}

	wantTypes := []string{EventReasoningDelta, EventTextDelta, EventTextDelta, EventFinish}
	if len(events) != len(wantTypes) {
		t.Fatalf("got %d events %v, want %d", len(events), events, len(wantTypes))
	}
	for i, want := range wantTypes {
		if events[i].Type != want {
			t.Errorf("event %d type = %s, want %s", i, events[i].Type, want)
		}
	}
	if events[3].FinishReason != "stop" {
		t.Errorf("finish reason = %s, want stop", events[3].FinishReason)
	}

	if saver.calls != 1 {
		t.Fatalf("save called %d times, want 1", saver.calls)
	}
	if saver.userID != "u1" || saver.convID != "c1" {
		t.Errorf("saved for %s/%s, want u1/c1", saver.userID, saver.convID)
	}
	if len(saver.msgs) != 2 {
		t.Fatalf("saved %d messages, want 2", len(saver.msgs))
	}
	got := saver.msgs[1]
	if got.Role != conversation.RoleAssistant || got.ID == "" {
		t.Errorf("assistant message = %+v", got)
	}
	if len(got.Parts) != 2 || got.Parts[0].Type != conversation.PartReasoning || got.Parts[1].Text != "Hello, world" {
		t.Errorf("assistant parts = %+v", got.Parts)
	}
}

func TestRunToolCallRound(t *testing.T) {
	streamer := &fakeStreamer{scripts: []*scriptedStream{
		{resps: []openai.ChatCompletionStreamResponse{
			toolCallChunk(0, "call-1", tools.ToolMemoryRecall, `{"query":`),
			toolCallChunk(0, "", "", `"goals"}`),
			finishChunk(openai.FinishReasonToolCalls),
		}},
		{resps: []openai.ChatCompletionStreamResponse{
			textChunk("Your goal is to run a marathon."),
			finishChunk(openai.FinishReasonStop),
		}},
	}}
	saver := &fakeSaver{}
	var toolCalls []string
	o := NewOrchestrator(streamer, newEchoRegistry(&toolCalls), saver, discardLogger())

	req := userTurn("what are my goals?")
	req.Memory = true

	var events []Event
	if err := o.Run(context.Background(), "u1", req, collectSink(&events)); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(toolCalls) != 1 || toolCalls[0] != tools.ToolMemoryRecall+`:{"query":"goals"}` {
		t.Fatalf("tool calls = %v, want accumulated arguments", toolCalls)
	}

	wantTypes := []string{EventToolCall, EventToolResult, EventTextDelta, EventFinish}
	if len(events) != len(wantTypes) {
		t.Fatalf("got events %v", events)
	}
	for i, want := range wantTypes {
		if events[i].Type != want {
			t.Errorf("event %d type = %s, want %s", i, events[i].Type, want)
		}
	}

	if len(streamer.reqs) != 2 {
		t.Fatalf("provider called %d times, want 2", len(streamer.reqs))
	}
	second := streamer.reqs[1].Messages
	if len(second) != 3 {
		t.Fatalf("second request carries %d messages, want 3", len(second))
	}
	if len(second[1].ToolCalls) != 1 || second[1].ToolCalls[0].Function.Arguments != `{"query":"goals"}` {
		t.Errorf("assistant tool call not replayed: %+v", second[1])
	}
	if second[2].Role != openai.ChatMessageRoleTool || second[2].ToolCallID != "call-1" {
		t.Errorf("tool result message = %+v", second[2])
	}

	parts := saver.msgs[1].Parts
	wantParts := []string{conversation.PartToolCall, conversation.PartToolResult, conversation.PartText}
	if len(parts) != len(wantParts) {
		t.Fatalf("persisted parts = %+v", parts)
	}
	for i, want := range wantParts {
		if parts[i].Type != want {
			t.Errorf("part %d type = %s, want %s", i, parts[i].Type, want)
		}
	}
}

func TestRunStepBudget(t *testing.T) {
	var scripts []*scriptedStream
	for i := 0; i < 10; i++ {
		scripts = append(scripts, &scriptedStream{resps: []openai.ChatCompletionStreamResponse{
			toolCallChunk(0, "call", tools.ToolMemoryRecall, `{"query":"x"}`),
			finishChunk(openai.FinishReasonToolCalls),
		}})
	}
	streamer := &fakeStreamer{scripts: scripts}
	var toolCalls []string
	o := NewOrchestrator(streamer, newEchoRegistry(&toolCalls), &fakeSaver{}, discardLogger())
	o.MaxSteps = 3

	req := userTurn("loop")
	req.Memory = true

	var events []Event
	if err := o.Run(context.Background(), "u1", req, collectSink(&events)); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(streamer.reqs) != 3 {
		t.Errorf("provider called %d times, want 3", len(streamer.reqs))
	}
	last := events[len(events)-1]
	if last.Type != EventFinish {
		t.Errorf("last event = %+v, want finish", last)
	}
}

func TestRunClientDisconnectStillPersists(t *testing.T) {
	streamer := &fakeStreamer{scripts: []*scriptedStream{{resps: []openai.ChatCompletionStreamResponse{
		textChunk("partial"),
		textChunk(" answer"),
		finishChunk(openai.FinishReasonStop),
	}}}}
	saver := &fakeSaver{}
	o := NewOrchestrator(streamer, tools.NewRegistry(), saver, discardLogger())

	var seen int
	sink := func(e Event) error {
		seen++
		if seen > 1 {
			return errors.New("broken pipe")
		}
		return nil
	}

	err := o.Run(context.Background(), "u1", userTurn("hi"), sink)
	if err == nil {
		t.Fatal("expected error on client disconnect")
	}
	if saver.calls != 1 {
		t.Fatalf("save called %d times, want 1", saver.calls)
	}
	if got := saver.msgs[1].Parts[0].Text; got != "partial answer" {
		t.Errorf("persisted text = %q, want everything generated before disconnect", got)
	}
}

func TestRunStreamErrorNoPersist(t *testing.T) {
	streamer := &fakeStreamer{scripts: []*scriptedStream{{
		resps: []openai.ChatCompletionStreamResponse{textChunk("oops")},
		err:   errors.New("upstream reset"),
	}}}
	saver := &fakeSaver{}
	o := NewOrchestrator(streamer, tools.NewRegistry(), saver, discardLogger())

	var events []Event
	err := o.Run(context.Background(), "u1", userTurn("hi"), collectSink(&events))
	if err == nil {
		t.Fatal("expected stream error")
	}
	last := events[len(events)-1]
	if last.Type != EventError || last.Error == "" {
		t.Errorf("last event = %+v, want error event", last)
	}
	if saver.calls != 0 {
		t.Errorf("save called %d times on failed turn, want 0", saver.calls)
	}
}

func TestRunSaveFailureOnlyLogged(t *testing.T) {
	streamer := &fakeStreamer{scripts: []*scriptedStream{{resps: []openai.ChatCompletionStreamResponse{
		textChunk("done"),
		finishChunk(openai.FinishReasonStop),
	}}}}
	saver := &fakeSaver{err: errors.New("disk full")}
	o := NewOrchestrator(streamer, tools.NewRegistry(), saver, discardLogger())

	var events []Event
	if err := o.Run(context.Background(), "u1", userTurn("hi"), collectSink(&events)); err != nil {
		t.Fatalf("persistence failure surfaced to caller: %v", err)
	}
	if events[len(events)-1].Type != EventFinish {
		t.Error("finish event missing")
	}
}

func TestRunToolFlagsSelectToolset(t *testing.T) {
	var toolCalls []string
	registry := newEchoRegistry(&toolCalls)

	cases := []struct {
		name      string
		memory    bool
		webSearch bool
		wantTools int
	}{
		{"none", false, false, 0},
		{"memory only", true, false, len(tools.MemoryToolNames)},
		{"search only", false, true, 1},
		{"both", true, true, len(tools.MemoryToolNames) + 1},
	}
	for _, tc := range cases {
		streamer := &fakeStreamer{scripts: []*scriptedStream{{resps: []openai.ChatCompletionStreamResponse{
			textChunk("ok"),
			finishChunk(openai.FinishReasonStop),
		}}}}
		o := NewOrchestrator(streamer, registry, &fakeSaver{}, discardLogger())

		req := userTurn("hi")
		req.Memory = tc.memory
		req.WebSearch = tc.webSearch

		var events []Event
		if err := o.Run(context.Background(), "u1", req, collectSink(&events)); err != nil {
			t.Fatalf("%s: run: %v", tc.name, err)
		}
		if got := len(streamer.reqs[0].Tools); got != tc.wantTools {
			t.Errorf("%s: %d tools offered, want %d", tc.name, got, tc.wantTools)
		}
	}
}

func TestRunValidatesRequest(t *testing.T) {
	o := NewOrchestrator(&fakeStreamer{}, tools.NewRegistry(), &fakeSaver{}, discardLogger())

	req := userTurn("hi")
	req.ConversationID = ""
	if err := o.Run(context.Background(), "u1", req, collectSink(&[]Event{})); err == nil {
		t.Error("missing conversationId accepted")
	}

	if err := o.Run(context.Background(), "u1", Request{ConversationID: "c1"}, collectSink(&[]Event{})); err == nil {
		t.Error("empty messages accepted")
	}
}
