// Package chat runs one streaming chat turn: it drives the model, executes
// tool calls between generation steps, relays events to the client, and
// persists the finished turn to the conversation store.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/stridelabs/stride/internal/conversation"
	"github.com/stridelabs/stride/internal/tools"
)

const (
	// DefaultMaxSteps caps sequential tool-call rounds per turn so a model
	// that keeps requesting tools cannot loop forever.
	DefaultMaxSteps = 16

	// DefaultTurnTimeout bounds the wall-clock duration of one turn.
	DefaultTurnTimeout = 5 * time.Minute

	persistTimeout = 30 * time.Second
)

// errClientGone marks a sink write failure: the client disconnected and the
// turn stops emitting, but generated history is still persisted.
var errClientGone = errors.New("client closed connection")

// Stream is the portion of the provider's completion stream the
// orchestrator consumes.
type Stream interface {
	Recv() (openai.ChatCompletionStreamResponse, error)
	Close() error
}

// Streamer opens streaming chat completions.
type Streamer interface {
	StreamChat(ctx context.Context, req openai.ChatCompletionRequest) (Stream, error)
}

// Saver persists the combined message history after a turn.
type Saver interface {
	Save(ctx context.Context, userID, conversationID string, msgs []conversation.Message) error
}

// Request is one chat turn. Messages is the full history including the new
// user message; the orchestrator appends the generated assistant message
// when persisting.
type Request struct {
	ConversationID string                 `json:"conversationId"`
	Messages       []conversation.Message `json:"messages"`
	Model          string                 `json:"model,omitempty"`
	WebSearch      bool                   `json:"webSearch,omitempty"`
	Memory         bool                   `json:"memory,omitempty"`
}

// Orchestrator executes chat turns.
type Orchestrator struct {
	streamer Streamer
	registry *tools.Registry
	convs    Saver
	logger   *slog.Logger

	// MaxSteps and TurnTimeout default to DefaultMaxSteps and
	// DefaultTurnTimeout; adjust before first use.
	MaxSteps    int
	TurnTimeout time.Duration
}

// NewOrchestrator wires a turn executor. The registry holds every tool the
// process offers; per-turn flags select the subset exposed to the model.
func NewOrchestrator(streamer Streamer, registry *tools.Registry, convs Saver, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		streamer:    streamer,
		registry:    registry,
		convs:       convs,
		logger:      logger,
		MaxSteps:    DefaultMaxSteps,
		TurnTimeout: DefaultTurnTimeout,
	}
}

// Run executes one turn, emitting events to sink as they are produced.
// The stream pauses while tools execute and resumes once their results are
// injected into the model context. After the finish event (or a client
// disconnect) the generated history is persisted; persistence failures are
// logged and never surface to the already-delivered response.
func (o *Orchestrator) Run(ctx context.Context, userID string, req Request, sink Sink) error {
	if req.ConversationID == "" {
		return fmt.Errorf("conversationId is required")
	}
	if len(req.Messages) == 0 {
		return fmt.Errorf("messages must not be empty")
	}

	ctx, cancel := context.WithTimeout(ctx, o.TurnTimeout)
	defer cancel()

	history := toChatMessages(req.Messages)
	toolset := o.toolsFor(req)
	var defs []openai.Tool
	if toolset != nil {
		defs = toolset.OpenAITools()
	}

	var parts []conversation.Part
	finishReason := "stop"

	for step := 0; step < o.MaxSteps; step++ {
		stream, err := o.streamer.StreamChat(ctx, openai.ChatCompletionRequest{
			Model:    req.Model,
			Messages: history,
			Tools:    defs,
		})
		if err != nil {
			sink(Event{Type: EventError, Error: err.Error()})
			return fmt.Errorf("starting completion stream: %w", err)
		}

		res, err := pump(stream, sink)
		stream.Close()

		if res.reasoning != "" {
			parts = append(parts, conversation.Part{Type: conversation.PartReasoning, Text: res.reasoning})
		}
		if res.text != "" {
			parts = append(parts, conversation.Part{Type: conversation.PartText, Text: res.text})
		}

		if err != nil {
			if errors.Is(err, errClientGone) || errors.Is(err, context.Canceled) {
				// Stop emitting but keep what was generated.
				o.persist(ctx, userID, req, parts)
				return err
			}
			sink(Event{Type: EventError, Error: err.Error()})
			return err
		}

		if res.finishReason != "" {
			finishReason = res.finishReason
		}
		if finishReason != string(openai.FinishReasonToolCalls) || len(res.calls) == 0 || toolset == nil {
			break
		}

		assistant := openai.ChatCompletionMessage{
			Role:      openai.ChatMessageRoleAssistant,
			Content:   res.text,
			ToolCalls: res.calls,
		}
		history = append(history, assistant)

		for _, call := range res.calls {
			callParts, toolMsg, err := o.execute(ctx, userID, toolset, call, sink)
			if err != nil {
				o.persist(ctx, userID, req, parts)
				return err
			}
			parts = append(parts, callParts...)
			history = append(history, toolMsg)
		}
	}

	if err := sink(Event{Type: EventFinish, FinishReason: finishReason}); err != nil {
		o.persist(ctx, userID, req, parts)
		return fmt.Errorf("%w: %v", errClientGone, err)
	}

	o.persist(ctx, userID, req, parts)
	return nil
}

// toolsFor selects the tool subset the turn's flags enable. Returns nil
// when the turn runs without tools.
func (o *Orchestrator) toolsFor(req Request) *tools.Registry {
	var names []string
	if req.Memory {
		names = append(names, tools.MemoryToolNames...)
	}
	if req.WebSearch {
		names = append(names, tools.ToolWebSearch)
	}
	if len(names) == 0 {
		return nil
	}
	sub := o.registry.Subset(names...)
	if len(sub.Names()) == 0 {
		return nil
	}
	return sub
}

// execute runs one tool call, emits its call/result events, and returns the
// parts to persist plus the tool message to inject into model context. Tool
// failures are returned to the model as results, not errors; only a dead
// client aborts the turn.
func (o *Orchestrator) execute(ctx context.Context, userID string, toolset *tools.Registry, call openai.ToolCall, sink Sink) ([]conversation.Part, openai.ChatCompletionMessage, error) {
	args := json.RawMessage(call.Function.Arguments)

	if err := sink(Event{
		Type:       EventToolCall,
		ToolCallID: call.ID,
		ToolName:   call.Function.Name,
		Input:      args,
	}); err != nil {
		return nil, openai.ChatCompletionMessage{}, fmt.Errorf("%w: %v", errClientGone, err)
	}

	result := toolset.Dispatch(ctx, userID, call.Function.Name, args)

	parts := []conversation.Part{{
		Type:       conversation.PartToolCall,
		ToolCallID: call.ID,
		ToolName:   call.Function.Name,
		Input:      args,
	}}

	output, err := json.Marshal(result)
	if err != nil {
		output = []byte(fmt.Sprintf(`{"success":false,"error":%q}`, err.Error()))
	}
	parts = append(parts, conversation.Part{
		Type:       conversation.PartToolResult,
		ToolCallID: call.ID,
		ToolName:   call.Function.Name,
		Output:     output,
	})

	if err := sink(Event{
		Type:       EventToolResult,
		ToolCallID: call.ID,
		ToolName:   call.Function.Name,
		Output:     result,
	}); err != nil {
		return nil, openai.ChatCompletionMessage{}, fmt.Errorf("%w: %v", errClientGone, err)
	}

	if call.Function.Name == tools.ToolWebSearch && result.Success {
		if hits, ok := result.Results.([]tools.SearchResult); ok {
			for _, hit := range hits {
				parts = append(parts, conversation.Part{
					Type:  conversation.PartSource,
					URL:   hit.URL,
					Title: hit.Title,
				})
				if err := sink(Event{Type: EventSource, URL: hit.URL, Title: hit.Title}); err != nil {
					return nil, openai.ChatCompletionMessage{}, fmt.Errorf("%w: %v", errClientGone, err)
				}
			}
		}
	}

	toolMsg := openai.ChatCompletionMessage{
		Role:       openai.ChatMessageRoleTool,
		ToolCallID: call.ID,
		Content:    string(output),
	}
	return parts, toolMsg, nil
}

// persist appends the generated assistant message to the turn's input and
// hands the combined list to the conversation store, detached from the
// request context so a client disconnect cannot cancel the write.
func (o *Orchestrator) persist(ctx context.Context, userID string, req Request, parts []conversation.Part) {
	if len(parts) == 0 {
		return
	}
	msgs := append(slices.Clone(req.Messages), conversation.Message{
		ID:    uuid.NewString(),
		Role:  conversation.RoleAssistant,
		Parts: parts,
	})

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if err := o.convs.Save(pctx, userID, req.ConversationID, msgs); err != nil {
		o.logger.Error("persisting conversation turn failed",
			"conversation_id", req.ConversationID, "error", err)
	}
}

// stepResult is what one generation step produced.
type stepResult struct {
	text         string
	reasoning    string
	calls        []openai.ToolCall
	finishReason string
}

// pump drains one completion stream, relaying deltas to sink and
// accumulating tool-call fragments by their delta index.
func pump(stream Stream, sink Sink) (stepResult, error) {
	var res stepResult
	var textBuf, reasoningBuf strings.Builder
	calls := make(map[int]*openai.ToolCall)

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			res.text = textBuf.String()
			res.reasoning = reasoningBuf.String()
			return res, fmt.Errorf("receiving stream: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]

		if choice.Delta.Content != "" {
			textBuf.WriteString(choice.Delta.Content)
			if err := sink(Event{Type: EventTextDelta, Delta: choice.Delta.Content}); err != nil {
				res.text = textBuf.String()
				res.reasoning = reasoningBuf.String()
				return res, fmt.Errorf("%w: %v", errClientGone, err)
			}
		}
		if choice.Delta.ReasoningContent != "" {
			reasoningBuf.WriteString(choice.Delta.ReasoningContent)
			if err := sink(Event{Type: EventReasoningDelta, Delta: choice.Delta.ReasoningContent}); err != nil {
				res.text = textBuf.String()
				res.reasoning = reasoningBuf.String()
				return res, fmt.Errorf("%w: %v", errClientGone, err)
			}
		}

		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			acc, ok := calls[idx]
			if !ok {
				acc = &openai.ToolCall{Type: openai.ToolTypeFunction}
				calls[idx] = acc
			}
			if tc.ID != "" {
				acc.ID = tc.ID
			}
			if tc.Function.Name != "" {
				acc.Function.Name = tc.Function.Name
			}
			acc.Function.Arguments += tc.Function.Arguments
		}

		if choice.FinishReason != "" {
			res.finishReason = string(choice.FinishReason)
		}
	}

	res.text = textBuf.String()
	res.reasoning = reasoningBuf.String()

	indexes := make([]int, 0, len(calls))
	for idx := range calls {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	for _, idx := range indexes {
		res.calls = append(res.calls, *calls[idx])
	}
	return res, nil
}

// toChatMessages converts persisted-form messages to provider messages.
// Reasoning and source parts are display artifacts and are not re-sent;
// tool activity from earlier turns is replayed as assistant tool calls
// followed by tool-role results.
func toChatMessages(msgs []conversation.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		cm := openai.ChatCompletionMessage{Role: m.Role}
		var toolMsgs []openai.ChatCompletionMessage
		var text strings.Builder

		for _, p := range m.Parts {
			switch p.Type {
			case conversation.PartText:
				if text.Len() > 0 {
					text.WriteString("\n")
				}
				text.WriteString(p.Text)
			case conversation.PartToolCall:
				cm.ToolCalls = append(cm.ToolCalls, openai.ToolCall{
					ID:   p.ToolCallID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      p.ToolName,
						Arguments: string(p.Input),
					},
				})
			case conversation.PartToolResult:
				toolMsgs = append(toolMsgs, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					ToolCallID: p.ToolCallID,
					Content:    string(p.Output),
				})
			}
		}

		cm.Content = text.String()
		out = append(out, cm)
		out = append(out, toolMsgs...)
	}
	return out
}
