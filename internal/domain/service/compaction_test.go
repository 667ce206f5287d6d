package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/tetherhq/tether/gateway/internal/domain/entity"
)

// === Cut point selection ===

func TestFindCutPoint(t *testing.T) {
	longUser := entity.UserMessage(strings.Repeat("x", 400))
	longTool := entity.ToolResultMessage("call_1", strings.Repeat("y", 400))
	shortAssistant := entity.AssistantMessage("0123456789", nil)
	shortUser := entity.UserMessage("0123456789")

	tests := []struct {
		name       string
		messages   []entity.Message
		keepRecent int
		want       int
	}{
		{
			name:       "everything fits in the recent budget",
			messages:   []entity.Message{shortUser, shortAssistant},
			keepRecent: 20000,
			want:       0,
		},
		{
			name:       "tiny budget cuts at the newest user message",
			messages:   []entity.Message{longUser, shortAssistant, shortUser},
			keepRecent: 1,
			want:       2,
		},
		{
			name: "boundary lands on a tool result, scan forward to a clean role",
			// Walking back, the budget is crossed at the tool result; the cut
			// advances to the assistant right after it.
			messages:   []entity.Message{longUser, longTool, shortAssistant, shortUser},
			keepRecent: 50,
			want:       2,
		},
		{
			name:       "suffix of only tool results cannot be cut",
			messages:   []entity.Message{longTool, longTool},
			keepRecent: 1,
			want:       0,
		},
		{
			name:       "empty conversation",
			messages:   nil,
			keepRecent: 1,
			want:       0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := findCutPoint(tt.messages, tt.keepRecent)
			if got != tt.want {
				t.Errorf("cut point: got %d, want %d", got, tt.want)
			}
		})
	}
}

// === Compaction ===

func TestCompact_RebuildsConversation(t *testing.T) {
	var summarizeReq *Request
	client := &fakeClient{
		completeFn: func(req *Request) (string, error) {
			summarizeReq = req
			return "the summary", nil
		},
	}
	a := newTestAgent(t, AgentConfig{KeepRecentTokens: 1}, fakeWindows(128000), client, nil)
	a.Restore(DefaultModel, "sys", []entity.Message{
		entity.UserMessage("first question"),
		entity.AssistantMessage("first answer", nil),
		entity.UserMessage("second question"),
	})

	summary, tokensBefore, err := a.compact(context.Background(), client)
	if err != nil {
		t.Fatalf("compact: %v", err)
	}
	if summary != "the summary" {
		t.Errorf("summary: got %q", summary)
	}
	if tokensBefore <= 0 {
		t.Errorf("tokens before: got %d", tokensBefore)
	}

	// Summarize request: instruction, the old prefix, then the ask.
	if summarizeReq == nil {
		t.Fatal("Complete was never called")
	}
	if summarizeReq.Messages[0].Role != entity.RoleSystem || summarizeReq.Messages[0].Content != summarizePrompt {
		t.Errorf("summarize system message: got %+v", summarizeReq.Messages[0])
	}
	last := summarizeReq.Messages[len(summarizeReq.Messages)-1]
	if last.Content != "Summarize the conversation so far." {
		t.Errorf("summarize closing message: got %q", last.Content)
	}
	if len(summarizeReq.Messages) != 4 {
		t.Errorf("summarize request length: got %d, want 4", len(summarizeReq.Messages))
	}
	if len(summarizeReq.Tools) != 0 {
		t.Error("summarize request must not carry tool schemas")
	}

	// Rebuilt conversation: summary, ack, kept suffix.
	_, _, msgs := a.State()
	if len(msgs) != 3 {
		t.Fatalf("rebuilt length: got %d, want 3", len(msgs))
	}
	if msgs[0].Role != entity.RoleUser || msgs[0].Content != "[Previous conversation summary]\nthe summary" {
		t.Errorf("summary message: got %+v", msgs[0])
	}
	if msgs[1].Role != entity.RoleAssistant || msgs[1].Content != compactionAck {
		t.Errorf("ack message: got %+v", msgs[1])
	}
	if msgs[2].Content != "second question" {
		t.Errorf("kept suffix: got %+v", msgs[2])
	}
}

func TestCompact_NothingToCompact(t *testing.T) {
	client := &fakeClient{
		completeFn: func(req *Request) (string, error) {
			t.Error("Complete should not be called for a small conversation")
			return "", nil
		},
	}
	a := newTestAgent(t, AgentConfig{}, fakeWindows(128000), client, nil)
	a.Restore(DefaultModel, "sys", []entity.Message{entity.UserMessage("hi")})

	summary, tokensBefore, err := a.compact(context.Background(), client)
	if err != nil {
		t.Fatalf("compact: %v", err)
	}
	if summary != "(Nothing to compact - context is small enough)" {
		t.Errorf("summary: got %q", summary)
	}
	if tokensBefore <= 0 {
		t.Errorf("tokens before: got %d", tokensBefore)
	}

	_, _, msgs := a.State()
	if len(msgs) != 1 {
		t.Errorf("conversation should be untouched, got %d messages", len(msgs))
	}
}

func TestCompact_EmptySummaryFallback(t *testing.T) {
	client := &fakeClient{
		completeFn: func(req *Request) (string, error) { return "", nil },
	}
	a := newTestAgent(t, AgentConfig{KeepRecentTokens: 1}, fakeWindows(128000), client, nil)
	a.Restore(DefaultModel, "sys", []entity.Message{
		entity.UserMessage("first"),
		entity.AssistantMessage("answer", nil),
		entity.UserMessage("second"),
	})

	summary, _, err := a.compact(context.Background(), client)
	if err != nil {
		t.Fatalf("compact: %v", err)
	}
	if summary != "No summary generated." {
		t.Errorf("summary: got %q", summary)
	}
}

// === Compaction inside the turn loop ===

func TestPrompt_CompactionFailureDoesNotAbortTurn(t *testing.T) {
	client := &fakeClient{
		streamFn: func(call int, req *Request) (CompletionStream, error) {
			return textStream("stop", "answer"), nil
		},
		completeFn: func(req *Request) (string, error) {
			return "", errors.New("summarizer down")
		},
	}
	// A tiny window forces the compaction check to fire on the first turn.
	a := newTestAgent(t, AgentConfig{KeepRecentTokens: 1}, fakeWindows(10), client, nil)
	startAgent(t, a)
	a.Restore(DefaultModel, "sys", []entity.Message{
		entity.UserMessage("earlier question"),
		entity.AssistantMessage("earlier answer", nil),
	})

	ch, _ := a.Prompt(context.Background(), "next")
	events := collect(t, ch)

	assertEventTypes(t, events,
		entity.EventTurnStart,
		entity.EventCompactionStart,
		entity.EventCompactionEnd,
		entity.EventTextDelta,
		entity.EventTurnEnd,
		entity.EventAgentEnd,
	)
	end := events[2]
	if end.Message != "Compaction failed: summarizer down" {
		t.Errorf("compaction_end message: got %q", end.Message)
	}
	if end.Summary != "" || end.TokensBefore != 0 {
		t.Errorf("failed compaction payload: got summary=%q tokens=%d", end.Summary, end.TokensBefore)
	}
}

func TestPrompt_CompactionRunsBeforeStreaming(t *testing.T) {
	client := &fakeClient{
		streamFn: func(call int, req *Request) (CompletionStream, error) {
			return textStream("stop", "answer"), nil
		},
		completeFn: func(req *Request) (string, error) {
			return "squashed history", nil
		},
	}
	a := newTestAgent(t, AgentConfig{KeepRecentTokens: 1}, fakeWindows(10), client, nil)
	startAgent(t, a)
	a.Restore(DefaultModel, "sys", []entity.Message{
		entity.UserMessage("earlier question"),
		entity.AssistantMessage("earlier answer", nil),
	})

	ch, _ := a.Prompt(context.Background(), "next")
	events := collect(t, ch)

	assertEventTypes(t, events,
		entity.EventTurnStart,
		entity.EventCompactionStart,
		entity.EventCompactionEnd,
		entity.EventTextDelta,
		entity.EventTurnEnd,
		entity.EventAgentEnd,
	)
	end := events[2]
	if end.Summary != "squashed history" || end.TokensBefore <= 0 {
		t.Errorf("compaction_end: got summary=%q tokens=%d", end.Summary, end.TokensBefore)
	}

	// The completion request must see the compacted conversation.
	req := client.request(0)
	if req.Messages[1].Content != "[Previous conversation summary]\nsquashed history" {
		t.Errorf("first conversation message after compaction: got %+v", req.Messages[1])
	}
}

// === Steer /compact ===

func TestSteer_CompactCommand(t *testing.T) {
	client := &fakeClient{
		completeFn: func(req *Request) (string, error) { return "steered summary", nil },
	}
	a := newTestAgent(t, AgentConfig{KeepRecentTokens: 1}, fakeWindows(128000), client, nil)
	startAgent(t, a)
	a.Restore(DefaultModel, "sys", []entity.Message{
		entity.UserMessage("one"),
		entity.AssistantMessage("two", nil),
		entity.UserMessage("three"),
	})

	ch, err := a.Steer(context.Background(), "/compact")
	if err != nil {
		t.Fatalf("steer: %v", err)
	}
	events := collect(t, ch)

	assertEventTypes(t, events, entity.EventCompactionStart, entity.EventCompactionEnd)
	if events[1].Summary != "steered summary" {
		t.Errorf("summary: got %q", events[1].Summary)
	}
}

func TestSteer_CompactNotRunning(t *testing.T) {
	a := newTestAgent(t, AgentConfig{}, fakeWindows(128000), &fakeClient{}, nil)
	if _, err := a.Steer(context.Background(), "/compact"); err == nil {
		t.Fatal("expected error when agent is not running")
	}
}

// === Threshold ===

func TestShouldCompact_Boundary(t *testing.T) {
	// window 100, threshold 0.8: compaction fires strictly above 80 tokens.
	atLimit := newTestAgent(t, AgentConfig{SystemPrompt: strings.Repeat("s", 320)}, fakeWindows(100), &fakeClient{}, nil)
	if atLimit.shouldCompact() {
		t.Error("estimate equal to the threshold must not compact")
	}

	over := newTestAgent(t, AgentConfig{SystemPrompt: strings.Repeat("s", 326)}, fakeWindows(100), &fakeClient{}, nil)
	if !over.shouldCompact() {
		t.Error("estimate above the threshold must compact")
	}
}
