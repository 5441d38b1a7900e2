//go:build !integration

package model

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"agent-relay/internal/domain"
)

// --- Job Model Tests ---

func TestJobTransitions(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	t.Run("should follow the happy path and stamp times", func(t *testing.T) {
		j := NewJob("j1", "chat-1", "add a test", "auto", now)
		if j.Status != JobStatusPending {
			t.Fatalf("expected pending, got %s", j.Status)
		}
		if err := j.TransitionTo(JobStatusProcessing, now.Add(time.Second)); err != nil {
			t.Fatalf("pending -> processing: %v", err)
		}
		if j.StartedAt == nil || !j.StartedAt.Equal(now.Add(time.Second)) {
			t.Errorf("expected StartedAt to be set on processing, got %v", j.StartedAt)
		}
		if err := j.TransitionTo(JobStatusCompleted, now.Add(3*time.Second)); err != nil {
			t.Fatalf("processing -> completed: %v", err)
		}
		if j.CompletedAt == nil {
			t.Fatal("expected CompletedAt on terminal state")
		}
		if got := *j.ElapsedSeconds(now.Add(time.Hour)); got != 2 {
			t.Errorf("expected 2s elapsed, got %v", got)
		}
	})

	t.Run("should reject moves out of terminal states", func(t *testing.T) {
		j := NewJob("j2", "chat-1", "p", "auto", now)
		if err := j.TransitionTo(JobStatusCancelled, now); err != nil {
			t.Fatalf("pending -> cancelled: %v", err)
		}
		err := j.TransitionTo(JobStatusProcessing, now)
		if !errors.Is(err, domain.ErrJobAlreadyTerminal) {
			t.Errorf("expected ErrJobAlreadyTerminal, got %v", err)
		}
	})

	t.Run("should reject skipping processing", func(t *testing.T) {
		j := NewJob("j3", "chat-1", "p", "auto", now)
		err := j.TransitionTo(JobStatusCompleted, now)
		if !errors.Is(err, domain.ErrInvalidTransition) {
			t.Errorf("expected ErrInvalidTransition, got %v", err)
		}
		if j.Status != JobStatusPending {
			t.Errorf("status changed on a rejected move: %s", j.Status)
		}
	})

	t.Run("pending jobs have no elapsed time", func(t *testing.T) {
		j := NewJob("j4", "chat-1", "p", "auto", now)
		if j.ElapsedSeconds(now) != nil {
			t.Error("expected nil elapsed before start")
		}
	})
}

func TestParseJobStatus(t *testing.T) {
	for _, s := range []string{"pending", "processing", "completed", "failed", "cancelled"} {
		if _, err := ParseJobStatus(s); err != nil {
			t.Errorf("ParseJobStatus(%q): %v", s, err)
		}
	}
	if _, err := ParseJobStatus("Done"); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for unknown status, got %v", err)
	}
}

func TestJobCloneIsDeep(t *testing.T) {
	now := time.Now()
	j := NewJob("j", "c", "p", "m", now)
	_ = j.TransitionTo(JobStatusProcessing, now)
	j.Result = &JobResult{Text: "ok", ToolCalls: []ToolCall{{Name: "run_terminal_cmd"}}}

	cp := j.Clone()
	cp.Result.ToolCalls[0].Name = "changed"
	*cp.StartedAt = now.Add(time.Hour)

	if j.Result.ToolCalls[0].Name != "run_terminal_cmd" {
		t.Error("clone shares tool call slice with the source job")
	}
	if j.StartedAt.Equal(*cp.StartedAt) {
		t.Error("clone shares StartedAt with the source job")
	}
}

// --- Conversation Model Tests ---

func TestConversationKeepsUnknownFields(t *testing.T) {
	raw := []byte(`{"_v":10,"composerId":"c1","name":"n","text":"","richText":"{}","fullConversationHeadersOnly":[{"bubbleId":"b1","type":1}],"createdAt":1,"lastUpdatedAt":2,"isArchived":false,"isDraft":false,"hasLoaded":true,"totalLinesAdded":0,"totalLinesRemoved":0,"ideOnly":[1,2]}`)

	var c Conversation
	if err := json.Unmarshal(raw, &c); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(c.MissingKeys()) != 0 {
		t.Errorf("expected no missing keys, got %v", c.MissingKeys())
	}
	if c.MessageRefs[0].Role() != RoleUser {
		t.Errorf("expected user ref, got %s", c.MessageRefs[0].Role())
	}

	out, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back map[string]json.RawMessage
	if err := json.Unmarshal(out, &back); err != nil {
		t.Fatalf("re-decode: %v", err)
	}
	if string(back["ideOnly"]) != "[1,2]" {
		t.Errorf("unknown field lost or changed: %s", back["ideOnly"])
	}
}

func TestConversationMissingKeys(t *testing.T) {
	var c Conversation
	if err := json.Unmarshal([]byte(`{"composerId":"c1"}`), &c); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(c.MissingKeys()) != len(ConversationKeys())-1 {
		t.Errorf("expected every key but composerId missing, got %v", c.MissingKeys())
	}
	c.ClearMissing()
	if len(c.MissingKeys()) != 0 {
		t.Error("ClearMissing did not reset")
	}
}

func TestAppendRefsIsMonotonic(t *testing.T) {
	c := Conversation{LastUpdatedAt: 5_000}
	c.AppendRefs(time.UnixMilli(1_000), MessageRef{BubbleID: "a", Type: MessageTypeUser})
	if c.LastUpdatedAt != 5_001 {
		t.Errorf("expected lastUpdatedAt to advance past 5000, got %d", c.LastUpdatedAt)
	}
	c.AppendRefs(time.UnixMilli(9_000), MessageRef{BubbleID: "b", Type: MessageTypeAssistant})
	if c.LastUpdatedAt != 9_000 || len(c.MessageRefs) != 2 {
		t.Errorf("unexpected state after second append: %+v", c)
	}
}

func TestRoleMapping(t *testing.T) {
	if typ, ok := RoleAssistant.MessageType(); !ok || typ != MessageTypeAssistant {
		t.Errorf("assistant -> %v %v", typ, ok)
	}
	if _, ok := Role("system").MessageType(); ok {
		t.Error("system role should not map to a message type")
	}
	if MessageTypeUser.Role() != RoleUser {
		t.Error("type 1 should be the user role")
	}
}

func TestValidateChatID(t *testing.T) {
	for _, id := range []string{"chat-1", "7c1283c9-bc7d-480a-8dc9-1ed382251471", "UPPER_case.9"} {
		if err := ValidateChatID(id); err != nil {
			t.Errorf("ValidateChatID(%q): %v", id, err)
		}
	}
	for _, id := range []string{"", "a:b", "bubbleId:x", "has space", "tab\there", "line\nbreak"} {
		if err := ValidateChatID(id); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("ValidateChatID(%q): expected ErrInvalidArgument, got %v", id, err)
		}
	}
}
