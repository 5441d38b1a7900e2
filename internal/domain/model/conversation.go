package model

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"agent-relay/internal/domain"
)

// ValidateChatID rejects ids the store's key scheme cannot hold. Message keys
// are "bubbleId:<chat>:<bubble>", so a chat id must be non-empty and free of
// ':' and whitespace.
func ValidateChatID(id string) error {
	if id == "" || strings.ContainsAny(id, ": \t\r\n") {
		return fmt.Errorf("chat id %q: %w", id, domain.ErrInvalidArgument)
	}
	return nil
}

// MessageRef is one entry of a conversation's ordered header list.
type MessageRef struct {
	BubbleID string      `json:"bubbleId"`
	Type     MessageType `json:"type"`
}

func (r MessageRef) Role() Role { return r.Type.Role() }

// Conversation is the durable aggregate root of a chat ("composer").
// Fields written by the IDE that this service does not model are kept in
// extra and written back untouched.
type Conversation struct {
	Version           int          `json:"_v"`
	ComposerID        string       `json:"composerId"`
	Name              string       `json:"name"`
	Text              string       `json:"text"`
	RichText          string       `json:"richText"`
	MessageRefs       []MessageRef `json:"fullConversationHeadersOnly"`
	CreatedAt         int64        `json:"createdAt"`
	LastUpdatedAt     int64        `json:"lastUpdatedAt"`
	IsArchived        bool         `json:"isArchived"`
	IsDraft           bool         `json:"isDraft"`
	HasLoaded         bool         `json:"hasLoaded"`
	TotalLinesAdded   int          `json:"totalLinesAdded"`
	TotalLinesRemoved int          `json:"totalLinesRemoved"`

	extra   map[string]json.RawMessage
	missing []string
}

type conversationAlias Conversation

var conversationKeys = jsonKeys(reflect.TypeOf(conversationAlias{}))

// ConversationKeys lists the JSON keys modelled by Conversation.
func ConversationKeys() []string { return append([]string(nil), conversationKeys...) }

func (c Conversation) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(conversationAlias(c))
	if err != nil {
		return nil, err
	}
	if len(c.extra) == 0 {
		return known, nil
	}
	merged := make(map[string]json.RawMessage, len(c.extra)+len(conversationKeys))
	for k, v := range c.extra {
		merged[k] = v
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(known, &fields); err != nil {
		return nil, err
	}
	for k, v := range fields {
		merged[k] = v
	}
	return json.Marshal(merged)
}

func (c *Conversation) UnmarshalJSON(b []byte) error {
	var alias conversationAlias
	if err := json.Unmarshal(b, &alias); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*c = Conversation(alias)
	c.extra = nil
	c.missing = nil
	for _, k := range conversationKeys {
		if _, ok := raw[k]; !ok {
			c.missing = append(c.missing, k)
		}
		delete(raw, k)
	}
	if len(raw) > 0 {
		c.extra = raw
	}
	return nil
}

// MissingKeys reports modelled keys that were absent in the decoded input.
func (c *Conversation) MissingKeys() []string { return append([]string(nil), c.missing...) }

// ClearMissing is called once defaults have been filled in.
func (c *Conversation) ClearMissing() { c.missing = nil }

// Extra exposes the unmodelled fields (read-only use).
func (c *Conversation) Extra() map[string]json.RawMessage { return c.extra }

func (c *Conversation) ID() string { return c.ComposerID }

func (c *Conversation) Created() time.Time { return time.UnixMilli(c.CreatedAt).UTC() }

func (c *Conversation) LastUpdated() time.Time { return time.UnixMilli(c.LastUpdatedAt).UTC() }

// AppendRefs adds headers in order and bumps LastUpdatedAt.
func (c *Conversation) AppendRefs(now time.Time, refs ...MessageRef) {
	c.MessageRefs = append(c.MessageRefs, refs...)
	ms := now.UnixMilli()
	if ms <= c.LastUpdatedAt {
		ms = c.LastUpdatedAt + 1
	}
	c.LastUpdatedAt = ms
}

func jsonKeys(t reflect.Type) []string {
	keys := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}
		keys = append(keys, name)
	}
	return keys
}
