package record

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"agent-relay/internal/domain"
	"agent-relay/internal/domain/model"
)

// createdAtLayout is RFC3339 in UTC with millisecond precision, e.g.
// 2025-01-02T03:04:05.678Z.
const createdAtLayout = "2006-01-02T15:04:05.000Z"

type messageOptions struct {
	thinking *model.Thinking
	tool     *model.ToolFormerData
	now      func() time.Time
}

// MessageOption customises the optional parts of a built message.
type MessageOption func(*messageOptions)

// WithThinking attaches the model's reasoning text.
func WithThinking(text string) MessageOption {
	return func(o *messageOptions) {
		if text != "" {
			o.thinking = &model.Thinking{Text: text}
		}
	}
}

// WithToolCall attaches a tool invocation summary. rawArgs is stored as-is.
func WithToolCall(name, rawArgs string) MessageOption {
	return func(o *messageOptions) {
		if name == "" {
			return
		}
		o.tool = &model.ToolFormerData{
			Name:           name,
			RawArgs:        rawArgs,
			AdditionalData: json.RawMessage(`{}`),
		}
	}
}

// WithClock overrides the creation timestamp source.
func WithClock(now func() time.Time) MessageOption {
	return func(o *messageOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// BuildMessage returns a complete message record for role. modelInfo is
// only kept for assistant messages; a nil modelInfo on an assistant message
// falls back to an empty model name.
func BuildMessage(role model.Role, text, conversationID string, modelInfo *model.ModelInfo, opts ...MessageOption) (*model.Message, error) {
	typ, ok := role.MessageType()
	if !ok {
		return nil, domain.NewError(domain.KindValidation, fmt.Sprintf("unknown role %q", role), domain.ErrInvalidArgument)
	}
	o := messageOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	m := &model.Message{
		Version:   MessageVersion,
		Type:      typ,
		Text:      text,
		BubbleID:  uuid.NewString(),
		CreatedAt: o.now().UTC().Format(createdAtLayout),

		RequestID:    uuid.NewString(),
		CheckpointID: uuid.NewString(),
		RichText:     messageRichText(text),
		UnifiedMode:  UnifiedMode,

		CapabilityStatuses: emptyCapabilityStatuses(),
		SupportedTools:     append([]int(nil), SupportedTools...),
		Context:            emptyContext(),

		IsAgentic:                        typ == model.MessageTypeUser,
		EditToolSupportsSearchAndReplace: true,

		ConversationID: conversationID,
	}
	fillCollections(m)

	if typ == model.MessageTypeAssistant {
		mi := model.ModelInfo{}
		if modelInfo != nil {
			mi = *modelInfo
		}
		m.ModelInfo = &mi
	}
	m.Thinking = o.thinking
	m.ToolFormerData = o.tool
	return m, nil
}

// BuildConversation returns a new, empty composer record.
func BuildConversation(id, title string, now time.Time) *model.Conversation {
	ms := now.UnixMilli()
	return &model.Conversation{
		Version:     ConversationVersion,
		ComposerID:  id,
		Name:        title,
		Text:        "",
		RichText:    emptyRichText(),
		MessageRefs: []model.MessageRef{},
		CreatedAt:   ms,
		// Stays equal to createdAt until the first append.
		LastUpdatedAt: ms,
		HasLoaded:     true,
	}
}

// RepairConversation fills the composer keys the IDE requires but older or
// foreign writers may have left out. It reports whether anything changed.
func RepairConversation(c *model.Conversation, now time.Time) bool {
	missing := c.MissingKeys()
	if len(missing) == 0 && c.MessageRefs != nil && c.RichText != "" {
		return false
	}
	for _, k := range missing {
		switch k {
		case "_v":
			c.Version = ConversationVersion
		case "hasLoaded":
			c.HasLoaded = true
		case "createdAt":
			c.CreatedAt = now.UnixMilli()
		case "lastUpdatedAt":
			c.LastUpdatedAt = c.CreatedAt
		}
		// Keys whose zero value is already the default need no assignment.
	}
	if c.MessageRefs == nil {
		c.MessageRefs = []model.MessageRef{}
	}
	if c.RichText == "" {
		c.RichText = emptyRichText()
	}
	c.ClearMissing()
	return true
}

func emptyCapabilityStatuses() map[string][]json.RawMessage {
	out := make(map[string][]json.RawMessage, len(CapabilityStatusKeys))
	for _, k := range CapabilityStatusKeys {
		out[k] = []json.RawMessage{}
	}
	return out
}

func emptyContext() model.MessageContext {
	e := func() []json.RawMessage { return []json.RawMessage{} }
	return model.MessageContext{
		Composers:            e(),
		Quotes:               e(),
		SelectedCommits:      e(),
		SelectedPullRequests: e(),
		SelectedImages:       e(),
		FolderSelections:     e(),
		FileSelections:       e(),
		TerminalFiles:        e(),
		Selections:           e(),
		TerminalSelections:   e(),
		SelectedDocs:         e(),
		ExternalLinks:        e(),
		CursorRules:          e(),
		CursorCommands:       e(),
		UIElementSelections:  e(),
		ConsoleLogs:          e(),
		Mentions:             e(),
	}
}

func fillCollections(m *model.Message) {
	for _, p := range []*[]json.RawMessage{
		&m.ApproximateLintErrors,
		&m.Lints,
		&m.CodebaseContextChunks,
		&m.Commits,
		&m.PullRequests,
		&m.AttachedCodeChunks,
		&m.AssistantSuggestedDiffs,
		&m.GitDiffs,
		&m.InterpreterResults,
		&m.Images,
		&m.AttachedFolders,
		&m.AttachedFoldersNew,
		&m.ToolResults,
		&m.Notepads,
		&m.Capabilities,
		&m.MultiFileLinterErrors,
		&m.DiffHistories,
		&m.RecentLocationsHistory,
		&m.RecentlyViewedFiles,
		&m.FileDiffTrajectories,
		&m.DocsReferences,
		&m.WebReferences,
		&m.AIWebSearchResults,
		&m.AttachedFoldersListDirResults,
		&m.HumanChanges,
		&m.AllThinkingBlocks,
		&m.AttachedFileCodeChunksMetadataOnly,
		&m.CapabilityContexts,
		&m.ConsoleLogs,
		&m.ContextPieces,
		&m.CursorRules,
		&m.DeletedFiles,
		&m.DiffsForCompressingFiles,
		&m.DiffsSinceLastApply,
		&m.DocumentationSelections,
		&m.EditTrailContexts,
		&m.ExternalLinks,
		&m.KnowledgeItems,
		&m.ProjectLayouts,
		&m.RelevantFiles,
		&m.SuggestedCodeBlocks,
		&m.SummarizedComposers,
		&m.Todos,
		&m.UIElementPicked,
		&m.UserResponsesToSuggestedCodeBlocks,
	} {
		*p = []json.RawMessage{}
	}
}
