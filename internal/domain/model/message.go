package model

import (
	"encoding/json"
	"time"
)

// MessageType is the IDE's numeric role marker.
type MessageType int

const (
	MessageTypeUser      MessageType = 1
	MessageTypeAssistant MessageType = 2
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) MessageType() (MessageType, bool) {
	switch r {
	case RoleUser:
		return MessageTypeUser, true
	case RoleAssistant:
		return MessageTypeAssistant, true
	}
	return 0, false
}

func (t MessageType) Role() Role {
	if t == MessageTypeAssistant {
		return RoleAssistant
	}
	return RoleUser
}

type TokenCount struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

type ModelInfo struct {
	ModelName string `json:"modelName"`
}

type Thinking struct {
	Text string `json:"text"`
}

type ToolFormerData struct {
	Name           string          `json:"name"`
	RawArgs        string          `json:"rawArgs"`
	AdditionalData json.RawMessage `json:"additionalData"`
}

// MessageContext is the attachment context of a turn. All members are
// required and default to empty arrays.
type MessageContext struct {
	Composers            []json.RawMessage `json:"composers"`
	Quotes               []json.RawMessage `json:"quotes"`
	SelectedCommits      []json.RawMessage `json:"selectedCommits"`
	SelectedPullRequests []json.RawMessage `json:"selectedPullRequests"`
	SelectedImages       []json.RawMessage `json:"selectedImages"`
	FolderSelections     []json.RawMessage `json:"folderSelections"`
	FileSelections       []json.RawMessage `json:"fileSelections"`
	TerminalFiles        []json.RawMessage `json:"terminalFiles"`
	Selections           []json.RawMessage `json:"selections"`
	TerminalSelections   []json.RawMessage `json:"terminalSelections"`
	SelectedDocs         []json.RawMessage `json:"selectedDocs"`
	ExternalLinks        []json.RawMessage `json:"externalLinks"`
	CursorRules          []json.RawMessage `json:"cursorRules"`
	CursorCommands       []json.RawMessage `json:"cursorCommands"`
	UIElementSelections  []json.RawMessage `json:"uiElementSelections"`
	ConsoleLogs          []json.RawMessage `json:"consoleLogs"`
	Mentions             []json.RawMessage `json:"mentions"`
}

// Message is one persisted turn ("bubble"). The field set is closed: every
// tagged field is part of the wire contract read by the IDE.
type Message struct {
	Version   int         `json:"_v"`
	Type      MessageType `json:"type"`
	Text      string      `json:"text"`
	BubbleID  string      `json:"bubbleId"`
	CreatedAt string      `json:"createdAt"`

	ApproximateLintErrors         []json.RawMessage `json:"approximateLintErrors"`
	Lints                         []json.RawMessage `json:"lints"`
	CodebaseContextChunks         []json.RawMessage `json:"codebaseContextChunks"`
	Commits                       []json.RawMessage `json:"commits"`
	PullRequests                  []json.RawMessage `json:"pullRequests"`
	AttachedCodeChunks            []json.RawMessage `json:"attachedCodeChunks"`
	AssistantSuggestedDiffs       []json.RawMessage `json:"assistantSuggestedDiffs"`
	GitDiffs                      []json.RawMessage `json:"gitDiffs"`
	InterpreterResults            []json.RawMessage `json:"interpreterResults"`
	Images                        []json.RawMessage `json:"images"`
	AttachedFolders               []json.RawMessage `json:"attachedFolders"`
	AttachedFoldersNew            []json.RawMessage `json:"attachedFoldersNew"`
	ToolResults                   []json.RawMessage `json:"toolResults"`
	Notepads                      []json.RawMessage `json:"notepads"`
	Capabilities                  []json.RawMessage `json:"capabilities"`
	MultiFileLinterErrors         []json.RawMessage `json:"multiFileLinterErrors"`
	DiffHistories                 []json.RawMessage `json:"diffHistories"`
	RecentLocationsHistory        []json.RawMessage `json:"recentLocationsHistory"`
	RecentlyViewedFiles           []json.RawMessage `json:"recentlyViewedFiles"`
	FileDiffTrajectories          []json.RawMessage `json:"fileDiffTrajectories"`
	DocsReferences                []json.RawMessage `json:"docsReferences"`
	WebReferences                 []json.RawMessage `json:"webReferences"`
	AIWebSearchResults            []json.RawMessage `json:"aiWebSearchResults"`
	AttachedFoldersListDirResults []json.RawMessage `json:"attachedFoldersListDirResults"`
	HumanChanges                  []json.RawMessage `json:"humanChanges"`

	AllThinkingBlocks                  []json.RawMessage `json:"allThinkingBlocks"`
	AttachedFileCodeChunksMetadataOnly []json.RawMessage `json:"attachedFileCodeChunksMetadataOnly"`
	CapabilityContexts                 []json.RawMessage `json:"capabilityContexts"`
	ConsoleLogs                        []json.RawMessage `json:"consoleLogs"`
	ContextPieces                      []json.RawMessage `json:"contextPieces"`
	CursorRules                        []json.RawMessage `json:"cursorRules"`
	DeletedFiles                       []json.RawMessage `json:"deletedFiles"`
	DiffsForCompressingFiles           []json.RawMessage `json:"diffsForCompressingFiles"`
	DiffsSinceLastApply                []json.RawMessage `json:"diffsSinceLastApply"`
	DocumentationSelections            []json.RawMessage `json:"documentationSelections"`
	EditTrailContexts                  []json.RawMessage `json:"editTrailContexts"`
	ExternalLinks                      []json.RawMessage `json:"externalLinks"`
	KnowledgeItems                     []json.RawMessage `json:"knowledgeItems"`
	ProjectLayouts                     []json.RawMessage `json:"projectLayouts"`
	RelevantFiles                      []json.RawMessage `json:"relevantFiles"`
	SuggestedCodeBlocks                []json.RawMessage `json:"suggestedCodeBlocks"`
	SummarizedComposers                []json.RawMessage `json:"summarizedComposers"`
	Todos                              []json.RawMessage `json:"todos"`
	UIElementPicked                    []json.RawMessage `json:"uiElementPicked"`
	UserResponsesToSuggestedCodeBlocks []json.RawMessage `json:"userResponsesToSuggestedCodeBlocks"`

	CapabilityStatuses map[string][]json.RawMessage `json:"capabilityStatuses"`

	IsAgentic                        bool `json:"isAgentic"`
	ExistedSubsequentTerminalCommand bool `json:"existedSubsequentTerminalCommand"`
	ExistedPreviousTerminalCommand   bool `json:"existedPreviousTerminalCommand"`
	EditToolSupportsSearchAndReplace bool `json:"editToolSupportsSearchAndReplace"`
	IsNudge                          bool `json:"isNudge"`
	IsPlanExecution                  bool `json:"isPlanExecution"`
	IsQuickSearchQuery               bool `json:"isQuickSearchQuery"`
	IsRefunded                       bool `json:"isRefunded"`
	SkipRendering                    bool `json:"skipRendering"`
	UseWeb                           bool `json:"useWeb"`

	SupportedTools []int          `json:"supportedTools"`
	TokenCount     TokenCount     `json:"tokenCount"`
	Context        MessageContext `json:"context"`

	RequestID    string `json:"requestId"`
	CheckpointID string `json:"checkpointId"`
	RichText     string `json:"richText"`
	UnifiedMode  int    `json:"unifiedMode"`

	ModelInfo      *ModelInfo      `json:"modelInfo,omitempty"`
	Thinking       *Thinking       `json:"thinking,omitempty"`
	ToolFormerData *ToolFormerData `json:"toolFormerData,omitempty"`

	// ConversationID is carried by the storage key, not the record body.
	ConversationID string `json:"-"`
}

func (m *Message) Role() Role { return m.Type.Role() }

// CreatedTime parses CreatedAt; the zero time is returned for bad input.
func (m *Message) CreatedTime() time.Time {
	t, err := time.Parse(time.RFC3339Nano, m.CreatedAt)
	if err != nil {
		return time.Time{}
	}
	return t
}
