package record

// Wire contract of the IDE's chat records. These lists are frozen: adding or
// removing an entry changes what the IDE will accept, so bump SchemaRevision
// alongside any edit.
const (
	SchemaRevision = 1

	MessageVersion      = 3
	ConversationVersion = 10
	UnifiedMode         = 5
)

// Record kinds accepted by ValidateJSON.
type Kind string

const (
	KindMessage      Kind = "message"
	KindConversation Kind = "conversation"
)

// IdentityFields identify and version a message.
var IdentityFields = []string{"_v", "type", "text", "bubbleId", "createdAt"}

// RequestTrackingFields must be non-empty ids.
var RequestTrackingFields = []string{"requestId", "checkpointId"}

// RichTextField holds a serialised Lexical editor document.
const RichTextField = "richText"

// CapabilityStatusesField maps hook names to (empty) status arrays.
const CapabilityStatusesField = "capabilityStatuses"

// CapabilityStatusKeys are the exact keys of capabilityStatuses.
var CapabilityStatusKeys = []string{
	"mutate-request",
	"start-submit-chat",
	"before-submit-chat",
	"chat-stream-finished",
	"before-apply",
	"after-apply",
	"accept-all-edits",
	"composer-done",
	"process-stream",
	"add-pending-action",
}

// CollectionFields are the top-level arrays that default to empty.
var CollectionFields = []string{
	// core
	"approximateLintErrors",
	"lints",
	"codebaseContextChunks",
	"commits",
	"pullRequests",
	"attachedCodeChunks",
	"assistantSuggestedDiffs",
	"gitDiffs",
	"interpreterResults",
	"images",
	"attachedFolders",
	"attachedFoldersNew",
	"toolResults",
	"notepads",
	"capabilities",
	"multiFileLinterErrors",
	"diffHistories",
	"recentLocationsHistory",
	"recentlyViewedFiles",
	"fileDiffTrajectories",
	"docsReferences",
	"webReferences",
	"aiWebSearchResults",
	"attachedFoldersListDirResults",
	"humanChanges",
	// additional
	"allThinkingBlocks",
	"attachedFileCodeChunksMetadataOnly",
	"capabilityContexts",
	"consoleLogs",
	"contextPieces",
	"cursorRules",
	"deletedFiles",
	"diffsForCompressingFiles",
	"diffsSinceLastApply",
	"documentationSelections",
	"editTrailContexts",
	"externalLinks",
	"knowledgeItems",
	"projectLayouts",
	"relevantFiles",
	"suggestedCodeBlocks",
	"summarizedComposers",
	"todos",
	"uiElementPicked",
	"userResponsesToSuggestedCodeBlocks",
}

// FlagFields are required booleans.
var FlagFields = []string{
	"isAgentic",
	"existedSubsequentTerminalCommand",
	"existedPreviousTerminalCommand",
	"editToolSupportsSearchAndReplace",
	"isNudge",
	"isPlanExecution",
	"isQuickSearchQuery",
	"isRefunded",
	"skipRendering",
	"useWeb",
}

const (
	SupportedToolsField = "supportedTools"
	TokenCountField     = "tokenCount"
	ContextField        = "context"
	UnifiedModeField    = "unifiedMode"
	ModelInfoField      = "modelInfo"
)

// SupportedTools is the tool id list the IDE expects on every turn.
var SupportedTools = []int{1, 41, 7, 38, 8, 9, 11, 12, 15, 18, 19, 25, 27, 43, 46, 47, 29, 30, 32, 34, 35, 39, 40, 42, 44, 45}

var TokenCountKeys = []string{"inputTokens", "outputTokens"}

var ModelInfoKeys = []string{"modelName"}

// ContextKeys are the arrays inside the context object.
var ContextKeys = []string{
	"composers",
	"quotes",
	"selectedCommits",
	"selectedPullRequests",
	"selectedImages",
	"folderSelections",
	"fileSelections",
	"terminalFiles",
	"selections",
	"terminalSelections",
	"selectedDocs",
	"externalLinks",
	"cursorRules",
	"cursorCommands",
	"uiElementSelections",
	"consoleLogs",
	"mentions",
}

// ConversationFields are the required composer keys.
var ConversationFields = []string{
	"_v",
	"composerId",
	"name",
	"text",
	"richText",
	"fullConversationHeadersOnly",
	"createdAt",
	"lastUpdatedAt",
	"isArchived",
	"isDraft",
	"hasLoaded",
	"totalLinesAdded",
	"totalLinesRemoved",
}

// MessageFields returns the full required key set of a message of the given
// type, in a stable order.
func MessageFields(assistant bool) []string {
	out := make([]string, 0, 72)
	out = append(out, IdentityFields...)
	out = append(out, RequestTrackingFields...)
	out = append(out, RichTextField, CapabilityStatusesField)
	out = append(out, CollectionFields...)
	out = append(out, FlagFields...)
	out = append(out, SupportedToolsField, TokenCountField, ContextField, UnifiedModeField)
	if assistant {
		out = append(out, ModelInfoField)
	}
	return out
}
