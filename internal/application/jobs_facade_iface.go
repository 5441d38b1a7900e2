package application

import (
	"context"

	"agent-relay/internal/domain/model"
	ports "agent-relay/internal/domain/ports/usecase"
)

// ---- small interfaces to decouple the facade from concrete use cases ----

type JobManagerIface interface {
	Submit(ctx context.Context, chatID, prompt, model string) (model.JobView, error)
	Status(ctx context.Context, jobID string) (model.JobView, error)
	ListJobs(ctx context.Context, chatID string, limit int, status *model.JobStatus) ([]model.JobView, error)
	Cancel(ctx context.Context, jobID string) error
}

// ConversationReaderIface is the read side of the conversation store.
type ConversationReaderIface interface {
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	GetMessages(ctx context.Context, id string) ([]*model.Message, error)
}

type ChatManagerIface interface {
	CreateChat(ctx context.Context) (*model.Conversation, error)
	ListChats(ctx context.Context, q ports.ChatQuery) (ports.ChatPage, error)
	Models() ports.ModelCatalog
}
