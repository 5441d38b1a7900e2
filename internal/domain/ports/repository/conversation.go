package repository

import (
	"context"

	"agent-relay/internal/domain/model"
)

// -----------------------------
// Conversations
// -----------------------------

type ConversationRepository interface {
	// GetConversation returns domain.ErrNotFound when the composer record is absent.
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	// GetMessages is ordered by createdAt, ties broken by header position.
	GetMessages(ctx context.Context, id string) ([]*model.Message, error)
	AppendMessage(ctx context.Context, conversationID string, msg *model.Message) error
	// AppendMessages writes all msgs or none of them.
	AppendMessages(ctx context.Context, conversationID string, msgs ...*model.Message) error
	EnsureConversation(ctx context.Context, id, title string) (*model.Conversation, error)
	// ListConversations returns every decodable composer record, in key order.
	ListConversations(ctx context.Context) ([]*model.Conversation, error)
}

// ConversationLocker serialises writers of one conversation.
type ConversationLocker interface {
	// Lock blocks until the lock is held or ctx is done.
	Lock(ctx context.Context, conversationID string) (release func(), err error)
}
