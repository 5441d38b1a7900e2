package usecase

import (
	"context"

	"agent-relay/internal/domain/model"
)

type ChatSort string

const (
	ChatSortLastUpdated ChatSort = "last_updated"
	ChatSortCreated     ChatSort = "created"
	ChatSortName        ChatSort = "name"
)

// ChatQuery selects a page of conversations. Limit 0 means no limit.
type ChatQuery struct {
	IncludeArchived bool
	SortBy          ChatSort
	Limit           int
	Offset          int
}

// ChatPage is one page of a listing; Total counts every match before paging.
type ChatPage struct {
	Total  int
	Offset int
	Chats  []*model.Conversation
}

// ModelCatalog is what the agent accepts for --model.
type ModelCatalog struct {
	Models      []string
	Default     string
	Recommended []string
}

// ChatManager opens and lists conversations.
type ChatManager interface {
	CreateChat(ctx context.Context) (*model.Conversation, error)
	ListChats(ctx context.Context, q ChatQuery) (ChatPage, error)
	Models() ModelCatalog
}
