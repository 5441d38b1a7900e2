package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"agent-relay/internal/domain"
	"agent-relay/internal/domain/model"
	"agent-relay/internal/domain/ports/adapter"
	"agent-relay/internal/domain/ports/repository"
	ports "agent-relay/internal/domain/ports/usecase"
)

var _ ports.ChatManager = (*chatUC)(nil)

const untitled = "Untitled"

type chatUC struct {
	creator adapter.ChatCreator
	convs   repository.ConversationRepository
	catalog ports.ModelCatalog
	log     zerolog.Logger
}

func NewChatUseCase(creator adapter.ChatCreator, convs repository.ConversationRepository, catalog ports.ModelCatalog, logger *zerolog.Logger) *chatUC {
	return &chatUC{
		creator: creator,
		convs:   convs,
		catalog: catalog,
		log:     logger.With().Str("component", "ChatUseCase").Logger(),
	}
}

// CreateChat asks the agent for a new id and writes an empty composer
// record for it, so the chat is listable before its first job.
func (u *chatUC) CreateChat(ctx context.Context) (*model.Conversation, error) {
	id, err := u.creator.CreateChat(ctx)
	if err != nil {
		return nil, err
	}
	conv, err := u.convs.EnsureConversation(ctx, id, "")
	if err != nil {
		return nil, fmt.Errorf("record chat %s: %w", id, err)
	}
	u.log.Info().Str("chat_id", id).Msg("chat created")
	return conv, nil
}

func (u *chatUC) ListChats(ctx context.Context, q ports.ChatQuery) (ports.ChatPage, error) {
	if q.SortBy == "" {
		q.SortBy = ports.ChatSortLastUpdated
	}
	less, ok := chatOrder[q.SortBy]
	if !ok {
		return ports.ChatPage{}, fmt.Errorf("sort_by %q: %w", q.SortBy, domain.ErrInvalidArgument)
	}
	if q.Limit < 0 || q.Offset < 0 {
		return ports.ChatPage{}, fmt.Errorf("negative limit or offset: %w", domain.ErrInvalidArgument)
	}

	all, err := u.convs.ListConversations(ctx)
	if err != nil {
		return ports.ChatPage{}, err
	}
	chats := all[:0]
	for _, c := range all {
		if c.IsArchived && !q.IncludeArchived {
			continue
		}
		chats = append(chats, c)
	}
	sort.SliceStable(chats, func(i, j int) bool {
		if less(chats[i], chats[j]) {
			return true
		}
		if less(chats[j], chats[i]) {
			return false
		}
		return chats[i].ComposerID < chats[j].ComposerID
	})

	page := ports.ChatPage{Total: len(chats), Offset: q.Offset}
	start := min(q.Offset, len(chats))
	end := len(chats)
	if q.Limit > 0 {
		end = min(start+q.Limit, end)
	}
	page.Chats = chats[start:end]
	return page, nil
}

func (u *chatUC) Models() ports.ModelCatalog {
	return ports.ModelCatalog{
		Models:      append([]string(nil), u.catalog.Models...),
		Default:     u.catalog.Default,
		Recommended: append([]string(nil), u.catalog.Recommended...),
	}
}

// Newest first for timestamps, case-insensitive A-Z for names.
var chatOrder = map[ports.ChatSort]func(a, b *model.Conversation) bool{
	ports.ChatSortLastUpdated: func(a, b *model.Conversation) bool { return a.LastUpdatedAt > b.LastUpdatedAt },
	ports.ChatSortCreated:     func(a, b *model.Conversation) bool { return a.CreatedAt > b.CreatedAt },
	ports.ChatSortName: func(a, b *model.Conversation) bool {
		return strings.ToLower(ChatName(a)) < strings.ToLower(ChatName(b))
	},
}

// ChatName is the display name of c.
func ChatName(c *model.Conversation) string {
	if c.Name == "" {
		return untitled
	}
	return c.Name
}
