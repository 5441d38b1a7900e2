// Package kvrepo implements the conversation store on any KVStore, using
// the IDE's key scheme.
package kvrepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"agent-relay/internal/domain"
	"agent-relay/internal/domain/model"
	"agent-relay/internal/domain/ports/repository"
	"agent-relay/internal/domain/record"
	"agent-relay/internal/infra/metrics"
)

const (
	composerPrefix = "composerData:"
	bubblePrefix   = "bubbleId:"

	DefaultTitle  = "New Chat"
	maxTitleRunes = 60
)

func composerKey(conversationID string) string { return composerPrefix + conversationID }

func bubbleKey(conversationID, bubbleID string) string {
	return bubblePrefix + conversationID + ":" + bubbleID
}

var _ repository.ConversationRepository = (*ConversationRepo)(nil)

type ConversationRepo struct {
	kv     repository.KVStore
	locker repository.ConversationLocker
	log    zerolog.Logger
	now    func() time.Time
}

func NewConversationRepo(kv repository.KVStore, locker repository.ConversationLocker, logger zerolog.Logger) *ConversationRepo {
	return &ConversationRepo{
		kv:     kv,
		locker: locker,
		log:    logger.With().Str("component", "conversation_repo").Logger(),
		now:    time.Now,
	}
}

func checkID(id string) error { return model.ValidateChatID(id) }

func (r *ConversationRepo) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	var conv *model.Conversation
	err := r.kv.View(ctx, func(ctx context.Context, tx repository.KVTx) error {
		var err error
		conv, err = loadConversation(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

func (r *ConversationRepo) ListConversations(ctx context.Context) ([]*model.Conversation, error) {
	var convs []*model.Conversation
	err := r.kv.View(ctx, func(ctx context.Context, tx repository.KVTx) error {
		return tx.Scan(ctx, composerPrefix, func(key string, value []byte) error {
			var c model.Conversation
			if err := json.Unmarshal(value, &c); err != nil {
				r.log.Warn().Err(err).Str("key", key).Msg("skipping undecodable conversation")
				return nil
			}
			if c.ComposerID == "" {
				c.ComposerID = strings.TrimPrefix(key, composerPrefix)
			}
			convs = append(convs, &c)
			return nil
		})
	})
	if err != nil {
		return nil, asStorage("list conversations", err)
	}
	return convs, nil
}

func (r *ConversationRepo) GetMessages(ctx context.Context, id string) ([]*model.Message, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	var (
		conv *model.Conversation
		msgs []*model.Message
	)
	err := r.kv.View(ctx, func(ctx context.Context, tx repository.KVTx) error {
		var err error
		if conv, err = loadConversation(ctx, tx, id); err != nil {
			return err
		}
		return tx.Scan(ctx, bubblePrefix+id+":", func(key string, value []byte) error {
			var m model.Message
			if err := json.Unmarshal(value, &m); err != nil {
				r.log.Warn().Err(err).Str("key", key).Msg("skipping undecodable message")
				return nil
			}
			m.ConversationID = id
			msgs = append(msgs, &m)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	pos := make(map[string]int, len(conv.MessageRefs))
	for i, ref := range conv.MessageRefs {
		pos[ref.BubbleID] = i
	}
	position := func(m *model.Message) int {
		if p, ok := pos[m.BubbleID]; ok {
			return p
		}
		return len(pos)
	}
	sort.SliceStable(msgs, func(a, b int) bool {
		ta, tb := msgs[a].CreatedTime(), msgs[b].CreatedTime()
		if !ta.Equal(tb) {
			return ta.Before(tb)
		}
		return position(msgs[a]) < position(msgs[b])
	})
	return msgs, nil
}

func (r *ConversationRepo) AppendMessage(ctx context.Context, conversationID string, msg *model.Message) error {
	return r.AppendMessages(ctx, conversationID, msg)
}

// AppendMessages validates every message, then under the conversation lock
// and in one KV transaction creates the conversation if needed, inserts the
// messages, appends their headers and bumps lastUpdatedAt.
func (r *ConversationRepo) AppendMessages(ctx context.Context, conversationID string, msgs ...*model.Message) (err error) {
	if err := checkID(conversationID); err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}
	defer func() { metrics.IncStoreAppend(appendResult(err), len(msgs)) }()

	for _, m := range msgs {
		if m == nil {
			return domain.NewError(domain.KindValidation, "nil message", domain.ErrInvalidArgument)
		}
		if m.ConversationID != "" && m.ConversationID != conversationID {
			return domain.NewError(domain.KindValidation,
				fmt.Sprintf("message %s belongs to %s", m.BubbleID, m.ConversationID), domain.ErrInvalidArgument)
		}
		if err := record.Validate(m); err != nil {
			return err
		}
	}

	release, err := r.locker.Lock(ctx, conversationID)
	if err != nil {
		return domain.StorageError("lock conversation "+conversationID, err)
	}
	defer release()

	now := r.now()
	err = r.kv.Update(ctx, func(ctx context.Context, tx repository.KVTx) error {
		conv, state, err := r.loadOrCreate(ctx, tx, conversationID, titleFrom(msgs), now)
		if err != nil {
			return err
		}
		refs := make([]model.MessageRef, 0, len(msgs))
		for _, m := range msgs {
			raw, err := json.Marshal(m)
			if err != nil {
				return domain.NewError(domain.KindValidation, "encode message", err)
			}
			if err := tx.Insert(ctx, bubbleKey(conversationID, m.BubbleID), raw); err != nil {
				if errors.Is(err, domain.ErrAlreadyExists) {
					return domain.StorageError("duplicate message "+m.BubbleID, err)
				}
				return asStorage("insert message", err)
			}
			refs = append(refs, model.MessageRef{BubbleID: m.BubbleID, Type: m.Type})
		}
		conv.AppendRefs(now, refs...)
		if err := r.saveConversation(ctx, tx, conv); err != nil {
			return err
		}
		if state == stateCreated {
			r.log.Info().Str("chat_id", conversationID).Msg("conversation auto-created")
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, m := range msgs {
		m.ConversationID = conversationID
	}
	r.log.Debug().Str("chat_id", conversationID).Int("messages", len(msgs)).Msg("messages appended")
	return nil
}

func (r *ConversationRepo) EnsureConversation(ctx context.Context, id, title string) (*model.Conversation, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	release, err := r.locker.Lock(ctx, id)
	if err != nil {
		return nil, domain.StorageError("lock conversation "+id, err)
	}
	defer release()

	var conv *model.Conversation
	err = r.kv.Update(ctx, func(ctx context.Context, tx repository.KVTx) error {
		c, state, err := r.loadOrCreate(ctx, tx, id, title, r.now())
		if err != nil {
			return err
		}
		conv = c
		if state == stateLoaded {
			return nil
		}
		return r.saveConversation(ctx, tx, c)
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

type loadState int

const (
	stateLoaded loadState = iota
	stateRepaired
	stateCreated
)

// loadOrCreate returns the stored conversation, repaired if needed, or a
// new one when none exists.
func (r *ConversationRepo) loadOrCreate(ctx context.Context, tx repository.KVTx, id, title string, now time.Time) (*model.Conversation, loadState, error) {
	conv, err := loadConversation(ctx, tx, id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		if title == "" {
			title = DefaultTitle
		}
		return record.BuildConversation(id, title, now), stateCreated, nil
	case err != nil:
		return nil, stateLoaded, err
	}
	missing := conv.MissingKeys()
	if record.RepairConversation(conv, now) {
		r.log.Info().Str("chat_id", id).Strs("missing", missing).Msg("repaired conversation record")
		return conv, stateRepaired, nil
	}
	return conv, stateLoaded, nil
}

func (r *ConversationRepo) saveConversation(ctx context.Context, tx repository.KVTx, conv *model.Conversation) error {
	if err := record.Validate(conv); err != nil {
		return err
	}
	raw, err := json.Marshal(conv)
	if err != nil {
		return domain.NewError(domain.KindValidation, "encode conversation", err)
	}
	if err := tx.Put(ctx, composerKey(conv.ComposerID), raw); err != nil {
		return asStorage("put conversation", err)
	}
	return nil
}

func loadConversation(ctx context.Context, tx repository.KVTx, id string) (*model.Conversation, error) {
	raw, err := tx.Get(ctx, composerKey(id))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, asStorage("get conversation", err)
	}
	var conv model.Conversation
	if err := json.Unmarshal(raw, &conv); err != nil {
		return nil, domain.StorageError("decode conversation "+id, err)
	}
	if conv.ComposerID == "" {
		conv.ComposerID = id
	}
	return &conv, nil
}

func asStorage(reason string, err error) error {
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	return domain.StorageError(reason, err)
}

func appendResult(err error) string {
	switch domain.KindOf(err) {
	case "":
		return "ok"
	case domain.KindValidation:
		return "invalid"
	default:
		return "error"
	}
}

// titleFrom uses the first user message, shortened, as a title.
func titleFrom(msgs []*model.Message) string {
	for _, m := range msgs {
		if m.Type != model.MessageTypeUser {
			continue
		}
		t := strings.Join(strings.Fields(m.Text), " ")
		if utf8.RuneCountInString(t) > maxTitleRunes {
			t = string([]rune(t)[:maxTitleRunes]) + "…"
		}
		return t
	}
	return ""
}
