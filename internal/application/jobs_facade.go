package application

import (
	"context"
	"time"

	"agent-relay/internal/domain/model"
	ports "agent-relay/internal/domain/ports/usecase"
	"agent-relay/internal/usecase"
)

// JobsFacade turns job views and stored records into the wire DTOs the
// polling client reads.
type JobsFacade struct {
	jobs  JobManagerIface
	convs ConversationReaderIface
	chats ChatManagerIface
}

func NewJobsFacade(jobs JobManagerIface, convs ConversationReaderIface, chats ChatManagerIface) *JobsFacade {
	return &JobsFacade{jobs: jobs, convs: convs, chats: chats}
}

// ---- DTOs ----

type SubmitDTO struct {
	JobID     string    `json:"job_id"`
	ChatID    string    `json:"chat_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type ToolCallDTO struct {
	Name      string         `json:"name"`
	Command   string         `json:"command,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty"`
	ExitCode  *int           `json:"exit_code,omitempty"`
	Stdout    string         `json:"stdout,omitempty"`
	Stderr    string         `json:"stderr,omitempty"`
}

type ResultDTO struct {
	Text               string        `json:"text"`
	Thinking           string        `json:"thinking,omitempty"`
	ToolCalls          []ToolCallDTO `json:"tool_calls,omitempty"`
	UserMessageID      string        `json:"user_message_id"`
	AssistantMessageID string        `json:"assistant_message_id"`
}

type ErrorDTO struct {
	Kind     string `json:"kind"`
	Message  string `json:"message"`
	ExitCode *int   `json:"exit_code,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
}

type JobDTO struct {
	JobID          string     `json:"job_id"`
	ChatID         string     `json:"chat_id"`
	Prompt         string     `json:"prompt"`
	Model          string     `json:"model,omitempty"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	ElapsedSeconds *float64   `json:"elapsed_seconds,omitempty"`
	Result         *ResultDTO `json:"result,omitempty"`
	Error          *ErrorDTO  `json:"error,omitempty"`
}

// StatusDTO is the cheap poll response; it omits prompt and result text.
type StatusDTO struct {
	JobID          string     `json:"job_id"`
	Status         string     `json:"status"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	ElapsedSeconds *float64   `json:"elapsed_seconds,omitempty"`
	HasResult      bool       `json:"has_result"`
	Error          *ErrorDTO  `json:"error,omitempty"`
}

type ChatDTO struct {
	ChatID        string    `json:"chat_id"`
	Title         string    `json:"title"`
	CreatedAt     time.Time `json:"created_at"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
	MessageCount  int       `json:"message_count"`
	IsArchived    bool      `json:"is_archived"`
	IsDraft       bool      `json:"is_draft"`
}

// ChatSummaryDTO is one row of the chat listing. Timestamps are epoch
// milliseconds as stored, with ISO copies for display.
type ChatSummaryDTO struct {
	ChatID           string `json:"chat_id"`
	Name             string `json:"name"`
	CreatedAt        int64  `json:"created_at"`
	CreatedAtISO     string `json:"created_at_iso"`
	LastUpdatedAt    int64  `json:"last_updated_at"`
	LastUpdatedAtISO string `json:"last_updated_at_iso"`
	IsArchived       bool   `json:"is_archived"`
	IsDraft          bool   `json:"is_draft"`
	MessageCount     int    `json:"message_count"`
}

type ChatListDTO struct {
	Total    int              `json:"total"`
	Returned int              `json:"returned"`
	Offset   int              `json:"offset"`
	Chats    []ChatSummaryDTO `json:"chats"`
}

type CreatedChatDTO struct {
	Status  string `json:"status"`
	ChatID  string `json:"chat_id"`
	Message string `json:"message"`
}

type ModelsDTO struct {
	Models      []string `json:"models"`
	Default     string   `json:"default"`
	Recommended []string `json:"recommended"`
}

type MessageDTO struct {
	MessageID string `json:"message_id"`
	Role      string `json:"role"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at"`
	Model     string `json:"model,omitempty"`
	Thinking  string `json:"thinking,omitempty"`
}

// ---- operations ----

func (f *JobsFacade) Submit(ctx context.Context, chatID, prompt, modelName string) (SubmitDTO, error) {
	v, err := f.jobs.Submit(ctx, chatID, prompt, modelName)
	if err != nil {
		return SubmitDTO{}, err
	}
	return SubmitDTO{JobID: v.ID, ChatID: v.ChatID, Status: string(v.Status), CreatedAt: v.CreatedAt}, nil
}

func (f *JobsFacade) Job(ctx context.Context, jobID string) (JobDTO, error) {
	v, err := f.jobs.Status(ctx, jobID)
	if err != nil {
		return JobDTO{}, err
	}
	return toJobDTO(v), nil
}

func (f *JobsFacade) Status(ctx context.Context, jobID string) (StatusDTO, error) {
	v, err := f.jobs.Status(ctx, jobID)
	if err != nil {
		return StatusDTO{}, err
	}
	return toStatusDTO(v), nil
}

// List accepts the lowercase status name or "" for every status.
func (f *JobsFacade) List(ctx context.Context, chatID string, limit int, status string) ([]JobDTO, error) {
	var filter *model.JobStatus
	if status != "" {
		st, err := model.ParseJobStatus(status)
		if err != nil {
			return nil, err
		}
		filter = &st
	}
	views, err := f.jobs.ListJobs(ctx, chatID, limit, filter)
	if err != nil {
		return nil, err
	}
	out := make([]JobDTO, 0, len(views))
	for _, v := range views {
		out = append(out, toJobDTO(v))
	}
	return out, nil
}

// Cancel returns the job's status after the request was recorded.
func (f *JobsFacade) Cancel(ctx context.Context, jobID string) (StatusDTO, error) {
	if err := f.jobs.Cancel(ctx, jobID); err != nil {
		return StatusDTO{}, err
	}
	return f.Status(ctx, jobID)
}

func (f *JobsFacade) Chat(ctx context.Context, chatID string) (ChatDTO, error) {
	c, err := f.convs.GetConversation(ctx, chatID)
	if err != nil {
		return ChatDTO{}, err
	}
	return ChatDTO{
		ChatID:        c.ComposerID,
		Title:         c.Name,
		CreatedAt:     time.UnixMilli(c.CreatedAt).UTC(),
		LastUpdatedAt: time.UnixMilli(c.LastUpdatedAt).UTC(),
		MessageCount:  len(c.MessageRefs),
		IsArchived:    c.IsArchived,
		IsDraft:       c.IsDraft,
	}, nil
}

func (f *JobsFacade) CreateChat(ctx context.Context) (CreatedChatDTO, error) {
	c, err := f.chats.CreateChat(ctx)
	if err != nil {
		return CreatedChatDTO{}, err
	}
	return CreatedChatDTO{Status: "success", ChatID: c.ComposerID, Message: "Chat created successfully"}, nil
}

// ListChats pages over every stored chat. sortBy is last_updated, created
// or name; limit 0 returns everything after offset.
func (f *JobsFacade) ListChats(ctx context.Context, includeArchived bool, sortBy string, limit, offset int) (ChatListDTO, error) {
	page, err := f.chats.ListChats(ctx, ports.ChatQuery{
		IncludeArchived: includeArchived,
		SortBy:          ports.ChatSort(sortBy),
		Limit:           limit,
		Offset:          offset,
	})
	if err != nil {
		return ChatListDTO{}, err
	}
	out := ChatListDTO{Total: page.Total, Returned: len(page.Chats), Offset: page.Offset, Chats: make([]ChatSummaryDTO, 0, len(page.Chats))}
	for _, c := range page.Chats {
		out.Chats = append(out.Chats, ChatSummaryDTO{
			ChatID:           c.ComposerID,
			Name:             usecase.ChatName(c),
			CreatedAt:        c.CreatedAt,
			CreatedAtISO:     isoMillis(c.CreatedAt),
			LastUpdatedAt:    c.LastUpdatedAt,
			LastUpdatedAtISO: isoMillis(c.LastUpdatedAt),
			IsArchived:       c.IsArchived,
			IsDraft:          c.IsDraft,
			MessageCount:     len(c.MessageRefs),
		})
	}
	return out, nil
}

func (f *JobsFacade) Models() ModelsDTO {
	m := f.chats.Models()
	return ModelsDTO{Models: m.Models, Default: m.Default, Recommended: m.Recommended}
}

func isoMillis(ms int64) string {
	if ms <= 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339Nano)
}

func (f *JobsFacade) Messages(ctx context.Context, chatID string) ([]MessageDTO, error) {
	msgs, err := f.convs.GetMessages(ctx, chatID)
	if err != nil {
		return nil, err
	}
	out := make([]MessageDTO, 0, len(msgs))
	for _, m := range msgs {
		d := MessageDTO{
			MessageID: m.BubbleID,
			Role:      string(m.Role()),
			Text:      m.Text,
			CreatedAt: m.CreatedAt,
		}
		if m.ModelInfo != nil {
			d.Model = m.ModelInfo.ModelName
		}
		if m.Thinking != nil {
			d.Thinking = m.Thinking.Text
		}
		out = append(out, d)
	}
	return out, nil
}

func toJobDTO(v model.JobView) JobDTO {
	d := JobDTO{
		JobID:          v.ID,
		ChatID:         v.ChatID,
		Prompt:         v.Prompt,
		Model:          v.Model,
		Status:         string(v.Status),
		CreatedAt:      v.CreatedAt,
		StartedAt:      v.StartedAt,
		CompletedAt:    v.CompletedAt,
		ElapsedSeconds: v.Elapsed,
		Error:          toErrorDTO(v.Error),
	}
	if r := v.Result; r != nil {
		d.Result = &ResultDTO{
			Text:               r.Text,
			Thinking:           r.Thinking,
			UserMessageID:      r.UserMessageID,
			AssistantMessageID: r.AssistantMessageID,
		}
		for _, tc := range r.ToolCalls {
			d.Result.ToolCalls = append(d.Result.ToolCalls, ToolCallDTO(tc))
		}
	}
	return d
}

func toStatusDTO(v model.JobView) StatusDTO {
	return StatusDTO{
		JobID:          v.ID,
		Status:         string(v.Status),
		CompletedAt:    v.CompletedAt,
		ElapsedSeconds: v.Elapsed,
		HasResult:      v.Result != nil,
		Error:          toErrorDTO(v.Error),
	}
}

func toErrorDTO(e *model.JobError) *ErrorDTO {
	if e == nil {
		return nil
	}
	return &ErrorDTO{Kind: string(e.Kind), Message: e.Message, ExitCode: e.ExitCode, Stderr: e.Stderr}
}
