package model

import (
	"time"

	"agent-relay/internal/domain"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// jobTransitions lists every allowed edge. Terminal states have none.
var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusPending:    {JobStatusProcessing, JobStatusCancelled},
	JobStatusProcessing: {JobStatusCompleted, JobStatusFailed, JobStatusCancelled},
	JobStatusCompleted:  {},
	JobStatusFailed:     {},
	JobStatusCancelled:  {},
}

// ParseJobStatus accepts the lowercase wire form.
func ParseJobStatus(s string) (JobStatus, error) {
	st := JobStatus(s)
	if _, ok := jobTransitions[st]; !ok {
		return "", domain.ErrInvalidArgument
	}
	return st, nil
}

func (s JobStatus) String() string { return string(s) }

func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

func (s JobStatus) CanTransitionTo(target JobStatus) bool {
	for _, t := range jobTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// ToolCall is a completed tool invocation reported by the agent.
type ToolCall struct {
	Name      string         `json:"name"`
	Command   string         `json:"command,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty"`
	ExitCode  *int           `json:"exit_code,omitempty"`
	Stdout    string         `json:"stdout,omitempty"`
	Stderr    string         `json:"stderr,omitempty"`
}

// JobResult is attached to a Completed job.
type JobResult struct {
	Text               string     `json:"text"`
	Thinking           string     `json:"thinking,omitempty"`
	ToolCalls          []ToolCall `json:"tool_calls,omitempty"`
	UserMessageID      string     `json:"user_message_id"`
	AssistantMessageID string     `json:"assistant_message_id"`
}

// JobError is attached to a Failed or Cancelled job.
type JobError struct {
	Kind     domain.ErrorKind `json:"kind"`
	Message  string           `json:"message"`
	ExitCode *int             `json:"exit_code,omitempty"`
	Stderr   string           `json:"stderr,omitempty"`
}

// Job is one asynchronous request to run the agent and persist its reply.
// It lives only in the in-memory job table.
type Job struct {
	ID          string
	ChatID      string
	Prompt      string
	Model       string
	Status      JobStatus
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Result      *JobResult
	Error       *JobError

	// CancelRequested is set when cancel arrives while Processing.
	CancelRequested bool
	// Committing is set once the persist step has begun; cancel can no
	// longer prevent completion after that point.
	Committing bool
}

func NewJob(id, chatID, prompt, model string, now time.Time) *Job {
	return &Job{
		ID:        id,
		ChatID:    chatID,
		Prompt:    prompt,
		Model:     model,
		Status:    JobStatusPending,
		CreatedAt: now.UTC(),
	}
}

// TransitionTo moves the job along the status graph and stamps timestamps.
// StartedAt is written once, CompletedAt on entry to any terminal state.
func (j *Job) TransitionTo(target JobStatus, now time.Time) error {
	if !j.Status.CanTransitionTo(target) {
		if j.Status.IsTerminal() {
			return domain.ErrJobAlreadyTerminal
		}
		return domain.ErrInvalidTransition
	}
	now = now.UTC()
	j.Status = target
	if target == JobStatusProcessing && j.StartedAt == nil {
		j.StartedAt = &now
	}
	if target.IsTerminal() {
		j.CompletedAt = &now
	}
	return nil
}

// Clone returns a deep copy safe to hand out of the job table.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	if j.Result != nil {
		r := *j.Result
		r.ToolCalls = append([]ToolCall(nil), j.Result.ToolCalls...)
		cp.Result = &r
	}
	if j.Error != nil {
		e := *j.Error
		cp.Error = &e
	}
	return &cp
}

// ElapsedSeconds is measured from StartedAt to CompletedAt (or now).
func (j *Job) ElapsedSeconds(now time.Time) *float64 {
	if j.StartedAt == nil {
		return nil
	}
	end := now
	if j.CompletedAt != nil {
		end = *j.CompletedAt
	}
	s := end.Sub(*j.StartedAt).Seconds()
	return &s
}

// JobView is the read-only snapshot handed to callers.
type JobView struct {
	ID          string
	ChatID      string
	Prompt      string
	Model       string
	Status      JobStatus
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Result      *JobResult
	Error       *JobError
	Elapsed     *float64
}

func (j *Job) View(now time.Time) JobView {
	c := j.Clone()
	return JobView{
		ID:          c.ID,
		ChatID:      c.ChatID,
		Prompt:      c.Prompt,
		Model:       c.Model,
		Status:      c.Status,
		CreatedAt:   c.CreatedAt,
		StartedAt:   c.StartedAt,
		CompletedAt: c.CompletedAt,
		Result:      c.Result,
		Error:       c.Error,
		Elapsed:     c.ElapsedSeconds(now),
	}
}
