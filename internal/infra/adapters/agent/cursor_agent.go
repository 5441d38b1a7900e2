// Package agent runs the external coding agent and maps its exit to an
// adapter.Outcome.
package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"agent-relay/internal/domain/ports/adapter"
)

const (
	FormatText       = "text"
	FormatStreamJSON = "stream-json"

	stderrTailBytes = 2 << 10
	maxStdoutBytes  = 32 << 20
)

type CLIConfig struct {
	Path         string
	WorkDir      string
	OutputFormat string
	Models       []string
	// WaitDelay bounds how long Run waits for pipes to drain after the
	// process group has been killed.
	WaitDelay time.Duration
	// CreateChatTimeout bounds CreateChat; zero means ten seconds.
	CreateChatTimeout time.Duration
}

var _ adapter.AgentRunner = (*CLIRunner)(nil)

// CLIRunner spawns one cursor-agent process per run.
type CLIRunner struct {
	cfg    CLIConfig
	models map[string]struct{}
	log    zerolog.Logger
}

func NewCLIRunner(cfg CLIConfig, logger zerolog.Logger) *CLIRunner {
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = FormatText
	}
	models := make(map[string]struct{}, len(cfg.Models))
	for _, m := range cfg.Models {
		models[m] = struct{}{}
	}
	return &CLIRunner{
		cfg:    cfg,
		models: models,
		log:    logger.With().Str("component", "agent_cli").Logger(),
	}
}

// Args builds the argv after the binary name. The prompt is always last.
func (r *CLIRunner) Args(req adapter.RunRequest) ([]string, error) {
	args := []string{"--print", "--force"}
	if req.Model != "" {
		if _, ok := r.models[req.Model]; !ok {
			return nil, fmt.Errorf("unknown model %q", req.Model)
		}
		args = append(args, "--model", req.Model)
	}
	args = append(args, "--output-format", r.cfg.OutputFormat)
	if req.ConversationID != "" {
		args = append(args, "--resume", req.ConversationID)
	}
	return append(args, req.Prompt), nil
}

func (r *CLIRunner) Run(ctx context.Context, req adapter.RunRequest) adapter.Outcome {
	start := time.Now()
	args, err := r.Args(req)
	if err != nil {
		return adapter.Outcome{Kind: adapter.OutcomeFailure, Info: err.Error()}
	}

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if req.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, req.Timeout)
	}
	defer cancel()

	var stdout bytes.Buffer
	stderr := &tailBuffer{max: stderrTailBytes}
	cmd := exec.CommandContext(runCtx, r.cfg.Path, args...)
	cmd.Dir = r.cfg.WorkDir
	cmd.Stdout = &limitWriter{w: &stdout, n: maxStdoutBytes}
	cmd.Stderr = stderr
	cmd.WaitDelay = r.cfg.WaitDelay
	killProcessGroupOnCancel(cmd)

	log := r.log.With().Str("chat_id", req.ConversationID).Str("model", req.Model).Logger()
	log.Debug().Dur("timeout", req.Timeout).Msg("starting agent")
	err = cmd.Run()

	out := adapter.Outcome{
		Raw:           stdout.String(),
		StderrExcerpt: strings.TrimSpace(stderr.String()),
		Duration:      time.Since(start),
	}
	switch {
	case err == nil:
		r.parse(&out)
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		out.Kind = adapter.OutcomeTimedOut
		out.Info = fmt.Sprintf("timed out after %s", req.Timeout)
	case ctx.Err() != nil:
		out.Kind = adapter.OutcomeFailure
		out.Info = "interrupted"
	default:
		out.Kind = adapter.OutcomeFailure
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code := exitErr.ExitCode()
			out.ExitCode = &code
			out.Info = exitErr.Error()
		} else {
			out.Info = err.Error()
		}
	}

	ev := log.Info()
	if out.Kind != adapter.OutcomeSuccess {
		ev = log.Warn().Str("info", out.Info).Str("stderr", out.StderrExcerpt)
	}
	ev.Str("outcome", string(out.Kind)).Dur("duration", out.Duration).Msg("agent finished")
	return out
}

// parse fills Text (and, for stream-json, Thinking and ToolCalls) from a
// zero exit. Empty or unparseable output is a failure.
func (r *CLIRunner) parse(out *adapter.Outcome) {
	zero := 0
	out.ExitCode = &zero
	switch r.cfg.OutputFormat {
	case FormatStreamJSON:
		res, ok := ParseStreamJSON(out.Raw)
		if !ok {
			out.Kind = adapter.OutcomeFailure
			out.Info = "unparseable stream-json output"
			return
		}
		out.Text, out.Thinking, out.ToolCalls = res.Text, res.Thinking, res.ToolCalls
	default:
		out.Text = strings.TrimSpace(out.Raw)
	}
	if out.Text == "" {
		out.Kind = adapter.OutcomeFailure
		out.Info = "agent produced no output"
		return
	}
	out.Kind = adapter.OutcomeSuccess
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if len(p) >= t.max {
		t.buf = append(t.buf[:0], p[len(p)-t.max:]...)
		return n, nil
	}
	if over := len(t.buf) + len(p) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	t.buf = append(t.buf, p...)
	return n, nil
}

func (t *tailBuffer) String() string { return string(t.buf) }

// limitWriter drops everything past n bytes but reports full writes so the
// child never sees EPIPE.
type limitWriter struct {
	w *bytes.Buffer
	n int
}

func (l *limitWriter) Write(p []byte) (int, error) {
	if room := l.n - l.w.Len(); room > 0 {
		if len(p) > room {
			l.w.Write(p[:room])
		} else {
			l.w.Write(p)
		}
	}
	return len(p), nil
}
