package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"

	"agent-relay/internal/domain"
	"agent-relay/internal/domain/model"
	"agent-relay/internal/domain/ports/adapter"
)

const defaultCreateChatTimeout = 10 * time.Second

var (
	_ adapter.Agent = (*CLIRunner)(nil)
	_ adapter.Agent = (*EchoRunner)(nil)
)

// CreateChat runs "cursor-agent create-chat" and returns the id it prints.
func (r *CLIRunner) CreateChat(ctx context.Context) (string, error) {
	timeout := r.cfg.CreateChatTimeout
	if timeout <= 0 {
		timeout = defaultCreateChatTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout bytes.Buffer
	stderr := &tailBuffer{max: stderrTailBytes}
	cmd := exec.CommandContext(runCtx, r.cfg.Path, "create-chat")
	cmd.Dir = r.cfg.WorkDir
	cmd.Stdout = &limitWriter{w: &stdout, n: 4 << 10}
	cmd.Stderr = stderr
	cmd.WaitDelay = r.cfg.WaitDelay
	killProcessGroupOnCancel(cmd)

	err := cmd.Run()
	switch {
	case err == nil:
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		return "", domain.NewError(domain.KindTimeout, fmt.Sprintf("create-chat timed out after %s", timeout), runCtx.Err())
	case ctx.Err() != nil:
		return "", ctx.Err()
	default:
		reason := "create-chat failed"
		if tail := strings.TrimSpace(stderr.String()); tail != "" {
			reason += ": " + tail
		}
		return "", domain.NewError(domain.KindProcess, reason, err)
	}

	id := strings.TrimSpace(stdout.String())
	if err := model.ValidateChatID(id); err != nil {
		return "", domain.NewError(domain.KindProcess, "create-chat printed an unusable id", err)
	}
	r.log.Info().Str("chat_id", id).Msg("agent chat created")
	return id, nil
}

// CreateChat mints a random id; there is no agent to ask.
func (e *EchoRunner) CreateChat(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return uuid.NewString(), nil
}
