//go:build unix

package agent

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-relay/internal/domain/ports/adapter"
)

// fakeAgent writes an executable shell script standing in for cursor-agent.
func fakeAgent(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cursor-agent")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func newRunner(path, format string) *CLIRunner {
	return NewCLIRunner(CLIConfig{
		Path:         path,
		OutputFormat: format,
		Models:       []string{"gpt-5", "sonnet-4.5"},
		WaitDelay:    time.Second,
	}, zerolog.Nop())
}

func TestCLIRunner_Args(t *testing.T) {
	r := newRunner("/bin/true", FormatText)

	args, err := r.Args(adapter.RunRequest{ConversationID: "chat-1", Prompt: "--help me", Model: "gpt-5"})
	require.NoError(t, err)
	assert.Equal(t, []string{"--print", "--force", "--model", "gpt-5", "--output-format", "text", "--resume", "chat-1", "--help me"}, args)

	args, err = r.Args(adapter.RunRequest{ConversationID: "chat-1", Prompt: "hi"})
	require.NoError(t, err)
	assert.NotContains(t, args, "--model")

	_, err = r.Args(adapter.RunRequest{ConversationID: "chat-1", Prompt: "hi", Model: "gpt-9"})
	assert.ErrorContains(t, err, "unknown model")
}

func TestCLIRunner_Success(t *testing.T) {
	argFile := filepath.Join(t.TempDir(), "args")
	path := fakeAgent(t, `for a in "$@"; do printf '%s\n' "$a" >> `+argFile+`; done
echo "  Hello from the agent  "`)

	out := newRunner(path, FormatText).Run(context.Background(), adapter.RunRequest{
		ConversationID: "chat-1", Prompt: "say hi; rm -rf /", Timeout: 5 * time.Second,
	})
	require.Equal(t, adapter.OutcomeSuccess, out.Kind, out.Info)
	assert.Equal(t, "Hello from the agent", out.Text)
	require.NotNil(t, out.ExitCode)
	assert.Equal(t, 0, *out.ExitCode)

	raw, err := os.ReadFile(argFile)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	assert.Equal(t, "say hi; rm -rf /", lines[len(lines)-1], "prompt is passed as a single argv entry")
}

func TestCLIRunner_NonZeroExit(t *testing.T) {
	path := fakeAgent(t, `echo "partial"; echo "boom: auth required" >&2; exit 3`)

	out := newRunner(path, FormatText).Run(context.Background(), adapter.RunRequest{ConversationID: "c", Prompt: "p", Timeout: 5 * time.Second})
	assert.Equal(t, adapter.OutcomeFailure, out.Kind)
	require.NotNil(t, out.ExitCode)
	assert.Equal(t, 3, *out.ExitCode)
	assert.Contains(t, out.StderrExcerpt, "auth required")
	assert.Equal(t, "partial\n", out.Raw)
}

func TestCLIRunner_EmptyOutputIsFailure(t *testing.T) {
	path := fakeAgent(t, `exit 0`)
	out := newRunner(path, FormatText).Run(context.Background(), adapter.RunRequest{ConversationID: "c", Prompt: "p"})
	assert.Equal(t, adapter.OutcomeFailure, out.Kind)
	assert.Equal(t, "agent produced no output", out.Info)
}

func TestCLIRunner_UnknownModelDoesNotSpawn(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "ran")
	path := fakeAgent(t, "touch "+marker+"; echo hi")

	out := newRunner(path, FormatText).Run(context.Background(), adapter.RunRequest{ConversationID: "c", Prompt: "p", Model: "nope"})
	assert.Equal(t, adapter.OutcomeFailure, out.Kind)
	assert.Contains(t, out.Info, "unknown model")
	assert.NoFileExists(t, marker)
}

func TestCLIRunner_MissingBinary(t *testing.T) {
	out := newRunner(filepath.Join(t.TempDir(), "absent"), FormatText).Run(context.Background(), adapter.RunRequest{ConversationID: "c", Prompt: "p"})
	assert.Equal(t, adapter.OutcomeFailure, out.Kind)
	assert.Nil(t, out.ExitCode)
	assert.NotEmpty(t, out.Info)
}

func TestCLIRunner_TimeoutKillsProcessGroup(t *testing.T) {
	pids := filepath.Join(t.TempDir(), "pids")
	path := fakeAgent(t, `sleep 30 &
echo $! > `+pids+`
echo $$ >> `+pids+`
wait`)

	start := time.Now()
	out := newRunner(path, FormatText).Run(context.Background(), adapter.RunRequest{ConversationID: "c", Prompt: "p", Timeout: 300 * time.Millisecond})
	assert.Equal(t, adapter.OutcomeTimedOut, out.Kind)
	assert.Contains(t, out.Info, "timed out after 300ms")
	assert.Less(t, time.Since(start), 5*time.Second)

	raw, err := os.ReadFile(pids)
	require.NoError(t, err)
	for _, f := range strings.Fields(string(raw)) {
		pid, err := strconv.Atoi(f)
		require.NoError(t, err)
		assert.Eventually(t, func() bool { return processGone(pid) }, 3*time.Second, 20*time.Millisecond, "pid %d still running", pid)
	}
}

func TestCLIRunner_ParentCancelIsInterrupted(t *testing.T) {
	path := fakeAgent(t, `sleep 30`)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	out := newRunner(path, FormatText).Run(ctx, adapter.RunRequest{ConversationID: "c", Prompt: "p", Timeout: 10 * time.Second})
	assert.Equal(t, adapter.OutcomeFailure, out.Kind)
	assert.Equal(t, "interrupted", out.Info)
}

func TestCLIRunner_StreamJSON(t *testing.T) {
	path := fakeAgent(t, `cat <<'JSON'
{"type":"system","subtype":"init"}
{"type":"thinking","subtype":"delta","text":"Let me "}
{"type":"thinking","subtype":"delta","text":"look."}
{"type":"tool_call","subtype":"completed","tool_call":{"shellToolCall":{"args":{"command":"ls","workingDirectory":"/w"},"result":{"success":{"exitCode":0,"stdout":"a.go\n","stderr":""}}}}}
{"type":"assistant","message":{"content":[{"type":"text","text":"There is one file."}]}}
{"type":"result","subtype":"success","result":"There is one file: a.go"}
JSON`)

	out := newRunner(path, FormatStreamJSON).Run(context.Background(), adapter.RunRequest{ConversationID: "c", Prompt: "p"})
	require.Equal(t, adapter.OutcomeSuccess, out.Kind, out.Info)
	assert.Equal(t, "There is one file: a.go", out.Text)
	assert.Equal(t, "Let me look.", out.Thinking)
	require.Len(t, out.ToolCalls, 1)
	assert.Equal(t, "ls", out.ToolCalls[0].Command)
}

func TestCLIRunner_StreamJSONGarbageIsFailure(t *testing.T) {
	path := fakeAgent(t, `echo "this is not json"`)
	out := newRunner(path, FormatStreamJSON).Run(context.Background(), adapter.RunRequest{ConversationID: "c", Prompt: "p"})
	assert.Equal(t, adapter.OutcomeFailure, out.Kind)
	assert.Contains(t, out.Info, "unparseable")
}

func TestTailBuffer(t *testing.T) {
	b := &tailBuffer{max: 8}
	_, _ = b.Write([]byte("abcdef"))
	_, _ = b.Write([]byte("ghij"))
	assert.Equal(t, "cdefghij", b.String())
	_, _ = b.Write([]byte("0123456789"))
	assert.Equal(t, "23456789", b.String())
}

// processGone reports whether pid no longer exists or is a zombie waiting
// to be reaped by init.
func processGone(pid int) bool {
	if err := syscall.Kill(pid, 0); err != nil {
		return true
	}
	stat, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return false
	}
	s := string(stat)
	if i := strings.LastIndexByte(s, ')'); i >= 0 && i+2 < len(s) {
		return s[i+2] == 'Z'
	}
	return false
}
