//go:build unix

package agent

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-relay/internal/domain"
)

func TestCLIRunner_CreateChat(t *testing.T) {
	argFile := filepath.Join(t.TempDir(), "args")
	path := fakeAgent(t, `echo "$@" > `+argFile+`
echo "  7c1283c9-bc7d-480a-8dc9-1ed382251471  "`)

	id, err := newRunner(path, FormatText).CreateChat(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "7c1283c9-bc7d-480a-8dc9-1ed382251471", id)

	raw, err := os.ReadFile(argFile)
	require.NoError(t, err)
	assert.Equal(t, "create-chat", strings.TrimSpace(string(raw)))
}

func TestCLIRunner_CreateChatFailures(t *testing.T) {
	cases := map[string]struct {
		body string
		kind domain.ErrorKind
		msg  string
	}{
		"non-zero exit": {body: `echo "not logged in" >&2; exit 1`, kind: domain.KindProcess, msg: "not logged in"},
		"empty output":  {body: `exit 0`, kind: domain.KindProcess, msg: "unusable id"},
		"bad id":        {body: `echo "a:b"`, kind: domain.KindProcess, msg: "unusable id"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := newRunner(fakeAgent(t, tc.body), FormatText).CreateChat(context.Background())
			require.Error(t, err)
			assert.Equal(t, tc.kind, domain.KindOf(err))
			assert.ErrorContains(t, err, tc.msg)
		})
	}
}

func TestCLIRunner_CreateChatTimeout(t *testing.T) {
	r := NewCLIRunner(CLIConfig{
		Path:              fakeAgent(t, `sleep 30`),
		WaitDelay:         time.Second,
		CreateChatTimeout: 200 * time.Millisecond,
	}, zerolog.Nop())

	start := time.Now()
	_, err := r.CreateChat(context.Background())
	assert.Equal(t, domain.KindTimeout, domain.KindOf(err))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestEchoRunner_CreateChat(t *testing.T) {
	e := NewEchoRunner(0, zerolog.Nop())
	a, err := e.CreateChat(context.Background())
	require.NoError(t, err)
	b, err := e.CreateChat(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	_, err = uuid.Parse(a)
	assert.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.CreateChat(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
