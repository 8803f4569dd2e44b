package rclone

import (
	"context"
	"os"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests exercise the real process commander with a shell instead of
// rclone; everything above the Commander seam uses the fake.

func shellReq(script string) *Request {
	return &Request{Argv: []string{"sh", "-c", script}, Env: os.Environ()}
}

func skipWithoutShell(t *testing.T) {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
}

func TestProcCommanderCaptureSeparatesStreams(t *testing.T) {
	t.Parallel()
	skipWithoutShell(t)

	c := NewProcCommander(t.TempDir(), testLogger(t))

	res, err := c.Run(context.Background(), shellReq("echo out; echo err >&2"))
	require.NoError(t, err)
	assert.Equal(t, "out\n", res.Stdout)
	assert.Equal(t, "err\n", res.Stderr)
	assert.Equal(t, 0, res.ExitCode)
}

func TestProcCommanderStreamMerges(t *testing.T) {
	t.Parallel()
	skipWithoutShell(t)

	c := NewProcCommander(t.TempDir(), testLogger(t))

	req := shellReq("echo one; echo two >&2")
	req.Stream = true

	res, err := c.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Contains(t, res.Stdout, "one\n")
	assert.Contains(t, res.Stdout, "two\n")
	assert.Empty(t, res.Stderr)
}

func TestProcCommanderExitCode(t *testing.T) {
	t.Parallel()
	skipWithoutShell(t)

	c := NewProcCommander(t.TempDir(), testLogger(t))

	res, err := c.Run(context.Background(), shellReq("exit 4"))
	require.NoError(t, err)
	assert.Equal(t, 4, res.ExitCode)
}

func TestProcCommanderSpawnFailure(t *testing.T) {
	t.Parallel()

	c := NewProcCommander(t.TempDir(), testLogger(t))

	_, err := c.Run(context.Background(), &Request{
		Argv: []string{"/nonexistent/definitely-not-a-binary"},
	})
	assert.Error(t, err)
}
