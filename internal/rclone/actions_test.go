package rclone

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrJman006/syncrclone/internal/config"
)

// filesFromContents reads back the --files-from list of a recorded request.
func filesFromContents(t *testing.T, req *Request) []string {
	t.Helper()

	for i, a := range req.Argv {
		if a == "--files-from" && i+1 < len(req.Argv) {
			body, err := os.ReadFile(req.Argv[i+1])
			require.NoError(t, err)

			return strings.Split(strings.TrimSpace(string(body)), "\n")
		}
	}

	t.Fatal("request has no --files-from flag")

	return nil
}

func TestGroupMovesDirectoryLike(t *testing.T) {
	t.Parallel()

	movetos, groups := groupMoves([][2]string{
		{"deep/sub/dir/f1", "deeper/sub/dir/f1"},
		{"deep/sub/dir/f2", "deeper/sub/dir/f2"},
	})

	assert.Empty(t, movetos)
	require.Len(t, groups, 1)

	files := groups[[2]string{"deep", "deeper"}]
	assert.ElementsMatch(t, []string{"sub/dir/f1", "sub/dir/f2"}, files)
}

func TestGroupMovesLeafRename(t *testing.T) {
	t.Parallel()

	movetos, groups := groupMoves([][2]string{
		{"dir/old.txt", "dir/new.txt"},
	})

	assert.Empty(t, groups)
	assert.Equal(t, [][2]string{{"dir/old.txt", "dir/new.txt"}}, movetos)
}

func TestGroupMovesSingletonCollapses(t *testing.T) {
	t.Parallel()

	// Same leaf name, different directory, but only one file: back to
	// moveto.
	movetos, groups := groupMoves([][2]string{
		{"a/f.txt", "b/f.txt"},
	})

	assert.Empty(t, groups)
	assert.Equal(t, [][2]string{{"a/f.txt", "b/f.txt"}}, movetos)
}

func TestGroupMovesMixed(t *testing.T) {
	t.Parallel()

	movetos, groups := groupMoves([][2]string{
		{"deep/sub/f1", "deeper/sub/f1"},
		{"deep/sub/f2", "deeper/sub/f2"},
		{"x/old", "x/new"},
	})

	assert.Equal(t, [][2]string{{"x/old", "x/new"}}, movetos)
	require.Len(t, groups, 1)
	assert.ElementsMatch(t, []string{"sub/f1", "sub/f2"}, groups[[2]string{"deep", "deeper"}])
}

func TestCommonSuffixLen(t *testing.T) {
	t.Parallel()

	tests := []struct {
		a, b string
		want int
	}{
		{"deep/sub/dir/f1", "deeper/sub/dir/f1", 3},
		{"a/f.txt", "a/g.txt", 0},
		{"a/f.txt", "b/f.txt", 1},
		{"f", "g", 0},
		{"sub/f", "f", 1},
	}

	for _, tt := range tests {
		got := commonSuffixLen(strings.Split(tt.a, "/"), strings.Split(tt.b, "/"))
		assert.Equal(t, tt.want, got, "%s vs %s", tt.a, tt.b)
	}
}

func TestRootDirs(t *testing.T) {
	t.Parallel()

	got := rootDirs([]string{
		"a/b/c",
		"a/b",
		"a/bc",
		"z",
		"a/b/d",
	})

	assert.Equal(t, []string{"a/b", "a/bc", "z"}, got)
}

func TestDeleteBackupMoveStageShapes(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	forceMove := false
	cfg.BackupWithCopy = &forceMove

	r, fake := newTestRclone(t, cfg)

	err := r.DeleteBackupMove(context.Background(), config.B,
		[]string{"gone1", "gone2", "dir/gone3"}, // deletes with backup
		nil,
		[]string{"overwritten1", "overwritten2"}, // backups
		[][2]string{{"old/name.txt", "new/name.txt"}},
	)
	require.NoError(t, err)

	// Stage 1: one `move --files-from` into the backup tree regardless of
	// payload size.
	moveCalls := fake.calls("move", "--files-from", "rb:")
	require.Len(t, moveCalls, 2, "one delete-with-backup and one backup stage")

	delCall := moveCalls[0]
	assert.True(t, hasArg(delCall, "rb:.syncrclone/backups/20240101T000000_job_B"))
	assert.True(t, hasArg(delCall, "--retries"))
	assert.True(t, hasArg(delCall, "--no-check-dest"))
	assert.Equal(t, []string{"gone1", "gone2", "dir/gone3"}, filesFromContents(t, delCall))

	// Stage 2: the leaf rename is a single moveto.
	movetoCalls := fake.calls("moveto")
	require.Len(t, movetoCalls, 1)
	assert.True(t, hasArg(movetoCalls[0], "rb:old/name.txt"))
	assert.True(t, hasArg(movetoCalls[0], "rb:new/name.txt"))

	// Stage 3: backups forced to move.
	backCall := moveCalls[1]
	assert.Equal(t, []string{"overwritten1", "overwritten2"}, filesFromContents(t, backCall))

	// No plain deletes were requested.
	assert.Empty(t, fake.calls("delete"))
}

func TestDeleteBackupMovePlainDelete(t *testing.T) {
	t.Parallel()

	r, fake := newTestRclone(t, testConfig(t))

	err := r.DeleteBackupMove(context.Background(), config.A,
		nil, []string{"x", "y"}, nil, nil)
	require.NoError(t, err)

	delCalls := fake.calls("delete", "--files-from")
	require.Len(t, delCalls, 1, "one agent call independent of payload size")
	assert.Equal(t, []string{"x", "y"}, filesFromContents(t, delCalls[0]))
	assert.True(t, hasArg(delCalls[0], "ra:"))
}

func TestDeleteBackupMoveGroupedMove(t *testing.T) {
	t.Parallel()

	r, fake := newTestRclone(t, testConfig(t))

	err := r.DeleteBackupMove(context.Background(), config.A, nil, nil, nil,
		[][2]string{
			{"deep/sub/dir/f1", "deeper/sub/dir/f1"},
			{"deep/sub/dir/f2", "deeper/sub/dir/f2"},
		})
	require.NoError(t, err)

	assert.Empty(t, fake.calls("moveto"))

	grouped := fake.calls("move", "--files-from")
	require.Len(t, grouped, 1, "two renames collapse into one grouped move")
	assert.True(t, hasArg(grouped[0], "ra:deep"))
	assert.True(t, hasArg(grouped[0], "ra:deeper"))
	assert.Equal(t, []string{"sub/dir/f1", "sub/dir/f2"}, filesFromContents(t, grouped[0]))
}

func TestDeleteBackupMoveAutoBackupVerb(t *testing.T) {
	t.Parallel()

	r, fake := newTestRclone(t, testConfig(t))
	r.SeedFeatures(config.A, &Features{Copy: true, CanHaveEmptyDirectories: true})

	err := r.DeleteBackupMove(context.Background(), config.A, nil, nil, []string{"f"}, nil)
	require.NoError(t, err)

	assert.Len(t, fake.calls("copy", "--files-from"), 1, "copy-capable remote backs up via copy")
}

func TestTransferSplitFlags(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Compare = "hash"

	r, fake := newTestRclone(t, cfg)

	err := r.Transfer(context.Background(), config.A,
		[]string{"same-size.bin"}, []string{"grew.bin"})
	require.NoError(t, err)

	diffCalls := fake.calls("copy", "--size-only")
	require.Len(t, diffCalls, 1)
	assert.True(t, hasArg(diffCalls[0], "--no-traverse"))
	assert.True(t, hasArg(diffCalls[0], "ra:"))
	assert.True(t, hasArg(diffCalls[0], "rb:"))
	assert.Equal(t, []string{"grew.bin"}, filesFromContents(t, diffCalls[0]))

	matchedCalls := fake.calls("copy", "--checksum")
	require.Len(t, matchedCalls, 1)
	assert.Equal(t, []string{"same-size.bin"}, filesFromContents(t, matchedCalls[0]))
}

func TestTransferLargePayloadTraverses(t *testing.T) {
	t.Parallel()

	r, fake := newTestRclone(t, testConfig(t))

	diff := make([]string, 150)
	for i := range diff {
		diff[i] = fmt.Sprintf("f%03d.bin", i)
	}

	err := r.Transfer(context.Background(), config.B, nil, diff)
	require.NoError(t, err)

	calls := fake.calls("copy", "--size-only")
	require.Len(t, calls, 1)
	assert.False(t, hasArg(calls[0], "--no-traverse"),
		"payloads over 100 files let the agent traverse")
	assert.True(t, hasArg(calls[0], "rb:"), "B2A reads from B")
}

func TestTransferNothingToDo(t *testing.T) {
	t.Parallel()

	r, fake := newTestRclone(t, testConfig(t))

	require.NoError(t, r.Transfer(context.Background(), config.A, nil, nil))
	assert.Empty(t, fake.calls("copy"))
}

func TestRmdirsAncestorDedupAndPool(t *testing.T) {
	t.Parallel()

	r, fake := newTestRclone(t, testConfig(t))
	r.SeedFeatures(config.A, &Features{CanHaveEmptyDirectories: true})

	err := r.Rmdirs(context.Background(), config.A, []string{"a/b/c", "a/b", "z"})
	require.NoError(t, err)

	calls := fake.calls("rmdirs")
	require.Len(t, calls, 2, "a/b/c deduped under a/b")
}

func TestRmdirsSkippedWithoutSupport(t *testing.T) {
	t.Parallel()

	r, fake := newTestRclone(t, testConfig(t))
	r.SeedFeatures(config.B, &Features{CanHaveEmptyDirectories: false})

	require.NoError(t, r.Rmdirs(context.Background(), config.B, []string{"a"}))
	assert.Empty(t, fake.calls("rmdirs"))
}

func TestRmdirsToleratesFailures(t *testing.T) {
	t.Parallel()

	r, fake := newTestRclone(t, testConfig(t))
	r.SeedFeatures(config.A, &Features{CanHaveEmptyDirectories: true})

	fake.handler = func(req *Request) *Result {
		if hasArg(req, "rmdirs") {
			return &Result{ExitCode: 1, Stderr: "directory not empty"}
		}

		return nil
	}

	assert.NoError(t, r.Rmdirs(context.Background(), config.A, []string{"a", "b"}))
}

func TestCopyLog(t *testing.T) {
	t.Parallel()

	r, fake := newTestRclone(t, testConfig(t))

	err := r.CopyLog(context.Background(), config.B, "/tmp/log.txt", "run.log")
	require.NoError(t, err)

	calls := fake.calls("copyto")
	require.Len(t, calls, 1)
	assert.True(t, hasArg(calls[0], "rb:.syncrclone/logs/run.log"))
}
