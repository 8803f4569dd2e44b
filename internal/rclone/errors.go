package rclone

import (
	"fmt"
	"strings"

	"github.com/MrJman006/syncrclone/internal/config"
)

// CallError reports a non-zero exit from an rclone invocation that the
// caller did not opt in to tolerating. It carries everything needed for a
// post-mortem: the command, both output streams, and the exit code.
type CallError struct {
	Cmd      []string
	Stdout   string
	Stderr   string
	ExitCode int
}

func (e *CallError) Error() string {
	return fmt.Sprintf("rclone exited %d: %s", e.ExitCode, strings.Join(e.Cmd, " "))
}

// VersionError reports an rclone binary below the minimum supported
// version.
type VersionError struct {
	Version string
	Min     string
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("rclone %s is below the minimum supported version %s", e.Version, e.Min)
}

// LockedError reports that a remote's lock sentinel exists. The lock is
// advisory: any existing sentinel blocks the run, independent of owner.
type LockedError struct {
	Side config.Side
	Path string
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("remote %s is locked (%s); use --break-lock if the lock is stale", e.Side, e.Path)
}
