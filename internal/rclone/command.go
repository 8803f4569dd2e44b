package rclone

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// Request is a single rclone process invocation.
type Request struct {
	// Argv is the full command line including the executable.
	Argv []string

	// Env is the complete child environment.
	Env []string

	// Stream merges stdout and stderr and mirrors each line to the log as
	// it arrives. When false, the two streams are captured separately via
	// temp files; required whenever stdout must stay clean (JSON output).
	Stream bool
}

// Result carries the outputs of a finished process. In stream mode Stdout
// holds the merged output and Stderr is empty.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Commander runs rclone processes. The error return is reserved for spawn
// and I/O failures; a non-zero exit is reported through Result.ExitCode.
// Tests substitute a fake to record invocations without a real rclone.
type Commander interface {
	Run(ctx context.Context, req *Request) (*Result, error)
}

// procCommander is the real Commander backed by os/exec. Captured output
// goes through unique temp files so that neither stream can deadlock the
// child.
type procCommander struct {
	tempDir string
	logger  *slog.Logger
}

// NewProcCommander returns a Commander that spawns real processes, writing
// captured output under tempDir.
func NewProcCommander(tempDir string, logger *slog.Logger) Commander {
	return &procCommander{tempDir: tempDir, logger: logger}
}

func (p *procCommander) Run(ctx context.Context, req *Request) (*Result, error) {
	cmd := exec.CommandContext(ctx, req.Argv[0], req.Argv[1:]...)
	cmd.Env = req.Env

	if req.Stream {
		return p.runStream(cmd)
	}

	return p.runCapture(cmd)
}

// runStream merges stdout and stderr into one pipe and logs every line as
// it arrives.
func (p *procCommander) runStream(cmd *exec.Cmd) (*Result, error) {
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("rclone: creating pipe: %w", err)
	}

	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()

		return nil, fmt.Errorf("rclone: starting %s: %w", cmd.Path, err)
	}

	// The parent's write end must close or the scanner never sees EOF.
	pw.Close()

	var out strings.Builder

	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		p.logger.Info("rclone: " + line)
		out.WriteString(line)
		out.WriteByte('\n')
	}

	pr.Close()

	waitErr := cmd.Wait()

	return resultFrom(out.String(), "", waitErr)
}

// runCapture writes stdout and stderr to separate temp files and reads them
// back after the process exits.
func (p *procCommander) runCapture(cmd *exec.Cmd) (*Result, error) {
	stdout, err := os.CreateTemp(p.tempDir, "std.*.out")
	if err != nil {
		return nil, fmt.Errorf("rclone: creating stdout file: %w", err)
	}
	defer os.Remove(stdout.Name())
	defer stdout.Close()

	stderr, err := os.CreateTemp(p.tempDir, "std.*.err")
	if err != nil {
		return nil, fmt.Errorf("rclone: creating stderr file: %w", err)
	}
	defer os.Remove(stderr.Name())
	defer stderr.Close()

	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("rclone: starting %s: %w", cmd.Path, err)
	}

	waitErr := cmd.Wait()

	outB, err := os.ReadFile(stdout.Name())
	if err != nil {
		return nil, fmt.Errorf("rclone: reading captured stdout: %w", err)
	}

	errB, err := os.ReadFile(stderr.Name())
	if err != nil {
		return nil, fmt.Errorf("rclone: reading captured stderr: %w", err)
	}

	return resultFrom(string(outB), string(errB), waitErr)
}

// resultFrom maps a Wait error to an exit code. Anything other than a clean
// exit or an ExitError is a spawn/runtime failure.
func resultFrom(stdout, stderr string, waitErr error) (*Result, error) {
	res := &Result{Stdout: stdout, Stderr: stderr}

	if waitErr == nil {
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		res.ExitCode = exitErr.ExitCode()

		return res, nil
	}

	return nil, fmt.Errorf("rclone: waiting for process: %w", waitErr)
}
