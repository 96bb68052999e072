// Package process runs external build tools and manages process lifecycle
package process

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os/exec"
	"strings"
)

// StreamSpec describes one streamed tool invocation. Combined
// stdout/stderr is consumed line by line: every line goes to LogSink
// when set, and LineHandler decides what gets promoted to the console.
type StreamSpec struct {
	Command     string
	Args        []string
	Dir         string
	Env         []string
	LogSink     io.Writer
	LineHandler func(line string)
}

// Runner abstracts subprocess execution so pipelines can be tested
// without invoking real tools.
type Runner interface {
	// Stream runs the command and returns its exit code. A non-zero
	// exit is not an error here; the caller classifies it.
	Stream(ctx context.Context, spec StreamSpec) (int, error)

	// Capture runs the command and returns its stdout.
	Capture(ctx context.Context, command string, args ...string) (string, error)

	// Check runs the command discarding output and reports whether it
	// exited zero.
	Check(ctx context.Context, command string, args ...string) error
}

// ExecRunner is the production Runner backed by os/exec
type ExecRunner struct{}

// NewRunner creates the default subprocess runner
func NewRunner() *ExecRunner {
	return &ExecRunner{}
}

// Stream runs the command with combined output, feeding each line to
// the spec's sink and handler as it arrives.
func (r *ExecRunner) Stream(ctx context.Context, spec StreamSpec) (int, error) {
	cmd := exec.CommandContext(ctx, spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = spec.Env
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return -1, err
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return -1, err
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if spec.LogSink != nil {
			io.WriteString(spec.LogSink, line+"\n")
		}
		if spec.LineHandler != nil {
			spec.LineHandler(strings.TrimSpace(line))
		}
	}

	if err := cmd.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode(), nil
		}
		return -1, err
	}

	return 0, nil
}

// Capture runs the command and returns its stdout as a string
func (r *ExecRunner) Capture(ctx context.Context, command string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, command, args...)

	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	if err := cmd.Run(); err != nil {
		return stdout.String(), err
	}
	return stdout.String(), nil
}

// Check runs the command silently and reports non-zero exits as errors
func (r *ExecRunner) Check(ctx context.Context, command string, args ...string) error {
	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	return cmd.Run()
}
