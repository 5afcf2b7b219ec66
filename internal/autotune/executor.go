// Package autotune runs the oref0 autotune analysis as an external process
// and turns its output into validated recommendations.
package autotune

import (
	"bytes"
	"context"
	"os/exec"
	"strconv"
	"time"
)

// DefaultPath is where oref0 installs the autotune entry point
const DefaultPath = "/usr/local/bin/oref0-autotune"

// Invocation describes one run inside a private working directory. All
// paths live under Dir; the executor must leave its result at OutputFile.
type Invocation struct {
	Dir            string
	ProfilePath    string
	EntriesPath    string
	TreatmentsPath string
	OutputDir      string
	OutputFile     string
	Days           int
}

// ExecResult holds the captured process output
type ExecResult struct {
	Stdout []byte
	Stderr []byte
}

// Executor runs the tuning computation. It must respect ctx cancellation
// and return an *exec.ExitError (or any error) when the run fails.
type Executor interface {
	Execute(ctx context.Context, inv Invocation) (ExecResult, error)
}

// DefaultWaitDelay bounds how long Execute waits for the output pipes to
// close after the process group was killed
const DefaultWaitDelay = 5 * time.Second

// CommandExecutor runs the oref0-autotune binary
type CommandExecutor struct {
	Path      string
	WaitDelay time.Duration // zero uses DefaultWaitDelay
}

// Args returns the command line for inv
func (e CommandExecutor) Args(inv Invocation) []string {
	return []string{
		"--dir", inv.Dir,
		"--ns-entries", inv.EntriesPath,
		"--ns-treatments", inv.TreatmentsPath,
		"--profile", inv.ProfilePath,
		"--days", strconv.Itoa(inv.Days),
	}
}

// Execute runs the binary and waits for it. When ctx ends the whole process
// tree is killed, so children of the autotune script cannot hold the run open.
func (e CommandExecutor) Execute(ctx context.Context, inv Invocation) (ExecResult, error) {
	path := e.Path
	if path == "" {
		path = DefaultPath
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, e.Args(inv)...) //nolint:gosec // Path comes from the user's own settings
	cmd.Dir = inv.Dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = e.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = DefaultWaitDelay
	}
	killProcessGroup(cmd)

	err := cmd.Run()
	return ExecResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}, err
}
