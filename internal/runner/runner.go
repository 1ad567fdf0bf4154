// Package runner executes external commands with a timeout and reports
// their output. Everything the engine does to git goes through a Runner.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/log"
)

// ErrTimedOut is wrapped by every error caused by a command exceeding its
// timeout. Callers test for it with errors.Is.
var ErrTimedOut = errors.New("command timed out")

const (
	maxErrOutput  = 600
	killWaitDelay = 2 * time.Second
)

// Command is a single process invocation. Args never pass through a shell.
type Command struct {
	Dir     string
	Name    string
	Args    []string
	Timeout time.Duration
	Env     []string
}

func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner runs a command to completion. A non-zero exit returns the Result
// together with a *CommandError.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// CommandError describes a failed or timed out command.
type CommandError struct {
	Cmd      Command
	ExitCode int
	Output   string
	Err      error
}

func (e *CommandError) Error() string {
	if errors.Is(e.Err, ErrTimedOut) {
		if e.Output != "" {
			return fmt.Sprintf("%s timed out after %s: %s", e.Cmd, e.Cmd.Timeout, e.Output)
		}
		return fmt.Sprintf("%s timed out after %s", e.Cmd, e.Cmd.Timeout)
	}
	if e.Output != "" {
		return fmt.Sprintf("%s failed: %v: %s", e.Cmd, e.Err, e.Output)
	}
	return fmt.Sprintf("%s failed: %v", e.Cmd, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// TimedOut reports whether err was caused by a command timeout.
func TimedOut(err error) bool {
	return errors.Is(err, ErrTimedOut)
}

// Exec runs commands as child processes. Processes still running when
// their timeout expires are killed.
type Exec struct {
	Logger         *log.Logger
	DefaultTimeout time.Duration
	// Env is appended to the parent environment for every command.
	Env []string
}

func NewExec(logger *log.Logger, defaultTimeout time.Duration) *Exec {
	return &Exec{Logger: logger, DefaultTimeout: defaultTimeout}
}

func (x *Exec) Run(ctx context.Context, c Command) (Result, error) {
	if c.Timeout <= 0 {
		c.Timeout = x.DefaultTimeout
	}
	logger := x.Logger
	if logger == nil {
		logger = log.Default()
	}

	start := time.Now()
	logger.Debug("cmd start", "dir", c.Dir, "cmd", c.String(), "timeout", c.Timeout)

	runCtx := ctx
	cancel := func() {}
	if c.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, c.Timeout)
	}
	defer cancel()

	cmd := exec.CommandContext(runCtx, c.Name, c.Args...)
	if c.Dir != "" {
		cmd.Dir = c.Dir
	}
	if len(x.Env) > 0 || len(c.Env) > 0 {
		env := append(os.Environ(), x.Env...)
		cmd.Env = append(env, c.Env...)
	}
	cmd.WaitDelay = killWaitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	elapsed := time.Since(start)
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}
	if err == nil {
		logger.Debug("cmd ok", "dur", elapsed, "dir", c.Dir, "cmd", c.String(), "out_bytes", len(res.Stdout))
		return res, nil
	}

	out := trimOutput(res.Stderr)
	if out == "" {
		out = trimOutput(res.Stdout)
	}
	logger.Debug("cmd fail", "dur", elapsed, "dir", c.Dir, "cmd", c.String(), "err", err, "out", out)

	cerr := &CommandError{Cmd: c, ExitCode: res.ExitCode, Output: out, Err: err}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		cerr.Err = ErrTimedOut
		cerr.ExitCode = -1
		res.ExitCode = -1
	}
	return res, cerr
}

func trimOutput(s string) string {
	trimmed := strings.TrimSpace(s)
	if len(trimmed) > maxErrOutput {
		cut := maxErrOutput
		for cut > 0 && !utf8.RuneStart(trimmed[cut]) {
			cut--
		}
		trimmed = trimmed[:cut] + "...(truncated)"
	}
	return trimmed
}
