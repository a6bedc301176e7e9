// Package colmap runs the COLMAP reconstruction executable.
package colmap

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
)

// Runner invokes a single COLMAP subcommand and blocks until it exits.
type Runner interface {
	Run(ctx context.Context, subcommand string, args ...string) error
}

// Logger defines the interface for debug logging.
type Logger interface {
	Debugf(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Debugf(format string, args ...interface{}) {}

// LineFunc receives each line the executable writes. stream is "stdout" or
// "stderr".
type LineFunc func(subcommand, stream, line string)

// DefaultTailLines is how many trailing stderr lines a ToolError keeps.
const DefaultTailLines = 20

// ExecRunner runs COLMAP as a child process.
type ExecRunner struct {
	Path      string
	ExtraArgs []string
	Dir       string
	DryRun    bool
	OnLine    LineFunc
	TailLines int
	Logger    Logger
}

// NewExecRunner creates a runner for the executable at path. extraArgs are
// appended to every invocation.
func NewExecRunner(path string, extraArgs []string) *ExecRunner {
	if path == "" {
		path = "colmap"
	}
	return &ExecRunner{
		Path:      path,
		ExtraArgs: extraArgs,
		TailLines: DefaultTailLines,
		Logger:    nopLogger{},
	}
}

// SetLogger sets the debug logger for the runner.
func (e *ExecRunner) SetLogger(logger Logger) {
	if logger != nil {
		e.Logger = logger
	}
}

// CommandLine returns the full argument vector for a subcommand, without
// the executable itself.
func (e *ExecRunner) CommandLine(subcommand string, args ...string) []string {
	argv := make([]string, 0, 1+len(args)+len(e.ExtraArgs))
	argv = append(argv, subcommand)
	argv = append(argv, args...)
	argv = append(argv, e.ExtraArgs...)
	return argv
}

// Run executes `<Path> <subcommand> <args...> <ExtraArgs...>`. A non-zero
// exit yields a *ToolError; failure to start the process or a cancelled
// context yields a plain wrapped error.
func (e *ExecRunner) Run(ctx context.Context, subcommand string, args ...string) error {
	logger := e.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	argv := e.CommandLine(subcommand, args...)
	logger.Debugf("Executing: %s %s", e.Path, strings.Join(argv, " "))
	if e.DryRun {
		return nil
	}

	cmd := exec.CommandContext(ctx, e.Path, argv...)
	cmd.Dir = e.Dir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe for %s: %w", subcommand, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe for %s: %w", subcommand, err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s %s: %w", e.Path, subcommand, err)
	}

	tailSize := e.TailLines
	if tailSize <= 0 {
		tailSize = DefaultTailLines
	}
	tail := newLineTail(tailSize)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.scan(subcommand, "stdout", stdout, nil)
	}()
	go func() {
		defer wg.Done()
		e.scan(subcommand, "stderr", stderr, tail)
	}()
	// Pipes must be drained before Wait closes them.
	wg.Wait()
	err = cmd.Wait()

	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%s %s: %w", e.Path, subcommand, ctx.Err())
	}
	if CmdRan(err) {
		toolErr := &ToolError{
			Path:       e.Path,
			Subcommand: subcommand,
			ExitCode:   ExitStatus(err),
			Signal:     termSignal(err),
			Stderr:     tail.Lines(),
		}
		logger.Debugf("Command failed: %v", toolErr)
		return toolErr
	}
	return fmt.Errorf("%s %s did not run: %w", e.Path, subcommand, err)
}

func (e *ExecRunner) scan(subcommand, stream string, r io.Reader, tail *lineTail) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if tail != nil {
			tail.Add(line)
		}
		if e.OnLine != nil {
			e.OnLine(subcommand, stream, line)
		}
	}
}

// ToolError reports that the executable ran and exited with a non-zero
// status or was killed by a signal.
type ToolError struct {
	Path       string
	Subcommand string
	ExitCode   int
	// Signal names the signal that killed the process, if any. ExitCode is
	// -1 in that case.
	Signal string
	Stderr []string
}

func (e *ToolError) Error() string {
	path := e.Path
	if path == "" {
		path = "colmap"
	}
	msg := fmt.Sprintf("command '%s %s' returned non-zero exit status %d", path, e.Subcommand, e.ExitCode)
	if e.Signal != "" {
		msg = fmt.Sprintf("command '%s %s' died with signal %s", path, e.Subcommand, e.Signal)
	}
	if n := len(e.Stderr); n > 0 {
		msg += ": " + e.Stderr[n-1]
	}
	return msg
}

// IsToolError reports whether err is, or wraps, a *ToolError.
func IsToolError(err error) bool {
	var te *ToolError
	return errors.As(err, &te)
}

// CmdRan examines the error to determine if it was generated as a result of a
// command running via os/exec. If the error is nil, or the command ran (even
// if it exited with a non-zero exit code or was killed by a signal), CmdRan
// reports true. Errors saying the command failed to run, and unrecognised
// errors, report false.
func CmdRan(err error) bool {
	if err == nil {
		return true
	}
	var ee *exec.ExitError
	return errors.As(err, &ee)
}

// termSignal returns the signal that terminated the process behind err, or
// "" if it exited normally.
func termSignal(err error) string {
	var ee *exec.ExitError
	if !errors.As(err, &ee) || ee.Exited() || ee.ProcessState == nil {
		return ""
	}
	state := ee.ProcessState.String()
	if sig, ok := strings.CutPrefix(state, "signal: "); ok {
		return sig
	}
	return state
}

type exitStatus interface {
	ExitStatus() int
}

// ExitStatus returns the exit status of an exec.ExitError, or of any error
// implementing ExitStatus() int. It is 0 for nil and 1 for other errors.
func ExitStatus(err error) int {
	if err == nil {
		return 0
	}
	if e, ok := err.(exitStatus); ok {
		return e.ExitStatus()
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return 1
}

// lineTail keeps the last n lines written to it.
type lineTail struct {
	mu    sync.Mutex
	max   int
	lines []string
}

func newLineTail(n int) *lineTail {
	return &lineTail{max: n}
}

func (t *lineTail) Add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > t.max {
		t.lines = t.lines[len(t.lines)-t.max:]
	}
}

func (t *lineTail) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.lines))
	copy(out, t.lines)
	return out
}
