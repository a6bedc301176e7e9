package colmap

import (
	"context"
	"sync"
)

// RecordingRunner is a Runner that records invocations instead of starting
// processes. It is used by tests of packages that drive COLMAP.
type RecordingRunner struct {
	mu    sync.Mutex
	calls []Invocation

	// FailOn names a subcommand that returns FailErr, or a ToolError with
	// exit status 1 when FailErr is nil.
	FailOn  string
	FailErr error

	// OnRun, when set, runs after a successful invocation is recorded. It
	// lets tests create the files a real subcommand would produce.
	OnRun func(inv Invocation) error
}

// Run records the call and applies FailOn and OnRun.
func (r *RecordingRunner) Run(ctx context.Context, subcommand string, args ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	inv := Invocation{Subcommand: subcommand, Args: append([]string(nil), args...)}

	r.mu.Lock()
	r.calls = append(r.calls, inv)
	failOn, failErr, onRun := r.FailOn, r.FailErr, r.OnRun
	r.mu.Unlock()

	if failOn != "" && failOn == subcommand {
		if failErr != nil {
			return failErr
		}
		return &ToolError{Subcommand: subcommand, ExitCode: 1, Stderr: []string{"simulated failure"}}
	}
	if onRun != nil {
		return onRun(inv)
	}
	return nil
}

// Calls returns a copy of the recorded invocations in order.
func (r *RecordingRunner) Calls() []Invocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Invocation, len(r.calls))
	copy(out, r.calls)
	return out
}

// Subcommands returns the recorded subcommand names in order.
func (r *RecordingRunner) Subcommands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	for i, c := range r.calls {
		out[i] = c.Subcommand
	}
	return out
}
