// Package luahost embeds the Lua runtime for single-step script execution:
// a sandboxed environment, the engine commands, typed value bridging, and
// deadline/termination enforcement.
package luahost

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// Sentinel errors returned by Run. Anything else is a script error.
var (
	ErrTerminated = errors.New("sequence terminated")
	ErrTimeout    = errors.New("script timeout")
)

// tickInterval is how often the monitor polls the termination flag and the
// inbound cancellation signal while a script runs.
const tickInterval = time.Millisecond

// unsafeGlobals are removed from the environment so scripts keep only the
// base, string, table, and math facilities. Filesystem, process, network,
// loader, and debug access all live behind these names.
var unsafeGlobals = []string{
	"os", "io", "loadfile", "dofile", "require", "load", "loadstring",
	"debug", "package", "channel", "coroutine", "collectgarbage",
}

// Host is a bounded-lifetime embedding of the Lua runtime. Its lifetime is
// a single script run; create one per step execution and Close it on every
// exit path.
type Host struct {
	l *lua.LState

	printFn    func(string)
	extCheck   func() bool
	terminated atomic.Bool

	runCtx context.Context
	cancel context.CancelFunc
}

// New creates a fresh sandboxed environment with the engine commands
// installed.
func New() *Host {
	L := lua.NewState()
	for _, name := range unsafeGlobals {
		L.SetGlobal(name, lua.LNil)
	}
	h := &Host{l: L}
	h.registerCommands()
	return h
}

// State exposes the underlying environment for variable binding and for
// caller-defined helpers installed by a context init hook.
func (h *Host) State() *lua.LState { return h.l }

// Close destroys the environment.
func (h *Host) Close() { h.l.Close() }

// OnPrint registers the sink for the print command.
func (h *Host) OnPrint(fn func(string)) { h.printFn = fn }

// OnTerminationCheck registers the inbound cancellation signal, polled on
// every monitor tick.
func (h *Host) OnTerminationCheck(fn func() bool) { h.extCheck = fn }

// TerminationRequested reports whether the script or the inbound signal
// requested cooperative cancellation.
func (h *Host) TerminationRequested() bool { return h.terminated.Load() }

// Run compiles and executes script under the given deadline (zero disables
// it) and returns the first value of its final expression, or LNil when the
// script yields nothing. The error is ErrTimeout, ErrTerminated, or the
// script diagnostic.
func (h *Host) Run(script string, deadline time.Time) (lua.LValue, error) {
	fn, err := h.l.LoadString(script)
	if err != nil {
		return lua.LNil, fmt.Errorf("compile: %w", err)
	}

	var ctx context.Context
	var cancel context.CancelFunc
	if deadline.IsZero() {
		ctx, cancel = context.WithCancel(context.Background())
	} else {
		ctx, cancel = context.WithDeadline(context.Background(), deadline)
	}
	defer cancel()
	h.runCtx = ctx
	h.cancel = cancel
	h.l.SetContext(ctx)

	// The monitor is the timeout and termination hook: the runtime checks
	// the context between instructions, so cancelling it aborts the script
	// within one tick.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if h.terminated.Load() || (h.extCheck != nil && h.extCheck()) {
					h.terminated.Store(true)
					cancel()
					return
				}
			}
		}
	}()

	base := h.l.GetTop()
	h.l.Push(fn)
	err = h.l.PCall(0, lua.MultRet, nil)

	if h.terminated.Load() || (h.extCheck != nil && h.extCheck()) {
		return lua.LNil, ErrTerminated
	}
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return lua.LNil, ErrTimeout
		}
		if ctx.Err() == context.Canceled {
			return lua.LNil, ErrTerminated
		}
		return lua.LNil, err
	}

	var ret lua.LValue = lua.LNil
	if h.l.GetTop() > base {
		ret = h.l.Get(base + 1)
	}
	h.l.SetTop(base)
	return ret, nil
}
