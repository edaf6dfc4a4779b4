package sequence

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	lua "github.com/yuin/gopher-lua"

	"seqflow/internal/luahost"
)

// StepType is the control-flow role of a step.
type StepType int

const (
	TypeAction StepType = iota
	TypeIf
	TypeElseIf
	TypeElse
	TypeWhile
	TypeTry
	TypeCatch
	TypeEnd
)

func (t StepType) String() string {
	switch t {
	case TypeAction:
		return "action"
	case TypeIf:
		return "if"
	case TypeElseIf:
		return "elseif"
	case TypeElse:
		return "else"
	case TypeWhile:
		return "while"
	case TypeTry:
		return "try"
	case TypeCatch:
		return "catch"
	case TypeEnd:
		return "end"
	default:
		return fmt.Sprintf("StepType(%d)", int(t))
	}
}

// ParseStepType parses the on-disk type keyword.
func ParseStepType(s string) (StepType, error) {
	switch s {
	case "action":
		return TypeAction, nil
	case "if":
		return TypeIf, nil
	case "elseif":
		return TypeElseIf, nil
	case "else":
		return TypeElse, nil
	case "while":
		return TypeWhile, nil
	case "try":
		return TypeTry, nil
	case "catch":
		return TypeCatch, nil
	case "end":
		return TypeEnd, nil
	default:
		return 0, fmt.Errorf("unknown step type %q", s)
	}
}

// MaxIndentationLevel bounds the display indentation of a step.
const MaxIndentationLevel = 20

// Step is one executable unit of a sequence: a control-flow role, an
// embedded Lua script, and metadata. Setters that change persistent content
// (type, label, script) update the time of last modification.
type Step struct {
	typ         StepType
	label       string
	script      string
	usedVars    map[string]struct{}
	timeout     Timeout
	indentation int
	disabled    bool
	running     bool

	lastModified time.Time
	lastExecuted time.Time
}

// NewStep creates a step of the given type with an infinite timeout.
func NewStep(typ StepType) *Step {
	return &Step{
		typ:          typ,
		usedVars:     make(map[string]struct{}),
		lastModified: time.Now().Truncate(time.Second),
	}
}

// Type returns the control-flow role.
func (s *Step) Type() StepType { return s.typ }

// SetType changes the control-flow role and bumps the modification time.
func (s *Step) SetType(typ StepType) {
	s.typ = typ
	s.lastModified = time.Now().Truncate(time.Second)
}

// Label returns the human-readable label.
func (s *Step) Label() string { return s.label }

// SetLabel changes the label and bumps the modification time.
func (s *Step) SetLabel(label string) {
	s.label = label
	s.lastModified = time.Now().Truncate(time.Second)
}

// Script returns the embedded script source.
func (s *Step) Script() string { return s.script }

// SetScript changes the script and bumps the modification time.
func (s *Step) SetScript(script string) {
	s.script = script
	s.lastModified = time.Now().Truncate(time.Second)
}

// UsedContextVariableNames returns the declared import/export names in
// lexicographic order.
func (s *Step) UsedContextVariableNames() []string {
	names := make([]string, 0, len(s.usedVars))
	for name := range s.usedVars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetUsedContextVariableNames replaces the declared import/export names.
// Invalid identifiers are rejected.
func (s *Step) SetUsedContextVariableNames(names []string) error {
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		if !IsValidVariableName(name) {
			return fmt.Errorf("invalid variable name %q", name)
		}
		set[name] = struct{}{}
	}
	s.usedVars = set
	return nil
}

// Timeout returns the step timeout.
func (s *Step) Timeout() Timeout { return s.timeout }

// SetTimeout changes the step timeout.
func (s *Step) SetTimeout(t Timeout) { s.timeout = t }

// IndentationLevel returns the display indentation.
func (s *Step) IndentationLevel() int { return s.indentation }

// SetIndentationLevel changes the display indentation. Levels outside
// [0, MaxIndentationLevel] are rejected.
func (s *Step) SetIndentationLevel(level int) error {
	if level < 0 || level > MaxIndentationLevel {
		return fmt.Errorf("indentation level %d outside [0, %d]", level, MaxIndentationLevel)
	}
	s.indentation = level
	return nil
}

// IsDisabled reports whether the executor skips this step.
func (s *Step) IsDisabled() bool { return s.disabled }

// SetDisabled marks the step as skipped by the executor. Disabled steps are
// still persisted.
func (s *Step) SetDisabled(disabled bool) { s.disabled = disabled }

// IsRunning reports whether the step is currently executing.
func (s *Step) IsRunning() bool { return s.running }

// TimeOfLastModification returns when persistent content last changed.
func (s *Step) TimeOfLastModification() time.Time { return s.lastModified }

// SetTimeOfLastModification overwrites the modification timestamp. The
// deserializer uses it to restore the stored value after parsing.
func (s *Step) SetTimeOfLastModification(t time.Time) { s.lastModified = t.Truncate(time.Second) }

// TimeOfLastExecution returns when the step last ran.
func (s *Step) TimeOfLastExecution() time.Time { return s.lastExecuted }

// SetTimeOfLastExecution overwrites the execution timestamp.
func (s *Step) SetTimeOfLastExecution(t time.Time) { s.lastExecuted = t.Truncate(time.Second) }

// Execute runs the step script in a fresh sandboxed environment and returns
// its logical result. Declared context variables are imported before the
// run and exported back afterwards. Messages are posted to comm (which may
// be nil); index is the step's position in its sequence.
func (s *Step) Execute(ctx *Context, comm CommChannel, index int) (bool, error) {
	start := time.Now()
	s.lastExecuted = start.Truncate(time.Second)
	s.running = true
	defer func() { s.running = false }()

	send(comm, MsgStepStarted, fmt.Sprintf("step %d (%s) started", index+1, s.typ), index)

	host := luahost.New()
	defer host.Close()

	host.OnPrint(func(text string) {
		send(comm, MsgStepOutput, text, index)
	})
	if comm != nil {
		host.OnTerminationCheck(comm.TerminationRequested)
	}
	if ctx.InitHook != nil {
		ctx.InitHook(host.State())
	}

	for _, name := range s.UsedContextVariableNames() {
		if v, ok := ctx.Get(name); ok {
			host.State().SetGlobal(name, luahost.ToLua(host.State(), v.Any()))
		}
	}

	var deadline time.Time
	if s.timeout.IsFinite() {
		deadline = start.Add(s.timeout.Duration())
	}

	ret, err := host.Run(s.script, deadline)
	if err != nil {
		switch {
		case errors.Is(err, luahost.ErrTerminated):
			send(comm, MsgStepStopped, fmt.Sprintf("step %d terminated", index+1), index)
			return false, newError(ErrTerminated, index, "%s", err)
		case errors.Is(err, luahost.ErrTimeout):
			send(comm, MsgStepStoppedWithError, fmt.Sprintf("step %d timed out after %s ms", index+1, s.timeout), index)
			return false, newError(ErrTimeout, index, "timeout after %s ms", s.timeout)
		default:
			send(comm, MsgStepStoppedWithError, fmt.Sprintf("step %d failed: %s", index+1, err), index)
			return false, newError(ErrScript, index, "%s", err)
		}
	}

	for _, name := range s.UsedContextVariableNames() {
		if v, ok := valueFromLua(host.State().GetGlobal(name)); ok {
			ctx.vars[name] = v
		}
	}

	result := logicalResult(ret)
	send(comm, MsgStepStopped, fmt.Sprintf("step %d stopped (result: %t)", index+1, result), index)
	return result, nil
}

// logicalResult maps the final expression of a script onto a boolean:
// booleans pass through, numbers are true when nonzero, strings when
// non-empty, nil or no value is false, and any other value follows Lua
// truthiness.
func logicalResult(v lua.LValue) bool {
	switch val := v.(type) {
	case *lua.LNilType:
		return false
	case lua.LBool:
		return bool(val)
	case lua.LNumber:
		return float64(val) != 0
	case lua.LString:
		return len(val) != 0
	default:
		return true
	}
}

// valueFromLua converts an exported script binding back into a context
// value. Integral numbers in int64 range are stored as integers, other
// numbers as doubles, strings as strings. All other types are ignored.
func valueFromLua(v lua.LValue) (Value, bool) {
	switch val := luahost.FromLua(v).(type) {
	case float64:
		if val == math.Trunc(val) && val >= math.MinInt64 && val < math.MaxInt64 {
			return IntValue(int64(val)), true
		}
		return FloatValue(val), true
	case string:
		return StringValue(val), true
	default:
		return Value{}, false
	}
}
