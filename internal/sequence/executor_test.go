package sequence

import (
	"strings"
	"testing"
	"time"
)

func actionStep(script string, vars ...string) *Step {
	step := NewStep(TypeAction)
	step.SetScript(script)
	if err := step.SetUsedContextVariableNames(vars); err != nil {
		panic(err)
	}
	return step
}

func controlStep(typ StepType, script string, vars ...string) *Step {
	step := actionStep(script, vars...)
	step.SetType(typ)
	return step
}

func TestExecutorLinearActions(t *testing.T) {
	seq := NewSequence("linear")
	seq.PushBack(actionStep("x = 1", "x"))
	seq.PushBack(actionStep("x = x + 1", "x"))

	ctx := NewContext()
	comm := NewBufferedChannel(64)

	outcome, err := NewExecutor(nil).Run(seq, ctx, comm)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome != OutcomeCompleted {
		t.Errorf("outcome = %v, want completed", outcome)
	}

	if v, _ := ctx.Get("x"); !v.Equal(IntValue(2)) {
		t.Errorf("x = %v, want 2", v)
	}

	types := drainTypes(comm)
	want := []string{
		MsgSequenceStarted,
		MsgStepStarted, MsgStepStopped,
		MsgStepStarted, MsgStepStopped,
		MsgSequenceStopped,
	}
	if len(types) != len(want) {
		t.Fatalf("messages = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("message %d = %s, want %s", i, types[i], want[i])
		}
	}
}

func TestExecutorIfElse(t *testing.T) {
	seq := NewSequence("if-else")
	seq.PushBack(controlStep(TypeIf, "return n > 0", "n"))
	seq.PushBack(actionStep("r = 'pos'", "r"))
	seq.PushBack(NewStep(TypeElse))
	seq.PushBack(actionStep("r = 'nonpos'", "r"))
	seq.PushBack(NewStep(TypeEnd))

	ctx := NewContext()
	if err := ctx.Set("n", IntValue(-3)); err != nil {
		t.Fatal(err)
	}

	if _, err := NewExecutor(nil).Run(seq, ctx, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if v, _ := ctx.Get("r"); !v.Equal(StringValue("nonpos")) {
		t.Errorf("r = %v, want nonpos", v)
	}
}

func TestExecutorElseIfChain(t *testing.T) {
	build := func() *Sequence {
		seq := NewSequence("chain")
		seq.PushBack(controlStep(TypeIf, "return n == 1", "n"))
		seq.PushBack(actionStep("r = 'one'", "r"))
		seq.PushBack(controlStep(TypeElseIf, "return n == 2", "n"))
		seq.PushBack(actionStep("r = 'two'", "r"))
		seq.PushBack(NewStep(TypeElse))
		seq.PushBack(actionStep("r = 'many'", "r"))
		seq.PushBack(NewStep(TypeEnd))
		return seq
	}

	tests := []struct {
		n    int64
		want string
	}{
		{1, "one"},
		{2, "two"},
		{7, "many"},
	}

	for _, tt := range tests {
		ctx := NewContext()
		if err := ctx.Set("n", IntValue(tt.n)); err != nil {
			t.Fatal(err)
		}
		if _, err := NewExecutor(nil).Run(build(), ctx, nil); err != nil {
			t.Fatalf("Run(n=%d): %v", tt.n, err)
		}
		if v, _ := ctx.Get("r"); !v.Equal(StringValue(tt.want)) {
			t.Errorf("n=%d: r = %v, want %s", tt.n, v, tt.want)
		}
	}
}

func TestExecutorWhileLoop(t *testing.T) {
	seq := NewSequence("loop")
	seq.PushBack(controlStep(TypeWhile, "return i < 3", "i"))
	seq.PushBack(actionStep("i = i + 1", "i"))
	seq.PushBack(NewStep(TypeEnd))

	ctx := NewContext()
	if err := ctx.Set("i", IntValue(0)); err != nil {
		t.Fatal(err)
	}
	comm := NewBufferedChannel(256)

	if _, err := NewExecutor(nil).Run(seq, ctx, comm); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if v, _ := ctx.Get("i"); !v.Equal(IntValue(3)) {
		t.Errorf("i = %v, want 3", v)
	}

	// The predicate runs once per iteration plus the final false check.
	predicateStarts := 0
	for {
		msg, ok := comm.TryReceive()
		if !ok {
			break
		}
		if msg.Type == MsgStepStarted && msg.StepIndex == 0 {
			predicateStarts++
		}
	}
	if predicateStarts != 4 {
		t.Errorf("while predicate executed %d times, want 4", predicateStarts)
	}
}

func TestExecutorTryCatch(t *testing.T) {
	seq := NewSequence("try-catch")
	seq.PushBack(NewStep(TypeTry))
	seq.PushBack(actionStep("error('boom')"))
	seq.PushBack(NewStep(TypeCatch))
	seq.PushBack(actionStep("msg = error_message", "msg", "error_message"))
	seq.PushBack(NewStep(TypeEnd))

	ctx := NewContext()
	outcome, err := NewExecutor(nil).Run(seq, ctx, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome != OutcomeCompleted {
		t.Errorf("outcome = %v, want completed", outcome)
	}

	v, ok := ctx.Get("msg")
	if !ok {
		t.Fatal("msg missing from context")
	}
	s, _ := v.Str()
	if !strings.Contains(s, "boom") {
		t.Errorf("msg = %q, want it to contain boom", s)
	}
}

func TestExecutorTryDoesNotCatchTimeout(t *testing.T) {
	slow := actionStep("while true do end")
	slow.SetTimeout(FiniteTimeout(50 * time.Millisecond))

	seq := NewSequence("timeout-in-try")
	seq.PushBack(NewStep(TypeTry))
	seq.PushBack(slow)
	seq.PushBack(NewStep(TypeCatch))
	seq.PushBack(actionStep("reached = 1", "reached"))
	seq.PushBack(NewStep(TypeEnd))

	ctx := NewContext()
	outcome, err := NewExecutor(nil).Run(seq, ctx, nil)
	if err == nil {
		t.Fatal("Run succeeded, want timeout")
	}
	if outcome != OutcomeError {
		t.Errorf("outcome = %v, want error", outcome)
	}
	if kind, _ := KindOf(err); kind != ErrTimeout {
		t.Errorf("kind = %v, want ErrTimeout", kind)
	}
	if _, ok := ctx.Get("reached"); ok {
		t.Error("catch body ran for a timeout")
	}
}

func TestExecutorTimeoutReportsStep(t *testing.T) {
	slow := actionStep("while true do end")
	slow.SetTimeout(FiniteTimeout(50 * time.Millisecond))

	seq := NewSequence("timeout")
	seq.PushBack(slow)

	comm := NewBufferedChannel(64)
	start := time.Now()
	outcome, err := NewExecutor(nil).Run(seq, NewContext(), comm)
	if time.Since(start) > 300*time.Millisecond {
		t.Errorf("timeout took %v", time.Since(start))
	}
	if err == nil || outcome != OutcomeError {
		t.Fatalf("outcome = %v, err = %v, want error", outcome, err)
	}

	var final Message
	for {
		msg, ok := comm.TryReceive()
		if !ok {
			break
		}
		final = msg
	}
	if final.Type != MsgSequenceStoppedWithError {
		t.Fatalf("final message = %s, want sequence_stopped_with_error", final.Type)
	}
	if final.StepIndex != 0 {
		t.Errorf("responsible step = %d, want 0", final.StepIndex)
	}
}

func TestExecutorTermination(t *testing.T) {
	seq := NewSequence("terminate")
	seq.PushBack(actionStep("terminate_sequence()"))
	seq.PushBack(actionStep("never = 1", "never"))

	ctx := NewContext()
	comm := NewBufferedChannel(64)
	outcome, err := NewExecutor(nil).Run(seq, ctx, comm)
	if err != nil {
		t.Fatalf("termination surfaced as error: %v", err)
	}
	if outcome != OutcomeTerminated {
		t.Errorf("outcome = %v, want terminated", outcome)
	}
	if _, ok := ctx.Get("never"); ok {
		t.Error("steps after termination still ran")
	}

	types := drainTypes(comm)
	if len(types) == 0 || types[len(types)-1] != MsgSequenceStopped {
		t.Errorf("final message = %v, want sequence_stopped", types)
	}
}

func TestExecutorTerminationInsideLoop(t *testing.T) {
	seq := NewSequence("terminate-loop")
	seq.PushBack(controlStep(TypeWhile, "return true"))
	seq.PushBack(actionStep("terminate_sequence()"))
	seq.PushBack(NewStep(TypeEnd))

	done := make(chan struct{})
	go func() {
		defer close(done)
		outcome, err := NewExecutor(nil).Run(seq, NewContext(), nil)
		if err != nil || outcome != OutcomeTerminated {
			t.Errorf("outcome = %v, err = %v, want terminated", outcome, err)
		}
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("executor did not return after terminate_sequence()")
	}
}

func TestExecutorSkipsDisabledActions(t *testing.T) {
	disabled := actionStep("x = 99", "x")
	disabled.SetDisabled(true)

	seq := NewSequence("disabled")
	seq.PushBack(disabled)
	seq.PushBack(actionStep("y = 1", "y"))

	ctx := NewContext()
	if _, err := NewExecutor(nil).Run(seq, ctx, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, ok := ctx.Get("x"); ok {
		t.Error("disabled step ran")
	}
	if _, ok := ctx.Get("y"); !ok {
		t.Error("enabled step skipped")
	}
}

func TestExecutorRejectsInvalidSequence(t *testing.T) {
	seq := seqOf(TypeIf, TypeAction) // missing end

	outcome, err := NewExecutor(nil).Run(seq, NewContext(), nil)
	if err == nil {
		t.Fatal("Run accepted an invalid sequence")
	}
	if outcome != OutcomeError {
		t.Errorf("outcome = %v, want error", outcome)
	}
	if kind, _ := KindOf(err); kind != ErrValidation {
		t.Errorf("kind = %v, want ErrValidation", kind)
	}
}

func TestExecutorUncaughtScriptError(t *testing.T) {
	seq := NewSequence("uncaught")
	seq.PushBack(actionStep("error('unhandled')"))

	comm := NewBufferedChannel(64)
	outcome, err := NewExecutor(nil).Run(seq, NewContext(), comm)
	if err == nil || outcome != OutcomeError {
		t.Fatalf("outcome = %v, err = %v, want script error", outcome, err)
	}

	types := drainTypes(comm)
	if types[len(types)-1] != MsgSequenceStoppedWithError {
		t.Errorf("final message = %s, want sequence_stopped_with_error", types[len(types)-1])
	}
}
