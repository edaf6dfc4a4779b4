package sequence

import (
	"fmt"
	"log/slog"
)

// Outcome is the overall result of a sequence run.
type Outcome int

const (
	// OutcomeCompleted means all steps ran to completion.
	OutcomeCompleted Outcome = iota
	// OutcomeTerminated means the run was cancelled cooperatively; this is
	// an orderly outcome, not an error.
	OutcomeTerminated
	// OutcomeError means a step failed with an uncaught script error or a
	// timeout.
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeTerminated:
		return "terminated"
	case OutcomeError:
		return "error"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Executor walks a validated sequence as a nested block program. Exactly
// one step is active at any moment; each step mutates the shared context
// immediately on return, so subsequent steps see those mutations.
type Executor struct {
	logger *slog.Logger
}

// NewExecutor creates an executor. logger may be nil.
func NewExecutor(logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{logger: logger.With("component", "executor")}
}

// Run executes seq against ctx, posting messages to comm (which may be
// nil). The sequence is validated first if needed. Termination yields
// OutcomeTerminated with a nil error; uncaught script errors and timeouts
// yield OutcomeError plus the error itself.
func (e *Executor) Run(seq *Sequence, ctx *Context, comm CommChannel) (Outcome, error) {
	if !seq.IsValid() {
		if err := seq.CheckCorrectness(); err != nil {
			return OutcomeError, err
		}
	}

	send(comm, MsgSequenceStarted, fmt.Sprintf("sequence %q started", seq.Label()), -1)
	e.logger.Info("sequence started", "label", seq.Label(), "steps", seq.Size())

	err := e.runRange(seq, ctx, comm, 0, seq.Size())
	if err != nil {
		if kind, ok := KindOf(err); ok && kind == ErrTerminated {
			send(comm, MsgSequenceStopped, fmt.Sprintf("sequence %q terminated", seq.Label()), -1)
			e.logger.Info("sequence terminated", "label", seq.Label())
			return OutcomeTerminated, nil
		}
		index := -1
		if serr, ok := err.(*Error); ok {
			index = serr.StepIndex
		}
		send(comm, MsgSequenceStoppedWithError, fmt.Sprintf("sequence %q stopped: %s", seq.Label(), err), index)
		e.logger.Warn("sequence stopped with error", "label", seq.Label(), "err", err)
		return OutcomeError, err
	}

	send(comm, MsgSequenceStopped, fmt.Sprintf("sequence %q finished", seq.Label()), -1)
	e.logger.Info("sequence finished", "label", seq.Label())
	return OutcomeCompleted, nil
}

// runRange executes the steps in [lo, hi) as a block body.
func (e *Executor) runRange(seq *Sequence, ctx *Context, comm CommChannel, lo, hi int) error {
	steps := seq.steps
	i := lo
	for i < hi {
		step := steps[i]
		switch step.Type() {
		case TypeAction:
			if !step.IsDisabled() {
				// The result of an action is discarded; its effect is on
				// the context.
				if _, err := step.Execute(ctx, comm, i); err != nil {
					return err
				}
			}
			i++

		case TypeIf:
			b := seq.blocks[i]
			if err := e.runIf(seq, ctx, comm, i, b); err != nil {
				return err
			}
			i = b.end + 1

		case TypeWhile:
			b := seq.blocks[i]
			for {
				// Each predicate evaluation is a full Execute call, with
				// variables re-imported and re-exported.
				ok, err := step.Execute(ctx, comm, i)
				if err != nil {
					return err
				}
				if !ok {
					break
				}
				if err := e.runRange(seq, ctx, comm, i+1, b.end); err != nil {
					return err
				}
			}
			i = b.end + 1

		case TypeTry:
			b := seq.blocks[i]
			if err := e.runRange(seq, ctx, comm, i+1, b.catchIdx); err != nil {
				serr, ok := err.(*Error)
				if !ok || serr.Kind != ErrScript {
					// Timeout and termination are not catchable.
					return err
				}
				if cerr := ctx.Set("error_message", StringValue(serr.Msg)); cerr != nil {
					return cerr
				}
				if err := e.runRange(seq, ctx, comm, b.catchIdx+1, b.end); err != nil {
					return err
				}
			}
			i = b.end + 1

		default:
			// end and stray clause markers are consumed by their openers.
			i++
		}
	}
	return nil
}

// runIf evaluates the predicate chain of the if block opening at index
// opener and runs the body of the first matching clause, or the else body
// when no predicate matched.
func (e *Executor) runIf(seq *Sequence, ctx *Context, comm CommChannel, opener int, b *blockInfo) error {
	preds := append([]int{opener}, b.elseifs...)
	for ci, p := range preds {
		ok, err := seq.steps[p].Execute(ctx, comm, p)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		end := b.end
		if ci+1 < len(preds) {
			end = preds[ci+1]
		} else if b.elseIdx >= 0 {
			end = b.elseIdx
		}
		return e.runRange(seq, ctx, comm, p+1, end)
	}
	if b.elseIdx >= 0 {
		return e.runRange(seq, ctx, comm, b.elseIdx+1, b.end)
	}
	return nil
}
