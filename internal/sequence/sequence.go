package sequence

// blockInfo records the clause layout of an if/while/try opener, filled in
// by CheckCorrectness and consumed by the executor.
type blockInfo struct {
	elseifs  []int
	elseIdx  int
	catchIdx int
	end      int
}

// Sequence is an ordered list of steps forming a well-nested control-flow
// program, plus a human-readable label.
type Sequence struct {
	label  string
	steps  []*Step
	valid  bool
	blocks map[int]*blockInfo
}

// NewSequence creates an empty sequence with the given label.
func NewSequence(label string) *Sequence {
	return &Sequence{label: label}
}

// Label returns the human-readable name.
func (s *Sequence) Label() string { return s.label }

// SetLabel changes the human-readable name.
func (s *Sequence) SetLabel(label string) { s.label = label }

// Steps returns the underlying step list. The sequence retains ownership.
func (s *Sequence) Steps() []*Step { return s.steps }

// Size returns the number of steps.
func (s *Sequence) Size() int { return len(s.steps) }

// Empty reports whether the sequence has no steps.
func (s *Sequence) Empty() bool { return len(s.steps) == 0 }

// IsValid reports whether the last CheckCorrectness succeeded and no
// mutation happened since.
func (s *Sequence) IsValid() bool { return s.valid }

// PushBack appends a step.
func (s *Sequence) PushBack(step *Step) {
	s.steps = append(s.steps, step)
	s.valid = false
}

// Insert places a step before position i.
func (s *Sequence) Insert(i int, step *Step) error {
	if i < 0 || i > len(s.steps) {
		return newError(ErrValidation, i, "insert position out of range")
	}
	s.steps = append(s.steps, nil)
	copy(s.steps[i+1:], s.steps[i:])
	s.steps[i] = step
	s.valid = false
	return nil
}

// Erase removes the step at position i.
func (s *Sequence) Erase(i int) error {
	if i < 0 || i >= len(s.steps) {
		return newError(ErrValidation, i, "erase position out of range")
	}
	s.steps = append(s.steps[:i], s.steps[i+1:]...)
	s.valid = false
	return nil
}

type openBlock struct {
	opener int
	typ    StepType
	info   *blockInfo
}

// CheckCorrectness validates that the step types form a well-nested block
// structure:
//
//	Seq   := Block*
//	Block := action
//	       | if Seq (elseif Seq)* (else Seq)? end
//	       | while Seq end
//	       | try Seq catch Seq end
//
// Disabled steps may only be actions. On success the sequence is marked
// valid, the clause layout needed by the executor is recorded, and each
// step's indentation level is set from its nesting depth. The first
// offending step is reported with its index.
func (s *Sequence) CheckCorrectness() error {
	blocks := make(map[int]*blockInfo)
	var stack []*openBlock

	top := func() *openBlock {
		if len(stack) == 0 {
			return nil
		}
		return stack[len(stack)-1]
	}

	for i, step := range s.steps {
		typ := step.Type()
		if step.IsDisabled() && typ != TypeAction {
			return newError(ErrValidation, i, "disabled step must be an action, got %s", typ)
		}

		level := len(stack)
		switch typ {
		case TypeAction:
			// fine anywhere

		case TypeIf, TypeWhile, TypeTry:
			info := &blockInfo{elseIdx: -1, catchIdx: -1}
			blocks[i] = info
			stack = append(stack, &openBlock{opener: i, typ: typ, info: info})

		case TypeElseIf:
			b := top()
			if b == nil || b.typ != TypeIf {
				return newError(ErrValidation, i, "elseif without matching if")
			}
			if b.info.elseIdx >= 0 {
				return newError(ErrValidation, i, "elseif after else")
			}
			b.info.elseifs = append(b.info.elseifs, i)
			level--

		case TypeElse:
			b := top()
			if b == nil || b.typ != TypeIf {
				return newError(ErrValidation, i, "else without matching if")
			}
			if b.info.elseIdx >= 0 {
				return newError(ErrValidation, i, "duplicate else")
			}
			b.info.elseIdx = i
			level--

		case TypeCatch:
			b := top()
			if b == nil || b.typ != TypeTry {
				return newError(ErrValidation, i, "catch without matching try")
			}
			if b.info.catchIdx >= 0 {
				return newError(ErrValidation, i, "duplicate catch")
			}
			b.info.catchIdx = i
			level--

		case TypeEnd:
			b := top()
			if b == nil {
				return newError(ErrValidation, i, "end without open block")
			}
			if b.typ == TypeTry && b.info.catchIdx < 0 {
				return newError(ErrValidation, i, "try without catch")
			}
			b.info.end = i
			stack = stack[:len(stack)-1]
			level--

		default:
			return newError(ErrValidation, i, "unknown step type %s", typ)
		}

		if err := step.SetIndentationLevel(level); err != nil {
			return newError(ErrValidation, i, "block nesting too deep: %s", err)
		}
	}

	if b := top(); b != nil {
		return newError(ErrValidation, b.opener, "unterminated %s: expected end", b.typ)
	}

	s.blocks = blocks
	s.valid = true
	return nil
}
