package ir

import "fmt"

// Validate checks the structural invariants of a finished buffer:
//   - every operand refers to an earlier instruction of the buffer or is Null,
//   - every failsTo reference points forward to the next branch of its chain or to its terminator,
//   - control flow regions are balanced.
//
// The returned error is an *Error of class [ClassStructural].
func Validate(b *Buffer) error {
	var open []Index
	for k, inst := range b.insts {
		i := b.Base + Index(k)
		if inst.Kind == KindInvalid || inst.Kind >= kindCount {
			return structural(i, inst.Kind, "invalid instruction kind")
		}
		refs, n := inst.Operands()
		for _, ref := range refs[:n] {
			if ref != Null && (ref < b.Base || ref >= i) {
				return structural(i, inst.Kind, "operand %d violates backward reference order", ref)
			}
		}
		switch inst.Kind {
		case KindWhile:
			if inst.Cond() == Null {
				return structural(i, inst.Kind, "loop without condition")
			}
			open = append(open, i)
		case KindBranch:
			form := inst.Form()
			if (form == BranchElse) != (inst.Cond() == Null) {
				return structural(i, inst.Kind, "%s condition mismatch", form)
			}
			if form == BranchIf {
				open = append(open, i)
				break
			}
			if len(open) == 0 {
				return structural(i, inst.Kind, "%s without open if", form)
			}
			header := open[len(open)-1]
			h := b.insts[header-b.Base]
			if h.Kind != KindBranch || h.Form() == BranchElse {
				return structural(i, inst.Kind, "%s continues non-branch region at %d", form, header)
			}
			if h.FailsTo() != i {
				return structural(header, h.Kind, "failsTo %d, expected %d", h.FailsTo(), i)
			}
			open[len(open)-1] = i
		case KindEnd:
			if len(open) == 0 {
				return structural(i, inst.Kind, "end without open region")
			}
			header := open[len(open)-1]
			if h := b.insts[header-b.Base]; h.FailsTo() != i {
				return structural(header, h.Kind, "failsTo %d, expected %d", h.FailsTo(), i)
			}
			open = open[:len(open)-1]
		}
	}
	if len(open) > 0 {
		header := open[len(open)-1]
		return structural(header, b.insts[header-b.Base].Kind, "%d unterminated control flow regions", len(open))
	}
	return nil
}

func structural(i Index, k Kind, format string, args ...any) *Error {
	return &Error{Class: ClassStructural, Index: i, Kind: k, Msg: fmt.Sprintf(format, args...)}
}
