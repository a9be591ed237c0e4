package irfmt

import (
	"io"
	"strconv"

	"github.com/soypat/gsir/ir"
	"github.com/soypat/gsir/kernel"
)

// Fprint writes a listing of buf to w, one instruction per line. When k is not nil
// each line is marked with U for used and S for synthesized instructions.
//
//	   3 US  operation neg 2
//	   4 US  store 1 3
func Fprint(w io.Writer, buf *ir.Buffer, k *kernel.Kernel) error {
	var line []byte
	for idx := range buf.Instructions() {
		i := buf.Base + ir.Index(idx)
		line = line[:0]
		line = appendIndex(line, i, 4)
		line = append(line, ' ')
		if k != nil {
			line = appendMark(line, k.Used.Has(i), 'U')
			line = appendMark(line, k.Synthesized.Has(i), 'S')
			line = append(line, ' ')
		}
		line = append(line, ' ')
		line = AppendInstruction(line, buf.At(i))
		line = append(line, '\n')
		if _, err := w.Write(line); err != nil {
			return err
		}
	}
	return nil
}

func appendMark(b []byte, set bool, mark byte) []byte {
	if set {
		return append(b, mark)
	}
	return append(b, ' ')
}

func appendIndex(b []byte, i ir.Index, width int) []byte {
	var num [12]byte
	digits := strconv.AppendInt(num[:0], int64(i), 10)
	for pad := width - len(digits); pad > 0; pad-- {
		b = append(b, ' ')
	}
	return append(b, digits...)
}

// AppendInstruction appends a one line description of inst: its kind, the fields
// stored in its tag and aux word, then its reference slots.
func AppendInstruction(b []byte, inst ir.Instruction) []byte {
	b = append(b, inst.Kind.String()...)
	switch inst.Kind {
	case ir.KindQualifier:
		b = append(b, ' ')
		b = append(b, inst.QualifierKind().String()...)
		b = append(b, " binding="...)
		b = strconv.AppendInt(b, int64(inst.Binding()), 10)
	case ir.KindTypeField:
		if inst.Prim() != ir.PrimNone {
			b = append(b, ' ')
			b = append(b, inst.Prim().String()...)
		}
	case ir.KindPrimitive:
		b = append(b, ' ')
		b = append(b, inst.Prim().String()...)
		b = append(b, ' ')
		switch inst.Prim() {
		case ir.PrimFloat:
			b = strconv.AppendFloat(b, float64(inst.Float32()), 'g', -1, 32)
		case ir.PrimInt:
			b = strconv.AppendInt(b, int64(inst.Int32()), 10)
		case ir.PrimUint:
			b = strconv.AppendUint(b, uint64(inst.Uint32()), 10)
		case ir.PrimBool:
			b = strconv.AppendBool(b, inst.BoolValue())
		}
	case ir.KindOperation:
		b = append(b, ' ')
		b = append(b, inst.Opcode().String()...)
	case ir.KindIntrinsic:
		b = append(b, ' ')
		b = append(b, inst.IntrinsicID().String()...)
	case ir.KindConstruct:
		if inst.Mode() == ir.ConstructRef {
			b = append(b, " ref"...)
		}
	case ir.KindCall:
		b = append(b, " #"...)
		b = strconv.AppendUint(b, uint64(inst.Callee()), 10)
		if c, ok := ir.LookupCallable(inst.Callee()); ok {
			b = append(b, ' ')
			b = append(b, c.Name...)
		}
	case ir.KindSwizzle:
		b = append(b, " ."...)
		b = append(b, inst.SwizzleCode().String()...)
	case ir.KindLoad:
		if offset, ok := inst.Offset(); ok {
			b = append(b, " .f"...)
			b = strconv.AppendInt(b, int64(offset), 10)
		}
	case ir.KindBranch:
		b = append(b, ' ')
		b = append(b, inst.Form().String()...)
	}
	for slot, ref := range inst.Args {
		if ref == ir.Null {
			continue
		}
		b = append(b, ' ')
		if inst.HasFailsTo() && !inst.IsOperandSlot(slot) {
			b = append(b, "->"...)
		}
		b = strconv.AppendInt(b, int64(ref), 10)
	}
	return b
}
