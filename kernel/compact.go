package kernel

import (
	"encoding/binary"

	"github.com/dchest/siphash"
	"github.com/soypat/gsir/ir"
)

// Remap maps indices of a buffer to indices of its compacted version.
// Instructions that were dropped map to Null.
type Remap []ir.Index

const (
	fingerprintK0 = 0x9f17c3fd5efd3ce4
	fingerprintK1 = 0xdbf1ba5f07eee2c0
)

type fingerprint [2]uint64

// Compact returns a renumbered copy of the analyzed buffer without unused
// instructions in which structurally identical literals, type chains, lists and
// qualifiers are merged. Synthesized instructions are never merged so that the
// compacted kernel materializes exactly the same values as the input.
// Compact is idempotent.
func Compact(k *Kernel) (*Kernel, Remap, error) {
	src := k.Buffer
	n := src.Len()
	remap := make(Remap, n)
	kept := make([]ir.Instruction, 0, k.Used.Len())
	seen := make(map[fingerprint][]ir.Index)
	var scratch [24]byte
	for idx, inst := range src.Instructions() {
		i := ir.Index(idx)
		remap[i] = ir.Null
		if !k.Used.Has(i) {
			continue
		}
		for slot := range inst.Args {
			if inst.IsOperandSlot(slot) && inst.Args[slot] != ir.Null {
				inst.Args[slot] = remap[inst.Args[slot]]
			}
		}
		if !foldable(inst) || k.Synthesized.Has(i) {
			remap[i] = ir.Index(len(kept))
			kept = append(kept, inst)
			continue
		}
		fp := fingerprintOf(scratch[:], inst)
		folded := false
		for _, cand := range seen[fp] {
			if kept[cand] == inst {
				remap[i] = cand
				folded = true
				break
			}
		}
		if !folded {
			remap[i] = ir.Index(len(kept))
			seen[fp] = append(seen[fp], remap[i])
			kept = append(kept, inst)
		}
	}
	out := ir.NewBuffer(len(kept))
	for _, inst := range kept {
		if inst.HasFailsTo() {
			inst.Args[1] = remap[inst.FailsTo()]
		}
		out.Append(inst)
	}
	ck, err := Build(out)
	if err != nil {
		return nil, nil, err
	}
	return ck, remap, nil
}

// foldable reports whether instructions of this kind carry no identity, so that
// two structurally identical instances are interchangeable.
func foldable(inst ir.Instruction) bool {
	switch inst.Kind {
	case ir.KindPrimitive, ir.KindTypeField, ir.KindList, ir.KindQualifier:
		return true
	}
	return false
}

func fingerprintOf(buf []byte, inst ir.Instruction) fingerprint {
	buf = buf[:0]
	buf = append(buf, byte(inst.Kind), inst.Tag)
	for _, arg := range inst.Args {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(arg))
	}
	buf = binary.LittleEndian.AppendUint64(buf, inst.Aux)
	h0, h1 := siphash.Hash128(fingerprintK0, fingerprintK1, buf)
	return fingerprint{h0, h1}
}
