// Package kernel analyzes recorded instruction buffers: which instructions are
// reachable from the program's effects and which of those are materialized as
// named local values by the code generators.
package kernel

import (
	"github.com/soypat/gsir/ir"
)

// Kernel is an analyzed buffer. Synthesized is a subset of Used: synthesized
// instructions are emitted as statements or named locals, the rest of Used is
// rendered inline at its use sites.
//
// A synthesized value is defined at its position, in the scope of the innermost
// control flow region enclosing it. Every use of a synthesized value lies in the
// same scope or a scope nested in it.
type Kernel struct {
	Buffer      *ir.Buffer
	Used        Set
	Synthesized Set

	anchors [][]ir.Index
	scope   []int32
	parent  []int32
	opener  []ir.Index
}

// Build analyzes buf. The buffer must be a finished, balanced buffer with a zero Base.
func Build(buf *ir.Buffer) (k *Kernel, err error) {
	defer ir.Catch(&err)
	if buf.Base != 0 {
		ir.Fatalf(ir.ClassStructural, ir.Null, ir.KindInvalid, "kernel of scratch buffer with base %d", buf.Base)
	}
	if verr := ir.Validate(buf); verr != nil {
		return nil, verr
	}
	n := buf.Len()
	k = &Kernel{
		Buffer:      buf,
		Used:        newSet(n),
		Synthesized: newSet(n),
		anchors:     make([][]ir.Index, n),
		scope:       make([]int32, n),
		opener:      make([]ir.Index, n),
	}
	k.markUsed()
	k.buildScopes()
	k.classify()
	k.checkEscapes()
	return k, nil
}

// Len returns the number of instructions in the analyzed buffer.
func (k *Kernel) Len() int { return k.Buffer.Len() }

// Inline reports whether i is used but not synthesized.
func (k *Kernel) Inline(i ir.Index) bool { return k.Used.Has(i) && !k.Synthesized.Has(i) }

// UseSites returns the synthesized instructions at which the value of i is consumed.
// Uses through inline instructions and lists are attributed to the synthesized
// instruction that renders them.
func (k *Kernel) UseSites(i ir.Index) []ir.Index { return k.anchors[i] }

// Opener returns the first header of the region terminated by the End at end.
func (k *Kernel) Opener(end ir.Index) ir.Index { return k.opener[end] }

// ChainEnd returns the End terminating the branch chain that contains the branch at i.
func (k *Kernel) ChainEnd(i ir.Index) ir.Index {
	for {
		inst := k.Buffer.At(i)
		if inst.Kind == ir.KindEnd {
			return i
		}
		i = inst.FailsTo()
	}
}

// isRoot reports whether instructions of this kind are reachable regardless of their uses.
func isRoot(inst ir.Instruction) bool {
	return inst.Kind.IsStatement() || inst.Kind == ir.KindCall ||
		inst.Kind == ir.KindIntrinsic && inst.IntrinsicID().HasEffect()
}

// isEffect reports whether inst can change state observed by a later load.
func isEffect(inst ir.Instruction) bool {
	return inst.Kind != ir.KindReturns && isRoot(inst)
}

func (k *Kernel) markUsed() {
	insts := k.Buffer.Instructions()
	var stack []ir.Index
	for i, inst := range insts {
		if isRoot(inst) {
			k.Used.add(ir.Index(i))
			stack = append(stack, ir.Index(i))
		}
	}
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		refs, n := insts[i].Operands()
		for _, ref := range refs[:n] {
			if ref != ir.Null && !k.Used.Has(ref) {
				k.Used.add(ref)
				stack = append(stack, ref)
			}
		}
	}
}

// buildScopes assigns every instruction the scope it executes in. Region headers
// belong to the enclosing scope and open a new one; else-if and else close the
// previous alternative's scope and open a sibling.
func (k *Kernel) buildScopes() {
	k.parent = append(k.parent[:0], -1)
	cur := int32(0)
	var regions []ir.Index
	newScope := func(parent int32) int32 {
		k.parent = append(k.parent, parent)
		return int32(len(k.parent) - 1)
	}
	for idx, inst := range k.Buffer.Instructions() {
		i := ir.Index(idx)
		k.opener[i] = ir.Null
		switch {
		case inst.Kind == ir.KindWhile, inst.Kind == ir.KindBranch && inst.Form() == ir.BranchIf:
			k.scope[i] = cur
			cur = newScope(cur)
			regions = append(regions, i)
		case inst.Kind == ir.KindBranch:
			p := k.parent[cur]
			k.scope[i] = p
			cur = newScope(p)
		case inst.Kind == ir.KindEnd:
			cur = k.parent[cur]
			k.scope[i] = cur
			k.opener[i] = regions[len(regions)-1]
			regions = regions[:len(regions)-1]
		default:
			k.scope[i] = cur
		}
	}
}

// encloses reports whether scope outer is inner or one of its ancestors.
func (k *Kernel) encloses(outer, inner int32) bool {
	for s := inner; s >= 0; s = k.parent[s] {
		if s == outer {
			return true
		}
	}
	return false
}

// classify decides which used instructions are synthesized. It walks the buffer
// backwards so that every consumer is classified before its operands:
//   - statements, calls, operations, intrinsics and constructs are synthesized,
//   - literals, qualifiers, type fields and lists are always rendered inline,
//   - loads, swizzles and indexing are inlined when they have a single use site
//     and no effect lies between them and it,
//   - the condition of a loop or else-if header is rendered inline at the header
//     when the header is its only consumer, so that it is re-evaluated there.
func (k *Kernel) classify() {
	insts := k.Buffer.Instructions()
	n := len(insts)
	effects := make([]int32, n+1)
	stateful := make([]bool, n)
	for i, inst := range insts {
		effects[i+1] = effects[i]
		if k.Used.Has(ir.Index(i)) && isEffect(inst) {
			effects[i+1]++
		}
		stateful[i] = isStateSource(inst)
		refs, nrefs := inst.Operands()
		for _, ref := range refs[:nrefs] {
			stateful[i] = stateful[i] || ref != ir.Null && stateful[ref]
		}
	}
	header := make([]ir.Index, n)
	for i := range header {
		header[i] = ir.Null
	}
	var site [1]ir.Index
	for i := ir.Index(n - 1); i >= 0; i-- {
		if !k.Used.Has(i) {
			continue
		}
		inst := insts[i]
		anchors := k.anchors[i]
		h := header[i]
		synth := true
		switch inst.Kind {
		case ir.KindPrimitive, ir.KindQualifier, ir.KindTypeField, ir.KindList:
			synth = false
		case ir.KindLoad, ir.KindSwizzle, ir.KindIndexing:
			if len(anchors) == 1 {
				synth = !(h != ir.Null && anchors[0] == h) &&
					effects[anchors[0]]-effects[i+1] != 0
			}
		case ir.KindOperation, ir.KindIntrinsic, ir.KindConstruct:
			headerInline := h != ir.Null && len(anchors) == 1 && anchors[0] == h
			if inst.Kind == ir.KindConstruct {
				headerInline = headerInline && inst.Mode() == ir.ConstructValue
			} else if inst.Kind == ir.KindIntrinsic {
				headerInline = headerInline && !inst.IntrinsicID().HasEffect()
			}
			synth = !headerInline
		}
		if synth {
			k.Synthesized.add(i)
			isPlace := inst.Kind == ir.KindConstruct && inst.Mode() == ir.ConstructRef
			if h != ir.Null && insts[h].Kind == ir.KindWhile && stateful[i] && !isPlace {
				ir.Fatalf(ir.ClassStructural, i, inst.Kind,
					"loop condition at %d depends on shared stateful value that would not be re-evaluated", h)
			}
		}

		// Condition candidacy flows from headers through inline consumers.
		switch {
		case inst.Kind == ir.KindWhile, inst.Kind == ir.KindBranch && inst.Form() == ir.BranchElseIf:
			header[inst.Cond()] = i
		case !synth && h != ir.Null:
			refs, nrefs := inst.Operands()
			for _, ref := range refs[:nrefs] {
				if ref != ir.Null {
					header[ref] = h
				}
			}
		}

		uses := anchors
		if synth {
			site[0] = i
			uses = site[:]
		}
		refs, nrefs := inst.Operands()
		for _, ref := range refs[:nrefs] {
			if ref == ir.Null {
				continue
			}
			switch insts[ref].Kind {
			case ir.KindPrimitive, ir.KindQualifier, ir.KindTypeField:
				continue // Never materialized, use sites are irrelevant.
			}
			k.anchors[ref] = append(k.anchors[ref], uses...)
		}
	}
}

// isStateSource reports whether inst reads or denotes mutable state.
func isStateSource(inst ir.Instruction) bool {
	switch inst.Kind {
	case ir.KindCall:
		return true
	case ir.KindConstruct:
		return inst.Mode() == ir.ConstructRef
	case ir.KindQualifier:
		return inst.QualifierKind().Writable()
	case ir.KindIntrinsic:
		return inst.IntrinsicID().IsStateful()
	}
	return false
}

func (k *Kernel) checkEscapes() {
	for i, anchors := range k.anchors {
		if !k.Synthesized.Has(ir.Index(i)) {
			continue
		}
		for _, a := range anchors {
			if !k.encloses(k.scope[i], k.scope[a]) {
				ir.Fatalf(ir.ClassStructural, ir.Index(i), k.Buffer.At(ir.Index(i)).Kind,
					"value used at %d outside of the scope it is defined in", a)
			}
		}
	}
}
