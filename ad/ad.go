// Package ad implements forward-mode automatic differentiation of instruction buffers.
//
// Differentiate rewrites a callable body so that every value depending on a
// differentiable parameter becomes a dual number: a two member struct holding the
// primal value at member 0 and its derivative at member 1. Differentiable
// parameters become dual parameters, and a returned float value becomes a dual.
// Results of other types are returned unchanged.
// Callers seed the derivative of each parameter when calling the result.
package ad

import (
	"container/heap"
	"math"

	"github.com/soypat/gsir/ir"
)

// scratchBase is the index base of scratch buffers. It lies beyond any source index
// so stitching can tell scratch-local references from references to source values.
const scratchBase ir.Index = 1 << 30

// Differentiate returns the forward-mode derivative of the callable body src.
// An instruction with a dual operand and no derivative rule is a type error.
func Differentiate(src *ir.Buffer) (_ *ir.Buffer, err error) {
	defer ir.Catch(&err)
	if src.Base != 0 {
		ir.Fatalf(ir.ClassStructural, ir.Null, ir.KindInvalid, "differentiate scratch buffer with base %d", src.Base)
	}
	if err := ir.Validate(src); err != nil {
		return nil, err
	}
	d := newDiff(src)
	d.propagate()
	d.rewrite()
	out := d.stitch()
	if err := ir.Validate(out); err != nil {
		return nil, err
	}
	return out, nil
}

// DifferentiateCallable differentiates the body of c and registers the result as a
// new callable named name.
func DifferentiateCallable(c *ir.Callable, name string) (*ir.Callable, error) {
	body, err := Differentiate(c.Body)
	if err != nil {
		return nil, err
	}
	return ir.NewCallable(name, body), nil
}

type diff struct {
	src *ir.Buffer
	// users holds the consumers of each instruction. Consumers of a list are
	// recorded as users of its items.
	users [][]ir.Index
	// dual marks values rewritten into dual numbers.
	dual []bool
	// scratch holds the rewritten sequence of an instruction, or nil when the
	// instruction is copied unchanged. A scratch's result is its last instruction.
	scratch []*ir.Buffer
	// params reports whether any parameter is differentiated.
	params bool
	e      *ir.Emitter
}

func newDiff(src *ir.Buffer) *diff {
	n := src.Len()
	d := &diff{
		src:     src,
		users:   make([][]ir.Index, n),
		dual:    make([]bool, n),
		scratch: make([]*ir.Buffer, n),
		e:       ir.NewEmitter(nil),
	}
	for idx, inst := range src.Instructions() {
		i := ir.Index(idx)
		refs, nrefs := inst.Operands()
		for _, ref := range refs[:nrefs] {
			if ref == ir.Null {
				continue
			}
			if src.At(ref).Kind == ir.KindList && inst.Kind != ir.KindList {
				for _, item := range src.ListItems(nil, ref) {
					d.users[item] = append(d.users[item], i)
				}
				continue
			}
			d.users[ref] = append(d.users[ref], i)
		}
	}
	return d
}

// indexHeap is a min-heap of instruction indices.
type indexHeap []ir.Index

func (h indexHeap) Len() int           { return len(h) }
func (h indexHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h indexHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *indexHeap) Push(x any)        { *h = append(*h, x.(ir.Index)) }
func (h *indexHeap) Pop() any {
	old := *h
	x := old[len(old)-1]
	*h = old[:len(old)-1]
	return x
}

// propagate marks the values that depend on a differentiable parameter. The queue
// is ordered by index so that operands settle before their users in straight line
// code. Stores into variables may mark a lower index, which is queued again.
func (d *diff) propagate() {
	var queue indexHeap
	queued := make([]bool, len(d.dual))
	push := func(i ir.Index) {
		if !queued[i] {
			queued[i] = true
			heap.Push(&queue, i)
		}
	}
	for idx, inst := range d.src.Instructions() {
		if inst.Kind == ir.KindQualifier && inst.QualifierKind() == ir.QualParameter {
			t := d.src.TypeOf(ir.Index(idx))
			if !t.IsStruct() && t.Prim.Differentiable() {
				push(ir.Index(idx))
			}
		}
	}
	for queue.Len() > 0 {
		i := heap.Pop(&queue).(ir.Index)
		queued[i] = false
		if d.dual[i] {
			continue
		}
		inst := d.src.At(i)
		if inst.Kind == ir.KindStore {
			if d.dual[inst.StoreSrc()] {
				root := d.root(inst.Dst())
				if root != ir.Null && d.src.At(root).Kind == ir.KindConstruct && !d.dual[root] {
					d.dual[root] = true
					for _, u := range d.users[root] {
						push(u)
					}
				}
			}
			continue
		}
		if !d.carries(i, inst) {
			continue
		}
		d.dual[i] = true
		if inst.Kind == ir.KindQualifier {
			d.params = true
		}
		for _, u := range d.users[i] {
			push(u)
		}
	}
}

// carries reports whether the value of i is a dual number given its operands.
func (d *diff) carries(i ir.Index, inst ir.Instruction) bool {
	switch inst.Kind {
	case ir.KindQualifier:
		return inst.QualifierKind() == ir.QualParameter
	case ir.KindOperation:
		op := inst.Opcode()
		return !op.IsComparison() && !op.IsLogical() && d.anyDual(inst.ArgList())
	case ir.KindIntrinsic, ir.KindConstruct:
		return d.anyDual(inst.ArgList())
	case ir.KindSwizzle, ir.KindLoad, ir.KindIndexing:
		return d.dual[inst.Src()]
	}
	return false
}

func (d *diff) anyDual(list ir.Index) bool {
	for _, item := range d.src.ListItems(nil, list) {
		if d.dual[item] {
			return true
		}
	}
	return false
}

// root returns the variable or qualifier an access path starts at.
func (d *diff) root(path ir.Index) ir.Index {
	for {
		inst := d.src.At(path)
		switch inst.Kind {
		case ir.KindLoad, ir.KindSwizzle, ir.KindIndexing:
			path = inst.Src()
		case ir.KindConstruct, ir.KindQualifier:
			return path
		default:
			return ir.Null
		}
	}
}

// rewrite records the scratch sequences of all instructions affected by dual values.
func (d *diff) rewrite() {
	for idx, inst := range d.src.Instructions() {
		i := ir.Index(idx)
		if !d.affected(i, inst) {
			continue
		}
		d.e.Push(ir.NewScratch(scratchBase))
		d.transform(i, inst)
		d.scratch[i] = d.e.Pop()
	}
}

// affected reports whether i needs a rewritten sequence rather than a copy.
func (d *diff) affected(i ir.Index, inst ir.Instruction) bool {
	switch inst.Kind {
	case ir.KindLoad:
		_, isField := inst.Offset()
		return isField && d.dual[inst.Src()] // Member of a dual has no rule.
	case ir.KindReturns:
		// Results of other types than the float family pass through unchanged.
		return d.params && (d.anyDual(inst.ArgList()) || d.pairsResult(inst))
	case ir.KindStore:
		root := d.root(inst.Dst())
		return d.dual[inst.StoreSrc()] || root != ir.Null && d.dual[root]
	case ir.KindOperation, ir.KindCall:
		return d.anyDual(inst.ArgList())
	}
	return d.dual[i]
}

// pairsResult reports whether the Returns inst returns a single differentiable
// value, which becomes a dual with zero derivative.
func (d *diff) pairsResult(inst ir.Instruction) bool {
	values := d.src.ListItems(nil, inst.ArgList())
	if len(values) != 1 {
		return false
	}
	t := d.src.TypeOf(values[0])
	return !t.IsStruct() && t.Prim.Differentiable()
}

func (d *diff) fatalf(i ir.Index, format string, args ...any) {
	ir.Fatalf(ir.ClassType, i, d.src.At(i).Kind, format, args...)
}

// prim returns the primitive type of source value i, which must be differentiable.
func (d *diff) prim(i ir.Index) ir.Prim {
	t := d.src.TypeOf(i)
	if t.IsStruct() || !t.Prim.Differentiable() {
		d.fatalf(i, "no derivative for value of type %s", t)
	}
	return t.Prim
}

// parts returns the primal and derivative of source value j as seen from the
// active scratch. The derivative of a value that is not dual is Null.
func (d *diff) parts(j ir.Index) (primal, deriv ir.Index) {
	if !d.dual[j] {
		return j, ir.Null
	}
	return d.e.LoadField(j, 0), d.e.LoadField(j, 1)
}

func (d *diff) dualType(p ir.Prim) ir.Index {
	return d.e.Types(ir.PrimType(p), ir.PrimType(p))
}

func (d *diff) zero(p ir.Prim) ir.Index {
	if p == ir.PrimFloat {
		return d.e.Float(0)
	}
	return d.e.Construct(d.e.Prim(p), ir.ConstructValue, d.e.Float(0))
}

// fit broadcasts derivative v of type vp to type p.
func (d *diff) fit(v ir.Index, vp, p ir.Prim) ir.Index {
	if vp == p {
		return v
	}
	return d.e.Construct(d.e.Prim(p), ir.ConstructValue, v)
}

// pair records the dual number (primal, deriv) of type p as the scratch result.
// A Null derivative is zero.
func (d *diff) pair(p ir.Prim, primal, deriv ir.Index) ir.Index {
	if deriv == ir.Null {
		deriv = d.zero(p)
	}
	return d.e.Construct(d.dualType(p), ir.ConstructValue, primal, deriv)
}

func (d *diff) transform(i ir.Index, inst ir.Instruction) {
	e := d.e
	switch inst.Kind {
	case ir.KindQualifier:
		e.Qualifier(d.dualType(d.prim(i)), inst.QualifierKind(), inst.Binding())
	case ir.KindOperation:
		d.operation(i, inst)
	case ir.KindIntrinsic:
		d.intrinsic(i, inst)
	case ir.KindSwizzle:
		pa, da := d.parts(inst.Src())
		code := inst.SwizzleCode()
		d.pair(d.prim(i), e.Swizzle(pa, code), e.Swizzle(da, code))
	case ir.KindIndexing:
		pa, da := d.parts(inst.Src())
		d.pair(d.prim(i), e.Indexing(pa, inst.IndexOperand()), e.Indexing(da, inst.IndexOperand()))
	case ir.KindConstruct:
		d.construct(i, inst)
	case ir.KindStore:
		d.store(i, inst)
	case ir.KindReturns:
		d.returns(i, inst)
	case ir.KindCall:
		d.fatalf(i, "call with dual argument: callee is not differentiated")
	case ir.KindLoad:
		d.fatalf(i, "member load of dual value")
	default:
		d.fatalf(i, "no derivative rule")
	}
}

func (d *diff) operation(i ir.Index, inst ir.Instruction) {
	e := d.e
	op := inst.Opcode()
	args := d.src.ListItems(nil, inst.ArgList())
	if op.IsComparison() || op.IsLogical() {
		// Only the primal takes part in comparisons.
		prim := make([]ir.Index, len(args))
		for k, a := range args {
			prim[k], _ = d.parts(a)
		}
		e.Op(op, prim...)
		return
	}
	p := d.prim(i)
	if op == ir.OpNeg {
		pa, da := d.parts(args[0])
		d.pair(p, e.Op(ir.OpNeg, pa), e.Op(ir.OpNeg, da))
		return
	}
	if len(args) != 2 {
		d.fatalf(i, "no derivative rule for operator %q", op)
	}
	a, b := args[0], args[1]
	pa, da := d.parts(a)
	pb, db := d.parts(b)
	ta, tb := d.prim(a), d.prim(b)
	primal := e.Op(op, pa, pb)
	var deriv ir.Index
	switch op {
	case ir.OpAdd, ir.OpSub:
		switch {
		case db == ir.Null:
			deriv = d.fit(da, ta, p)
		case da == ir.Null && op == ir.OpAdd:
			deriv = d.fit(db, tb, p)
		case da == ir.Null:
			deriv = d.fit(e.Op(ir.OpNeg, db), tb, p)
		default:
			deriv = e.Op(op, da, db)
		}
	case ir.OpMul:
		// (ab)' = a'b + ab'
		switch {
		case db == ir.Null:
			deriv = e.Op(ir.OpMul, da, pb)
		case da == ir.Null:
			deriv = e.Op(ir.OpMul, pa, db)
		default:
			deriv = e.Op(ir.OpAdd, e.Op(ir.OpMul, da, pb), e.Op(ir.OpMul, pa, db))
		}
	case ir.OpDiv:
		// (a/b)' = (a'b - ab') / b²
		switch {
		case db == ir.Null:
			deriv = e.Op(ir.OpDiv, da, pb)
		case da == ir.Null:
			deriv = e.Op(ir.OpDiv, e.Op(ir.OpNeg, e.Op(ir.OpMul, pa, db)), e.Op(ir.OpMul, pb, pb))
		default:
			num := e.Op(ir.OpSub, e.Op(ir.OpMul, da, pb), e.Op(ir.OpMul, pa, db))
			deriv = e.Op(ir.OpDiv, num, e.Op(ir.OpMul, pb, pb))
		}
	default:
		d.fatalf(i, "no derivative rule for operator %q", op)
	}
	d.pair(p, primal, deriv)
}

func (d *diff) intrinsic(i ir.Index, inst ir.Instruction) {
	e := d.e
	fn := inst.IntrinsicID()
	args := d.src.ListItems(nil, inst.ArgList())
	if fn.Arity() != 1 {
		d.fatalf(i, "no derivative rule for %s", fn)
	}
	p := d.prim(i)
	typ := e.Prim(p)
	pa, da := d.parts(args[0])
	primal := e.Intrinsic(fn, typ, pa)
	var deriv ir.Index
	switch fn {
	case ir.IntrinsicSin:
		deriv = e.Op(ir.OpMul, e.Intrinsic(ir.IntrinsicCos, typ, pa), da)
	case ir.IntrinsicCos:
		deriv = e.Op(ir.OpMul, e.Op(ir.OpNeg, e.Intrinsic(ir.IntrinsicSin, typ, pa)), da)
	case ir.IntrinsicTan:
		c := e.Intrinsic(ir.IntrinsicCos, typ, pa)
		deriv = e.Op(ir.OpDiv, da, e.Op(ir.OpMul, c, c))
	case ir.IntrinsicExp:
		deriv = e.Op(ir.OpMul, primal, da)
	case ir.IntrinsicLog:
		deriv = e.Op(ir.OpDiv, da, pa)
	case ir.IntrinsicExp2:
		deriv = e.Op(ir.OpMul, e.Op(ir.OpMul, primal, e.Float(math.Ln2)), da)
	case ir.IntrinsicLog2:
		deriv = e.Op(ir.OpDiv, da, e.Op(ir.OpMul, pa, e.Float(math.Ln2)))
	case ir.IntrinsicSqrt:
		deriv = e.Op(ir.OpDiv, da, e.Op(ir.OpMul, e.Float(2), primal))
	case ir.IntrinsicAbs:
		deriv = e.Op(ir.OpMul, e.Intrinsic(ir.IntrinsicSign, typ, pa), da)
	default:
		d.fatalf(i, "no derivative rule for %s", fn)
	}
	d.pair(p, primal, deriv)
}

func (d *diff) construct(i ir.Index, inst ir.Instruction) {
	e := d.e
	p := d.prim(i)
	args := d.src.ListItems(nil, inst.ArgList())
	if inst.Mode() == ir.ConstructRef {
		// Variables holding dual values are declared with the dual type.
		switch {
		case len(args) == 0:
			e.Construct(d.dualType(p), ir.ConstructRef)
		case len(args) == 1 && d.dual[args[0]]:
			e.Construct(d.dualType(p), ir.ConstructRef, args[0])
		case len(args) == 1:
			init := d.pair(p, args[0], ir.Null)
			e.Construct(d.dualType(p), ir.ConstructRef, init)
		default:
			init := e.Construct(e.Prim(p), ir.ConstructValue, args...)
			e.Construct(d.dualType(p), ir.ConstructRef, d.pair(p, init, ir.Null))
		}
		return
	}
	primals := make([]ir.Index, len(args))
	derivs := make([]ir.Index, len(args))
	for k, a := range args {
		primals[k], derivs[k] = d.parts(a)
		if derivs[k] == ir.Null {
			derivs[k] = d.zero(d.prim(a))
		}
	}
	typ := e.Prim(p)
	primal := e.Construct(typ, ir.ConstructValue, primals...)
	deriv := e.Construct(typ, ir.ConstructValue, derivs...)
	d.pair(p, primal, deriv)
}

func (d *diff) store(i ir.Index, inst ir.Instruction) {
	dst, src := inst.Dst(), inst.StoreSrc()
	root := d.root(dst)
	switch {
	case root == ir.Null || !d.dual[root]:
		d.fatalf(i, "store of dual value into non differentiable destination")
	case root != dst:
		d.fatalf(i, "partial store into dual variable")
	case d.dual[src]:
		d.e.Store(dst, src)
	default:
		d.e.Store(dst, d.pair(d.prim(src), src, ir.Null))
	}
}

func (d *diff) returns(i ir.Index, inst ir.Instruction) {
	values := d.src.ListItems(nil, inst.ArgList())
	if len(values) != 1 {
		d.fatalf(i, "no derivative rule for %d return values", len(values))
	}
	v := values[0]
	t := d.src.TypeOf(v)
	if t.IsStruct() || !t.Prim.Differentiable() {
		d.fatalf(i, "no derivative for result of type %s", t)
	}
	p := t.Prim
	if d.dual[v] {
		d.e.Return(d.dualType(p), v)
		return
	}
	result := d.pair(p, v, ir.Null)
	d.e.Return(d.dualType(p), result)
}

// stitch concatenates scratch sequences and unchanged instructions in source order,
// renumbering references to the stitched positions.
func (d *diff) stitch() *ir.Buffer {
	n := d.src.Len()
	base := make([]ir.Index, n)
	result := make([]ir.Index, n)
	total := ir.Index(0)
	for i := 0; i < n; i++ {
		base[i] = total
		if d.scratch[i] != nil {
			total += ir.Index(d.scratch[i].Len())
		} else {
			total++
		}
		result[i] = total - 1
	}
	out := ir.NewBuffer(int(total))
	for i := 0; i < n; i++ {
		if d.scratch[i] == nil {
			inst := d.src.At(ir.Index(i))
			for slot, ref := range inst.Args {
				if ref != ir.Null {
					inst.Args[slot] = result[ref]
				}
			}
			out.Append(inst)
			continue
		}
		for _, inst := range d.scratch[i].Instructions() {
			for slot, ref := range inst.Args {
				switch {
				case ref == ir.Null:
				case ref >= scratchBase:
					inst.Args[slot] = base[i] + ref - scratchBase
				default:
					inst.Args[slot] = result[ref]
				}
			}
			out.Append(inst)
		}
	}
	return out
}
