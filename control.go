package gsir

import (
	"fmt"

	"github.com/soypat/gsir/ir"
)

// Place is a storage location: a variable, an output, a buffer element, or a member
// or components of one of them.
type Place struct{ value }

// Load records a read of the place's current value.
func (p Place) Load() Value {
	return wrap(p.b.value(func() ir.Index { return p.b.e.Load(p.idx) }, p))
}

// Store records the assignment of v to the place.
func (p Place) Store(v Value) {
	b := p.b
	b.value(func() ir.Index {
		if !sameType(p.buf, p.t, b.buf(), v.Type()) {
			b.fatalf(ir.ClassType, "store of %s into %s", v.Type(), p.t)
		}
		return b.e.Store(p.idx, v.Synthesize())
	}, p, v)
}

// Field returns the struct member at position k of the place.
func (p Place) Field(k int) Place {
	return Place{p.b.value(func() ir.Index { return p.b.e.LoadField(p.idx, k) }, p)}
}

// Swizzle selects components of a vector place by name. Components must not repeat
// for the place to be stored to.
func (p Place) Swizzle(s string) Place {
	b := p.b
	return Place{b.value(func() ir.Index {
		code, ok := ir.ParseSwizzle(s)
		if !ok {
			b.fatalf(ir.ClassType, "invalid swizzle %q", s)
		}
		return b.e.Swizzle(p.idx, code)
	}, p)}
}

// At returns the vector component or matrix column of the place at index i.
func (p Place) At(i Value) Place {
	return Place{p.b.value(func() ir.Index { return p.b.e.Indexing(p.idx, i.Synthesize()) }, p, i)}
}

// errorf reports a recording error that leaves the buffer consistent. It panics
// unless NoPanic is set.
func (b *Builder) errorf(class ir.Class, format string, args ...any) {
	err := &ir.Error{Class: class, Index: ir.Null, Msg: fmt.Sprintf(format, args...)}
	if !b.NoPanic {
		panic(err)
	}
	b.accumErrs = append(b.accumErrs, err)
}

// condition reports whether cond is a valid bool scalar of the active buffer.
func (b *Builder) condition(cond Value) bool {
	if cond == nil {
		b.errorf(ir.ClassStructural, "nil condition")
		return false
	}
	v := cond.base()
	switch {
	case v.idx == ir.Null:
		return false // Already reported.
	case v.b != b || v.buf != b.buf():
		b.errorf(ir.ClassStructural, "condition %d recorded in another function", v.idx)
		return false
	case v.t != ir.PrimType(ir.PrimBool):
		b.errorf(ir.ClassType, "condition of type %s, want bool", v.t)
		return false
	}
	return true
}

// Case is one alternative of a conditional chain.
type Case struct {
	// Cond records the alternative's condition. It is called right before the
	// alternative is recorded, so it is only evaluated when earlier alternatives fail.
	Cond func() Value
	Then func()
}

// If records then to run when cond is true.
func (b *Builder) If(cond Value, then func()) {
	b.Cases(nil, Case{Cond: func() Value { return cond }, Then: then})
}

// IfElse records then to run when cond is true and otherwise when it is false.
func (b *Builder) IfElse(cond Value, then, otherwise func()) {
	b.Cases(otherwise, Case{Cond: func() Value { return cond }, Then: then})
}

// Cases records an if/else-if chain. The first alternative whose condition holds
// runs; otherwise, if not nil, runs when none does.
func (b *Builder) Cases(otherwise func(), cases ...Case) {
	if len(cases) == 0 {
		b.errorf(ir.ClassStructural, "conditional without alternatives")
		return
	}
	for i, c := range cases {
		cond := c.Cond()
		if !b.condition(cond) {
			if i == 0 {
				return
			}
			otherwise = nil
			break
		}
		if i == 0 {
			b.e.If(cond.Synthesize())
		} else {
			b.e.ElseIf(cond.Synthesize())
		}
		c.Then()
	}
	if otherwise != nil {
		b.e.Else()
		otherwise()
	}
	b.e.End()
}

// While records a loop running body while cond holds. cond is recorded once, right
// before the loop header, and is evaluated before every iteration.
func (b *Builder) While(cond func() Value, body func()) {
	c := cond()
	if !b.condition(c) {
		return
	}
	b.e.While(c.Synthesize())
	body()
	b.e.End()
}

// For records a loop running body n times with the iteration number, an int or
// uint counter of the same type as n, starting at zero.
func (b *Builder) For(n Value, body func(i Scalar)) {
	if !b.check([]Value{n}) {
		return
	}
	var zero, one Scalar
	switch n.Type() {
	case ir.PrimType(ir.PrimInt):
		zero, one = b.Int(0), b.Int(1)
	case ir.PrimType(ir.PrimUint):
		zero, one = b.Uint(0), b.Uint(1)
	default:
		b.errorf(ir.ClassType, "loop count of type %s", n.Type())
		return
	}
	i := b.Var(zero)
	b.While(func() Value { return b.Lt(i.Load(), n) }, func() {
		body(Scalar{i.Load().base()})
		i.Store(b.Add(i.Load(), one))
	})
}

// Function is a shader function registered in the callable registry.
type Function struct {
	b      *Builder
	c      *ir.Callable
	params []ir.Type
	ret    ir.Type
}

// Function records a function with parameters of the given types. body receives
// the parameter values and returns the function's result, or nil for a void
// function. The function is registered under name until released. With NoPanic
// set, a body leaving control flow open is reported and its regions are closed.
func (b *Builder) Function(name string, params []ir.Prim, body func(args ...Value) Value) *Function {
	buf := ir.NewBuffer(16)
	b.push(buf)
	args := make([]Value, len(params))
	for k, p := range params {
		args[k] = wrap(b.value(func() ir.Index { return b.e.Qualifier(b.prim(p), ir.QualParameter, k) }))
	}
	ret := body(args...)
	if ret == nil {
		b.value(func() ir.Index { return b.e.Return(ir.Null) })
	} else {
		b.value(func() ir.Index { return b.e.Return(b.typeIndex(ret.Type()), ret.Synthesize()) }, ret)
	}
	if n := b.e.OpenRegions(); n > 0 {
		b.errorf(ir.ClassStructural, "function %s leaves %d control flow regions open", name, n)
		for ; n > 0; n-- {
			b.e.End()
		}
	}
	b.pop()
	return b.function(ir.NewCallable(name, buf))
}

// function describes the registered callable c by its parameter qualifiers and return type.
func (b *Builder) function(c *ir.Callable) *Function {
	f := &Function{b: b, c: c, ret: ir.Void}
	insts := c.Body.Instructions()
	for i, inst := range insts {
		idx := c.Body.Base + ir.Index(i)
		switch {
		case inst.Kind == ir.KindQualifier && inst.QualifierKind() == ir.QualParameter:
			k := inst.Binding()
			for len(f.params) <= k {
				f.params = append(f.params, ir.Void)
			}
			f.params[k] = c.Body.TypeOf(idx)
		case inst.Kind == ir.KindReturns && inst.TypeRef() != ir.Null && f.ret == ir.Void:
			f.ret = c.Body.TypeAt(inst.TypeRef())
		}
	}
	return f
}

// Callable returns the registered callable of f.
func (f *Function) Callable() *ir.Callable { return f.c }

func (f *Function) Name() string { return f.c.Name }

// Release removes f from the callable registry. Programs calling f fail to
// compile afterwards.
func (f *Function) Release() { f.c.Unlink() }

// Call records a call to f. The result is nil for void functions.
func (f *Function) Call(args ...Value) Value {
	b := f.b
	return wrap(b.value(func() ir.Index {
		if len(args) != len(f.params) {
			b.fatalf(ir.ClassType, "%s takes %d arguments, got %d", f.c.Name, len(f.params), len(args))
		}
		for k, a := range args {
			if !sameType(b.buf(), a.Type(), f.c.Body, f.params[k]) {
				b.fatalf(ir.ClassType, "%s argument %d has type %s", f.c.Name, k, a.Type())
			}
		}
		typ := ir.Null
		if f.ret != ir.Void {
			typ = b.importType(f.c.Body, f.ret)
		}
		return b.e.Call(f.c, typ, b.indices(args)...)
	}, args...))
}
