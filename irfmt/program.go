// Package irfmt reads instruction buffers from YAML program descriptions and
// writes human readable listings of them.
package irfmt

import (
	"fmt"
	"os"
	"strconv"

	"github.com/nikandfor/errors"
	"github.com/soypat/gsir/ir"
	"gopkg.in/yaml.v3"
)

// Program describes a main instruction buffer and the functions it calls.
// Instructions refer to earlier instructions by id.
//
//	name: negate
//	program:
//	  - {id: t, op: type, type: [vec3]}
//	  - {id: in, op: qualifier, qualifier: input, type: [t], binding: 0}
//	  - {id: out, op: qualifier, qualifier: output, type: [t], binding: 0}
//	  - {id: neg, op: neg, args: [in]}
//	  - {op: store, args: [out, neg]}
type Program struct {
	Name      string     `yaml:"name"`
	Functions []Function `yaml:"functions"`
	Main      []Inst     `yaml:"program"`
}

// Function is a callable recorded into its own buffer and registered under Name.
type Function struct {
	Name    string `yaml:"name"`
	Program []Inst `yaml:"program"`
}

// Inst describes one recorded instruction. Op is either a keyword (type, qualifier,
// float, int, uint, bool, intrinsic, construct, var, call, store, load, swizzle,
// index, if, elseif, else, while, end, return) or an operator: a binary operator
// symbol or one of neg, not and bitnot.
type Inst struct {
	ID        string   `yaml:"id"`
	Op        string   `yaml:"op"`
	Type      []string `yaml:"type"`
	Args      []string `yaml:"args"`
	Value     string   `yaml:"value"`
	Fn        string   `yaml:"fn"`
	Qualifier string   `yaml:"qualifier"`
	Binding   int      `yaml:"binding"`
	Swizzle   string   `yaml:"swizzle"`
	Field     *int     `yaml:"field"`
}

// Load decodes a YAML program.
func Load(data []byte) (*Program, error) {
	var p Program
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, errors.Wrap(err, "decode program")
	}
	return &p, nil
}

// LoadFile decodes the YAML program stored at path.
func LoadFile(path string) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p, err := Load(data)
	if err != nil {
		return nil, errors.Wrap(err, "%v", path)
	}
	return p, nil
}

// Built is a recorded program.
type Built struct {
	Main *ir.Buffer
	// Callables holds the registered functions in declaration order.
	Callables []*ir.Callable
	// IDs maps instruction ids of the main program to their indices.
	IDs map[string]ir.Index
}

// Callable returns the registered function with the given name.
func (b *Built) Callable(name string) *ir.Callable {
	for _, c := range b.Callables {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Release removes the program's functions from the callable registry.
func (b *Built) Release() {
	for _, c := range b.Callables {
		c.Unlink()
	}
}

// Build records the program into fresh buffers. Functions are registered in the
// callable registry before any body is recorded so that they may call each other.
// Callers should Release the result when done.
func (p *Program) Build() (_ *Built, err error) {
	built := &Built{Main: ir.NewBuffer(len(p.Main))}
	defer func() {
		if err != nil {
			built.Release()
		}
	}()
	defer ir.Catch(&err)
	for _, fn := range p.Functions {
		if built.Callable(fn.Name) != nil {
			return nil, fmt.Errorf("duplicate function %q", fn.Name)
		}
		built.Callables = append(built.Callables, ir.NewCallable(fn.Name, ir.NewBuffer(len(fn.Program))))
	}
	e := ir.NewEmitter(nil)
	for k, fn := range p.Functions {
		r := recorder{e: e, built: built, ids: make(map[string]ir.Index)}
		if err := r.record(built.Callables[k].Body, fn.Program); err != nil {
			return nil, errors.Wrap(err, "function %v", fn.Name)
		}
	}
	r := recorder{e: e, built: built, ids: make(map[string]ir.Index)}
	if err := r.record(built.Main, p.Main); err != nil {
		return nil, errors.Wrap(err, "program %v", p.Name)
	}
	built.IDs = r.ids
	return built, nil
}

type recorder struct {
	e     *ir.Emitter
	built *Built
	ids   map[string]ir.Index
}

func (r *recorder) record(buf *ir.Buffer, insts []Inst) error {
	r.e.Push(buf)
	for k := range insts {
		idx, err := r.recordInst(&insts[k])
		if err != nil {
			return errors.Wrap(err, "instruction %d (%v)", k, insts[k].Op)
		}
		if id := insts[k].ID; id != "" {
			if _, dup := r.ids[id]; dup {
				return errors.New("instruction %d: duplicate id %q", k, id)
			}
			r.ids[id] = idx
		}
	}
	r.e.Pop()
	return nil
}

func (r *recorder) ref(id string) (ir.Index, error) {
	idx, ok := r.ids[id]
	if !ok {
		return ir.Null, errors.New("undefined id %q", id)
	}
	return idx, nil
}

func (r *recorder) refs(ids []string) ([]ir.Index, error) {
	out := make([]ir.Index, len(ids))
	for k, id := range ids {
		idx, err := r.ref(id)
		if err != nil {
			return nil, err
		}
		out[k] = idx
	}
	return out, nil
}

// typeRef records or reuses the type chain described by fields. A single field naming
// an earlier type id reuses that chain. A nil fields list returns Null.
func (r *recorder) typeRef(fields []string) (ir.Index, error) {
	if len(fields) == 0 {
		return ir.Null, nil
	}
	if len(fields) == 1 {
		if idx, ok := r.ids[fields[0]]; ok {
			return idx, nil
		}
	}
	return r.typeChain(fields)
}

// typeChain records a new type chain. Fields are primitive names or ids of
// earlier type chains, which become nested struct fields.
func (r *recorder) typeChain(fields []string) (ir.Index, error) {
	if len(fields) == 0 {
		return ir.Null, errors.New("type without fields")
	}
	types := make([]ir.Type, len(fields))
	for k, f := range fields {
		if p, ok := ir.ParsePrim(f); ok && p != ir.PrimNone {
			types[k] = ir.PrimType(p)
			continue
		}
		idx, err := r.ref(f)
		if err != nil {
			return ir.Null, err
		}
		types[k] = ir.StructType(idx)
	}
	return r.e.Types(types...), nil
}

func (r *recorder) recordInst(in *Inst) (ir.Index, error) {
	e := r.e
	args, err := r.refs(in.Args)
	if err != nil {
		return ir.Null, err
	}
	nargs := func(n int) error {
		if len(args) != n {
			return errors.New("want %d args, got %d", n, len(args))
		}
		return nil
	}
	if in.Op == "type" {
		return r.typeChain(in.Type)
	}
	typ, err := r.typeRef(in.Type)
	if err != nil {
		return ir.Null, err
	}
	switch in.Op {
	case "qualifier":
		q, ok := ir.ParseQualifierKind(in.Qualifier)
		if !ok {
			return ir.Null, errors.New("unknown qualifier %q", in.Qualifier)
		}
		if typ == ir.Null {
			return ir.Null, errors.New("qualifier without type")
		}
		return e.Qualifier(typ, q, in.Binding), nil
	case "float":
		v, err := strconv.ParseFloat(in.Value, 32)
		if err != nil {
			return ir.Null, err
		}
		return e.Float(float32(v)), nil
	case "int":
		v, err := strconv.ParseInt(in.Value, 0, 32)
		if err != nil {
			return ir.Null, err
		}
		return e.Int(int32(v)), nil
	case "uint":
		v, err := strconv.ParseUint(in.Value, 0, 32)
		if err != nil {
			return ir.Null, err
		}
		return e.Uint(uint32(v)), nil
	case "bool":
		v, err := strconv.ParseBool(in.Value)
		if err != nil {
			return ir.Null, err
		}
		return e.Bool(v), nil
	case "intrinsic":
		fn, ok := ir.LookupIntrinsic(in.Fn)
		if !ok {
			return ir.Null, errors.New("unknown intrinsic %q", in.Fn)
		}
		if err := nargs(fn.Arity()); err != nil {
			return ir.Null, err
		}
		return e.Intrinsic(fn, typ, args...), nil
	case "construct", "var":
		if typ == ir.Null {
			return ir.Null, errors.New("%v without type", in.Op)
		}
		mode := ir.ConstructValue
		if in.Op == "var" {
			mode = ir.ConstructRef
		}
		return e.Construct(typ, mode, args...), nil
	case "call":
		c := r.built.Callable(in.Fn)
		if c == nil {
			return ir.Null, errors.New("undefined function %q", in.Fn)
		}
		return e.Call(c, typ, args...), nil
	case "store":
		if err := nargs(2); err != nil {
			return ir.Null, err
		}
		return e.Store(args[0], args[1]), nil
	case "load":
		if err := nargs(1); err != nil {
			return ir.Null, err
		}
		if in.Field != nil {
			return e.LoadField(args[0], *in.Field), nil
		}
		return e.Load(args[0]), nil
	case "swizzle":
		code, ok := ir.ParseSwizzle(in.Swizzle)
		if !ok {
			return ir.Null, errors.New("bad swizzle %q", in.Swizzle)
		}
		if err := nargs(1); err != nil {
			return ir.Null, err
		}
		return e.Swizzle(args[0], code), nil
	case "index":
		if err := nargs(2); err != nil {
			return ir.Null, err
		}
		return e.Indexing(args[0], args[1]), nil
	case "if", "elseif", "while":
		if err := nargs(1); err != nil {
			return ir.Null, err
		}
		switch in.Op {
		case "if":
			return e.If(args[0]), nil
		case "elseif":
			return e.ElseIf(args[0]), nil
		}
		return e.While(args[0]), nil
	case "else":
		return e.Else(), nil
	case "end":
		return e.End(), nil
	case "return":
		return e.Return(typ, args...), nil
	}
	op, ok := ir.ParseOpcode(in.Op)
	if !ok {
		return ir.Null, errors.New("unknown op %q", in.Op)
	}
	if err := nargs(op.Arity()); err != nil {
		return ir.Null, err
	}
	return e.Op(op, args...), nil
}
