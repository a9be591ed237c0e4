package glbuild

import (
	"bytes"
	"fmt"
	"io"

	"github.com/soypat/gsir/ir"
	"github.com/soypat/gsir/kernel"
)

// Programmer links a kernel with the callables it calls, transitively, and writes
// them as a single shader program.
type Programmer struct {
	Profile Profile
	// names maps function name hashes to body hashes for checking duplicates.
	names   map[uint64]uint64
	scratch []byte
	// kernels caches analyzed callee bodies by callable.
	kernels map[ir.CallableID]*kernel.Kernel
}

// NewDefaultProgrammer returns a Programmer using [DefaultProfile].
func NewDefaultProgrammer() *Programmer {
	return NewProgrammer(DefaultProfile())
}

func NewProgrammer(profile Profile) *Programmer {
	return &Programmer{
		Profile: profile,
		names:   make(map[uint64]uint64),
		kernels: make(map[ir.CallableID]*kernel.Kernel),
	}
}

// WriteProgram writes the program with entry point main to w. Callees are defined
// before their callers. Callables with the same name and identical generated bodies
// are written once; the same name with different bodies is an error.
func (p *Programmer) WriteProgram(w io.Writer, main *kernel.Kernel) (n int, err error) {
	defer ir.Catch(&err)
	clear(p.names)
	clear(p.kernels)
	order, err := p.linkOrder(main)
	if err != nil {
		return 0, err
	}
	mod := newModule(p.Profile)
	var funcs []byte
	for _, c := range order {
		start := len(funcs)
		funcs = mod.newWriter(p.kernels[c.ID]).appendFunction(funcs, c.Name)
		nameHash := hash([]byte(c.Name), 0)
		bodyHash := hash(funcs[start:], nameHash) // Body hash mixes name as well.
		gotBodyHash, nameConflict := p.names[nameHash]
		if nameConflict {
			if bodyHash == gotBodyHash {
				funcs = funcs[:start] // Already written and identical, skip.
				continue
			}
			return 0, fmt.Errorf("duplicate function name %q with distinct bodies:\n%s", c.Name, funcs[start:])
		}
		p.names[nameHash] = bodyHash
		funcs = append(funcs, '\n')
	}
	mainSrc := mod.newWriter(main).appendMain(nil)
	p.scratch = mod.appendProgram(p.scratch[:0], bytes.TrimSuffix(funcs, []byte{'\n'}), mainSrc)
	return w.Write(p.scratch)
}

// linkOrder returns the callables reachable from main in post order so that
// every callee precedes its callers. Recursion is rejected since GLSL forbids it.
func (p *Programmer) linkOrder(main *kernel.Kernel) ([]*ir.Callable, error) {
	const (
		visiting = 1
		done     = 2
	)
	state := make(map[ir.CallableID]uint8)
	var order []*ir.Callable
	var visit func(k *kernel.Kernel) error
	visit = func(k *kernel.Kernel) error {
		for idx, inst := range k.Buffer.Instructions() {
			i := ir.Index(idx)
			if inst.Kind != ir.KindCall || !k.Used.Has(i) {
				continue
			}
			c := ir.MustLookup(inst.Callee(), i)
			switch state[c.ID] {
			case done:
				continue
			case visiting:
				return &ir.Error{Class: ir.ClassLinkage, Index: i, Kind: inst.Kind, Msg: fmt.Sprintf("recursive call to %q", c.Name)}
			}
			state[c.ID] = visiting
			ck, err := kernel.Build(c.Body)
			if err != nil {
				return fmt.Errorf("callee %q: %w", c.Name, err)
			}
			p.kernels[c.ID] = ck
			if err := visit(ck); err != nil {
				return err
			}
			state[c.ID] = done
			order = append(order, c)
		}
		return nil
	}
	if err := visit(main); err != nil {
		return nil, err
	}
	return order, nil
}
