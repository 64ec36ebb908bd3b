package sim

import (
	"github.com/devec-ml/devec/device"
)

// invocation is one bound kernel launch: buffers matched to storage bindings
// and scalar bytes matched to uniform fields, both in argument order.
type invocation struct {
	k       *kern
	bufs    []*Buffer
	scalars [][]byte
	n       int
}

// bind validates the positional argument list against the kernel layout and
// captures everything the queue goroutine needs. Mismatches surface at the
// enqueue call site as invalid-kernel-arguments errors.
func (k *kern) bind(args []device.Arg) (*invocation, error) {
	const opName = "sim.EnqueueKernel"
	inv := &invocation{k: k}
	for _, a := range args {
		switch {
		case a.Buffer != nil:
			b, err := simBuffer(opName, a.Buffer)
			if err != nil {
				return nil, err
			}
			inv.bufs = append(inv.bufs, b)
		case a.Value != nil:
			inv.scalars = append(inv.scalars, a.Value)
		default:
			return nil, device.Errorf(opName, device.InvalidKernelArgs, "empty argument")
		}
	}

	if len(inv.bufs) != len(k.storage) {
		return nil, device.Errorf(opName, device.InvalidKernelArgs,
			"kernel %s wants %d buffers, got %d", k.name, len(k.storage), len(inv.bufs))
	}
	if len(inv.scalars) != len(k.params) {
		return nil, device.Errorf(opName, device.InvalidKernelArgs,
			"kernel %s wants %d scalar args, got %d", k.name, len(k.params), len(inv.scalars))
	}
	for i, s := range inv.scalars {
		if len(s) != k.params[i].typ.size() {
			return nil, device.Errorf(opName, device.InvalidKernelArgs,
				"scalar arg %d: got %d bytes, field %s wants %d", i, len(s), k.params[i].name, k.params[i].typ.size())
		}
	}

	inv.n = int(leUint32(inv.scalars[0]))
	for i, b := range inv.bufs {
		need := uint64(inv.n) * uint64(k.storage[i].elem.size())
		if b.Size() < need {
			return nil, device.Errorf(opName, device.InvalidKernelArgs,
				"binding %s: buffer of %d bytes shorter than %d elements", k.storage[i].name, b.Size(), inv.n)
		}
	}
	return inv, nil
}

// run executes the grid-stride loop. The launch geometry does not matter for
// coverage (that is the point of the stride form), so the simulator walks the
// index space directly.
func (inv *invocation) run() error {
	k := inv.k
	e := &env{
		k:       k,
		m:       machineFor(k.elem),
		buffers: make(map[string][]byte, len(inv.bufs)),
		scalars: make(map[string]scalarRef, len(inv.scalars)),
	}
	for i, b := range inv.bufs {
		e.buffers[k.storage[i].name] = b.data
	}
	for i, s := range inv.scalars {
		e.scalars[k.params[i].name] = scalarRef{raw: s, typ: k.params[i].typ}
	}

	res := e.buffers[k.storage[0].name]
	for idx := 0; idx < inv.n; idx++ {
		e.idx = idx
		v, err := e.eval(k.body, nil)
		if err != nil {
			return err
		}
		e.m.store(res, idx, v)
	}
	return nil
}

type scalarRef struct {
	raw []byte
	typ elemType
}

type env struct {
	k       *kern
	m       machine
	buffers map[string][]byte
	scalars map[string]scalarRef
	idx     int
}

func (e *env) eval(n node, locals map[string]val) (val, error) {
	switch n := n.(type) {
	case litNode:
		return e.m.lit(n), nil
	case loadNode:
		return e.m.load(e.buffers[n.name], e.idx), nil
	case paramNode:
		s := e.scalars[n.name]
		return e.m.scalar(s.raw, s.typ), nil
	case varNode:
		return locals[n.name], nil
	case unNode:
		v, err := e.eval(n.x, locals)
		if err != nil {
			return val{}, err
		}
		return e.m.neg(v), nil
	case binNode:
		l, err := e.eval(n.l, locals)
		if err != nil {
			return val{}, err
		}
		r, err := e.eval(n.r, locals)
		if err != nil {
			return val{}, err
		}
		return e.m.bin(n.op, l, r)
	case callNode:
		args := make([]val, len(n.args))
		for i, a := range n.args {
			v, err := e.eval(a, locals)
			if err != nil {
				return val{}, err
			}
			args[i] = v
		}
		if fn, ok := e.k.fns[n.name]; ok {
			inner := make(map[string]val, len(fn.params))
			for i, p := range fn.params {
				inner[p] = args[i]
			}
			return e.eval(fn.body, inner)
		}
		return e.m.call(n.name, args)
	}
	return val{}, device.Errorf("sim.kernel", device.Unsupported, "node %T", n)
}
