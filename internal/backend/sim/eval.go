package sim

import (
	"encoding/binary"
	"math"

	"github.com/chewxy/math32"
	"github.com/x448/float16"

	"github.com/devec-ml/devec/device"
)

// val is the evaluator's value cell; float machines use f, integer machines
// keep the 32-bit pattern in u.
type val struct {
	f float64
	u uint64
}

// machine gives the evaluation dtype-faithful semantics: float32 kernels
// round through float32 after every operation (math32), float16 kernels
// round loads and stores through IEEE binary16, and integer kernels use
// 32-bit wrap-around with division-by-zero reported as a device error.
type machine interface {
	load(b []byte, idx int) val
	store(b []byte, idx int, v val)
	scalar(raw []byte, t elemType) val
	lit(l litNode) val
	neg(v val) val
	bin(op byte, a, b val) (val, error)
	call(name string, args []val) (val, error)
}

func machineFor(t elemType) machine {
	switch t {
	case tF16:
		return f16Machine{}
	case tF64:
		return f64Machine{}
	case tI32:
		return intMachine{signed: true}
	case tU32:
		return intMachine{}
	default:
		return f32Machine{}
	}
}

func scalarBits(raw []byte, t elemType) val {
	switch t {
	case tF64:
		return val{f: math.Float64frombits(binary.LittleEndian.Uint64(raw))}
	case tF32, tF16: // f16 scalars arrive promoted to f32
		return val{f: float64(math.Float32frombits(binary.LittleEndian.Uint32(raw)))}
	default:
		u := binary.LittleEndian.Uint32(raw)
		return val{u: uint64(u), f: float64(u)}
	}
}

// --- float32 ---

type f32Machine struct{}

func (f32Machine) load(b []byte, idx int) val {
	return val{f: float64(math.Float32frombits(binary.LittleEndian.Uint32(b[idx*4:])))}
}

func (f32Machine) store(b []byte, idx int, v val) {
	binary.LittleEndian.PutUint32(b[idx*4:], math.Float32bits(float32(v.f)))
}

func (f32Machine) scalar(raw []byte, t elemType) val { return scalarBits(raw, t) }
func (f32Machine) lit(l litNode) val                 { return val{f: float64(float32(l.f))} }
func (f32Machine) neg(v val) val                     { return val{f: float64(-float32(v.f))} }

func (f32Machine) bin(op byte, a, b val) (val, error) {
	x, y := float32(a.f), float32(b.f)
	switch op {
	case '+':
		return val{f: float64(x + y)}, nil
	case '-':
		return val{f: float64(x - y)}, nil
	case '*':
		return val{f: float64(x * y)}, nil
	case '/':
		return val{f: float64(x / y)}, nil
	case '%':
		return val{f: float64(math32.Mod(x, y))}, nil
	}
	return val{}, device.Errorf("sim.kernel", device.Unsupported, "operator %q", string(op))
}

func (f32Machine) call(name string, args []val) (val, error) {
	x := float32(args[0].f)
	switch name {
	case "sqrt":
		return val{f: float64(math32.Sqrt(x))}, nil
	case "abs":
		return val{f: float64(math32.Abs(x))}, nil
	case "exp":
		return val{f: float64(math32.Exp(x))}, nil
	case "log":
		return val{f: float64(math32.Log(x))}, nil
	case "sin":
		return val{f: float64(math32.Sin(x))}, nil
	case "cos":
		return val{f: float64(math32.Cos(x))}, nil
	case "pow":
		return val{f: float64(math32.Pow(x, float32(args[1].f)))}, nil
	case "min":
		return val{f: float64(math32.Min(x, float32(args[1].f)))}, nil
	case "max":
		return val{f: float64(math32.Max(x, float32(args[1].f)))}, nil
	case "f16":
		return val{f: float64(float16.Fromfloat32(x).Float32())}, nil
	case "f32", "f64":
		return val{f: float64(x)}, nil
	case "i32":
		return val{f: float64(int32(x))}, nil
	case "u32":
		return val{f: float64(uint32(x))}, nil
	}
	return val{}, device.Errorf("sim.kernel", device.Unsupported, "function %q", name)
}

// --- float16: float32 arithmetic with binary16 loads and stores ---

type f16Machine struct{ f32Machine }

func (f16Machine) load(b []byte, idx int) val {
	return val{f: float64(float16.Frombits(binary.LittleEndian.Uint16(b[idx*2:])).Float32())}
}

func (f16Machine) store(b []byte, idx int, v val) {
	binary.LittleEndian.PutUint16(b[idx*2:], float16.Fromfloat32(float32(v.f)).Bits())
}

// --- float64 ---

type f64Machine struct{}

func (f64Machine) load(b []byte, idx int) val {
	return val{f: math.Float64frombits(binary.LittleEndian.Uint64(b[idx*8:]))}
}

func (f64Machine) store(b []byte, idx int, v val) {
	binary.LittleEndian.PutUint64(b[idx*8:], math.Float64bits(v.f))
}

func (f64Machine) scalar(raw []byte, t elemType) val { return scalarBits(raw, t) }
func (f64Machine) lit(l litNode) val                 { return val{f: l.f} }
func (f64Machine) neg(v val) val                     { return val{f: -v.f} }

func (f64Machine) bin(op byte, a, b val) (val, error) {
	switch op {
	case '+':
		return val{f: a.f + b.f}, nil
	case '-':
		return val{f: a.f - b.f}, nil
	case '*':
		return val{f: a.f * b.f}, nil
	case '/':
		return val{f: a.f / b.f}, nil
	case '%':
		return val{f: math.Mod(a.f, b.f)}, nil
	}
	return val{}, device.Errorf("sim.kernel", device.Unsupported, "operator %q", string(op))
}

func (f64Machine) call(name string, args []val) (val, error) {
	x := args[0].f
	switch name {
	case "sqrt":
		return val{f: math.Sqrt(x)}, nil
	case "abs":
		return val{f: math.Abs(x)}, nil
	case "exp":
		return val{f: math.Exp(x)}, nil
	case "log":
		return val{f: math.Log(x)}, nil
	case "sin":
		return val{f: math.Sin(x)}, nil
	case "cos":
		return val{f: math.Cos(x)}, nil
	case "pow":
		return val{f: math.Pow(x, args[1].f)}, nil
	case "min":
		return val{f: math.Min(x, args[1].f)}, nil
	case "max":
		return val{f: math.Max(x, args[1].f)}, nil
	case "f16":
		return val{f: float64(float16.Fromfloat32(float32(x)).Float32())}, nil
	case "f32":
		return val{f: float64(float32(x))}, nil
	case "f64":
		return val{f: x}, nil
	case "i32":
		return val{f: float64(int32(x))}, nil
	case "u32":
		return val{f: float64(uint32(x))}, nil
	}
	return val{}, device.Errorf("sim.kernel", device.Unsupported, "function %q", name)
}

// --- i32 / u32 ---

type intMachine struct{ signed bool }

func (intMachine) load(b []byte, idx int) val {
	u := binary.LittleEndian.Uint32(b[idx*4:])
	return val{u: uint64(u)}
}

func (intMachine) store(b []byte, idx int, v val) {
	binary.LittleEndian.PutUint32(b[idx*4:], uint32(v.u))
}

func (intMachine) scalar(raw []byte, t elemType) val { return scalarBits(raw, t) }

func (intMachine) lit(l litNode) val {
	if l.isInt {
		return val{u: uint64(uint32(l.i))}
	}
	return val{u: uint64(uint32(int32(l.f)))}
}

func (m intMachine) neg(v val) val {
	return val{u: uint64(uint32(-int32(uint32(v.u))))}
}

func (m intMachine) bin(op byte, a, b val) (val, error) {
	if (op == '/' || op == '%') && uint32(b.u) == 0 {
		return val{}, device.Errorf("sim.kernel", device.InvalidValue, "integer division by zero")
	}
	if m.signed {
		x, y := int32(uint32(a.u)), int32(uint32(b.u))
		var r int32
		switch op {
		case '+':
			r = x + y
		case '-':
			r = x - y
		case '*':
			r = x * y
		case '/':
			r = x / y
		case '%':
			r = x % y
		default:
			return val{}, device.Errorf("sim.kernel", device.Unsupported, "operator %q", string(op))
		}
		return val{u: uint64(uint32(r))}, nil
	}
	x, y := uint32(a.u), uint32(b.u)
	var r uint32
	switch op {
	case '+':
		r = x + y
	case '-':
		r = x - y
	case '*':
		r = x * y
	case '/':
		r = x / y
	case '%':
		r = x % y
	default:
		return val{}, device.Errorf("sim.kernel", device.Unsupported, "operator %q", string(op))
	}
	return val{u: uint64(r)}, nil
}

func (m intMachine) call(name string, args []val) (val, error) {
	if m.signed {
		x := int32(uint32(args[0].u))
		switch name {
		case "abs":
			if x < 0 {
				x = -x
			}
			return val{u: uint64(uint32(x))}, nil
		case "min", "max":
			y := int32(uint32(args[1].u))
			if (name == "min") == (x < y) {
				return val{u: uint64(uint32(x))}, nil
			}
			return val{u: uint64(uint32(y))}, nil
		case "i32", "u32":
			return args[0], nil
		case "f32", "f64":
			return val{f: float64(x)}, nil
		}
	} else {
		x := uint32(args[0].u)
		switch name {
		case "abs", "i32", "u32":
			return args[0], nil
		case "min", "max":
			y := uint32(args[1].u)
			if (name == "min") == (x < y) {
				return val{u: uint64(x)}, nil
			}
			return val{u: uint64(y)}, nil
		case "f32", "f64":
			return val{f: float64(x)}, nil
		}
	}
	return val{}, device.Errorf("sim.kernel", device.Unsupported, "function %q for integer kernel", name)
}
