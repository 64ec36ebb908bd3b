package sim

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/devec-ml/devec/device"
)

// The sim front end accepts the WGSL subset the kernel generator emits: a
// Params uniform struct, storage-array bindings, single-return user
// functions, and one compute entry point whose body is a grid-stride loop
// around a scalar expression. Anything it cannot accept is a build failure
// with a diagnostic log, the same contract a real compiler gives.

type elemType int

const (
	tU32 elemType = iota
	tI32
	tF16
	tF32
	tF64
)

func (t elemType) size() int {
	switch t {
	case tF16:
		return 2
	case tF64:
		return 8
	default:
		return 4
	}
}

func parseElemType(s string) (elemType, bool) {
	switch s {
	case "u32":
		return tU32, true
	case "i32":
		return tI32, true
	case "f16":
		return tF16, true
	case "f32":
		return tF32, true
	case "f64":
		return tF64, true
	}
	return 0, false
}

type paramField struct {
	name string
	typ  elemType
}

type storageBinding struct {
	name      string
	elem      elemType
	readWrite bool
}

type userFn struct {
	name   string
	params []string
	body   node
}

type program struct {
	kernels map[string]*kern
	source  string
}

func (p *program) Kernel(name string) (device.Kernel, error) {
	k, ok := p.kernels[name]
	if !ok {
		return nil, device.Errorf("sim.Kernel", device.InvalidValue, "no kernel %q in program", name)
	}
	return k, nil
}

func (p *program) Release() {}

type kern struct {
	name      string
	workgroup int
	elem      elemType
	params    []paramField
	storage   []storageBinding
	body      node
	fns       map[string]*userFn
}

func (k *kern) Name() string { return k.name }

func buildErr(source string, line int, format string, args ...any) error {
	return &device.BuildError{
		Log:    fmt.Sprintf("sim:%d: %s", line, fmt.Sprintf(format, args...)),
		Source: source,
	}
}

// parseProgram compiles generated kernel source. Line numbers in diagnostics
// are 1-based.
func parseProgram(source string) (*program, error) {
	k := &kern{fns: make(map[string]*userFn)}
	var (
		lines      = strings.Split(source, "\n")
		inParams   bool
		sawCompute bool
		sawBody    bool
	)
	for i, raw := range lines {
		line := strings.TrimSpace(raw)
		ln := i + 1
		switch {
		case line == "" || strings.HasPrefix(line, "//") || line == "enable f16;":
			// blank, comment, extension enable

		case inParams:
			if line == "}" {
				inParams = false
				continue
			}
			field := strings.TrimSuffix(line, ",")
			name, typName, ok := splitDecl(field)
			if !ok {
				return nil, buildErr(source, ln, "malformed Params field %q", field)
			}
			typ, ok := parseElemType(typName)
			if !ok {
				return nil, buildErr(source, ln, "unsupported Params field type %q", typName)
			}
			k.params = append(k.params, paramField{name: name, typ: typ})

		case strings.HasPrefix(line, "struct Params"):
			inParams = true

		case strings.HasPrefix(line, "@group(0) @binding("):
			if err := parseBinding(k, line); err != nil {
				return nil, buildErr(source, ln, "%v", err)
			}

		case strings.HasPrefix(line, "@compute @workgroup_size("):
			n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(line, "@compute @workgroup_size("), ")"))
			if err != nil || n < 1 {
				return nil, buildErr(source, ln, "bad workgroup size in %q", line)
			}
			k.workgroup = n
			sawCompute = true

		case strings.HasPrefix(line, "fn ") && !sawCompute:
			fn, err := parseUserFn(line)
			if err != nil {
				return nil, buildErr(source, ln, "%v", err)
			}
			k.fns[fn.name] = fn

		case strings.HasPrefix(line, "fn ") && sawCompute:
			open := strings.Index(line, "(")
			if open < 0 {
				return nil, buildErr(source, ln, "malformed entry point %q", line)
			}
			k.name = line[3:open]

		case strings.HasPrefix(line, "res[idx] = "):
			body, err := parseExpr(strings.TrimSuffix(strings.TrimPrefix(line, "res[idx] = "), ";"))
			if err != nil {
				return nil, buildErr(source, ln, "%v", err)
			}
			k.body = body
			sawBody = true

		case strings.HasPrefix(line, "let total") ||
			strings.HasPrefix(line, "for (") || line == "}" || line == "{":
			// loop scaffolding

		default:
			return nil, buildErr(source, ln, "unrecognized statement %q", line)
		}
	}

	if k.name == "" || !sawBody || k.workgroup == 0 {
		return nil, buildErr(source, len(lines), "incomplete kernel (entry=%q body=%v)", k.name, sawBody)
	}
	if len(k.storage) == 0 || !k.storage[0].readWrite || k.storage[0].name != "res" {
		return nil, buildErr(source, len(lines), "binding 1 must be the read_write result array")
	}
	if len(k.params) == 0 || k.params[0].name != "n" || k.params[0].typ != tU32 {
		return nil, buildErr(source, len(lines), "Params must start with n: u32")
	}
	k.elem = k.storage[0].elem
	if err := resolve(k, k.body, nil); err != nil {
		return nil, &device.BuildError{Log: "sim: " + err.Error(), Source: source}
	}
	for _, fn := range k.fns {
		if err := resolve(k, fn.body, fn.params); err != nil {
			return nil, &device.BuildError{Log: "sim: fn " + fn.name + ": " + err.Error(), Source: source}
		}
	}
	return &program{kernels: map[string]*kern{k.name: k}, source: source}, nil
}

// splitDecl splits "name: type" declarations.
func splitDecl(s string) (name, typ string, ok bool) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), true
}

func parseBinding(k *kern, line string) error {
	rest := strings.TrimPrefix(line, "@group(0) @binding(")
	close := strings.Index(rest, ")")
	if close < 0 {
		return fmt.Errorf("malformed binding %q", line)
	}
	rest = strings.TrimSpace(rest[close+1:])

	switch {
	case strings.HasPrefix(rest, "var<uniform>"):
		// the Params block; position is fixed at binding 0
		return nil
	case strings.HasPrefix(rest, "var<storage, read_write>"), strings.HasPrefix(rest, "var<storage, read>"):
		rw := strings.HasPrefix(rest, "var<storage, read_write>")
		decl := strings.TrimSpace(rest[strings.Index(rest, ">")+1:])
		name, typ, ok := splitDecl(strings.TrimSuffix(decl, ";"))
		if !ok || !strings.HasPrefix(typ, "array<") || !strings.HasSuffix(typ, ">") {
			return fmt.Errorf("malformed storage declaration %q", rest)
		}
		elem, ok := parseElemType(strings.TrimSuffix(strings.TrimPrefix(typ, "array<"), ">"))
		if !ok {
			return fmt.Errorf("unsupported array element type in %q", typ)
		}
		k.storage = append(k.storage, storageBinding{name: name, elem: elem, readWrite: rw})
		return nil
	}
	return fmt.Errorf("unsupported binding %q", rest)
}

// parseUserFn accepts the one-line single-return form the generator emits:
// fn name(a: f32, b: f32) -> f32 { return EXPR; }
func parseUserFn(line string) (*userFn, error) {
	open := strings.Index(line, "(")
	closeParen := strings.Index(line, ")")
	retIdx := strings.Index(line, "{ return ")
	if open < 0 || closeParen < open || retIdx < 0 || !strings.HasSuffix(line, "; }") {
		return nil, fmt.Errorf("unsupported function form %q (want single-return)", line)
	}
	fn := &userFn{name: strings.TrimSpace(line[3:open])}
	if args := strings.TrimSpace(line[open+1 : closeParen]); args != "" {
		for _, p := range strings.Split(args, ",") {
			name, _, ok := splitDecl(strings.TrimSpace(p))
			if !ok {
				return nil, fmt.Errorf("malformed parameter %q in fn %s", p, fn.name)
			}
			fn.params = append(fn.params, name)
		}
	}
	body, err := parseExpr(strings.TrimSuffix(line[retIdx+len("{ return "):], "; }"))
	if err != nil {
		return nil, fmt.Errorf("fn %s: %v", fn.name, err)
	}
	fn.body = body
	return fn, nil
}

// resolve checks that every reference in an expression tree exists and that
// called functions are known and usable for the kernel's element type.
// locals are the parameter names in scope inside a user function body.
func resolve(k *kern, n node, locals []string) error {
	switch n := n.(type) {
	case litNode:
		return nil
	case loadNode:
		for _, s := range k.storage {
			if s.name == n.name {
				return nil
			}
		}
		return fmt.Errorf("unknown array %q", n.name)
	case paramNode:
		for _, p := range k.params {
			if p.name == n.name {
				return nil
			}
		}
		return fmt.Errorf("unknown uniform field %q", n.name)
	case varNode:
		for _, l := range locals {
			if l == n.name {
				return nil
			}
		}
		return fmt.Errorf("unknown identifier %q", n.name)
	case unNode:
		return resolve(k, n.x, locals)
	case binNode:
		if err := resolve(k, n.l, locals); err != nil {
			return err
		}
		return resolve(k, n.r, locals)
	case callNode:
		if fn, ok := k.fns[n.name]; ok {
			if len(fn.params) != len(n.args) {
				return fmt.Errorf("fn %s wants %d args, got %d", n.name, len(fn.params), len(n.args))
			}
		} else if err := checkBuiltin(n.name, len(n.args), k.elem); err != nil {
			return err
		}
		for _, a := range n.args {
			if err := resolve(k, a, locals); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("unhandled node %T", n)
}
