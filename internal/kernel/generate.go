// Package kernel turns expression shapes into WGSL compute kernels and
// memoizes the built result per (context, shape).
package kernel

import (
	"fmt"
	"strings"

	"github.com/devec-ml/devec/internal/expr"
)

// Generate emits the fused kernel for one expression shape: a uniform
// parameter block (element count first, then one field per scalar terminal),
// a read_write output array at binding 1, one read-only input array per
// vector terminal from binding 2 on, any user functions declared exactly
// once, and a grid-stride evaluation loop. The stride form makes the kernel
// correct for any dispatch width, so the same build serves every launch
// geometry the scheduler picks.
//
// The kernel name doubles as the shape identifier used for caching.
func Generate(root expr.Node, t expr.Type, workgroup int) (name, source string) {
	name = fmt.Sprintf("devec_%s_%s", t.WGSL(), expr.Mangle(root))

	// Scalar params are promoted to f32 on the wire; the body re-narrows.
	scalarDecl := t.WGSL()
	if t == expr.F16 {
		scalarDecl = "f32"
	}

	var sb strings.Builder
	sb.WriteString("// generated by devec; do not edit\n")
	if t == expr.F16 {
		sb.WriteString("enable f16;\n")
	}

	for _, fn := range expr.UserFuncs(root) {
		sb.WriteString("fn " + fn.Name + "(")
		for i, p := range fn.Params {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(p + ": " + t.WGSL())
		}
		sb.WriteString(") -> " + t.WGSL() + " { return " + fn.Body + "; }\n")
	}

	terms := expr.Terminals(root)
	sb.WriteString("struct Params {\n    n: u32,\n")
	scalars := 0
	for _, term := range terms {
		if _, ok := term.(*expr.ScalarTerm); ok {
			fmt.Fprintf(&sb, "    s%d: %s,\n", scalars, scalarDecl)
			scalars++
		}
	}
	sb.WriteString("}\n")

	sb.WriteString("@group(0) @binding(0) var<uniform> params: Params;\n")
	fmt.Fprintf(&sb, "@group(0) @binding(1) var<storage, read_write> res: array<%s>;\n", t.WGSL())
	vectors := 0
	for _, term := range terms {
		if _, ok := term.(*expr.VecTerm); ok {
			fmt.Fprintf(&sb, "@group(0) @binding(%d) var<storage, read> v%d: array<%s>;\n", 2+vectors, vectors, t.WGSL())
			vectors++
		}
	}

	fmt.Fprintf(&sb, "@compute @workgroup_size(%d)\n", workgroup)
	fmt.Fprintf(&sb, "fn %s(@builtin(global_invocation_id) gid: vec3<u32>, @builtin(num_workgroups) nwg: vec3<u32>) {\n", name)
	fmt.Fprintf(&sb, "    let total = nwg.x * %du;\n", workgroup)
	sb.WriteString("    for (var idx = gid.x; idx < params.n; idx = idx + total) {\n")
	sb.WriteString("        res[idx] = ")
	r := renderer{scalar: t}
	r.render(&sb, root)
	sb.WriteString(";\n    }\n}\n")

	return name, sb.String()
}

// renderer emits the loop-body expression, numbering terminal occurrences in
// the same traversal order Terminals reports, so generated parameter names
// line up with the argument list the scheduler binds.
type renderer struct {
	scalar          expr.Type
	vecIdx, scalIdx int
}

func (r *renderer) render(sb *strings.Builder, n expr.Node) {
	switch n := n.(type) {
	case *expr.VecTerm:
		fmt.Fprintf(sb, "v%d[idx]", r.vecIdx)
		r.vecIdx++
	case *expr.ScalarTerm:
		if r.scalar == expr.F16 {
			fmt.Fprintf(sb, "f16(params.s%d)", r.scalIdx)
		} else {
			fmt.Fprintf(sb, "params.s%d", r.scalIdx)
		}
		r.scalIdx++
	case *expr.Unary:
		sb.WriteString("(" + n.Op.Token())
		r.render(sb, n.X)
		sb.WriteString(")")
	case *expr.Binary:
		sb.WriteString("(")
		r.render(sb, n.L)
		sb.WriteString(" " + n.Op.Token() + " ")
		r.render(sb, n.R)
		sb.WriteString(")")
	case *expr.Call:
		sb.WriteString(n.Fn.Name + "(")
		for i, a := range n.Args {
			if i > 0 {
				sb.WriteString(", ")
			}
			r.render(sb, a)
		}
		sb.WriteString(")")
	}
}
