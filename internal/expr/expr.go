// Package expr holds the tagged-variant expression tree that vector
// arithmetic builds lazily. The tree carries no device state: vector
// terminals reference their vector opaquely and scalar terminals carry the
// encoded value. The *shape* of a tree (tags and terminal kinds only) is what
// identifies a compiled kernel; two trees over different vectors but the same
// syntax mangle to the same name.
package expr

import (
	"fmt"
	"strings"
)

// Type is the element type a kernel operates on.
type Type int

const (
	F16 Type = iota
	F32
	F64
	I32
	U32
)

// WGSL returns the WGSL scalar type name.
func (t Type) WGSL() string {
	switch t {
	case F16:
		return "f16"
	case F32:
		return "f32"
	case F64:
		return "f64"
	case I32:
		return "i32"
	case U32:
		return "u32"
	}
	return "void"
}

// Size returns the element size in bytes as stored in device buffers.
func (t Type) Size() int {
	switch t {
	case F16:
		return 2
	case F64:
		return 8
	default:
		return 4
	}
}

// Float reports whether the type is a floating-point type.
func (t Type) Float() bool { return t == F16 || t == F32 || t == F64 }

// Op tags unary and binary nodes.
type Op int

const (
	Add Op = iota
	Sub
	Mul
	Div
	Mod
	Neg
)

// Token returns the WGSL operator token.
func (o Op) Token() string {
	switch o {
	case Add:
		return "+"
	case Sub:
		return "-"
	case Mul:
		return "*"
	case Div:
		return "/"
	case Mod:
		return "%"
	case Neg:
		return "-"
	}
	return "?"
}

func (o Op) tag() string {
	switch o {
	case Add:
		return "add"
	case Sub:
		return "sub"
	case Mul:
		return "mul"
	case Div:
		return "div"
	case Mod:
		return "mod"
	case Neg:
		return "neg"
	}
	return "op"
}

// Node is one vertex of an expression tree.
type Node interface{ isNode() }

// VecTerm references a logical vector. Ref is opaque to this package; the
// vec package stores the *Vector there and asserts it back during argument
// binding.
type VecTerm struct {
	Ref any
}

// ScalarTerm carries a scalar constant, already encoded the way it will be
// passed as a kernel argument (little-endian, f16 promoted to f32 bits).
type ScalarTerm struct {
	Bits []byte
}

// Unary applies Op to one child.
type Unary struct {
	Op Op
	X  Node
}

// Binary applies Op to two children.
type Binary struct {
	Op   Op
	L, R Node
}

// Call applies a function to its arguments. Fn.Body == "" marks a builtin
// that the kernel language provides; user functions get declared once in the
// generated source.
type Call struct {
	Fn   *Func
	Args []Node
}

// Func is a scalar function usable inside expressions. For user functions
// Body is a single expression over Params, e.g. "a * b + 1.0".
type Func struct {
	Name   string
	Params []string
	Body   string
}

func (*VecTerm) isNode()    {}
func (*ScalarTerm) isNode() {}
func (*Unary) isNode()      {}
func (*Binary) isNode()     {}
func (*Call) isNode()       {}

// Mangle derives the shape identifier of a tree: a prefix walk over tags and
// terminal kinds, independent of which vectors or scalar values are
// referenced. Fixed operator arity keeps the encoding unambiguous; calls
// embed the function name and argument count.
func Mangle(n Node) string {
	var sb strings.Builder
	mangle(&sb, n)
	return sb.String()
}

func mangle(sb *strings.Builder, n Node) {
	switch n := n.(type) {
	case *VecTerm:
		sb.WriteString("v")
	case *ScalarTerm:
		sb.WriteString("s")
	case *Unary:
		sb.WriteString(n.Op.tag())
		sb.WriteString("_")
		mangle(sb, n.X)
	case *Binary:
		sb.WriteString(n.Op.tag())
		sb.WriteString("_")
		mangle(sb, n.L)
		sb.WriteString("_")
		mangle(sb, n.R)
	case *Call:
		fmt.Fprintf(sb, "fn%d_%s", len(n.Args), n.Fn.Name)
		for _, a := range n.Args {
			sb.WriteString("_")
			mangle(sb, a)
		}
	}
}

// Terminals returns every terminal occurrence in pre-order traversal. A
// vector referenced twice appears twice; argument binding and parameter
// declaration both follow this order.
func Terminals(n Node) []Node {
	var out []Node
	walk(n, func(t Node) {
		switch t.(type) {
		case *VecTerm, *ScalarTerm:
			out = append(out, t)
		}
	})
	return out
}

// UserFuncs returns the user-defined functions referenced by the tree, each
// once, in first-encounter order.
func UserFuncs(n Node) []*Func {
	var out []*Func
	seen := make(map[string]bool)
	walk(n, func(t Node) {
		if c, ok := t.(*Call); ok && c.Fn.Body != "" && !seen[c.Fn.Name] {
			seen[c.Fn.Name] = true
			out = append(out, c.Fn)
		}
	})
	return out
}

func walk(n Node, visit func(Node)) {
	visit(n)
	switch n := n.(type) {
	case *Unary:
		walk(n.X, visit)
	case *Binary:
		walk(n.L, visit)
		walk(n.R, visit)
	case *Call:
		for _, a := range n.Args {
			walk(a, visit)
		}
	}
}
