// Copyright 2025 The Devec Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package vec

import "github.com/devec-ml/devec/internal/expr"

// Expr is a lazily built arithmetic expression over vectors of T and scalar
// constants. Building an expression performs no computation and touches no
// device; evaluation happens when the expression is assigned to a vector.
//
// Two expressions with the same operators, terminal kinds and nesting share
// one compiled kernel per context, regardless of which vectors or scalar
// values they reference.
type Expr[T Element] struct {
	node expr.Node
}

// Expr wraps the vector as an expression terminal.
func (v *Vector[T]) Expr() Expr[T] {
	return Expr[T]{node: &expr.VecTerm{Ref: v}}
}

// Const wraps a scalar constant as an expression terminal.
func Const[T Element](c T) Expr[T] {
	return Expr[T]{node: &expr.ScalarTerm{Bits: encodeScalar(c)}}
}

func binary[T Element](op expr.Op, a, b Expr[T]) Expr[T] {
	return Expr[T]{node: &expr.Binary{Op: op, L: a.node, R: b.node}}
}

// Add builds a + b.
func Add[T Element](a, b Expr[T]) Expr[T] { return binary(expr.Add, a, b) }

// Sub builds a - b.
func Sub[T Element](a, b Expr[T]) Expr[T] { return binary(expr.Sub, a, b) }

// Mul builds a * b.
func Mul[T Element](a, b Expr[T]) Expr[T] { return binary(expr.Mul, a, b) }

// Div builds a / b.
func Div[T Element](a, b Expr[T]) Expr[T] { return binary(expr.Div, a, b) }

// Mod builds a % b.
func Mod[T Element](a, b Expr[T]) Expr[T] { return binary(expr.Mod, a, b) }

// Neg builds -a.
func Neg[T Element](a Expr[T]) Expr[T] {
	return Expr[T]{node: &expr.Unary{Op: expr.Neg, X: a.node}}
}

// Func is a scalar function usable inside expressions. User functions carry
// a single-expression body over their parameters and are declared exactly
// once in each generated kernel that references them.
type Func struct {
	fn *expr.Func
}

// NewFunc defines a user function. Body is a single scalar expression over
// the parameter names, written in the kernel language, e.g.
//
//	squared := vec.NewFunc("squared", []string{"x"}, "x * x")
func NewFunc(name string, params []string, body string) *Func {
	return &Func{fn: &expr.Func{Name: name, Params: params, Body: body}}
}

func builtin1[T Element](name string, x Expr[T]) Expr[T] {
	return Expr[T]{node: &expr.Call{Fn: &expr.Func{Name: name}, Args: []expr.Node{x.node}}}
}

func builtin2[T Element](name string, a, b Expr[T]) Expr[T] {
	return Expr[T]{node: &expr.Call{Fn: &expr.Func{Name: name}, Args: []expr.Node{a.node, b.node}}}
}

// Sqrt builds sqrt(x). Floating-point kernels only.
func Sqrt[T Element](x Expr[T]) Expr[T] { return builtin1("sqrt", x) }

// Abs builds abs(x).
func Abs[T Element](x Expr[T]) Expr[T] { return builtin1("abs", x) }

// Exp builds exp(x). Floating-point kernels only.
func Exp[T Element](x Expr[T]) Expr[T] { return builtin1("exp", x) }

// Log builds log(x). Floating-point kernels only.
func Log[T Element](x Expr[T]) Expr[T] { return builtin1("log", x) }

// Sin builds sin(x). Floating-point kernels only.
func Sin[T Element](x Expr[T]) Expr[T] { return builtin1("sin", x) }

// Cos builds cos(x). Floating-point kernels only.
func Cos[T Element](x Expr[T]) Expr[T] { return builtin1("cos", x) }

// Pow builds pow(a, b). Floating-point kernels only.
func Pow[T Element](a, b Expr[T]) Expr[T] { return builtin2("pow", a, b) }

// Min builds min(a, b).
func Min[T Element](a, b Expr[T]) Expr[T] { return builtin2("min", a, b) }

// Max builds max(a, b).
func Max[T Element](a, b Expr[T]) Expr[T] { return builtin2("max", a, b) }

// Apply calls a user function on the given arguments.
func Apply[T Element](fn *Func, args ...Expr[T]) Expr[T] {
	nodes := make([]expr.Node, len(args))
	for i, a := range args {
		nodes[i] = a.node
	}
	return Expr[T]{node: &expr.Call{Fn: fn.fn, Args: nodes}}
}
