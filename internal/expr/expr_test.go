package expr

import "testing"

func vecT() Node    { return &VecTerm{} }
func scalarT() Node { return &ScalarTerm{Bits: []byte{0, 0, 0, 0}} }

func TestMangleDistinguishesOperators(t *testing.T) {
	add := &Binary{Op: Add, L: vecT(), R: vecT()}
	mul := &Binary{Op: Mul, L: vecT(), R: vecT()}
	if Mangle(add) == Mangle(mul) {
		t.Fatalf("add and mul mangle to the same name %q", Mangle(add))
	}
	if got, want := Mangle(add), "add_v_v"; got != want {
		t.Errorf("Mangle(a+b) = %q, want %q", got, want)
	}
}

func TestMangleIgnoresTerminalIdentity(t *testing.T) {
	a := &Binary{Op: Add, L: &VecTerm{Ref: "x"}, R: &VecTerm{Ref: "y"}}
	b := &Binary{Op: Add, L: &VecTerm{Ref: "p"}, R: &VecTerm{Ref: "q"}}
	if Mangle(a) != Mangle(b) {
		t.Errorf("same shape over different vectors mangles differently: %q vs %q", Mangle(a), Mangle(b))
	}
}

func TestMangleNesting(t *testing.T) {
	// (a + s) * b vs a + (s * b): same tags, different nesting.
	left := &Binary{Op: Mul, L: &Binary{Op: Add, L: vecT(), R: scalarT()}, R: vecT()}
	right := &Binary{Op: Add, L: vecT(), R: &Binary{Op: Mul, L: scalarT(), R: vecT()}}
	if Mangle(left) == Mangle(right) {
		t.Errorf("nesting not encoded: both mangle to %q", Mangle(left))
	}
}

func TestMangleCalls(t *testing.T) {
	fn := &Func{Name: "sqr", Params: []string{"x"}, Body: "x * x"}
	n := &Call{Fn: fn, Args: []Node{vecT()}}
	if got, want := Mangle(n), "fn1_sqr_v"; got != want {
		t.Errorf("Mangle(call) = %q, want %q", got, want)
	}
}

func TestTerminalsOrderAndRepeats(t *testing.T) {
	v := &VecTerm{Ref: "a"}
	s := scalarT()
	// v * s + v: pre-order is v, s, v with the shared vector listed twice.
	root := &Binary{Op: Add, L: &Binary{Op: Mul, L: v, R: s}, R: v}
	terms := Terminals(root)
	if len(terms) != 3 {
		t.Fatalf("got %d terminals, want 3", len(terms))
	}
	if terms[0] != v || terms[2] != v {
		t.Errorf("vector occurrences not in pre-order positions 0 and 2")
	}
	if _, ok := terms[1].(*ScalarTerm); !ok {
		t.Errorf("terminal 1 is %T, want *ScalarTerm", terms[1])
	}
}

func TestUserFuncsDedup(t *testing.T) {
	fn := &Func{Name: "sqr", Params: []string{"x"}, Body: "x * x"}
	builtin := &Func{Name: "sqrt"}
	root := &Binary{
		Op: Add,
		L:  &Call{Fn: fn, Args: []Node{vecT()}},
		R: &Binary{Op: Mul,
			L: &Call{Fn: fn, Args: []Node{vecT()}},
			R: &Call{Fn: builtin, Args: []Node{vecT()}},
		},
	}
	fns := UserFuncs(root)
	if len(fns) != 1 || fns[0] != fn {
		t.Fatalf("UserFuncs = %v, want exactly the one user function", fns)
	}
}

func TestTypeProperties(t *testing.T) {
	tests := []struct {
		typ   Type
		wgsl  string
		size  int
		float bool
	}{
		{F16, "f16", 2, true},
		{F32, "f32", 4, true},
		{F64, "f64", 8, true},
		{I32, "i32", 4, false},
		{U32, "u32", 4, false},
	}
	for _, tt := range tests {
		if got := tt.typ.WGSL(); got != tt.wgsl {
			t.Errorf("%v.WGSL() = %q, want %q", tt.typ, got, tt.wgsl)
		}
		if got := tt.typ.Size(); got != tt.size {
			t.Errorf("%s.Size() = %d, want %d", tt.wgsl, got, tt.size)
		}
		if got := tt.typ.Float(); got != tt.float {
			t.Errorf("%s.Float() = %v, want %v", tt.wgsl, got, tt.float)
		}
	}
}
