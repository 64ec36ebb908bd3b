package sim

import (
	"fmt"
	"strconv"
	"strings"
)

// Scalar-expression parser for kernel loop bodies and user-function returns.
// Grammar, in precedence order:
//
//	expr    := term  (('+'|'-') term)*
//	term    := unary (('*'|'/'|'%') unary)*
//	unary   := '-' unary | primary
//	primary := number | ident '(' args ')' | ident '[' 'idx' ']'
//	         | 'params' '.' ident | ident | '(' expr ')'

type node interface{}

type litNode struct {
	f     float64
	i     uint64
	isInt bool
}

// loadNode reads a storage array at the loop index.
type loadNode struct{ name string }

// paramNode reads a uniform Params field.
type paramNode struct{ name string }

// varNode is a user-function parameter reference.
type varNode struct{ name string }

type unNode struct{ x node }

type binNode struct {
	op   byte
	l, r node
}

type callNode struct {
	name string
	args []node
}

type token struct {
	kind byte // 'i' ident, 'n' number, or the literal character
	text string
}

func tokenize(s string) ([]token, error) {
	var toks []token
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case strings.IndexByte("+-*/%(),[]", c) >= 0:
			toks = append(toks, token{kind: c, text: string(c)})
			i++
		case c >= '0' && c <= '9':
			j := i
			for j < len(s) && (s[j] >= '0' && s[j] <= '9' || s[j] == '.' || s[j] == 'e' ||
				s[j] == 'E' || (s[j] == '-' && j > i && (s[j-1] == 'e' || s[j-1] == 'E'))) {
				j++
			}
			toks = append(toks, token{kind: 'n', text: s[i:j]})
			i = j
		case isIdentByte(c):
			j := i
			for j < len(s) && (isIdentByte(s[j]) || s[j] >= '0' && s[j] <= '9' || s[j] == '.') {
				j++
			}
			toks = append(toks, token{kind: 'i', text: s[i:j]})
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q in expression", c)
		}
	}
	return toks, nil
}

func isIdentByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_'
}

type parser struct {
	toks []token
	pos  int
}

func parseExpr(s string) (node, error) {
	toks, err := tokenize(s)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	n, err := p.expr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.toks) {
		return nil, fmt.Errorf("trailing tokens after expression: %q", p.toks[p.pos].text)
	}
	return n, nil
}

func (p *parser) peek() (token, bool) {
	if p.pos < len(p.toks) {
		return p.toks[p.pos], true
	}
	return token{}, false
}

func (p *parser) expect(kind byte) error {
	t, ok := p.peek()
	if !ok || t.kind != kind {
		return fmt.Errorf("expected %q, got %q", string(kind), t.text)
	}
	p.pos++
	return nil
}

func (p *parser) expr() (node, error) {
	left, err := p.term()
	if err != nil {
		return nil, err
	}
	for {
		t, ok := p.peek()
		if !ok || (t.kind != '+' && t.kind != '-') {
			return left, nil
		}
		p.pos++
		right, err := p.term()
		if err != nil {
			return nil, err
		}
		left = binNode{op: t.kind, l: left, r: right}
	}
}

func (p *parser) term() (node, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	for {
		t, ok := p.peek()
		if !ok || (t.kind != '*' && t.kind != '/' && t.kind != '%') {
			return left, nil
		}
		p.pos++
		right, err := p.unary()
		if err != nil {
			return nil, err
		}
		left = binNode{op: t.kind, l: left, r: right}
	}
}

func (p *parser) unary() (node, error) {
	if t, ok := p.peek(); ok && t.kind == '-' {
		p.pos++
		x, err := p.unary()
		if err != nil {
			return nil, err
		}
		return unNode{x: x}, nil
	}
	return p.primary()
}

func (p *parser) primary() (node, error) {
	t, ok := p.peek()
	if !ok {
		return nil, fmt.Errorf("unexpected end of expression")
	}
	switch t.kind {
	case '(':
		p.pos++
		n, err := p.expr()
		if err != nil {
			return nil, err
		}
		return n, p.expect(')')

	case 'n':
		p.pos++
		text := strings.TrimSuffix(strings.TrimSuffix(t.text, "u"), "f")
		if !strings.ContainsAny(text, ".eE") {
			i, err := strconv.ParseUint(text, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("bad integer literal %q", t.text)
			}
			return litNode{i: i, f: float64(i), isInt: true}, nil
		}
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, fmt.Errorf("bad float literal %q", t.text)
		}
		return litNode{f: f}, nil

	case 'i':
		p.pos++
		name := t.text
		if after, ok := strings.CutPrefix(name, "params."); ok {
			return paramNode{name: after}, nil
		}
		next, ok := p.peek()
		switch {
		case ok && next.kind == '(':
			p.pos++
			var args []node
			for {
				if t, ok := p.peek(); ok && t.kind == ')' && len(args) == 0 {
					break
				}
				a, err := p.expr()
				if err != nil {
					return nil, err
				}
				args = append(args, a)
				if t, ok := p.peek(); ok && t.kind == ',' {
					p.pos++
					continue
				}
				break
			}
			return callNode{name: name, args: args}, p.expect(')')
		case ok && next.kind == '[':
			p.pos++
			if t, ok := p.peek(); !ok || t.kind != 'i' || t.text != "idx" {
				return nil, fmt.Errorf("array %q may only be indexed by idx", name)
			}
			p.pos++
			return loadNode{name: name}, p.expect(']')
		default:
			return varNode{name: name}, nil
		}
	}
	return nil, fmt.Errorf("unexpected token %q", t.text)
}

// checkBuiltin validates a call that does not resolve to a user function.
// Conversions work for every element type; transcendental functions only for
// floating-point kernels.
func checkBuiltin(name string, nargs int, elem elemType) error {
	arity, ok := builtinArity[name]
	if !ok {
		return fmt.Errorf("unknown function %q", name)
	}
	if nargs != arity {
		return fmt.Errorf("function %q wants %d args, got %d", name, arity, nargs)
	}
	if elem == tI32 || elem == tU32 {
		switch name {
		case "abs", "min", "max", "i32", "u32", "f32", "f64":
			return nil
		}
		return fmt.Errorf("function %q is not defined for integer kernels", name)
	}
	return nil
}

var builtinArity = map[string]int{
	"sqrt": 1, "abs": 1, "exp": 1, "log": 1, "sin": 1, "cos": 1,
	"pow": 2, "min": 2, "max": 2,
	"f16": 1, "f32": 1, "f64": 1, "i32": 1, "u32": 1,
}
