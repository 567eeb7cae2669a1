package format

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

// Expr is a parsed expression. Expressions appear inside template
// placeholders, in conditional branches, and as the body of composite
// modules.
type Expr struct {
	root node
	refs []string
}

// ParseExpr parses an expression string. A parse failure is a configuration
// error; expressions are never parsed at render time.
func ParseExpr(src string) (*Expr, error) {
	p := &exprParser{src: src}
	p.next()
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokEOF {
		return nil, fmt.Errorf("unexpected %q at offset %d in %q", p.tok.text, p.tok.pos, src)
	}
	e := &Expr{root: root}
	root.collectRefs(&e.refs)
	return e, nil
}

// Eval evaluates the expression against env. Unknown variables resolve to
// empty text; evaluation cannot fail.
func (e *Expr) Eval(env Env) Value {
	return e.root.eval(env)
}

// Refs returns the module names the expression references, deduplicated in
// first-seen order.
func (e *Expr) Refs() []string {
	return e.refs
}

type node interface {
	eval(env Env) Value
	collectRefs(out *[]string)
}

type litNode struct{ v Value }

func (n litNode) eval(Env) Value           { return n.v }
func (n litNode) collectRefs(out *[]string) {}

// varNode is a reference to a module value, optionally narrowed to a field.
type varNode struct {
	name  string
	field string
}

func (n varNode) eval(env Env) Value {
	v, ok := env.Lookup(n.name)
	if !ok {
		return Text("")
	}
	if n.field != "" {
		return v.Field(n.field)
	}
	return v
}

func (n varNode) collectRefs(out *[]string) {
	for _, r := range *out {
		if r == n.name {
			return
		}
	}
	*out = append(*out, n.name)
}

type unaryNode struct {
	op   string
	expr node
}

func (n unaryNode) eval(env Env) Value {
	v := n.expr.eval(env)
	switch n.op {
	case "!":
		return Boolean(!v.Truthy())
	case "-":
		f, _ := v.Float()
		return Number(-f)
	}
	return v
}

func (n unaryNode) collectRefs(out *[]string) { n.expr.collectRefs(out) }

type binaryNode struct {
	op   string
	lhs  node
	rhs  node
}

func (n binaryNode) eval(env Env) Value {
	switch n.op {
	case "&&":
		l := n.lhs.eval(env)
		if !l.Truthy() {
			return l
		}
		return n.rhs.eval(env)
	case "||":
		l := n.lhs.eval(env)
		if l.Truthy() {
			return l
		}
		return n.rhs.eval(env)
	}

	l := n.lhs.eval(env)
	r := n.rhs.eval(env)
	switch n.op {
	case "+", "-", "*", "/", "%":
		lf, _ := l.Float()
		rf, _ := r.Float()
		switch n.op {
		case "+":
			return Number(lf + rf)
		case "-":
			return Number(lf - rf)
		case "*":
			return Number(lf * rf)
		case "/":
			if rf == 0 {
				return Number(0)
			}
			return Number(lf / rf)
		case "%":
			if rf == 0 {
				return Number(0)
			}
			li, ri := int64(lf), int64(rf)
			return Number(float64(li % ri))
		}
	case "<", "<=", ">", ">=", "==", "!=":
		return Boolean(compare(l, r, n.op))
	}
	return Text("")
}

func (n binaryNode) collectRefs(out *[]string) {
	n.lhs.collectRefs(out)
	n.rhs.collectRefs(out)
}

// compare orders two values numerically when both sides parse as numbers,
// falling back to string comparison.
func compare(l, r Value, op string) bool {
	lf, lok := l.Float()
	rf, rok := r.Float()
	if lok && rok {
		switch op {
		case "<":
			return lf < rf
		case "<=":
			return lf <= rf
		case ">":
			return lf > rf
		case ">=":
			return lf >= rf
		case "==":
			return lf == rf
		case "!=":
			return lf != rf
		}
	}
	ls, rs := l.String(), r.String()
	switch op {
	case "<":
		return ls < rs
	case "<=":
		return ls <= rs
	case ">":
		return ls > rs
	case ">=":
		return ls >= rs
	case "==":
		return ls == rs
	case "!=":
		return ls != rs
	}
	return false
}

type callNode struct {
	fn   string
	args []node
}

func (n callNode) eval(env Env) Value {
	args := make([]Value, len(n.args))
	for i, a := range n.args {
		args[i] = a.eval(env)
	}
	return callBuiltin(n.fn, args)
}

func (n callNode) collectRefs(out *[]string) {
	for _, a := range n.args {
		a.collectRefs(out)
	}
}

// builtins is the closed set of template functions. All are pure.
var builtins = map[string]func(args []Value) Value{
	"bytes": func(args []Value) Value {
		f, _ := arg(args, 0).Float()
		return Text(humanize.Bytes(uint64(f)))
	},
	"si": func(args []Value) Value {
		f, _ := arg(args, 0).Float()
		return Text(strings.TrimSpace(humanize.SI(f, "")))
	},
	"comma": func(args []Value) Value {
		f, _ := arg(args, 0).Float()
		return Text(humanize.Commaf(f))
	},
	"upper": func(args []Value) Value {
		return Text(strings.ToUpper(arg(args, 0).String()))
	},
	"lower": func(args []Value) Value {
		return Text(strings.ToLower(arg(args, 0).String()))
	},
	"round": func(args []Value) Value {
		f, _ := arg(args, 0).Float()
		prec := 0
		if p, ok := arg(args, 1).Float(); ok {
			prec = int(p)
		}
		return Text(strconv.FormatFloat(f, 'f', prec, 64))
	},
	"pad": func(args []Value) Value {
		s := arg(args, 0).String()
		w, _ := arg(args, 1).Float()
		for len(s) < int(w) {
			s = "0" + s
		}
		return Text(s)
	},
}

func arg(args []Value, i int) Value {
	if i < len(args) {
		return args[i]
	}
	return Value{}
}

func callBuiltin(name string, args []Value) Value {
	if fn, ok := builtins[name]; ok {
		return fn(args)
	}
	return Text("")
}

// IsBuiltin reports whether name is a known template function. Used by the
// parser so unknown functions are rejected at configuration time.
func IsBuiltin(name string) bool {
	_, ok := builtins[name]
	return ok
}

type tokKind int

const (
	tokEOF tokKind = iota
	tokIdent
	tokNumber
	tokString
	tokOp
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokKind
	text string
	pos  int
}

type exprParser struct {
	src string
	pos int
	tok token
}

func (p *exprParser) next() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t') {
		p.pos++
	}
	start := p.pos
	if p.pos >= len(p.src) {
		p.tok = token{kind: tokEOF, pos: start}
		return
	}
	c := p.src[p.pos]
	switch {
	case isIdentStart(c):
		for p.pos < len(p.src) && isIdentPart(p.src[p.pos]) {
			p.pos++
		}
		p.tok = token{kind: tokIdent, text: p.src[start:p.pos], pos: start}
	case c >= '0' && c <= '9':
		for p.pos < len(p.src) && (p.src[p.pos] >= '0' && p.src[p.pos] <= '9' || p.src[p.pos] == '.') {
			p.pos++
		}
		p.tok = token{kind: tokNumber, text: p.src[start:p.pos], pos: start}
	case c == '\'':
		p.pos++
		for p.pos < len(p.src) && p.src[p.pos] != '\'' {
			p.pos++
		}
		if p.pos < len(p.src) {
			p.tok = token{kind: tokString, text: p.src[start+1 : p.pos], pos: start}
			p.pos++
		} else {
			// unterminated; surfaced as a parse error by the caller
			p.tok = token{kind: tokOp, text: "'", pos: start}
		}
	case c == '(':
		p.pos++
		p.tok = token{kind: tokLParen, text: "(", pos: start}
	case c == ')':
		p.pos++
		p.tok = token{kind: tokRParen, text: ")", pos: start}
	case c == ',':
		p.pos++
		p.tok = token{kind: tokComma, text: ",", pos: start}
	default:
		for _, op := range []string{"<=", ">=", "==", "!=", "&&", "||"} {
			if strings.HasPrefix(p.src[p.pos:], op) {
				p.pos += 2
				p.tok = token{kind: tokOp, text: op, pos: start}
				return
			}
		}
		p.pos++
		p.tok = token{kind: tokOp, text: string(c), pos: start}
	}
}

func isIdentStart(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || c >= '0' && c <= '9'
}

func (p *exprParser) parseOr() (node, error) {
	lhs, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokOp && p.tok.text == "||" {
		p.next()
		rhs, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		lhs = binaryNode{op: "||", lhs: lhs, rhs: rhs}
	}
	return lhs, nil
}

func (p *exprParser) parseAnd() (node, error) {
	lhs, err := p.parseCmp()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokOp && p.tok.text == "&&" {
		p.next()
		rhs, err := p.parseCmp()
		if err != nil {
			return nil, err
		}
		lhs = binaryNode{op: "&&", lhs: lhs, rhs: rhs}
	}
	return lhs, nil
}

func (p *exprParser) parseCmp() (node, error) {
	lhs, err := p.parseAdd()
	if err != nil {
		return nil, err
	}
	if p.tok.kind == tokOp {
		switch p.tok.text {
		case "<", "<=", ">", ">=", "==", "!=":
			op := p.tok.text
			p.next()
			rhs, err := p.parseAdd()
			if err != nil {
				return nil, err
			}
			return binaryNode{op: op, lhs: lhs, rhs: rhs}, nil
		}
	}
	return lhs, nil
}

func (p *exprParser) parseAdd() (node, error) {
	lhs, err := p.parseMul()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokOp && (p.tok.text == "+" || p.tok.text == "-") {
		op := p.tok.text
		p.next()
		rhs, err := p.parseMul()
		if err != nil {
			return nil, err
		}
		lhs = binaryNode{op: op, lhs: lhs, rhs: rhs}
	}
	return lhs, nil
}

func (p *exprParser) parseMul() (node, error) {
	lhs, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokOp && (p.tok.text == "*" || p.tok.text == "/" || p.tok.text == "%") {
		op := p.tok.text
		p.next()
		rhs, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		lhs = binaryNode{op: op, lhs: lhs, rhs: rhs}
	}
	return lhs, nil
}

func (p *exprParser) parseUnary() (node, error) {
	if p.tok.kind == tokOp && (p.tok.text == "!" || p.tok.text == "-") {
		op := p.tok.text
		p.next()
		expr, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return unaryNode{op: op, expr: expr}, nil
	}
	return p.parsePrimary()
}

func (p *exprParser) parsePrimary() (node, error) {
	switch p.tok.kind {
	case tokNumber:
		f, err := strconv.ParseFloat(p.tok.text, 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q at offset %d", p.tok.text, p.tok.pos)
		}
		p.next()
		return litNode{v: Number(f)}, nil
	case tokString:
		s := p.tok.text
		p.next()
		return litNode{v: Text(s)}, nil
	case tokLParen:
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.tok.kind != tokRParen {
			return nil, fmt.Errorf("missing ')' at offset %d", p.tok.pos)
		}
		p.next()
		return inner, nil
	case tokIdent:
		name := p.tok.text
		p.next()
		if p.tok.kind == tokLParen {
			if !IsBuiltin(name) {
				return nil, fmt.Errorf("unknown function %q", name)
			}
			p.next()
			var args []node
			for p.tok.kind != tokRParen {
				a, err := p.parseOr()
				if err != nil {
					return nil, err
				}
				args = append(args, a)
				if p.tok.kind == tokComma {
					p.next()
					continue
				}
				break
			}
			if p.tok.kind != tokRParen {
				return nil, fmt.Errorf("missing ')' after %s(...)", name)
			}
			p.next()
			return callNode{fn: name, args: args}, nil
		}
		switch name {
		case "true":
			return litNode{v: Boolean(true)}, nil
		case "false":
			return litNode{v: Boolean(false)}, nil
		}
		v := varNode{name: name}
		if p.tok.kind == tokOp && p.tok.text == "." {
			p.next()
			if p.tok.kind != tokIdent {
				return nil, fmt.Errorf("expected field name after %q.", name)
			}
			v.field = p.tok.text
			p.next()
		}
		return v, nil
	}
	return nil, fmt.Errorf("unexpected %q at offset %d", p.tok.text, p.tok.pos)
}
