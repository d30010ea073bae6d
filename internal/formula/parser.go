// Package formula implements the restricted expression language used by playbook
// metrics: arithmetic, comparisons, AND/OR/NOT, CASE WHEN and the functions
// ABS, NULLIF and LOWER. Formulas are parsed into an AST and interpreted; nothing
// in a formula can reach the host runtime.
package formula

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var (
	ErrSyntax             = errors.New("formula syntax error")
	ErrUnknownFunction    = errors.New("unknown function")
	ErrTooComplex         = errors.New("formula too complex")
	ErrCircularDependency = errors.New("circular dependency")
	ErrUnknownIdentifier  = errors.New("unknown identifier")
	ErrDivisionByZero     = errors.New("division by zero")
	ErrTypeMismatch       = errors.New("type mismatch")
)

// Limits on formula size.
const (
	MaxFormulaLength = 2000
	MaxDepth         = 48
)

// functions maps each whitelisted function to its arity.
var functions = map[string]int{
	"ABS":    1,
	"NULLIF": 2,
	"LOWER":  1,
}

// Expr is a parsed formula.
type Expr struct {
	Root Node
}

// Parse parses src into an Expr.
func Parse(src string) (*Expr, error) {
	if len(src) > MaxFormulaLength {
		return nil, fmt.Errorf("%w: %d characters exceeds %d", ErrTooComplex, len(src), MaxFormulaLength)
	}
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	root, err := p.expr(0)
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, fmt.Errorf("%w: unexpected %q at %d", ErrSyntax, t.text, t.pos)
	}
	return &Expr{Root: root}, nil
}

// MustParse is Parse for static formulas; it panics on error.
func MustParse(src string) *Expr {
	e, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return e
}

func (e *Expr) String() string {
	return e.Root.String()
}

// Identifiers returns the distinct identifiers the formula references, sorted.
func (e *Expr) Identifiers() []string {
	seen := map[string]bool{}
	walk(e.Root, func(n Node) {
		if id, ok := n.(*Ident); ok {
			seen[id.Name] = true
		}
	})
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Rename returns a copy of the formula with identifiers substituted by names.
func (e *Expr) Rename(names map[string]string) *Expr {
	return &Expr{Root: rename(e.Root, names)}
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) isKeyword(kw string) bool {
	t := p.peek()
	return t.kind == tokKeyword && t.text == kw
}

func (p *parser) expectKeyword(kw string) error {
	t := p.next()
	if t.kind != tokKeyword || t.text != kw {
		return fmt.Errorf("%w: expected %s at %d, got %q", ErrSyntax, kw, t.pos, t.text)
	}
	return nil
}

func (p *parser) enter(depth int) error {
	if depth > MaxDepth {
		return fmt.Errorf("%w: nesting deeper than %d", ErrTooComplex, MaxDepth)
	}
	return nil
}

func (p *parser) expr(depth int) (Node, error) {
	return p.or(depth)
}

func (p *parser) or(depth int) (Node, error) {
	l, err := p.and(depth)
	if err != nil {
		return nil, err
	}
	for p.isKeyword("OR") {
		p.next()
		r, err := p.and(depth)
		if err != nil {
			return nil, err
		}
		l = &Binary{Op: "OR", L: l, R: r}
	}
	return l, nil
}

func (p *parser) and(depth int) (Node, error) {
	l, err := p.not(depth)
	if err != nil {
		return nil, err
	}
	for p.isKeyword("AND") {
		p.next()
		r, err := p.not(depth)
		if err != nil {
			return nil, err
		}
		l = &Binary{Op: "AND", L: l, R: r}
	}
	return l, nil
}

func (p *parser) not(depth int) (Node, error) {
	if p.isKeyword("NOT") {
		p.next()
		if err := p.enter(depth + 1); err != nil {
			return nil, err
		}
		x, err := p.not(depth + 1)
		if err != nil {
			return nil, err
		}
		return &Unary{Op: "NOT", X: x}, nil
	}
	return p.comparison(depth)
}

func (p *parser) comparison(depth int) (Node, error) {
	l, err := p.additive(depth)
	if err != nil {
		return nil, err
	}
	t := p.peek()
	if t.kind == tokOp {
		switch t.text {
		case "=", "!=", "<", "<=", ">", ">=":
			p.next()
			r, err := p.additive(depth)
			if err != nil {
				return nil, err
			}
			return &Binary{Op: t.text, L: l, R: r}, nil
		}
	}
	return l, nil
}

func (p *parser) additive(depth int) (Node, error) {
	l, err := p.multiplicative(depth)
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokOp || (t.text != "+" && t.text != "-") {
			return l, nil
		}
		p.next()
		r, err := p.multiplicative(depth)
		if err != nil {
			return nil, err
		}
		l = &Binary{Op: t.text, L: l, R: r}
	}
}

func (p *parser) multiplicative(depth int) (Node, error) {
	l, err := p.unary(depth)
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokOp || (t.text != "*" && t.text != "/" && t.text != "%") {
			return l, nil
		}
		p.next()
		r, err := p.unary(depth)
		if err != nil {
			return nil, err
		}
		l = &Binary{Op: t.text, L: l, R: r}
	}
}

func (p *parser) unary(depth int) (Node, error) {
	t := p.peek()
	if t.kind == tokOp && (t.text == "-" || t.text == "+") {
		p.next()
		if err := p.enter(depth + 1); err != nil {
			return nil, err
		}
		x, err := p.unary(depth + 1)
		if err != nil {
			return nil, err
		}
		if t.text == "+" {
			return x, nil
		}
		return &Unary{Op: "-", X: x}, nil
	}
	return p.primary(depth)
}

func (p *parser) primary(depth int) (Node, error) {
	if err := p.enter(depth + 1); err != nil {
		return nil, err
	}
	t := p.next()
	switch t.kind {
	case tokNumber:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad number %q at %d", ErrSyntax, t.text, t.pos)
		}
		return &Literal{Value: f}, nil
	case tokString:
		return &Literal{Value: t.text}, nil
	case tokKeyword:
		switch t.text {
		case "NULL":
			return &Literal{Value: nil}, nil
		case "TRUE":
			return &Literal{Value: true}, nil
		case "FALSE":
			return &Literal{Value: false}, nil
		case "CASE":
			return p.caseExpr(depth + 1)
		}
	case tokIdent:
		if p.peek().kind == tokLParen {
			return p.call(t, depth+1)
		}
		return &Ident{Name: t.text}, nil
	case tokLParen:
		x, err := p.expr(depth + 1)
		if err != nil {
			return nil, err
		}
		if c := p.next(); c.kind != tokRParen {
			return nil, fmt.Errorf("%w: expected ) at %d", ErrSyntax, c.pos)
		}
		return x, nil
	}
	if t.kind == tokEOF {
		return nil, fmt.Errorf("%w: unexpected end of formula", ErrSyntax)
	}
	return nil, fmt.Errorf("%w: unexpected %q at %d", ErrSyntax, t.text, t.pos)
}

func (p *parser) call(name token, depth int) (Node, error) {
	fn := strings.ToUpper(name.text)
	arity, ok := functions[fn]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, name.text)
	}
	p.next() // (
	var args []Node
	if p.peek().kind != tokRParen {
		for {
			a, err := p.expr(depth)
			if err != nil {
				return nil, err
			}
			args = append(args, a)
			if p.peek().kind != tokComma {
				break
			}
			p.next()
		}
	}
	if c := p.next(); c.kind != tokRParen {
		return nil, fmt.Errorf("%w: expected ) after %s arguments at %d", ErrSyntax, fn, c.pos)
	}
	if len(args) != arity {
		return nil, fmt.Errorf("%w: %s takes %d argument(s), got %d", ErrSyntax, fn, arity, len(args))
	}
	return &Call{Func: fn, Args: args}, nil
}

func (p *parser) caseExpr(depth int) (Node, error) {
	c := &Case{}
	for p.isKeyword("WHEN") {
		p.next()
		cond, err := p.expr(depth)
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("THEN"); err != nil {
			return nil, err
		}
		then, err := p.expr(depth)
		if err != nil {
			return nil, err
		}
		c.Whens = append(c.Whens, When{Cond: cond, Then: then})
	}
	if len(c.Whens) == 0 {
		return nil, fmt.Errorf("%w: CASE without WHEN", ErrSyntax)
	}
	if p.isKeyword("ELSE") {
		p.next()
		e, err := p.expr(depth)
		if err != nil {
			return nil, err
		}
		c.Else = e
	}
	if err := p.expectKeyword("END"); err != nil {
		return nil, err
	}
	return c, nil
}
