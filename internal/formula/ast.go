package formula

import (
	"regexp"
	"strconv"
	"strings"
)

// Node is an expression tree node.
type Node interface {
	String() string
}

// Literal is a number, string, boolean or NULL constant.
type Literal struct {
	Value interface{}
}

// Ident references a column or a previously derived metric.
type Ident struct {
	Name string
}

// Unary is negation or NOT.
type Unary struct {
	Op string
	X  Node
}

// Binary covers arithmetic, comparison and AND/OR.
type Binary struct {
	Op   string
	L, R Node
}

// Call is one of the whitelisted functions.
type Call struct {
	Func string
	Args []Node
}

// When is a single CASE branch.
type When struct {
	Cond, Then Node
}

// Case is CASE WHEN ... THEN ... [ELSE ...] END.
type Case struct {
	Whens []When
	Else  Node
}

var bareIdent = regexp.MustCompile(`^[\p{L}_][\p{L}\p{N}_]*$`)

func (l *Literal) String() string {
	switch v := l.Value.(type) {
	case nil:
		return "NULL"
	case bool:
		if v {
			return "TRUE"
		}
		return "FALSE"
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case string:
		return "'" + strings.ReplaceAll(v, "'", "''") + "'"
	}
	return "NULL"
}

func (i *Ident) String() string {
	if bareIdent.MatchString(i.Name) && !keywords[strings.ToUpper(i.Name)] {
		return i.Name
	}
	return "`" + i.Name + "`"
}

func (u *Unary) String() string {
	if u.Op == "NOT" {
		return "NOT " + u.X.String()
	}
	return u.Op + u.X.String()
}

func (b *Binary) String() string {
	return "(" + b.L.String() + " " + b.Op + " " + b.R.String() + ")"
}

func (c *Call) String() string {
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = a.String()
	}
	return c.Func + "(" + strings.Join(args, ", ") + ")"
}

func (c *Case) String() string {
	var b strings.Builder
	b.WriteString("CASE")
	for _, w := range c.Whens {
		b.WriteString(" WHEN " + w.Cond.String() + " THEN " + w.Then.String())
	}
	if c.Else != nil {
		b.WriteString(" ELSE " + c.Else.String())
	}
	b.WriteString(" END")
	return b.String()
}

// walk visits every node depth-first.
func walk(n Node, fn func(Node)) {
	if n == nil {
		return
	}
	fn(n)
	switch t := n.(type) {
	case *Unary:
		walk(t.X, fn)
	case *Binary:
		walk(t.L, fn)
		walk(t.R, fn)
	case *Call:
		for _, a := range t.Args {
			walk(a, fn)
		}
	case *Case:
		for _, w := range t.Whens {
			walk(w.Cond, fn)
			walk(w.Then, fn)
		}
		walk(t.Else, fn)
	}
}

func rename(n Node, names map[string]string) Node {
	switch t := n.(type) {
	case *Ident:
		if to, ok := names[t.Name]; ok {
			return &Ident{Name: to}
		}
		return &Ident{Name: t.Name}
	case *Unary:
		return &Unary{Op: t.Op, X: rename(t.X, names)}
	case *Binary:
		return &Binary{Op: t.Op, L: rename(t.L, names), R: rename(t.R, names)}
	case *Call:
		args := make([]Node, len(t.Args))
		for i, a := range t.Args {
			args[i] = rename(a, names)
		}
		return &Call{Func: t.Func, Args: args}
	case *Case:
		c := &Case{Whens: make([]When, len(t.Whens))}
		for i, w := range t.Whens {
			c.Whens[i] = When{Cond: rename(w.Cond, names), Then: rename(w.Then, names)}
		}
		if t.Else != nil {
			c.Else = rename(t.Else, names)
		}
		return c
	}
	return n
}
