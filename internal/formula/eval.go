package formula

import (
	"fmt"
	"math"
	"strings"

	"playbook-engine/internal/datatype"
)

// Env resolves identifiers to cell values. The second result is false when the
// identifier is not a known column; a known column holding no value returns (nil, true).
type Env func(name string) (interface{}, bool)

// RowEnv resolves identifiers against a single row.
func RowEnv(row map[string]interface{}) Env {
	return func(name string) (interface{}, bool) {
		v, ok := row[name]
		return v, ok
	}
}

// Eval evaluates the formula. NULL propagates through arithmetic and functions;
// a false or NULL CASE condition falls through to the next branch.
func (e *Expr) Eval(env Env) (interface{}, error) {
	return eval(e.Root, env)
}

func eval(n Node, env Env) (interface{}, error) {
	switch t := n.(type) {
	case *Literal:
		return t.Value, nil
	case *Ident:
		v, ok := env(t.Name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownIdentifier, t.Name)
		}
		if datatype.IsNull(v) {
			return nil, nil
		}
		return v, nil
	case *Unary:
		x, err := eval(t.X, env)
		if err != nil || x == nil {
			return nil, err
		}
		if t.Op == "NOT" {
			return !truthy(x), nil
		}
		f, ok := datatype.ToFloat(x)
		if !ok {
			return nil, fmt.Errorf("%w: cannot negate %q", ErrTypeMismatch, datatype.ToString(x))
		}
		return -f, nil
	case *Binary:
		return evalBinary(t, env)
	case *Call:
		return evalCall(t, env)
	case *Case:
		for _, w := range t.Whens {
			c, err := eval(w.Cond, env)
			if err != nil {
				return nil, err
			}
			if truthy(c) {
				return eval(w.Then, env)
			}
		}
		if t.Else == nil {
			return nil, nil
		}
		return eval(t.Else, env)
	}
	return nil, fmt.Errorf("%w: unsupported node %T", ErrSyntax, n)
}

func evalBinary(b *Binary, env Env) (interface{}, error) {
	l, err := eval(b.L, env)
	if err != nil {
		return nil, err
	}
	// AND/OR short-circuit on the left operand.
	switch b.Op {
	case "AND":
		if !truthy(l) {
			return false, nil
		}
		r, err := eval(b.R, env)
		if err != nil {
			return nil, err
		}
		return truthy(r), nil
	case "OR":
		if truthy(l) {
			return true, nil
		}
		r, err := eval(b.R, env)
		if err != nil {
			return nil, err
		}
		return truthy(r), nil
	}

	r, err := eval(b.R, env)
	if err != nil {
		return nil, err
	}
	if l == nil || r == nil {
		return nil, nil
	}

	switch b.Op {
	case "=", "!=", "<", "<=", ">", ">=":
		return compare(b.Op, l, r), nil
	}

	if b.Op == "+" {
		ls, lok := l.(string)
		rs, rok := r.(string)
		if lok && rok {
			_, lnum := datatype.ParseNumber(ls)
			_, rnum := datatype.ParseNumber(rs)
			if !lnum || !rnum {
				return ls + rs, nil
			}
		}
	}

	lf, lok := datatype.ToFloat(l)
	rf, rok := datatype.ToFloat(r)
	if !lok || !rok {
		return nil, fmt.Errorf("%w: %q %s %q", ErrTypeMismatch, datatype.ToString(l), b.Op, datatype.ToString(r))
	}
	switch b.Op {
	case "+":
		return lf + rf, nil
	case "-":
		return lf - rf, nil
	case "*":
		return lf * rf, nil
	case "/":
		if rf == 0 {
			return nil, ErrDivisionByZero
		}
		return lf / rf, nil
	case "%":
		if rf == 0 {
			return nil, ErrDivisionByZero
		}
		return math.Mod(lf, rf), nil
	}
	return nil, fmt.Errorf("%w: operator %s", ErrSyntax, b.Op)
}

func evalCall(c *Call, env Env) (interface{}, error) {
	args := make([]interface{}, len(c.Args))
	for i, a := range c.Args {
		v, err := eval(a, env)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	switch c.Func {
	case "ABS":
		if args[0] == nil {
			return nil, nil
		}
		f, ok := datatype.ToFloat(args[0])
		if !ok {
			return nil, fmt.Errorf("%w: ABS of %q", ErrTypeMismatch, datatype.ToString(args[0]))
		}
		return math.Abs(f), nil
	case "NULLIF":
		if args[0] == nil {
			return nil, nil
		}
		if args[1] != nil && equal(args[0], args[1]) {
			return nil, nil
		}
		return args[0], nil
	case "LOWER":
		if args[0] == nil {
			return nil, nil
		}
		return strings.ToLower(datatype.ToString(args[0])), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, c.Func)
}

func compare(op string, l, r interface{}) bool {
	if op == "=" {
		return equal(l, r)
	}
	if op == "!=" {
		return !equal(l, r)
	}
	var cmp int
	lf, lok := datatype.ToFloat(l)
	rf, rok := datatype.ToFloat(r)
	if lok && rok {
		switch {
		case lf < rf:
			cmp = -1
		case lf > rf:
			cmp = 1
		}
	} else {
		cmp = strings.Compare(datatype.ToString(l), datatype.ToString(r))
	}
	switch op {
	case "<":
		return cmp < 0
	case "<=":
		return cmp <= 0
	case ">":
		return cmp > 0
	default:
		return cmp >= 0
	}
}

func equal(l, r interface{}) bool {
	lf, lok := datatype.ToFloat(l)
	rf, rok := datatype.ToFloat(r)
	if lok && rok {
		return lf == rf
	}
	return datatype.ToString(l) == datatype.ToString(r)
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		if b, ok := datatype.ParseBool(t); ok {
			return b
		}
		if f, ok := datatype.ToFloat(t); ok {
			return f != 0
		}
		return strings.TrimSpace(t) != ""
	}
	if f, ok := datatype.ToFloat(v); ok {
		return f != 0
	}
	return true
}
