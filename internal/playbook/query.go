package playbook

import (
	"fmt"
	"regexp"
	"strings"
)

// QueryKind tags the two section query shapes.
type QueryKind string

const (
	QuerySimple  QueryKind = "simple"
	QueryGrouped QueryKind = "grouped"
)

// AggregateFuncs are the aggregation functions the executor implements.
var AggregateFuncs = map[string]bool{
	"AVG":    true,
	"SUM":    true,
	"COUNT":  true,
	"MIN":    true,
	"MAX":    true,
	"MEDIAN": true,
}

var (
	groupedQuery = regexp.MustCompile(`(?i)^\s*([a-z]+)_BY\s*\(\s*([^,()]+?)\s*,\s*([^,()]+?)\s*\)\s*(?:AS\s+([\p{L}_][\p{L}\p{N}_]*))?\s*$`)
	simpleQuery  = regexp.MustCompile(`(?i)^\s*([a-z]+)\s*\(\s*([^,()]+?)\s*\)\s*(?:AS\s+([\p{L}_][\p{L}\p{N}_]*))?\s*$`)
)

// Query is one parsed section query: FUNC(expr) AS alias or FUNC_BY(dimension, metric).
type Query struct {
	Raw       string    `json:"raw"`
	Kind      QueryKind `json:"kind"`
	Func      string    `json:"func"`
	Arg       string    `json:"arg,omitempty"`
	Alias     string    `json:"alias,omitempty"`
	Dimension string    `json:"dimension,omitempty"`
	Metric    string    `json:"metric,omitempty"`
}

// ParseQuery parses a section query string. Function names are upper-cased but not
// checked; see Known.
func ParseQuery(s string) (Query, error) {
	if m := groupedQuery.FindStringSubmatch(s); m != nil {
		return Query{
			Raw:       s,
			Kind:      QueryGrouped,
			Func:      strings.ToUpper(m[1]),
			Dimension: unquote(m[2]),
			Metric:    unquote(m[3]),
			Alias:     m[4],
		}, nil
	}
	if m := simpleQuery.FindStringSubmatch(s); m != nil {
		return Query{
			Raw:   s,
			Kind:  QuerySimple,
			Func:  strings.ToUpper(m[1]),
			Arg:   unquote(m[2]),
			Alias: m[3],
		}, nil
	}
	return Query{}, fmt.Errorf("%w: query %q is neither FUNC(expr) AS alias nor FUNC_BY(dimension, metric)", ErrInvalid, s)
}

// Known reports whether the aggregation function is implemented.
func (q Query) Known() bool {
	return AggregateFuncs[q.Func]
}

// Key is the name the query's result is stored under.
func (q Query) Key() string {
	if q.Alias != "" {
		return q.Alias
	}
	fn := strings.ToLower(q.Func)
	if q.Kind == QueryGrouped {
		if q.Metric == "*" {
			return fn + "_by_" + q.Dimension
		}
		return fn + "_by_" + q.Dimension + "_" + q.Metric
	}
	if q.Arg == "*" {
		return fn
	}
	return fn + "_" + q.Arg
}

// Columns lists the logical names the query reads.
func (q Query) Columns() []string {
	var out []string
	for _, c := range []string{q.Arg, q.Dimension, q.Metric} {
		if c != "" && c != "*" {
			out = append(out, c)
		}
	}
	return out
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '`' && s[len(s)-1] == '`' {
		return s[1 : len(s)-1]
	}
	return s
}
