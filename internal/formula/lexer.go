package formula

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokString
	tokIdent
	tokKeyword
	tokOp
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

var keywords = map[string]bool{
	"AND": true, "OR": true, "NOT": true,
	"CASE": true, "WHEN": true, "THEN": true, "ELSE": true, "END": true,
	"NULL": true, "TRUE": true, "FALSE": true,
}

func lex(src string) ([]token, error) {
	var toks []token
	rs := []rune(src)
	i := 0
	for i < len(rs) {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case unicode.IsDigit(r) || (r == '.' && i+1 < len(rs) && unicode.IsDigit(rs[i+1])):
			start := i
			seenDot := false
			for i < len(rs) && (unicode.IsDigit(rs[i]) || (rs[i] == '.' && !seenDot)) {
				if rs[i] == '.' {
					seenDot = true
				}
				i++
			}
			toks = append(toks, token{kind: tokNumber, text: string(rs[start:i]), pos: start})
		case r == '\'' || r == '"':
			quote := r
			start := i
			i++
			var b strings.Builder
			for {
				if i >= len(rs) {
					return nil, fmt.Errorf("%w: unterminated string at %d", ErrSyntax, start)
				}
				if rs[i] == quote {
					// doubled quote is an escaped quote
					if i+1 < len(rs) && rs[i+1] == quote {
						b.WriteRune(quote)
						i += 2
						continue
					}
					i++
					break
				}
				b.WriteRune(rs[i])
				i++
			}
			toks = append(toks, token{kind: tokString, text: b.String(), pos: start})
		case r == '`':
			start := i
			end := strings.IndexRune(string(rs[i+1:]), '`')
			if end < 0 {
				return nil, fmt.Errorf("%w: unterminated identifier at %d", ErrSyntax, start)
			}
			name := []rune(string(rs[i+1:])[:end])
			i += len(name) + 2
			toks = append(toks, token{kind: tokIdent, text: string(name), pos: start})
		case unicode.IsLetter(r) || r == '_':
			start := i
			for i < len(rs) && (unicode.IsLetter(rs[i]) || unicode.IsDigit(rs[i]) || rs[i] == '_') {
				i++
			}
			word := string(rs[start:i])
			if keywords[strings.ToUpper(word)] {
				toks = append(toks, token{kind: tokKeyword, text: strings.ToUpper(word), pos: start})
			} else {
				toks = append(toks, token{kind: tokIdent, text: word, pos: start})
			}
		case r == '(':
			toks = append(toks, token{kind: tokLParen, text: "(", pos: i})
			i++
		case r == ')':
			toks = append(toks, token{kind: tokRParen, text: ")", pos: i})
			i++
		case r == ',':
			toks = append(toks, token{kind: tokComma, text: ",", pos: i})
			i++
		default:
			op, n := matchOp(rs[i:])
			if n == 0 {
				return nil, fmt.Errorf("%w: unexpected character %q at %d", ErrSyntax, r, i)
			}
			toks = append(toks, token{kind: tokOp, text: op, pos: i})
			i += n
		}
	}
	toks = append(toks, token{kind: tokEOF, pos: len(rs)})
	return toks, nil
}

func matchOp(rs []rune) (string, int) {
	if len(rs) >= 2 {
		two := string(rs[:2])
		switch two {
		case "<=", ">=", "!=", "<>", "==":
			if two == "<>" {
				return "!=", 2
			}
			if two == "==" {
				return "=", 2
			}
			return two, 2
		}
	}
	switch rs[0] {
	case '+', '-', '*', '/', '%', '<', '>', '=':
		return string(rs[0]), 1
	}
	return "", 0
}
