package tm2

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

var errTableWrapper = errors.New("table must be a parenthesised sub-query optionally followed by an alias")

// UnwrapTable strips the "( <query> ) [AS] alias" wrapper tm2 datasources use
// and returns the inner query. Quoted strings and nested parentheses are
// honoured when looking for the closing parenthesis.
func UnwrapTable(table string) (string, error) {
	s := strings.TrimSpace(table)
	if s == "" || s[0] != '(' {
		return "", errTableWrapper
	}

	end, err := matchParen(s)
	if err != nil {
		return "", err
	}
	inner := strings.TrimSpace(s[1:end])
	if inner == "" {
		return "", fmt.Errorf("empty sub-query: %w", errTableWrapper)
	}

	rest := strings.Fields(s[end+1:])
	switch {
	case len(rest) == 0:
	case len(rest) == 1 && isIdent(rest[0]) && !strings.EqualFold(rest[0], "as"):
	case len(rest) == 2 && strings.EqualFold(rest[0], "as") && isIdent(rest[1]):
	default:
		return "", fmt.Errorf("unexpected %q after sub-query: %w", strings.Join(rest, " "), errTableWrapper)
	}
	return inner, nil
}

// returns the index of the parenthesis closing s[0]
func matchParen(s string) (int, error) {
	depth := 0
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == quote {
				// doubled quote is an escaped quote
				if i+1 < len(s) && s[i+1] == quote {
					i++
					continue
				}
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i, nil
			}
		}
	}
	if quote != 0 {
		return 0, fmt.Errorf("unterminated quoted string: %w", errTableWrapper)
	}
	return 0, fmt.Errorf("unbalanced parentheses: %w", errTableWrapper)
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || unicode.IsLetter(r) || (i > 0 && unicode.IsDigit(r)) {
			continue
		}
		return false
	}
	return true
}
