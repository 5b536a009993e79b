// Package script implements the small hand-written evaluator the
// Sandbox Runtime uses to run a model-supplied async arrow function
// against a curated set of host globals, with no access to anything
// else the host process can do.
package script

import (
	"fmt"
	"strconv"
	"strings"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokString
	tokPunct
	tokKeyword
)

type token struct {
	kind tokenKind
	text string
	num  float64
}

var keywords = map[string]bool{
	"async": true, "await": true, "const": true, "let": true, "return": true,
	"if": true, "else": true, "for": true, "of": true, "true": true, "false": true,
	"null": true, "undefined": true, "function": true,
}

type lexer struct {
	src []rune
	pos int
}

func newLexer(src string) *lexer {
	return &lexer{src: []rune(src)}
}

func (l *lexer) peekRune() rune {
	if l.pos >= len(l.src) {
		return 0
	}
	return l.src[l.pos]
}

func (l *lexer) tokenize() ([]token, error) {
	var out []token
	for {
		l.skipSpaceAndComments()
		if l.pos >= len(l.src) {
			out = append(out, token{kind: tokEOF})
			return out, nil
		}
		ch := l.src[l.pos]
		switch {
		case isIdentStart(ch):
			start := l.pos
			for l.pos < len(l.src) && isIdentPart(l.src[l.pos]) {
				l.pos++
			}
			text := string(l.src[start:l.pos])
			if keywords[text] {
				out = append(out, token{kind: tokKeyword, text: text})
			} else {
				out = append(out, token{kind: tokIdent, text: text})
			}
		case ch >= '0' && ch <= '9':
			start := l.pos
			for l.pos < len(l.src) && (isDigit(l.src[l.pos]) || l.src[l.pos] == '.') {
				l.pos++
			}
			text := string(l.src[start:l.pos])
			n, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid number %q", text)
			}
			out = append(out, token{kind: tokNumber, text: text, num: n})
		case ch == '"' || ch == '\'' || ch == '`':
			str, err := l.readString(ch)
			if err != nil {
				return nil, err
			}
			out = append(out, token{kind: tokString, text: str})
		default:
			punct, err := l.readPunct()
			if err != nil {
				return nil, err
			}
			out = append(out, token{kind: tokPunct, text: punct})
		}
	}
}

func (l *lexer) skipSpaceAndComments() {
	for l.pos < len(l.src) {
		ch := l.src[l.pos]
		if ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' {
			l.pos++
			continue
		}
		if ch == '/' && l.pos+1 < len(l.src) && l.src[l.pos+1] == '/' {
			for l.pos < len(l.src) && l.src[l.pos] != '\n' {
				l.pos++
			}
			continue
		}
		if ch == '/' && l.pos+1 < len(l.src) && l.src[l.pos+1] == '*' {
			l.pos += 2
			for l.pos+1 < len(l.src) && !(l.src[l.pos] == '*' && l.src[l.pos+1] == '/') {
				l.pos++
			}
			l.pos += 2
			continue
		}
		return
	}
}

func (l *lexer) readString(quote rune) (string, error) {
	l.pos++ // skip opening quote
	var sb strings.Builder
	for l.pos < len(l.src) {
		ch := l.src[l.pos]
		if ch == quote {
			l.pos++
			return sb.String(), nil
		}
		if ch == '\\' && l.pos+1 < len(l.src) {
			l.pos++
			switch l.src[l.pos] {
			case 'n':
				sb.WriteRune('\n')
			case 't':
				sb.WriteRune('\t')
			case 'r':
				sb.WriteRune('\r')
			default:
				sb.WriteRune(l.src[l.pos])
			}
			l.pos++
			continue
		}
		sb.WriteRune(ch)
		l.pos++
	}
	return "", fmt.Errorf("unterminated string literal")
}

var multiCharPuncts = []string{
	"=>", "===", "!==", "==", "!=", "<=", ">=", "&&", "||", "...", "?.", "??",
}

func (l *lexer) readPunct() (string, error) {
	for _, p := range multiCharPuncts {
		runes := []rune(p)
		if l.pos+len(runes) <= len(l.src) && string(l.src[l.pos:l.pos+len(runes)]) == p {
			l.pos += len(runes)
			return p, nil
		}
	}
	ch := l.src[l.pos]
	switch ch {
	case '(', ')', '{', '}', '[', ']', ',', ';', ':', '.', '+', '-', '*', '/', '%',
		'=', '<', '>', '!', '?', '&', '|':
		l.pos++
		return string(ch), nil
	default:
		return "", fmt.Errorf("unexpected character %q", ch)
	}
}

func isIdentStart(ch rune) bool {
	return ch == '_' || ch == '$' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isIdentPart(ch rune) bool {
	return isIdentStart(ch) || isDigit(ch)
}

func isDigit(ch rune) bool {
	return ch >= '0' && ch <= '9'
}
