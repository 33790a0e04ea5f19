package foamfile

import (
	"fmt"
	"strings"
)

type tokenKind int

const (
	tokWord tokenKind = iota
	tokString
	tokPunct
	tokVerbatim
	tokEOF
)

type token struct {
	kind tokenKind
	text string
	line int
}

// ParseError reports malformed dictionary input.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

const punct = "{}()[];"

// lex splits src into tokens, dropping comments.
func lex(src string) ([]token, error) {
	var toks []token
	line := 1
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == '\n':
			line++
			i++
		case c == ' ' || c == '\t' || c == '\r' || c == '\f' || c == '\v':
			i++
		case strings.HasPrefix(src[i:], "//"):
			for i < len(src) && src[i] != '\n' {
				i++
			}
		case strings.HasPrefix(src[i:], "/*"):
			start := line
			end := strings.Index(src[i+2:], "*/")
			if end < 0 {
				return nil, &ParseError{Line: start, Msg: "unterminated block comment"}
			}
			line += strings.Count(src[i:i+2+end], "\n")
			i += end + 4
		case strings.HasPrefix(src[i:], "#{"):
			start := line
			end := strings.Index(src[i+2:], "#}")
			if end < 0 {
				return nil, &ParseError{Line: start, Msg: "unterminated #{ code block"}
			}
			body := src[i+2 : i+2+end]
			line += strings.Count(body, "\n")
			toks = append(toks, token{kind: tokVerbatim, text: body, line: start})
			i += end + 4
		case c == '"':
			start := line
			j := i + 1
			var sb strings.Builder
			for ; j < len(src) && src[j] != '"'; j++ {
				if src[j] == '\\' && j+1 < len(src) {
					j++
				}
				if src[j] == '\n' {
					line++
				}
				sb.WriteByte(src[j])
			}
			if j >= len(src) {
				return nil, &ParseError{Line: start, Msg: "unterminated string"}
			}
			toks = append(toks, token{kind: tokString, text: sb.String(), line: start})
			i = j + 1
		case strings.IndexByte(punct, c) >= 0:
			toks = append(toks, token{kind: tokPunct, text: string(c), line: line})
			i++
		default:
			j := i
			for j < len(src) && !isDelimiter(src, j) {
				j++
			}
			toks = append(toks, token{kind: tokWord, text: src[i:j], line: line})
			i = j
		}
	}
	toks = append(toks, token{kind: tokEOF, line: line})
	return toks, nil
}

func isDelimiter(src string, j int) bool {
	c := src[j]
	if c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '"' || strings.IndexByte(punct, c) >= 0 {
		return true
	}
	return strings.HasPrefix(src[j:], "//") || strings.HasPrefix(src[j:], "/*")
}
