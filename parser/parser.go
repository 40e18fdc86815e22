package parser

import (
	"fmt"
	"go/ast"
	goparser "go/parser"
	"go/scanner"
	"go/token"
	"io"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// ParseError describes a problem in annotation syntax. Its position is
// relative to the input given to ParseAnnotations.
type ParseError struct {
	err error
	pos token.Position
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d, column %d: %s", e.pos.Line, e.pos.Column, e.err)
}

func (e *ParseError) Underlying() error {
	return e.err
}

func (e *ParseError) Pos() token.Position {
	return e.pos
}

// ParseAnnotations parses the annotations in the given text, which is usually
// the contents of a doc comment with comment markers removed.
//
// An annotation begins on a line whose first non-space character is "@" and
// extends until the next such line, a blank line, or the end of input. Text
// before the first annotation is ignored, so prose and annotations can share a
// comment as long as the annotations come last or are separated from later
// prose by a blank line.
//
// Annotations whose body is malformed are still returned, with a nil Value
// and a non-nil Err, if their type could be determined. The first error
// encountered is also returned.
func ParseAnnotations(filename string, r io.Reader) ([]Annotation, *ParseError) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &ParseError{err: err, pos: token.Position{Filename: filename, Line: 1, Column: 1}}
	}

	var res []Annotation
	var firstErr *ParseError
	for _, c := range splitChunks(filename, string(data)) {
		a, perr := parseAnnotation(c)
		if perr != nil && firstErr == nil {
			firstErr = perr
		}
		if a != nil {
			res = append(res, *a)
		}
	}
	return res, firstErr
}

type chunk struct {
	text  strings.Builder
	start token.Position
}

func splitChunks(filename, input string) []*chunk {
	var chunks []*chunk
	var curr *chunk
	offset := 0
	for i, line := range strings.SplitAfter(input, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "@"):
			col := strings.Index(line, "@")
			curr = &chunk{start: token.Position{
				Filename: filename,
				Line:     i + 1,
				Column:   col + 1,
				Offset:   offset + col,
			}}
			curr.text.WriteString(line[col:])
			chunks = append(chunks, curr)
		case trimmed == "":
			curr = nil
		case curr != nil:
			curr.text.WriteString(line)
		}
		offset += len(line)
	}
	return chunks
}

func parseAnnotation(c *chunk) (*Annotation, *ParseError) {
	text := strings.TrimRight(c.text.String(), " \t\r\n")
	// skip the "@"
	src := text[1:]

	id, rest, ok := scanIdentifier(src)
	if !ok {
		return nil, &ParseError{err: errors.New("expecting annotation type after '@'"), pos: c.start}
	}
	id.Pos = c.start
	a := &Annotation{Type: id, Pos: c.start, Text: text, start: c.start}

	body := strings.TrimLeftFunc(rest, unicode.IsSpace)
	if body == "" {
		return a, nil
	}
	if body[0] != '{' {
		perr := &ParseError{
			err: fmt.Errorf("unexpected %q after annotation type %v; expecting '{'", firstRune(body), id),
			pos: a.translate(positionOf(src, len(src)-len(body))),
		}
		a.Err = perr
		return a, perr
	}

	fset := token.NewFileSet()
	expr, err := goparser.ParseExprFrom(fset, c.start.Filename, src, 0)
	if err != nil {
		perr := &ParseError{err: err, pos: c.start}
		var list scanner.ErrorList
		if errors.As(err, &list) && len(list) > 0 {
			perr = &ParseError{err: errors.New(list[0].Msg), pos: a.translate(list[0].Pos)}
		}
		a.Err = perr
		return a, perr
	}
	lit, ok := expr.(*ast.CompositeLit)
	if !ok {
		perr := &ParseError{err: fmt.Errorf("annotation %v must be followed by a composite literal", id), pos: c.start}
		a.Err = perr
		return a, perr
	}
	a.Value = lit
	a.fset = fset
	return a, nil
}

// scanIdentifier reads an optionally qualified identifier from the start of s.
func scanIdentifier(s string) (Identifier, string, bool) {
	first, rest := scanName(s)
	if first == "" {
		return Identifier{}, s, false
	}
	if strings.HasPrefix(rest, ".") {
		second, r := scanName(rest[1:])
		if second == "" {
			return Identifier{}, s, false
		}
		return Identifier{PackageAlias: first, Name: second}, r, true
	}
	return Identifier{Name: first}, rest, true
}

func scanName(s string) (string, string) {
	i := 0
	for i < len(s) {
		r, sz := utf8.DecodeRuneInString(s[i:])
		if r == '_' || unicode.IsLetter(r) || (i > 0 && unicode.IsDigit(r)) {
			i += sz
			continue
		}
		break
	}
	return s[:i], s[i:]
}

func firstRune(s string) rune {
	r, _ := utf8.DecodeRuneInString(s)
	return r
}

// positionOf computes the line and column of the given byte offset in s.
func positionOf(s string, offset int) token.Position {
	line := 1 + strings.Count(s[:offset], "\n")
	col := offset + 1
	if nl := strings.LastIndexByte(s[:offset], '\n'); nl >= 0 {
		col = offset - nl
	}
	return token.Position{Line: line, Column: col, Offset: offset}
}
