package parser

import (
	"fmt"
	"go/ast"
	"go/token"
)

// Identifier refers to an annotation type, possibly qualified with a package
// name or alias.
type Identifier struct {
	PackageAlias string
	Name         string
	Pos          token.Position
}

func (id Identifier) String() string {
	if id.PackageAlias == "" {
		return id.Name
	} else {
		return fmt.Sprintf("%s.%s", id.PackageAlias, id.Name)
	}
}

// Annotation is a parsed annotation. It identifies the annotation type and has
// an optional value: the composite literal that follows the type, as in
//
//    @annostep.Step{Name: "checkout", Category: annostep.CategorySCM}
//
// Value is nil when the annotation has no body or when its body could not be
// parsed, in which case Err describes the problem.
type Annotation struct {
	Type  Identifier
	Value *ast.CompositeLit
	Pos   token.Position
	// Text is the source of the annotation, starting with the "@".
	Text string
	Err  *ParseError

	fset  *token.FileSet
	start token.Position
}

// NodePos returns the position, relative to the parsed input, of a node in
// the annotation's Value.
func (a Annotation) NodePos(n ast.Node) token.Position {
	if a.fset == nil || n == nil || !n.Pos().IsValid() {
		return a.Pos
	}
	return a.translate(a.fset.Position(n.Pos()))
}

// translate maps a position in the annotation source (which starts right
// after the "@") to a position in the parsed input.
func (a Annotation) translate(p token.Position) token.Position {
	res := token.Position{
		Filename: a.start.Filename,
		Line:     a.start.Line + p.Line - 1,
		Column:   p.Column,
		Offset:   a.start.Offset + 1 + p.Offset,
	}
	if p.Line == 1 {
		res.Column += a.start.Column
	}
	return res
}
