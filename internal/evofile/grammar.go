// Package evofile reads and writes evolution files. An evolution file is a
// list of mutation calls, optionally preceded by dependency directives:
//
//	after_evolutions = ["library.0001_initial"]
//	AddField("Book", "pages", int, null=true)
//	ChangeMeta("Book", "unique_together", [["title", "author"]])
package evofile

import (
	"io"
	"regexp"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"

	"github.com/satishbabariya/schema-evolution/internal/mutations"
)

var evoLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Comment", Pattern: `(?:#|//)[^\n]*`},
	{Name: "Placeholder", Pattern: regexp.QuoteMeta(mutations.UserValueRequired)},
	{Name: "String", Pattern: `"(?:\\.|[^"\\])*"`},
	{Name: "Number", Pattern: `-?\d+(?:\.\d+)?`},
	{Name: "Ident", Pattern: `[\p{L}_][\p{L}\p{N}_-]*`},
	{Name: "Punct", Pattern: `[(),=\[\]]`},
	{Name: "Whitespace", Pattern: `\s+`},
})

type fileAST struct {
	Statements []*statementAST `@@*`
}

type statementAST struct {
	Pos       lexer.Position
	Directive *directiveAST `  @@`
	Call      *callAST      `| @@`
}

type directiveAST struct {
	Pos   lexer.Position
	Name  string    `@Ident "="`
	Value *valueAST `@@`
}

type callAST struct {
	Pos  lexer.Position
	Name string    `@Ident "("`
	Args []*argAST `( @@ ( "," @@ )* ","? )? ")"`
}

type argAST struct {
	Pos   lexer.Position
	Name  string    `( @Ident "=" )?`
	Value *valueAST `@@`
}

type listAST struct {
	Items []*valueAST `"[" ( @@ ( "," @@ )* ","? )? "]"`
}

type valueAST struct {
	Pos         lexer.Position
	Placeholder bool     `  @Placeholder`
	String      *string  `| @String`
	Number      *string  `| @Number`
	Call        *callAST `| @@`
	List        *listAST `| @@`
	Ident       *string  `| @Ident`
}

var parser = participle.MustBuild[fileAST](
	participle.Lexer(evoLexer),
	participle.Elide("Whitespace", "Comment"),
	participle.Unquote("String"),
	participle.UseLookahead(4),
)

func parseAST(filename string, r io.Reader) (*fileAST, error) {
	return parser.Parse(filename, r)
}
