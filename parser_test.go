package haku

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseSource(t *testing.T, src string) (*Ast, NodeID, *Parser) {
	t.Helper()
	code, err := NewSourceCode(src, 4096)
	require.NoError(t, err)
	lexer := NewLexer(code, 512, 64)
	require.NoError(t, lexer.Lex())
	require.Empty(t, lexer.Diagnostics)

	parser := NewParser(lexer.Lexis, 2048, 64)
	Toplevel(parser)

	ast := NewAst(2048)
	root, err := parser.IntoAst(ast)
	require.NoError(t, err)
	return ast, root, parser
}

func TestParserArithmeticPrecedence(t *testing.T) {
	ast, root, parser := parseSource(t, "1 + 2 * 3")
	assert.Empty(t, parser.Diagnostics)
	assert.Equal(t, NodeToplevel, ast.Kind(root))

	statements := (&Compiler{ast: ast}).significant(root)
	require.Len(t, statements, 1)

	top := statements[0]
	assert.Equal(t, NodeBinary, ast.Kind(top))
}

func TestParserIfElse(t *testing.T) {
	ast, root, parser := parseSource(t, "if (x > 0) 1 else 0")
	assert.Empty(t, parser.Diagnostics)

	c := &Compiler{ast: ast}
	statements := c.significant(root)
	require.Len(t, statements, 1)
	assert.Equal(t, NodeIf, ast.Kind(statements[0]))
}

func TestParserLambda(t *testing.T) {
	ast, root, parser := parseSource(t, "\\x, y -> x + y")
	assert.Empty(t, parser.Diagnostics)

	c := &Compiler{ast: ast}
	statements := c.significant(root)
	require.Len(t, statements, 1)
	assert.Equal(t, NodeLambda, ast.Kind(statements[0]))
}

func TestParserLetChain(t *testing.T) {
	ast, root, parser := parseSource(t, "let x = 1\nlet y = 2\nx + y")
	assert.Empty(t, parser.Diagnostics)

	c := &Compiler{ast: ast}
	statements := c.significant(root)
	require.Len(t, statements, 1)
	assert.Equal(t, NodeLet, ast.Kind(statements[0]))
}

func TestParserMissingCloseParenDiagnoses(t *testing.T) {
	_, _, parser := parseSource(t, "(1 + 2")
	assert.NotEmpty(t, parser.Diagnostics)
}

func TestParserList(t *testing.T) {
	ast, root, parser := parseSource(t, "[1, 2, 3]")
	assert.Empty(t, parser.Diagnostics)

	c := &Compiler{ast: ast}
	statements := c.significant(root)
	require.Len(t, statements, 1)
	assert.Equal(t, NodeList, ast.Kind(statements[0]))
	assert.Len(t, c.significant(statements[0]), 3)
}
