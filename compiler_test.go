package haku

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compileSource(t *testing.T, src string) []Diagnostic {
	t.Helper()
	h := New(DefaultLimits())
	diagnostics, err := h.SetBrush(src)
	if err != nil {
		var hakuErr *HakuError
		require.ErrorAs(t, err, &hakuErr)
		require.Equal(t, StatusDiagnosticsEmitted, hakuErr.Status,
			"expected only diagnostics, got %v", err)
	}
	return diagnostics
}

func hasDiagnostic(diagnostics []Diagnostic, message string) bool {
	for _, d := range diagnostics {
		if strings.Contains(d.Message, message) {
			return true
		}
	}
	return false
}

func TestCompileUndefinedVariable(t *testing.T) {
	diagnostics := compileSource(t, "x + 1")
	assert.True(t, hasDiagnostic(diagnostics, "undefined variable"))
}

func TestCompileLetCannotReferenceItself(t *testing.T) {
	// The binding is added to scope only after its value is compiled.
	diagnostics := compileSource(t, "let x = x\nx")
	assert.True(t, hasDiagnostic(diagnostics, "undefined variable"))
}

func TestCompileDefRedefinition(t *testing.T) {
	diagnostics := compileSource(t, "x = 1\nx = 2\nx")
	assert.True(t, hasDiagnostic(diagnostics, "redefinitions of defs are not allowed"))
}

func TestCompileAssignmentBelowToplevel(t *testing.T) {
	diagnostics := compileSource(t, "if (True) (x = 1) else 2")
	assert.True(t, hasDiagnostic(diagnostics, "top level"))
}

func TestCompileResultMustBeLast(t *testing.T) {
	diagnostics := compileSource(t, "1\nx = 2\nx")
	assert.True(t, hasDiagnostic(diagnostics, "result value may not be followed by anything else"))
}

func TestCompileReservedTag(t *testing.T) {
	diagnostics := compileSource(t, "Stroke")
	assert.True(t, hasDiagnostic(diagnostics, "reserved"))
}

func TestCompileTooManyDefs(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxDefs = 2
	h := New(limits)

	diagnostics, _ := h.SetBrush("a = 1\nb = 2\nc = 3\na")
	assert.True(t, hasDiagnostic(diagnostics, "too many defs"))
}

func TestCompileNumberRoundtrip(t *testing.T) {
	// A literal that the lexer accepted evaluates to the same float32 the
	// standard library parses.
	assert.Equal(t, float32(3.25), evalNumber(t, "3.25"))
	assert.Equal(t, float32(0.1), evalNumber(t, "0.1"))
	assert.Equal(t, float32(12345), evalNumber(t, "12345"))
}

func TestCompileShadowing(t *testing.T) {
	assert.Equal(t, float32(2), evalNumber(t, "let x = 1\nlet x = x + 1\nx"))
}

func TestCompileLambdaWithUnderscoreParams(t *testing.T) {
	assert.Equal(t, float32(7), evalNumber(t, "(\\_, _ -> 7) 1 2"))
}

func TestCompileDefsAreOrderIndependent(t *testing.T) {
	// The prepass declares every def before any body compiles, so a def
	// may reference one defined later in the source.
	src := "double = \\x -> x * scale\nscale = 2\ndouble 21"
	assert.Equal(t, float32(42), evalNumber(t, src))
}

func TestCompileSystemCallShadowedByDef(t *testing.T) {
	// A def does not shadow a builtin in call position; the builtin wins
	// for calls, while plain references still see the def.
	assert.Equal(t, float32(3), evalNumber(t, "floor = 10\nfloor 3.7"))
	assert.Equal(t, float32(10), evalNumber(t, "floor = 10\nfloor + 0"))
}

func TestCompileDisassembleProgram(t *testing.T) {
	h := New(DefaultLimits())
	_, err := h.SetBrush("f = \\x -> x + 1\nf 2")
	require.NoError(t, err)

	chunkID, ok := h.BrushChunk()
	require.True(t, ok)
	listing := Disassemble(h.System().Chunk(chunkID))

	assert.Contains(t, listing, "Function")
	assert.Contains(t, listing, "System 0x00 argc=2")
	assert.Contains(t, listing, "SetDef 0")
	assert.Contains(t, listing, "Return")
}

func TestCompiledChunkStaysWithinCapacity(t *testing.T) {
	h := New(DefaultLimits())
	_, err := h.SetBrush("fib = \\n -> if (n < 2) n else fib (n-1) + fib (n-2)\nfib 10")
	require.NoError(t, err)

	chunkID, _ := h.BrushChunk()
	assert.LessOrEqual(t, h.System().Chunk(chunkID).Len(), MaxChunkSize)
}
