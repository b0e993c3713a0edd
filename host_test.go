package haku

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func evalSource(t *testing.T, src string) (Value, *Haku) {
	t.Helper()
	h := New(DefaultLimits())
	diagnostics, err := h.SetBrush(src)
	require.NoError(t, err, "diagnostics: %+v", diagnostics)
	value, err := h.EvalBrush()
	require.NoError(t, err)
	return value, h
}

func evalNumber(t *testing.T, src string) float32 {
	t.Helper()
	value, _ := evalSource(t, src)
	n, ok := value.Number()
	require.True(t, ok, "expected a number, got %s", value)
	return n
}

func TestEvalArithmeticChain(t *testing.T) {
	assert.Equal(t, float32(10), evalNumber(t, "1 + 2 + 3 + 4"))
}

func TestEvalParenthesizedArithmetic(t *testing.T) {
	assert.Equal(t, float32(13), evalNumber(t, "(2 * 1) + 1 + (6 / 2) + (10 - 3)"))
}

func TestEvalLambdaCall(t *testing.T) {
	assert.Equal(t, float32(4), evalNumber(t, "(\\x -> x + 2) 2"))
}

func TestEvalCurriedLambda(t *testing.T) {
	assert.Equal(t, float32(4), evalNumber(t, "((\\x -> \\y -> x + y) 2) 2"))
}

func TestEvalCaptureThroughTwoScopes(t *testing.T) {
	assert.Equal(t, float32(6), evalNumber(t, "(((\\x -> \\y -> \\z -> x + y + z) 1) 2) 3"))
}

func TestEvalIf(t *testing.T) {
	assert.Equal(t, float32(1), evalNumber(t, "if (True) 1 else 2"))
	assert.Equal(t, float32(2), evalNumber(t, "if (False) 1 else 2"))
	// () is nil, and nil is falsy.
	assert.Equal(t, float32(2), evalNumber(t, "if (()) 1 else 2"))
	// 0 is truthy; only nil and False are falsy.
	assert.Equal(t, float32(1), evalNumber(t, "if (0) 1 else 2"))
}

func TestEvalDefs(t *testing.T) {
	assert.Equal(t, float32(3), evalNumber(t, "x = 1\ny = 2\nx + y"))
}

func TestEvalRecursiveDef(t *testing.T) {
	src := "fib = \\n -> if (n < 2) n else fib (n-1) + fib (n-2)\nfib 10"
	assert.Equal(t, float32(55), evalNumber(t, src))
}

func TestEvalLetChain(t *testing.T) {
	assert.Equal(t, float32(3), evalNumber(t, "let x = 1\nlet y = x + 1\nx + y"))
}

func TestEvalUnaryOperators(t *testing.T) {
	assert.Equal(t, float32(-5), evalNumber(t, "-5"))
	value, _ := evalSource(t, "!True")
	assert.False(t, value.Truthy())
}

func TestEvalColorLiteral(t *testing.T) {
	value, _ := evalSource(t, "#ff0000")
	c, ok := value.Rgba()
	require.True(t, ok)
	assert.Equal(t, float32(1), c.R)
	assert.Equal(t, float32(0), c.G)
	assert.Equal(t, float32(1), c.A)
}

func TestEvalEmptyProgramIsNil(t *testing.T) {
	value, _ := evalSource(t, "")
	assert.Equal(t, ValueNil, value.Kind())
}

func TestEvalInfiniteRecursionRaises(t *testing.T) {
	h := New(DefaultLimits())
	_, err := h.SetBrush("f = \\_ -> f ()\nf ()")
	require.NoError(t, err)

	_, err = h.EvalBrush()
	require.Error(t, err)

	var hakuErr *HakuError
	require.ErrorAs(t, err, &hakuErr)
	assert.Equal(t, StatusEvalException, hakuErr.Status)
	assert.EqualError(t, hakuErr.Err, "too much recursion")

	// EvalBrush rolled the VM back, so the instance is immediately usable.
	_, err = h.SetBrush("1 + 1")
	require.NoError(t, err)
	value, err := h.EvalBrush()
	require.NoError(t, err)
	n, _ := value.Number()
	assert.Equal(t, float32(2), n)
}

func TestEvalDeterministicAcrossResets(t *testing.T) {
	h := New(DefaultLimits())
	_, err := h.SetBrush("let x = 2\nvec (x * 3) (sin x)")
	require.NoError(t, err)

	first, err := h.EvalBrush()
	require.NoError(t, err)
	h.ResetVm()
	second, err := h.EvalBrush()
	require.NoError(t, err)

	assert.True(t, first.Equals(second))
}

func TestSetBrushRollsBackOnDiagnostics(t *testing.T) {
	h := New(DefaultLimits())
	_, err := h.SetBrush("1 + 1")
	require.NoError(t, err)

	diagnostics, err := h.SetBrush("1 +")
	require.Error(t, err)
	assert.NotEmpty(t, diagnostics)

	var hakuErr *HakuError
	require.ErrorAs(t, err, &hakuErr)
	assert.Equal(t, StatusDiagnosticsEmitted, hakuErr.Status)

	// The previous brush survived the failed edit.
	value, err := h.EvalBrush()
	require.NoError(t, err)
	n, _ := value.Number()
	assert.Equal(t, float32(2), n)
}

func TestSetBrushSourceTooLong(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxSourceCodeLen = 4
	h := New(limits)

	_, err := h.SetBrush("1 + 2 + 3")
	var hakuErr *HakuError
	require.ErrorAs(t, err, &hakuErr)
	assert.Equal(t, StatusSourceCodeTooLong, hakuErr.Status)
}

func TestSetBrushChunkTooBig(t *testing.T) {
	limits := DefaultLimits()
	limits.ChunkCapacity = 8
	h := New(limits)

	_, err := h.SetBrush("1 + 2 + 3 + 4")
	var hakuErr *HakuError
	require.ErrorAs(t, err, &hakuErr)
	assert.Equal(t, StatusChunkTooBig, hakuErr.Status)
}

func TestSetBrushTooManyTokens(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxTokens = 3
	h := New(limits)

	_, err := h.SetBrush("1 + 2 + 3")
	var hakuErr *HakuError
	require.ErrorAs(t, err, &hakuErr)
	assert.Equal(t, StatusTooManyTokens, hakuErr.Status)
}

func TestEvalBeforeSetBrushFails(t *testing.T) {
	h := New(DefaultLimits())
	_, err := h.EvalBrush()
	require.Error(t, err)
}

func TestRecompileReusesDefSlots(t *testing.T) {
	h := New(DefaultLimits())

	for i := 0; i < 10; i++ {
		_, err := h.SetBrush("x = 1\ny = 2\nx + y")
		require.NoError(t, err)
		value, err := h.EvalBrush()
		require.NoError(t, err)
		n, _ := value.Number()
		assert.Equal(t, float32(3), n)
		h.ResetVm()
	}

	// Every recompilation starts from the post-construction def image, so
	// the table never fills up with stale declarations.
	assert.Equal(t, 2, h.Defs().Len())
}
