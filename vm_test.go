package haku

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVmImageRestoreReclaimsRefs(t *testing.T) {
	h := New(DefaultLimits())
	_, err := h.SetBrush("[1, 2, 3]")
	require.NoError(t, err)

	img := h.Vm().Image()
	value, err := h.EvalBrush()
	require.NoError(t, err)

	_, ok := value.Ref()
	require.True(t, ok)
	assert.Greater(t, len(h.Vm().refs), img.refs)

	h.ResetVm()
	assert.Equal(t, img.refs, len(h.Vm().refs))
	assert.Equal(t, img.fuel, h.Vm().RemainingFuel())
	assert.Equal(t, img.memory, h.Vm().memory)
}

func TestVmRestoreToNonPrefixPanics(t *testing.T) {
	defs := NewDefs(4)
	vm := NewVm(defs, VmLimits{StackCapacity: 8, CallStackCapacity: 4, RefCapacity: 4, Fuel: 100, Memory: 1024})

	before := vm.Image()
	_, err := vm.CreateRef(ListRef(nil))
	require.NoError(t, err)
	after := vm.Image()

	vm.Restore(before)
	assert.Panics(t, func() { vm.Restore(after) })
}

func TestVmFuelZeroRaisesImmediately(t *testing.T) {
	limits := DefaultLimits()
	limits.Fuel = 0
	h := New(limits)

	_, err := h.SetBrush("1")
	require.NoError(t, err)

	_, err = h.EvalBrush()
	var hakuErr *HakuError
	require.ErrorAs(t, err, &hakuErr)
	assert.EqualError(t, hakuErr.Err, "code ran for too long")
}

func TestVmFuelBoundsEvaluation(t *testing.T) {
	limits := DefaultLimits()
	limits.Fuel = 50
	h := New(limits)

	// Well under the recursion limit, but far over 50 opcodes.
	_, err := h.SetBrush("f = \\n -> if (n < 1) 0 else f (n - 1)\nf 100")
	require.NoError(t, err)

	_, err = h.EvalBrush()
	var hakuErr *HakuError
	require.ErrorAs(t, err, &hakuErr)
	assert.EqualError(t, hakuErr.Err, "code ran for too long")
}

func TestVmOutOfHeapMemory(t *testing.T) {
	limits := DefaultLimits()
	limits.Memory = valueSize * 2
	h := New(limits)

	_, err := h.SetBrush("[1, 2, 3]")
	require.NoError(t, err)

	_, err = h.EvalBrush()
	var hakuErr *HakuError
	require.ErrorAs(t, err, &hakuErr)
	assert.EqualError(t, hakuErr.Err, "out of heap memory")
}

func TestVmOutOfRefSlots(t *testing.T) {
	limits := DefaultLimits()
	limits.RefCapacity = 0
	h := New(limits)

	_, err := h.SetBrush("1")
	require.NoError(t, err)

	// Even the brush's own closure cannot be allocated.
	_, err = h.EvalBrush()
	var hakuErr *HakuError
	require.ErrorAs(t, err, &hakuErr)
	assert.Equal(t, StatusOutOfRefSlots, hakuErr.Status)
}

func TestVmCallNonFunction(t *testing.T) {
	h := New(DefaultLimits())
	_, err := h.SetBrush("2 2")
	require.NoError(t, err)

	_, err = h.EvalBrush()
	var hakuErr *HakuError
	require.ErrorAs(t, err, &hakuErr)
	assert.EqualError(t, hakuErr.Err, "attempt to call non-function value")
}

func TestVmParamCountMismatch(t *testing.T) {
	h := New(DefaultLimits())
	_, err := h.SetBrush("(\\x -> x) 1 2")
	require.NoError(t, err)

	_, err = h.EvalBrush()
	var hakuErr *HakuError
	require.ErrorAs(t, err, &hakuErr)
	assert.EqualError(t, hakuErr.Err, "function parameter count mismatch")
}

func TestVmStackOverflow(t *testing.T) {
	limits := DefaultLimits()
	limits.StackCapacity = 8
	h := New(limits)

	_, err := h.SetBrush("[1, 2, 3, 4, 5, 6, 7, 8, 9]")
	require.NoError(t, err)

	_, err = h.EvalBrush()
	var hakuErr *HakuError
	require.ErrorAs(t, err, &hakuErr)
	assert.EqualError(t, hakuErr.Err, "too many temporary values (local variables and expression operands)")
}

func TestVmSetDefVisibleToLaterReads(t *testing.T) {
	// A SetDef write is visible to every later Def read in the same run.
	h := New(DefaultLimits())
	_, err := h.SetBrush("counter = 1\ncounter + 1")
	require.NoError(t, err)

	value, err := h.EvalBrush()
	require.NoError(t, err)
	n, _ := value.Number()
	assert.Equal(t, float32(2), n)
}

func TestVmIdleAfterRun(t *testing.T) {
	_, h := evalSource(t, "1 + 1")
	assert.True(t, h.Vm().Idle())
}
