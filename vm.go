package haku

import "fmt"

// Exception is a fatal runtime failure: fuel exhaustion, a stack/ref/
// memory budget overrun, a type mismatch inside a builtin, or any other
// error a running brush cannot recover from. The language has no catch;
// an Exception unwinds out of Run entirely, and the Vm's stacks are left
// as they were at the point of failure. The host must restore a prior
// VmImage before evaluating again.
type Exception struct {
	Message string
}

func (e Exception) Error() string { return e.Message }

func raise(format string, args ...any) Exception {
	if len(args) == 0 {
		return Exception{Message: format}
	}
	return Exception{Message: fmt.Sprintf(format, args...)}
}

// valueSize is the heap cost charged per element when a List ref is
// allocated. It only needs to be proportional to the real footprint; the
// memory limit is a budget, not an accountant.
const valueSize = 48

// callFrame is one activation record: the chunk and program counter to
// resume, the stack index the frame's locals start at, and the closure
// providing its captures.
type callFrame struct {
	closureID RefID
	chunkID   ChunkID
	pc        int
	bottom    int
}

// VmLimits bounds every resource a single Vm instance may consume while
// running a brush program.
type VmLimits struct {
	StackCapacity     int
	CallStackCapacity int
	RefCapacity       int
	Fuel              int
	Memory            int
}

// VmImage snapshots the lengths and counters of every resource a Vm owns.
// Restoring truncates each vector back to its recorded length, which is
// the only sanctioned way to reclaim refs and bound per-plot cost.
type VmImage struct {
	stack     int
	callStack int
	refs      int
	defs      int
	fuel      int
	memory    int
}

// Vm is the stack interpreter. One instance is reused across many
// evaluations of the same brush; Image and Restore undo an evaluation's
// effects (including a failed one's partial effects).
type Vm struct {
	stack     []Value
	callStack []callFrame
	refs      []Ref
	defs      []Value
	fuel      int
	memory    int
}

func NewVm(defs *Defs, limits VmLimits) *Vm {
	vm := &Vm{
		stack:     make([]Value, 0, limits.StackCapacity),
		callStack: make([]callFrame, 0, limits.CallStackCapacity),
		refs:      make([]Ref, 0, limits.RefCapacity),
		defs:      make([]Value, defs.Len()),
		fuel:      limits.Fuel,
		memory:    limits.Memory,
	}
	return vm
}

func (vm *Vm) RemainingFuel() int { return vm.fuel }

func (vm *Vm) SetFuel(fuel int) { vm.fuel = fuel }

// Idle reports whether the Vm is between runs: nothing on the value or
// call stack.
func (vm *Vm) Idle() bool {
	return len(vm.stack) == 0 && len(vm.callStack) == 0
}

// Image snapshots the Vm. It is a programming error to image a Vm that is
// mid-run (or left dirty by an exception that was never rolled back).
func (vm *Vm) Image() VmImage {
	if !vm.Idle() {
		panic("haku: cannot image a Vm while it is running code")
	}
	return VmImage{
		stack:     len(vm.stack),
		callStack: len(vm.callStack),
		refs:      len(vm.refs),
		defs:      len(vm.defs),
		fuel:      vm.fuel,
		memory:    vm.memory,
	}
}

// Restore rolls the Vm back to img, which must describe a prefix of every
// resource's current length. Restoring to a non-prefix image is a
// programming error in the host and panics rather than silently
// corrupting state.
func (vm *Vm) Restore(img VmImage) {
	if img.stack > len(vm.stack) || img.callStack > len(vm.callStack) ||
		img.refs > len(vm.refs) || img.defs > len(vm.defs) {
		panic("haku: VmImage is not a prefix of the current Vm state")
	}
	vm.stack = vm.stack[:img.stack]
	vm.callStack = vm.callStack[:img.callStack]
	vm.refs = vm.refs[:img.refs]
	vm.defs = vm.defs[:img.defs]
	vm.fuel = img.fuel
	vm.memory = img.memory
}

// ApplyDefs grows the def-value vector so every slot in defs is
// addressable, filling new slots with nil. defs must be a superset of the
// slots the Vm already tracks.
func (vm *Vm) ApplyDefs(defs *Defs) {
	if defs.Len() < len(vm.defs) {
		panic("haku: defs must be a superset of the current Vm's def values")
	}
	for len(vm.defs) < defs.Len() {
		vm.defs = append(vm.defs, NilValue())
	}
}

func (vm *Vm) push(v Value) error {
	if len(vm.stack) >= cap(vm.stack) {
		return raise("too many temporary values (local variables and expression operands)")
	}
	vm.stack = append(vm.stack, v)
	return nil
}

func (vm *Vm) pop() (Value, error) {
	if len(vm.stack) == 0 {
		return Value{}, raise("corrupted bytecode (value stack underflow)")
	}
	v := vm.stack[len(vm.stack)-1]
	vm.stack = vm.stack[:len(vm.stack)-1]
	return v, nil
}

func (vm *Vm) getStack(index int) (Value, error) {
	if index < 0 || index >= len(vm.stack) {
		return Value{}, raise("corrupted bytecode (local variable out of bounds)")
	}
	return vm.stack[index], nil
}

func (vm *Vm) setStack(index int, v Value) error {
	if index < 0 || index >= len(vm.stack) {
		return raise("corrupted bytecode (set local variable out of bounds)")
	}
	vm.stack[index] = v
	return nil
}

func (vm *Vm) pushCall(frame callFrame) error {
	if len(vm.callStack) >= cap(vm.callStack) {
		return raise("too much recursion")
	}
	vm.callStack = append(vm.callStack, frame)
	return nil
}

func (vm *Vm) popCall() (callFrame, error) {
	if len(vm.callStack) == 0 {
		return callFrame{}, raise("corrupted bytecode (call stack underflow)")
	}
	frame := vm.callStack[len(vm.callStack)-1]
	vm.callStack = vm.callStack[:len(vm.callStack)-1]
	return frame, nil
}

// CreateRef allocates r in the ref arena and returns its id.
func (vm *Vm) CreateRef(r Ref) (RefID, error) {
	if len(vm.refs) >= cap(vm.refs) {
		return 0, raise("out of ref slots")
	}
	id := RefID(len(vm.refs))
	vm.refs = append(vm.refs, r)
	return id, nil
}

func (vm *Vm) GetRef(id RefID) *Ref { return &vm.refs[id] }

// getRefValue resolves value to the Ref it points at, if it is a ref at all.
func (vm *Vm) getRefValue(value Value) (RefID, *Ref, bool) {
	id, ok := value.Ref()
	if !ok {
		return 0, nil, false
	}
	return id, vm.GetRef(id), true
}

// TrackArray charges n values' worth of heap against the memory budget.
func (vm *Vm) TrackArray(n int) error {
	cost := n * valueSize
	if cost > vm.memory {
		return raise("out of heap memory")
	}
	vm.memory -= cost
	return nil
}

// Run executes the closure identified by closureID against system until
// its initial frame returns, then yields the top-of-stack value and
// restores the stack to its entry length. On an Exception the stacks are
// left dirty; the caller must Restore an image before the next Run.
func (vm *Vm) Run(system *System, closureID RefID) (Value, error) {
	closure, ok := vm.GetRef(closureID).Closure()
	if !ok {
		return Value{}, raise("attempt to call non-function value")
	}

	chunkID := closure.Chunk
	chunk := system.Chunk(chunkID)
	pc := closure.Offset
	bottom := len(vm.stack)

	initBottom := bottom
	for i := uint8(0); i < closure.LocalCount; i++ {
		if err := vm.push(NilValue()); err != nil {
			return Value{}, err
		}
	}

	if err := vm.pushCall(callFrame{closureID: closureID, chunkID: chunkID, pc: pc, bottom: bottom}); err != nil {
		return Value{}, err
	}

loop:
	for {
		if vm.fuel == 0 {
			return Value{}, raise("code ran for too long")
		}
		vm.fuel--

		opcode, err := chunk.ReadOpcode(&pc)
		if err != nil {
			return Value{}, err
		}

		switch opcode {
		case OpNil:
			if err := vm.push(NilValue()); err != nil {
				return Value{}, err
			}

		case OpFalse:
			if err := vm.push(BoolValue(false)); err != nil {
				return Value{}, err
			}

		case OpTrue:
			if err := vm.push(BoolValue(true)); err != nil {
				return Value{}, err
			}

		case OpNumber:
			x, err := chunk.ReadF32(&pc)
			if err != nil {
				return Value{}, err
			}
			if err := vm.push(NumberValue(x)); err != nil {
				return Value{}, err
			}

		case OpRgba:
			var channels [4]float32
			for i := range channels {
				b, err := chunk.ReadU8(&pc)
				if err != nil {
					return Value{}, err
				}
				channels[i] = float32(b) / 255
			}
			if err := vm.push(RgbaValue(Rgba{R: channels[0], G: channels[1], B: channels[2], A: channels[3]})); err != nil {
				return Value{}, err
			}

		case OpLocal:
			index, err := chunk.ReadU8(&pc)
			if err != nil {
				return Value{}, err
			}
			value, err := vm.getStack(bottom + int(index))
			if err != nil {
				return Value{}, err
			}
			if err := vm.push(value); err != nil {
				return Value{}, err
			}

		case OpSetLocal:
			index, err := chunk.ReadU8(&pc)
			if err != nil {
				return Value{}, err
			}
			value, err := vm.pop()
			if err != nil {
				return Value{}, err
			}
			if err := vm.setStack(bottom+int(index), value); err != nil {
				return Value{}, err
			}

		case OpCapture:
			index, err := chunk.ReadU8(&pc)
			if err != nil {
				return Value{}, err
			}
			closure, _ := vm.GetRef(closureID).Closure()
			if int(index) >= len(closure.Captures) {
				return Value{}, raise("corrupted bytecode (capture index out of bounds)")
			}
			if err := vm.push(closure.Captures[index]); err != nil {
				return Value{}, err
			}

		case OpDef:
			index, err := chunk.ReadU16(&pc)
			if err != nil {
				return Value{}, err
			}
			if int(index) >= len(vm.defs) {
				return Value{}, raise("corrupted bytecode (def index out of bounds)")
			}
			if err := vm.push(vm.defs[index]); err != nil {
				return Value{}, err
			}

		case OpSetDef:
			index, err := chunk.ReadU16(&pc)
			if err != nil {
				return Value{}, err
			}
			value, err := vm.pop()
			if err != nil {
				return Value{}, err
			}
			if int(index) >= len(vm.defs) {
				return Value{}, raise("corrupted bytecode (set def index out of bounds)")
			}
			vm.defs[index] = value

		case OpList:
			count, err := chunk.ReadU16(&pc)
			if err != nil {
				return Value{}, err
			}
			base := len(vm.stack) - int(count)
			if base < 0 {
				return Value{}, raise("corrupted bytecode (list has more elements than stack)")
			}
			elements := make([]Value, count)
			copy(elements, vm.stack[base:])
			vm.stack = vm.stack[:base]
			if err := vm.TrackArray(len(elements)); err != nil {
				return Value{}, err
			}
			id, err := vm.CreateRef(ListRef(elements))
			if err != nil {
				return Value{}, err
			}
			if err := vm.push(RefValue(id)); err != nil {
				return Value{}, err
			}

		case OpFunction:
			paramCount, err := chunk.ReadU8(&pc)
			if err != nil {
				return Value{}, err
			}
			then, err := chunk.ReadU16(&pc)
			if err != nil {
				return Value{}, err
			}
			body := pc
			pc = int(then)

			localCount, err := chunk.ReadU8(&pc)
			if err != nil {
				return Value{}, err
			}
			captureCount, err := chunk.ReadU8(&pc)
			if err != nil {
				return Value{}, err
			}

			captures := make([]Value, 0, captureCount)
			for i := 0; i < int(captureCount); i++ {
				source, err := chunk.ReadU8(&pc)
				if err != nil {
					return Value{}, err
				}
				index, err := chunk.ReadU8(&pc)
				if err != nil {
					return Value{}, err
				}
				switch source {
				case CaptureLocal:
					value, err := vm.getStack(bottom + int(index))
					if err != nil {
						return Value{}, err
					}
					captures = append(captures, value)
				case CaptureCapture:
					enclosing, _ := vm.GetRef(closureID).Closure()
					if int(index) >= len(enclosing.Captures) {
						return Value{}, raise("corrupted bytecode (captured capture index out of bounds)")
					}
					captures = append(captures, enclosing.Captures[index])
				default:
					captures = append(captures, NilValue())
				}
			}

			id, err := vm.CreateRef(ClosureRef(&Closure{
				Chunk:      chunkID,
				Offset:     body,
				ParamCount: paramCount,
				LocalCount: localCount,
				Captures:   captures,
			}))
			if err != nil {
				return Value{}, err
			}
			if err := vm.push(RefValue(id)); err != nil {
				return Value{}, err
			}

		case OpJump:
			offset, err := chunk.ReadU16(&pc)
			if err != nil {
				return Value{}, err
			}
			pc = int(offset)

		case OpJumpIfNot:
			offset, err := chunk.ReadU16(&pc)
			if err != nil {
				return Value{}, err
			}
			value, err := vm.pop()
			if err != nil {
				return Value{}, err
			}
			if !value.Truthy() {
				pc = int(offset)
			}

		case OpCall:
			argc, err := chunk.ReadU8(&pc)
			if err != nil {
				return Value{}, err
			}
			functionValue, err := vm.pop()
			if err != nil {
				return Value{}, err
			}
			calledID, ref, ok := vm.getRefValue(functionValue)
			if !ok {
				return Value{}, raise("attempt to call non-function value")
			}
			called, ok := ref.Closure()
			if !ok {
				return Value{}, raise("attempt to call non-function value")
			}
			if int(argc) != int(called.ParamCount) {
				return Value{}, raise("function parameter count mismatch")
			}

			frame := callFrame{closureID: closureID, chunkID: chunkID, pc: pc, bottom: bottom}

			closureID = calledID
			chunkID = called.Chunk
			chunk = system.Chunk(chunkID)
			pc = called.Offset
			bottom = len(vm.stack) - int(argc)
			if bottom < 0 {
				return Value{}, raise("corrupted bytecode (not enough values on the stack for arguments)")
			}

			// Locals are only pushed after the bottom is computed, so
			// arguments occupy the first param_count local slots.
			for i := uint8(0); i < called.LocalCount; i++ {
				if err := vm.push(NilValue()); err != nil {
					return Value{}, err
				}
			}

			if err := vm.pushCall(frame); err != nil {
				return Value{}, err
			}

		case OpSystem:
			index, err := chunk.ReadU8(&pc)
			if err != nil {
				return Value{}, err
			}
			argc, err := chunk.ReadU8(&pc)
			if err != nil {
				return Value{}, err
			}
			fn := system.Fn(index)
			if fn == nil {
				return Value{}, raise("corrupted bytecode (invalid system function index)")
			}
			base := len(vm.stack) - int(argc)
			if base < 0 {
				return Value{}, raise("corrupted bytecode (not enough values on the stack for arguments)")
			}
			result, err := fn(vm, FnArgs{base: base, len: int(argc)})
			if err != nil {
				return Value{}, err
			}
			vm.stack = vm.stack[:base]
			if err := vm.push(result); err != nil {
				return Value{}, err
			}

		case OpReturn:
			value, err := vm.pop()
			if err != nil {
				return Value{}, err
			}
			frame, err := vm.popCall()
			if err != nil {
				return Value{}, err
			}
			vm.stack = vm.stack[:bottom]
			if err := vm.push(value); err != nil {
				return Value{}, err
			}

			// Once the initial frame is popped, halt the VM.
			if len(vm.callStack) == 0 {
				break loop
			}

			closureID = frame.closureID
			chunkID = frame.chunkID
			chunk = system.Chunk(chunkID)
			pc = frame.pc
			bottom = frame.bottom
		}
	}

	result, err := vm.pop()
	if err != nil {
		return Value{}, err
	}
	vm.stack = vm.stack[:initBottom]
	return result, nil
}

// FnArgs is a builtin's view of its n consecutive argument values, which
// stay at their final stack positions for the duration of the call.
type FnArgs struct {
	base int
	len  int
}

func (a FnArgs) Num() int { return a.len }

func (a FnArgs) Get(vm *Vm, index int) Value {
	if index >= a.len {
		return NilValue()
	}
	return vm.stack[a.base+index]
}

func (a FnArgs) GetNumber(vm *Vm, index int, message string) (float32, error) {
	n, ok := a.Get(vm, index).Number()
	if !ok {
		return 0, raise(message)
	}
	return n, nil
}

func (a FnArgs) GetVec4(vm *Vm, index int, message string) (Vec4, error) {
	v, ok := a.Get(vm, index).Vec4()
	if !ok {
		return Vec4{}, raise(message)
	}
	return v, nil
}

func (a FnArgs) GetRgba(vm *Vm, index int, message string) (Rgba, error) {
	c, ok := a.Get(vm, index).Rgba()
	if !ok {
		return Rgba{}, raise(message)
	}
	return c, nil
}
