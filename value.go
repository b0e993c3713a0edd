package haku

import "fmt"

// ValueKind tags the variant held by a Value. The declaration order is
// significant: ordering between values of different kinds follows it.
type ValueKind uint8

const (
	ValueNil ValueKind = iota
	ValueFalse
	ValueTrue
	ValueNumber
	ValueVec4
	ValueRgba
	ValueRef
)

// Vec2 is a two-component float vector, the coordinate type shapes are
// built from.
type Vec2 struct{ X, Y float32 }

// Vec4 is a four-component float vector - the general numeric vector type
// `vec` and the shape constructors operate on. Lower-arity vecs zero
// their missing trailing components.
type Vec4 struct{ X, Y, Z, W float32 }

func (v Vec4) Vec2() Vec2 { return Vec2{X: v.X, Y: v.Y} }

// Rgba is a color, each channel nominally in [0, 1]. Channels are only
// clamped at paint time, so intermediate arithmetic may leave the range.
type Rgba struct{ R, G, B, A float32 }

// RefID indexes into a Vm's ref arena. Refs are the only heap-allocated
// values; everything else in Value is copied by value.
type RefID uint32

// Value is haku's tagged runtime value. The zero Value is nil.
type Value struct {
	kind   ValueKind
	number float32
	vec    Vec4
	rgba   Rgba
	ref    RefID
}

func NilValue() Value { return Value{kind: ValueNil} }

func BoolValue(b bool) Value {
	if b {
		return Value{kind: ValueTrue}
	}
	return Value{kind: ValueFalse}
}

func NumberValue(n float32) Value { return Value{kind: ValueNumber, number: n} }

func Vec4Value(v Vec4) Value { return Value{kind: ValueVec4, vec: v} }

func RgbaValue(c Rgba) Value { return Value{kind: ValueRgba, rgba: c} }

func RefValue(id RefID) Value { return Value{kind: ValueRef, ref: id} }

func (v Value) Kind() ValueKind { return v.kind }

// Truthy implements haku's truthiness rule: only nil and false are falsy,
// every other value (including the number 0) is truthy.
func (v Value) Truthy() bool {
	return v.kind != ValueNil && v.kind != ValueFalse
}

func (v Value) Number() (float32, bool) {
	if v.kind != ValueNumber {
		return 0, false
	}
	return v.number, true
}

func (v Value) Vec4() (Vec4, bool) {
	if v.kind != ValueVec4 {
		return Vec4{}, false
	}
	return v.vec, true
}

func (v Value) Rgba() (Rgba, bool) {
	if v.kind != ValueRgba {
		return Rgba{}, false
	}
	return v.rgba, true
}

func (v Value) Ref() (RefID, bool) {
	if v.kind != ValueRef {
		return 0, false
	}
	return v.ref, true
}

func (v Value) typeName(vm *Vm) string {
	switch v.kind {
	case ValueNil:
		return "nil"
	case ValueFalse, ValueTrue:
		return "boolean"
	case ValueNumber:
		return "number"
	case ValueVec4:
		return "vec"
	case ValueRgba:
		return "rgba"
	case ValueRef:
		if vm != nil {
			return vm.GetRef(v.ref).typeName()
		}
		return "ref"
	default:
		return "unknown"
	}
}

func (v Value) String() string {
	switch v.kind {
	case ValueNil:
		return "()"
	case ValueFalse:
		return "False"
	case ValueTrue:
		return "True"
	case ValueNumber:
		return fmt.Sprintf("%g", v.number)
	case ValueVec4:
		return fmt.Sprintf("vec %g %g %g %g", v.vec.X, v.vec.Y, v.vec.Z, v.vec.W)
	case ValueRgba:
		return fmt.Sprintf("rgba %g %g %g %g", v.rgba.R, v.rgba.G, v.rgba.B, v.rgba.A)
	case ValueRef:
		return fmt.Sprintf("ref(%d)", v.ref)
	default:
		return "<invalid>"
	}
}

// Equals implements haku's `==`: lexicographic over (kind, payload).
// Refs compare by identity, so two freshly-built lists with the same
// contents are not `==`.
func (v Value) Equals(other Value) bool {
	ord, ok := v.Compare(other)
	return ok && ord == 0
}

// Compare orders two values lexicographically over their encoded
// representation: kind first, payload second. The second return is false
// when the pair has no defined order (a NaN is involved).
func (v Value) Compare(other Value) (int, bool) {
	if v.kind != other.kind {
		if v.kind < other.kind {
			return -1, true
		}
		return 1, true
	}
	switch v.kind {
	case ValueNil, ValueFalse, ValueTrue:
		return 0, true
	case ValueNumber:
		return compareF32(v.number, other.number)
	case ValueVec4:
		return compareF32s(
			[]float32{v.vec.X, v.vec.Y, v.vec.Z, v.vec.W},
			[]float32{other.vec.X, other.vec.Y, other.vec.Z, other.vec.W},
		)
	case ValueRgba:
		return compareF32s(
			[]float32{v.rgba.R, v.rgba.G, v.rgba.B, v.rgba.A},
			[]float32{other.rgba.R, other.rgba.G, other.rgba.B, other.rgba.A},
		)
	case ValueRef:
		switch {
		case v.ref < other.ref:
			return -1, true
		case v.ref > other.ref:
			return 1, true
		default:
			return 0, true
		}
	default:
		return 0, false
	}
}

func compareF32(a, b float32) (int, bool) {
	switch {
	case a != a || b != b: // NaN
		return 0, false
	case a < b:
		return -1, true
	case a > b:
		return 1, true
	default:
		return 0, true
	}
}

func compareF32s(a, b []float32) (int, bool) {
	for i := range a {
		ord, ok := compareF32(a[i], b[i])
		if !ok {
			return 0, false
		}
		if ord != 0 {
			return ord, true
		}
	}
	return 0, true
}

// RefKind tags the heap-allocated variant a Ref holds.
type RefKind uint8

const (
	RefClosure RefKind = iota
	RefList
	RefShape
	RefScribble
)

// Ref is the union of every heap value a Vm's ref arena may hold.
type Ref struct {
	kind     RefKind
	closure  *Closure
	list     []Value
	shape    Shape
	scribble Scribble
}

func (r *Ref) typeName() string {
	switch r.kind {
	case RefClosure:
		return "function"
	case RefList:
		return "list"
	case RefShape:
		return "shape"
	case RefScribble:
		return "scribble"
	default:
		return "ref"
	}
}

func ClosureRef(c *Closure) Ref  { return Ref{kind: RefClosure, closure: c} }
func ListRef(values []Value) Ref { return Ref{kind: RefList, list: values} }
func ShapeRef(s Shape) Ref       { return Ref{kind: RefShape, shape: s} }
func ScribbleRef(s Scribble) Ref { return Ref{kind: RefScribble, scribble: s} }

func (r *Ref) Kind() RefKind { return r.kind }

func (r *Ref) Closure() (*Closure, bool) {
	if r.kind != RefClosure {
		return nil, false
	}
	return r.closure, true
}

func (r *Ref) List() ([]Value, bool) {
	if r.kind != RefList {
		return nil, false
	}
	return r.list, true
}

func (r *Ref) Shape() (Shape, bool) {
	if r.kind != RefShape {
		return Shape{}, false
	}
	return r.shape, true
}

func (r *Ref) Scribble() (Scribble, bool) {
	if r.kind != RefScribble {
		return Scribble{}, false
	}
	return r.scribble, true
}

// Closure is a function value: an entry point into its owning System's
// chunk table, its parameter and let-slot counts, and the values it
// captured from enclosing scopes at the moment it was created. Captures
// hold values, not cells - a closure snapshots its environment.
type Closure struct {
	Chunk      ChunkID
	Offset     int
	ParamCount uint8
	LocalCount uint8
	Captures   []Value
}

// ClosureSpec is what the compiler reports about a compiled toplevel
// program, so the host can wrap its chunk into a runnable Closure.
type ClosureSpec struct {
	LocalCount uint8
}

// ShapeKind tags the geometric primitive a Shape describes.
type ShapeKind uint8

const (
	ShapePoint ShapeKind = iota
	ShapeLine
	ShapeRect
	ShapeCircle
)

// Shape is a single geometric primitive, expressed in the brush's local
// coordinate space.
type Shape struct {
	Kind ShapeKind
	// Point: P. Line: P (start) to Q (end). Rect: P (corner), Q (size).
	// Circle: P (center), Radius.
	P, Q   Vec2
	Radius float32
}

func PointShape(p Vec2) Shape          { return Shape{Kind: ShapePoint, P: p} }
func LineShape(a, b Vec2) Shape        { return Shape{Kind: ShapeLine, P: a, Q: b} }
func RectShape(pos, size Vec2) Shape   { return Shape{Kind: ShapeRect, P: pos, Q: size} }
func CircleShape(c Vec2, r float32) Shape {
	return Shape{Kind: ShapeCircle, P: c, Radius: r}
}

// ScribbleKind tags whether a Scribble strokes or fills its shape.
type ScribbleKind uint8

const (
	ScribbleStroke ScribbleKind = iota
	ScribbleFill
)

// Scribble is the renderable unit a brush program ultimately produces: a
// shape with a color, either stroked at a thickness or filled.
type Scribble struct {
	Kind  ScribbleKind
	Shape Shape
	Color Rgba
	// Thickness is only meaningful for ScribbleStroke.
	Thickness float32
}
