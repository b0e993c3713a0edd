package haku

import "github.com/chewxy/math32"

// SystemFn is the signature every builtin exposed to brush programs
// implements. Builtins raise Exceptions rather than diagnostics - by the
// time one runs, compilation is long over.
type SystemFn func(vm *Vm, args FnArgs) (Value, error)

// MaxSystemFns bounds the builtin table: OpSystem addresses it with a
// single byte.
const MaxSystemFns = 256

// SystemFnArity classifies how the compiler reaches a builtin: operators
// resolve with Unary/Binary arity, named function calls with Nary.
type SystemFnArity uint8

const (
	ArityUnary SystemFnArity = iota
	ArityBinary
	ArityNary
)

// ErrTooManyChunks is returned once a System's chunk table is full.
type ErrTooManyChunks struct{}

func (ErrTooManyChunks) Error() string { return "too many chunks" }

// System is the long-lived environment compiled programs run against: the
// chunk table their bytecode lives in and the builtin table OpSystem
// addresses. The builtin table is fixed at construction and freely
// shareable read-only; chunks are append-only with image rollback.
type System struct {
	fns    [MaxSystemFns]SystemFn
	chunks []*Chunk
}

func NewSystem(maxChunks int) *System {
	s := &System{chunks: make([]*Chunk, 0, maxChunks)}
	initFns(s)
	return s
}

// Resolve maps an (arity class, name) pair to a builtin table index, as
// the compiler does when lowering operators and calls to known names.
func (s *System) Resolve(arity SystemFnArity, name string) (uint8, bool) {
	index, ok := fnIndices[fnKey{arity, name}]
	return index, ok
}

func (s *System) Fn(index uint8) SystemFn { return s.fns[index] }

// AddChunk registers chunk and returns its id.
func (s *System) AddChunk(chunk *Chunk) (ChunkID, error) {
	if len(s.chunks) >= cap(s.chunks) {
		return 0, ErrTooManyChunks{}
	}
	id := ChunkID(len(s.chunks))
	s.chunks = append(s.chunks, chunk)
	return id, nil
}

func (s *System) Chunk(id ChunkID) *Chunk { return s.chunks[id] }

// SystemImage snapshots a System's chunk table (the builtin table never
// changes after construction).
type SystemImage struct {
	chunks int
}

func (s *System) Image() SystemImage {
	return SystemImage{chunks: len(s.chunks)}
}

func (s *System) Restore(img SystemImage) {
	if img.chunks > len(s.chunks) {
		panic("haku: SystemImage is not a prefix of the current System state")
	}
	s.chunks = s.chunks[:img.chunks]
}

type fnKey struct {
	arity SystemFnArity
	name  string
}

// fnIndices backs Resolve. Slot assignments are grouped by concern and
// never reused, so a disassembly stays readable and tests can rely on
// stable gold values.
var fnIndices = map[fnKey]uint8{}

type fnDef struct {
	index uint8
	arity SystemFnArity
	name  string
	fn    SystemFn
}

func initFns(s *System) {
	for _, def := range fnDefs {
		if s.fns[def.index] != nil {
			panic("haku: duplicate system function index")
		}
		s.fns[def.index] = def.fn
	}
}

func init() {
	for _, def := range fnDefs {
		fnIndices[fnKey{def.arity, def.name}] = def.index
	}
}

var fnDefs = []fnDef{
	{0x00, ArityBinary, "+", add},
	{0x01, ArityBinary, "-", sub},
	{0x02, ArityBinary, "*", mul},
	{0x03, ArityBinary, "/", div},
	{0x04, ArityUnary, "-", neg},

	{0x10, ArityNary, "floor", math1("floor", math32.Floor)},
	{0x11, ArityNary, "ceil", math1("ceil", math32.Ceil)},
	{0x12, ArityNary, "round", math1("round", math32.Round)},
	{0x13, ArityNary, "abs", math1("abs", math32.Abs)},
	{0x14, ArityNary, "mod", math2("mod", math32.Mod)},
	{0x15, ArityNary, "pow", math2("pow", math32.Pow)},
	{0x16, ArityNary, "sqrt", math1("sqrt", math32.Sqrt)},
	{0x17, ArityNary, "cbrt", math1("cbrt", math32.Cbrt)},
	{0x18, ArityNary, "exp", math1("exp", math32.Exp)},
	{0x19, ArityNary, "exp2", math1("exp2", math32.Exp2)},
	{0x1A, ArityNary, "ln", math1("ln", math32.Log)},
	{0x1B, ArityNary, "log2", math1("log2", math32.Log2)},
	{0x1C, ArityNary, "log10", math1("log10", math32.Log10)},
	{0x1D, ArityNary, "hypot", math2("hypot", math32.Hypot)},
	{0x1E, ArityNary, "sin", math1("sin", math32.Sin)},
	{0x1F, ArityNary, "cos", math1("cos", math32.Cos)},
	{0x20, ArityNary, "tan", math1("tan", math32.Tan)},
	{0x21, ArityNary, "asin", math1("asin", math32.Asin)},
	{0x22, ArityNary, "acos", math1("acos", math32.Acos)},
	{0x23, ArityNary, "atan", math1("atan", math32.Atan)},
	{0x24, ArityNary, "atan2", math2("atan2", math32.Atan2)},
	{0x25, ArityNary, "expMinus1", math1("expMinus1", math32.Expm1)},
	{0x26, ArityNary, "ln1Plus", math1("ln1Plus", math32.Log1p)},
	{0x27, ArityNary, "sinh", math1("sinh", math32.Sinh)},
	{0x28, ArityNary, "cosh", math1("cosh", math32.Cosh)},
	{0x29, ArityNary, "tanh", math1("tanh", math32.Tanh)},
	{0x2A, ArityNary, "asinh", math1("asinh", math32.Asinh)},
	{0x2B, ArityNary, "acosh", math1("acosh", math32.Acosh)},
	{0x2C, ArityNary, "atanh", math1("atanh", math32.Atanh)},

	{0x40, ArityUnary, "!", not},
	{0x41, ArityBinary, "==", eq},
	{0x42, ArityBinary, "!=", neq},
	{0x43, ArityBinary, "<", lt},
	{0x44, ArityBinary, "<=", leq},
	{0x45, ArityBinary, ">", gt},
	{0x46, ArityBinary, ">=", geq},

	{0x80, ArityNary, "vec", vec},
	{0x81, ArityNary, "vecX", vecGetter("vecX", func(v Vec4) float32 { return v.X })},
	{0x82, ArityNary, "vecY", vecGetter("vecY", func(v Vec4) float32 { return v.Y })},
	{0x83, ArityNary, "vecZ", vecGetter("vecZ", func(v Vec4) float32 { return v.Z })},
	{0x84, ArityNary, "vecW", vecGetter("vecW", func(v Vec4) float32 { return v.W })},

	{0x85, ArityNary, "rgba", rgba},
	{0x86, ArityNary, "rgbaR", rgbaGetter("rgbaR", func(c Rgba) float32 { return c.R })},
	{0x87, ArityNary, "rgbaG", rgbaGetter("rgbaG", func(c Rgba) float32 { return c.G })},
	{0x88, ArityNary, "rgbaB", rgbaGetter("rgbaB", func(c Rgba) float32 { return c.B })},
	{0x89, ArityNary, "rgbaA", rgbaGetter("rgbaA", func(c Rgba) float32 { return c.A })},

	{0xC0, ArityNary, "toShape", toShapeFn},
	{0xC1, ArityNary, "line", line},
	{0xC2, ArityNary, "rect", rect},
	{0xC3, ArityNary, "circle", circle},

	{0xE0, ArityNary, "stroke", stroke},
	{0xE1, ArityNary, "fill", fill},
}

func add(vm *Vm, args FnArgs) (Value, error) {
	a, err := args.GetNumber(vm, 0, "arguments to `+` must be numbers")
	if err != nil {
		return Value{}, err
	}
	b, err := args.GetNumber(vm, 1, "arguments to `+` must be numbers")
	if err != nil {
		return Value{}, err
	}
	return NumberValue(a + b), nil
}

func sub(vm *Vm, args FnArgs) (Value, error) {
	a, err := args.GetNumber(vm, 0, "arguments to `-` must be numbers")
	if err != nil {
		return Value{}, err
	}
	b, err := args.GetNumber(vm, 1, "arguments to `-` must be numbers")
	if err != nil {
		return Value{}, err
	}
	return NumberValue(a - b), nil
}

func mul(vm *Vm, args FnArgs) (Value, error) {
	a, err := args.GetNumber(vm, 0, "arguments to `*` must be numbers")
	if err != nil {
		return Value{}, err
	}
	b, err := args.GetNumber(vm, 1, "arguments to `*` must be numbers")
	if err != nil {
		return Value{}, err
	}
	return NumberValue(a * b), nil
}

func div(vm *Vm, args FnArgs) (Value, error) {
	a, err := args.GetNumber(vm, 0, "arguments to `/` must be numbers")
	if err != nil {
		return Value{}, err
	}
	b, err := args.GetNumber(vm, 1, "arguments to `/` must be numbers")
	if err != nil {
		return Value{}, err
	}
	return NumberValue(a / b), nil
}

func neg(vm *Vm, args FnArgs) (Value, error) {
	x, err := args.GetNumber(vm, 0, "`-` can only work with numbers")
	if err != nil {
		return Value{}, err
	}
	return NumberValue(-x), nil
}

func math1(name string, f func(float32) float32) SystemFn {
	return func(vm *Vm, args FnArgs) (Value, error) {
		if args.Num() != 1 {
			return Value{}, raise("`%s` expects a single argument (%s x)", name, name)
		}
		x, err := args.GetNumber(vm, 0, "`"+name+"` argument must be a number")
		if err != nil {
			return Value{}, err
		}
		return NumberValue(f(x)), nil
	}
}

func math2(name string, f func(a, b float32) float32) SystemFn {
	return func(vm *Vm, args FnArgs) (Value, error) {
		if args.Num() != 2 {
			return Value{}, raise("`%s` expects two arguments (%s x y)", name, name)
		}
		x, err := args.GetNumber(vm, 0, "`"+name+"` arguments must be numbers")
		if err != nil {
			return Value{}, err
		}
		y, err := args.GetNumber(vm, 1, "`"+name+"` arguments must be numbers")
		if err != nil {
			return Value{}, err
		}
		return NumberValue(f(x, y)), nil
	}
}

func not(vm *Vm, args FnArgs) (Value, error) {
	return BoolValue(!args.Get(vm, 0).Truthy()), nil
}

func eq(vm *Vm, args FnArgs) (Value, error) {
	return BoolValue(args.Get(vm, 0).Equals(args.Get(vm, 1))), nil
}

func neq(vm *Vm, args FnArgs) (Value, error) {
	return BoolValue(!args.Get(vm, 0).Equals(args.Get(vm, 1))), nil
}

func lt(vm *Vm, args FnArgs) (Value, error) {
	ord, ok := args.Get(vm, 0).Compare(args.Get(vm, 1))
	return BoolValue(ok && ord < 0), nil
}

func leq(vm *Vm, args FnArgs) (Value, error) {
	ord, ok := args.Get(vm, 0).Compare(args.Get(vm, 1))
	return BoolValue(ok && ord <= 0), nil
}

func gt(vm *Vm, args FnArgs) (Value, error) {
	ord, ok := args.Get(vm, 0).Compare(args.Get(vm, 1))
	return BoolValue(ok && ord > 0), nil
}

func geq(vm *Vm, args FnArgs) (Value, error) {
	ord, ok := args.Get(vm, 0).Compare(args.Get(vm, 1))
	return BoolValue(ok && ord >= 0), nil
}

func vec(vm *Vm, args FnArgs) (Value, error) {
	const message = "arguments to `vec` must be numbers (vec x y z w)"
	if args.Num() < 1 || args.Num() > 4 {
		return Value{}, raise("`vec` expects 1-4 arguments (vec x y z w)")
	}
	var components [4]float32
	for i := 0; i < args.Num(); i++ {
		x, err := args.GetNumber(vm, i, message)
		if err != nil {
			return Value{}, err
		}
		components[i] = x
	}
	return Vec4Value(Vec4{X: components[0], Y: components[1], Z: components[2], W: components[3]}), nil
}

func vecGetter(name string, get func(Vec4) float32) SystemFn {
	return func(vm *Vm, args FnArgs) (Value, error) {
		if args.Num() != 1 {
			return Value{}, raise("`%s` expects a single argument (%s vec)", name, name)
		}
		v, err := args.GetVec4(vm, 0, "argument to ("+name+" vec) must be a `vec`")
		if err != nil {
			return Value{}, err
		}
		return NumberValue(get(v)), nil
	}
}

func rgba(vm *Vm, args FnArgs) (Value, error) {
	const message = "arguments to (rgba r g b a) must be numbers"
	if args.Num() != 4 {
		return Value{}, raise("`rgba` expects four arguments (rgba r g b a)")
	}
	var channels [4]float32
	for i := range channels {
		x, err := args.GetNumber(vm, i, message)
		if err != nil {
			return Value{}, err
		}
		channels[i] = x
	}
	return RgbaValue(Rgba{R: channels[0], G: channels[1], B: channels[2], A: channels[3]}), nil
}

func rgbaGetter(name string, get func(Rgba) float32) SystemFn {
	return func(vm *Vm, args FnArgs) (Value, error) {
		if args.Num() != 1 {
			return Value{}, raise("`%s` expects a single argument (%s rgba)", name, name)
		}
		c, err := args.GetRgba(vm, 0, "argument to ("+name+" rgba) must be an `rgba`")
		if err != nil {
			return Value{}, err
		}
		return NumberValue(get(c)), nil
	}
}

// toShape is the coercion rule shared by `toShape`, `stroke`, and `fill`:
// a Vec4 promotes to a Point shape, a Shape ref passes through, and
// anything else is not a shape.
func toShape(vm *Vm, value Value) (Shape, bool) {
	if v, ok := value.Vec4(); ok {
		return PointShape(v.Vec2()), true
	}
	if _, ref, ok := vm.getRefValue(value); ok {
		if shape, ok := ref.Shape(); ok {
			return shape, true
		}
	}
	return Shape{}, false
}

func toShapeFn(vm *Vm, args FnArgs) (Value, error) {
	if args.Num() != 1 {
		return Value{}, raise("`toShape` expects 1 argument (toShape value)")
	}
	shape, ok := toShape(vm, args.Get(vm, 0))
	if !ok {
		return NilValue(), nil
	}
	id, err := vm.CreateRef(ShapeRef(shape))
	if err != nil {
		return Value{}, err
	}
	return RefValue(id), nil
}

func line(vm *Vm, args FnArgs) (Value, error) {
	const message = "arguments to `line` must be `vec`"
	if args.Num() != 2 {
		return Value{}, raise("`line` expects 2 arguments (line start end)")
	}
	start, err := args.GetVec4(vm, 0, message)
	if err != nil {
		return Value{}, err
	}
	end, err := args.GetVec4(vm, 1, message)
	if err != nil {
		return Value{}, err
	}
	id, err := vm.CreateRef(ShapeRef(LineShape(start.Vec2(), end.Vec2())))
	if err != nil {
		return Value{}, err
	}
	return RefValue(id), nil
}

func rect(vm *Vm, args FnArgs) (Value, error) {
	const args2 = "arguments to 2-argument `rect` must be `vec`"
	const args4 = "arguments to 4-argument `rect` must be numbers"

	var position, size Vec2
	switch args.Num() {
	case 2:
		p, err := args.GetVec4(vm, 0, args2)
		if err != nil {
			return Value{}, err
		}
		s, err := args.GetVec4(vm, 1, args2)
		if err != nil {
			return Value{}, err
		}
		position, size = p.Vec2(), s.Vec2()
	case 4:
		var components [4]float32
		for i := range components {
			x, err := args.GetNumber(vm, i, args4)
			if err != nil {
				return Value{}, err
			}
			components[i] = x
		}
		position = Vec2{X: components[0], Y: components[1]}
		size = Vec2{X: components[2], Y: components[3]}
	default:
		return Value{}, raise("`rect` expects 2 arguments (rect position size) or 4 arguments (rect x y width height)")
	}

	id, err := vm.CreateRef(ShapeRef(RectShape(position, size)))
	if err != nil {
		return Value{}, err
	}
	return RefValue(id), nil
}

func circle(vm *Vm, args FnArgs) (Value, error) {
	const args2 = "arguments to 2-argument `circle` must be `vec` and a number"
	const args3 = "arguments to 3-argument `circle` must be numbers"

	var position Vec2
	var radius float32
	switch args.Num() {
	case 2:
		p, err := args.GetVec4(vm, 0, args2)
		if err != nil {
			return Value{}, err
		}
		r, err := args.GetNumber(vm, 1, args2)
		if err != nil {
			return Value{}, err
		}
		position, radius = p.Vec2(), r
	case 3:
		x, err := args.GetNumber(vm, 0, args3)
		if err != nil {
			return Value{}, err
		}
		y, err := args.GetNumber(vm, 1, args3)
		if err != nil {
			return Value{}, err
		}
		r, err := args.GetNumber(vm, 2, args3)
		if err != nil {
			return Value{}, err
		}
		position, radius = Vec2{X: x, Y: y}, r
	default:
		return Value{}, raise("`circle` expects 2 arguments (circle position radius) or 3 arguments (circle x y radius)")
	}

	id, err := vm.CreateRef(ShapeRef(CircleShape(position, radius)))
	if err != nil {
		return Value{}, err
	}
	return RefValue(id), nil
}

func stroke(vm *Vm, args FnArgs) (Value, error) {
	if args.Num() != 3 {
		return Value{}, raise("`stroke` expects 3 arguments (stroke thickness color shape)")
	}
	thickness, err := args.GetNumber(vm, 0, "1st argument to `stroke` must be a thickness in pixels (number)")
	if err != nil {
		return Value{}, err
	}
	color, err := args.GetRgba(vm, 1, "2nd argument to `stroke` must be a color (rgba)")
	if err != nil {
		return Value{}, err
	}
	shape, ok := toShape(vm, args.Get(vm, 2))
	if !ok {
		return NilValue(), nil
	}
	id, err := vm.CreateRef(ScribbleRef(Scribble{
		Kind:      ScribbleStroke,
		Shape:     shape,
		Color:     color,
		Thickness: thickness,
	}))
	if err != nil {
		return Value{}, err
	}
	return RefValue(id), nil
}

func fill(vm *Vm, args FnArgs) (Value, error) {
	if args.Num() != 2 {
		return Value{}, raise("`fill` expects 2 arguments (fill color shape)")
	}
	color, err := args.GetRgba(vm, 0, "1st argument to `fill` must be a color (rgba)")
	if err != nil {
		return Value{}, err
	}
	shape, ok := toShape(vm, args.Get(vm, 1))
	if !ok {
		return NilValue(), nil
	}
	id, err := vm.CreateRef(ScribbleRef(Scribble{
		Kind:  ScribbleFill,
		Shape: shape,
		Color: color,
	}))
	if err != nil {
		return Value{}, err
	}
	return RefValue(id), nil
}
