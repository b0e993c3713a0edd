package haku

import "github.com/chewxy/math32"

// Pixmap is a render target: width×height premultiplied RGBA8 pixels,
// row-major, origin top-left. The layout is bit-compatible with Go's
// image.RGBA (which is likewise alpha-premultiplied), so hosts can encode
// it without conversion.
type Pixmap struct {
	Width, Height int
	Pix           []uint8
}

func NewPixmap(width, height int) *Pixmap {
	return &Pixmap{Width: width, Height: height, Pix: make([]uint8, width*height*4)}
}

// WrapPixmap borrows an existing premultiplied RGBA8 buffer, which must
// hold width*height*4 bytes.
func WrapPixmap(pix []uint8, width, height int) *Pixmap {
	if len(pix) != width*height*4 {
		panic("haku: pixel buffer does not match width*height*4")
	}
	return &Pixmap{Width: width, Height: height, Pix: pix}
}

func (p *Pixmap) index(x, y int) int { return (y*p.Width + x) * 4 }

// At returns the premultiplied channels at (x, y).
func (p *Pixmap) At(x, y int) (r, g, b, a uint8) {
	i := p.index(x, y)
	return p.Pix[i], p.Pix[i+1], p.Pix[i+2], p.Pix[i+3]
}

// blend paints src (premultiplied) over (x, y) with integer source-over
// compositing. Out-of-bounds pixels are dropped; there is no
// anti-aliasing - a pixel is either fully covered or untouched.
func (p *Pixmap) blend(x, y int, src [4]uint8) {
	if x < 0 || x >= p.Width || y < 0 || y >= p.Height {
		return
	}
	i := p.index(x, y)
	inv := uint32(255 - src[3])
	for c := 0; c < 4; c++ {
		d := uint32(p.Pix[i+c])
		p.Pix[i+c] = uint8(uint32(src[c]) + (d*inv+127)/255)
	}
}

// premultiply clamps color's channels to [0, 1] and converts to
// premultiplied RGBA8.
func premultiply(color Rgba) [4]uint8 {
	clamp := func(x float32) float32 {
		if x < 0 {
			return 0
		}
		if x > 1 {
			return 1
		}
		return x
	}
	a := clamp(color.A)
	quantize := func(x float32) uint8 {
		return uint8(math32.Round(clamp(x) * a * 255))
	}
	return [4]uint8{
		quantize(color.R),
		quantize(color.G),
		quantize(color.B),
		uint8(math32.Round(a * 255)),
	}
}

// RendererLimits bounds the renderer's two stacks. Both capacities must be
// at least 1: the initial entries are the caller's pixmap and the identity
// transform.
type RendererLimits struct {
	PixmapStackCapacity    int
	TransformStackCapacity int
}

// Renderer walks scribble values (and the lists that group them) and
// paints them into a pixmap with a self-contained rasterizer, so a
// brush's output is reproducible pixel-for-pixel across hosts.
type Renderer struct {
	pixmapStack    []*Pixmap
	transformStack []Vec2
}

func NewRenderer(pixmap *Pixmap, limits RendererLimits) *Renderer {
	if limits.PixmapStackCapacity < 1 || limits.TransformStackCapacity < 1 {
		panic("haku: renderer stack capacities must be at least 1")
	}
	pixmapStack := make([]*Pixmap, 1, limits.PixmapStackCapacity)
	pixmapStack[0] = pixmap
	transformStack := make([]Vec2, 1, limits.TransformStackCapacity)
	return &Renderer{pixmapStack: pixmapStack, transformStack: transformStack}
}

func (r *Renderer) pixmap() *Pixmap { return r.pixmapStack[len(r.pixmapStack)-1] }

func (r *Renderer) transform() Vec2 { return r.transformStack[len(r.transformStack)-1] }

// Translate post-translates the current transform by (x, y).
func (r *Renderer) Translate(x, y float32) {
	top := &r.transformStack[len(r.transformStack)-1]
	top.X += x
	top.Y += y
}

func (r *Renderer) apply(p Vec2) Vec2 {
	t := r.transform()
	return Vec2{X: p.X + t.X, Y: p.Y + t.Y}
}

// Render paints value into the current pixmap. A List renders its
// elements left to right; anything that is not a scribble (or a list of
// them) raises.
func (r *Renderer) Render(vm *Vm, value Value) error {
	const notAScribble = "cannot draw something that is not a scribble"

	_, ref, ok := vm.getRefValue(value)
	if !ok {
		return raise(notAScribble)
	}

	switch ref.Kind() {
	case RefList:
		list, _ := ref.List()
		for _, element := range list {
			if err := r.Render(vm, element); err != nil {
				return err
			}
		}
		return nil

	case RefScribble:
		scribble, _ := ref.Scribble()
		color := premultiply(scribble.Color)
		switch scribble.Kind {
		case ScribbleStroke:
			r.strokeShape(scribble.Shape, color, scribble.Thickness)
		case ScribbleFill:
			r.fillShape(scribble.Shape, color)
		}
		return nil

	default:
		return raise(notAScribble)
	}
}

// strokeShape traces the shape's path with a solid color: square line
// caps, no dashing, no anti-aliasing.
func (r *Renderer) strokeShape(shape Shape, color [4]uint8, thickness float32) {
	half := thickness / 2
	if half <= 0 {
		half = 0.5
	}

	switch shape.Kind {
	case ShapePoint:
		p := r.apply(shape.P)
		r.fillDeviceRect(p.X-half, p.Y-half, p.X+half, p.Y+half, color)
	case ShapeLine:
		r.strokeLine(r.apply(shape.P), r.apply(shape.Q), half, color)
	case ShapeRect:
		p0 := r.apply(shape.P)
		p1 := r.apply(Vec2{X: shape.P.X + shape.Q.X, Y: shape.P.Y + shape.Q.Y})
		r.strokeLine(Vec2{X: p0.X, Y: p0.Y}, Vec2{X: p1.X, Y: p0.Y}, half, color)
		r.strokeLine(Vec2{X: p1.X, Y: p0.Y}, Vec2{X: p1.X, Y: p1.Y}, half, color)
		r.strokeLine(Vec2{X: p1.X, Y: p1.Y}, Vec2{X: p0.X, Y: p1.Y}, half, color)
		r.strokeLine(Vec2{X: p0.X, Y: p1.Y}, Vec2{X: p0.X, Y: p0.Y}, half, color)
	case ShapeCircle:
		r.strokeCircle(r.apply(shape.P), shape.Radius, half, color)
	}
}

// fillShape fills the shape's path. Every primitive's path is simple, so
// even-odd filling coincides with plain coverage.
func (r *Renderer) fillShape(shape Shape, color [4]uint8) {
	switch shape.Kind {
	case ShapePoint:
		p := r.apply(shape.P)
		r.pixmap().blend(int(math32.Floor(p.X)), int(math32.Floor(p.Y)), color)
	case ShapeLine:
		r.strokeLine(r.apply(shape.P), r.apply(shape.Q), 0.5, color)
	case ShapeRect:
		p0 := r.apply(shape.P)
		p1 := r.apply(Vec2{X: shape.P.X + shape.Q.X, Y: shape.P.Y + shape.Q.Y})
		r.fillDeviceRect(p0.X, p0.Y, p1.X, p1.Y, color)
	case ShapeCircle:
		r.fillCircle(r.apply(shape.P), shape.Radius, color)
	}
}

// fillDeviceRect fills the axis-aligned box spanned by (x0,y0)-(x1,y1) in
// device space, rounding outward so a thin stroke never disappears
// entirely.
func (r *Renderer) fillDeviceRect(x0, y0, x1, y1 float32, color [4]uint8) {
	if x1 < x0 {
		x0, x1 = x1, x0
	}
	if y1 < y0 {
		y0, y1 = y1, y0
	}
	startX, endX := int(math32.Floor(x0)), int(math32.Ceil(x1))
	startY, endY := int(math32.Floor(y0)), int(math32.Ceil(y1))
	pixmap := r.pixmap()
	for y := startY; y < endY; y++ {
		for x := startX; x < endX; x++ {
			pixmap.blend(x, y, color)
		}
	}
}

// strokeLine walks the segment with a DDA, stamping a square of the given
// half-thickness at each step. Adjacent stamps overlap; coverage is
// collected first so each pixel blends exactly once.
func (r *Renderer) strokeLine(p0, p1 Vec2, half float32, color [4]uint8) {
	dx := p1.X - p0.X
	dy := p1.Y - p0.Y
	length := math32.Sqrt(dx*dx + dy*dy)
	if length == 0 {
		r.fillDeviceRect(p0.X-half, p0.Y-half, p0.X+half, p0.Y+half, color)
		return
	}

	minX := int(math32.Floor(math32.Min(p0.X, p1.X) - half))
	maxX := int(math32.Ceil(math32.Max(p0.X, p1.X) + half))
	minY := int(math32.Floor(math32.Min(p0.Y, p1.Y) - half))
	maxY := int(math32.Ceil(math32.Max(p0.Y, p1.Y) + half))
	if maxX <= minX || maxY <= minY {
		return
	}

	covered := make([]bool, (maxX-minX)*(maxY-minY))
	cover := func(x0, y0, x1, y1 float32) {
		startX, endX := int(math32.Floor(x0)), int(math32.Ceil(x1))
		startY, endY := int(math32.Floor(y0)), int(math32.Ceil(y1))
		for y := startY; y < endY; y++ {
			for x := startX; x < endX; x++ {
				if x >= minX && x < maxX && y >= minY && y < maxY {
					covered[(y-minY)*(maxX-minX)+(x-minX)] = true
				}
			}
		}
	}

	steps := int(math32.Ceil(length))
	stepX := dx / float32(steps)
	stepY := dy / float32(steps)
	for i := 0; i <= steps; i++ {
		cx := p0.X + stepX*float32(i)
		cy := p0.Y + stepY*float32(i)
		cover(cx-half, cy-half, cx+half, cy+half)
	}

	pixmap := r.pixmap()
	for y := minY; y < maxY; y++ {
		for x := minX; x < maxX; x++ {
			if covered[(y-minY)*(maxX-minX)+(x-minX)] {
				pixmap.blend(x, y, color)
			}
		}
	}
}

// fillCircle rasterizes a disc by testing every pixel center in its
// bounding box against the radius.
func (r *Renderer) fillCircle(center Vec2, radius float32, color [4]uint8) {
	if radius <= 0 {
		return
	}
	minX := int(math32.Floor(center.X - radius))
	maxX := int(math32.Ceil(center.X + radius))
	minY := int(math32.Floor(center.Y - radius))
	maxY := int(math32.Ceil(center.Y + radius))
	r2 := radius * radius

	pixmap := r.pixmap()
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			dx := float32(x) + 0.5 - center.X
			dy := float32(y) + 0.5 - center.Y
			if dx*dx+dy*dy <= r2 {
				pixmap.blend(x, y, color)
			}
		}
	}
}

// strokeCircle rasterizes a ring of the given half-thickness around
// radius.
func (r *Renderer) strokeCircle(center Vec2, radius, half float32, color [4]uint8) {
	if radius <= 0 {
		return
	}
	outer := radius + half
	inner := radius - half
	if inner < 0 {
		inner = 0
	}
	minX := int(math32.Floor(center.X - outer))
	maxX := int(math32.Ceil(center.X + outer))
	minY := int(math32.Floor(center.Y - outer))
	maxY := int(math32.Ceil(center.Y + outer))
	outer2 := outer * outer
	inner2 := inner * inner

	pixmap := r.pixmap()
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			dx := float32(x) + 0.5 - center.X
			dy := float32(y) + 0.5 - center.Y
			d2 := dx*dx + dy*dy
			if d2 <= outer2 && d2 >= inner2 {
				pixmap.blend(x, y, color)
			}
		}
	}
}
