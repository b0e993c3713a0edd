package haku

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func renderSource(t *testing.T, src string, width, height int) (*Pixmap, *Haku) {
	t.Helper()
	value, h := evalSource(t, src)
	pixmap := NewPixmap(width, height)
	require.NoError(t, h.RenderValue(pixmap, value, 0, 0))
	return pixmap, h
}

func TestRenderStrokedLine(t *testing.T) {
	pixmap, _ := renderSource(t,
		"stroke 1 (rgba 1 0 0 1) (line (vec 0 0) (vec 10 10))", 16, 16)

	// Pixels along the diagonal are opaque red.
	for _, p := range []struct{ x, y int }{{0, 0}, {5, 5}, {10, 10}} {
		r, g, b, a := pixmap.At(p.x, p.y)
		assert.Equal(t, uint8(255), r, "red at %d,%d", p.x, p.y)
		assert.Equal(t, uint8(0), g)
		assert.Equal(t, uint8(0), b)
		assert.Equal(t, uint8(255), a, "opaque at %d,%d", p.x, p.y)
	}

	// Pixels far off the line stay transparent.
	for _, p := range []struct{ x, y int }{{15, 0}, {0, 15}, {12, 3}} {
		_, _, _, a := pixmap.At(p.x, p.y)
		assert.Equal(t, uint8(0), a, "transparent at %d,%d", p.x, p.y)
	}
}

func TestRenderFilledRect(t *testing.T) {
	pixmap, _ := renderSource(t,
		"fill (rgba 0 0 1 1) (rect 2 2 4 4)", 8, 8)

	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			_, _, b, a := pixmap.At(x, y)
			inside := x >= 2 && x < 6 && y >= 2 && y < 6
			if inside {
				assert.Equal(t, uint8(255), b, "blue at %d,%d", x, y)
				assert.Equal(t, uint8(255), a)
			} else {
				assert.Equal(t, uint8(0), a, "transparent at %d,%d", x, y)
			}
		}
	}
}

func TestRenderFilledCircle(t *testing.T) {
	pixmap, _ := renderSource(t,
		"fill (rgba 1 1 1 1) (circle 8 8 4)", 16, 16)

	_, _, _, a := pixmap.At(8, 8)
	assert.Equal(t, uint8(255), a, "center is covered")
	_, _, _, a = pixmap.At(0, 0)
	assert.Equal(t, uint8(0), a, "corner stays transparent")
	_, _, _, a = pixmap.At(8, 1)
	assert.Equal(t, uint8(0), a, "outside the radius stays transparent")
}

func TestRenderListOfScribbles(t *testing.T) {
	src := "[fill (rgba 1 0 0 1) (rect 0 0 2 2), fill (rgba 0 1 0 1) (rect 4 0 2 2)]"
	pixmap, _ := renderSource(t, src, 8, 8)

	r, _, _, _ := pixmap.At(1, 1)
	assert.Equal(t, uint8(255), r)
	_, g, _, _ := pixmap.At(5, 1)
	assert.Equal(t, uint8(255), g)
}

func TestRenderTranslation(t *testing.T) {
	value, h := evalSource(t, "fill (rgba 1 1 1 1) (rect 0 0 2 2)")

	pixmap := NewPixmap(8, 8)
	require.NoError(t, h.RenderValue(pixmap, value, 4, 4))

	_, _, _, a := pixmap.At(1, 1)
	assert.Equal(t, uint8(0), a, "untranslated position stays empty")
	_, _, _, a = pixmap.At(5, 5)
	assert.Equal(t, uint8(255), a, "translated position is covered")
}

func TestRenderIsIdempotent(t *testing.T) {
	value, h := evalSource(t, "stroke 2 (rgba 0 1 0 1) (circle 8 8 5)")

	first := NewPixmap(16, 16)
	require.NoError(t, h.RenderValue(first, value, 0, 0))
	second := NewPixmap(16, 16)
	require.NoError(t, h.RenderValue(second, value, 0, 0))

	if diff := cmp.Diff(first.Pix, second.Pix); diff != "" {
		t.Errorf("renders differ (-first +second):\n%s", diff)
	}
}

func TestRenderTranslucentStrokeBlendsOnce(t *testing.T) {
	// The DDA stamps overlap along the line; each pixel must still receive
	// the color exactly once.
	pixmap, _ := renderSource(t,
		"stroke 2 (rgba 1 0 0 0.5) (line (vec 2 4) (vec 12 4))", 16, 16)

	_, _, _, a := pixmap.At(7, 4)
	assert.Equal(t, uint8(128), a)
}

func TestRenderNonScribbleRaises(t *testing.T) {
	value, h := evalSource(t, "1")

	pixmap := NewPixmap(4, 4)
	err := h.RenderValue(pixmap, value, 0, 0)
	require.Error(t, err)

	var hakuErr *HakuError
	require.ErrorAs(t, err, &hakuErr)
	assert.Equal(t, StatusRenderException, hakuErr.Status)
	assert.EqualError(t, hakuErr.Err, "cannot draw something that is not a scribble")
}

func TestRenderNilScribbleRaises(t *testing.T) {
	// stroke with a non-shape yields nil, which is not drawable.
	value, h := evalSource(t, "stroke 1 (rgba 0 0 0 1) 5")

	pixmap := NewPixmap(4, 4)
	err := h.RenderValue(pixmap, value, 0, 0)
	require.Error(t, err)
}

func TestRenderClampsColorChannels(t *testing.T) {
	pixmap, _ := renderSource(t,
		"fill (rgba 2 (-1) 0 5) (rect 0 0 2 2)", 4, 4)

	r, g, _, a := pixmap.At(0, 0)
	assert.Equal(t, uint8(255), r)
	assert.Equal(t, uint8(0), g)
	assert.Equal(t, uint8(255), a)
}

func TestRenderOutOfBoundsShapesAreClipped(t *testing.T) {
	pixmap, _ := renderSource(t,
		"fill (rgba 1 1 1 1) (rect (-10) (-10) 100 100)", 4, 4)

	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			_, _, _, a := pixmap.At(x, y)
			assert.Equal(t, uint8(255), a)
		}
	}
}

func TestPremultiplyQuantization(t *testing.T) {
	assert.Equal(t, [4]uint8{255, 0, 0, 255}, premultiply(Rgba{R: 1, A: 1}))
	assert.Equal(t, [4]uint8{128, 0, 0, 128}, premultiply(Rgba{R: 1, A: 0.5}))
	assert.Equal(t, [4]uint8{0, 0, 0, 0}, premultiply(Rgba{R: 1}))
}
