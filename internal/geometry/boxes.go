package geometry

import (
	"image"
	"math"
)

// DefaultExpansion scales the enclosing circle past the box so the drawn
// ring sits outside the lesion rather than across it.
const DefaultExpansion = 1.2

// NormalizedBox is a rectangle expressed as fractions of the image size,
// origin top-left.
type NormalizedBox struct {
	X      float64 `json:"x" bson:"x"`
	Y      float64 `json:"y" bson:"y"`
	Width  float64 `json:"width" bson:"width"`
	Height float64 `json:"height" bson:"height"`
}

// Clamp returns the box with every component forced into [0,1] and the
// extents trimmed so the box stays inside the unit square.
func (b NormalizedBox) Clamp() NormalizedBox {
	c := NormalizedBox{
		X:      clamp01(b.X),
		Y:      clamp01(b.Y),
		Width:  clamp01(b.Width),
		Height: clamp01(b.Height),
	}
	c.Width = math.Min(c.Width, 1-c.X)
	c.Height = math.Min(c.Height, 1-c.Y)
	return c
}

// PixelBox is a rectangle in source-image pixels, origin top-left, Y down.
type PixelBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// FromCorners builds a PixelBox from (x1,y1)-(x2,y2) corners in any order.
func FromCorners(x1, y1, x2, y2 float64) PixelBox {
	return PixelBox{
		X:      math.Min(x1, x2),
		Y:      math.Min(y1, y2),
		Width:  math.Abs(x2 - x1),
		Height: math.Abs(y2 - y1),
	}
}

// Rect truncates the box to an integer rectangle. Coordinates are truncated
// toward zero, the same way detector boxes are cropped.
func (b PixelBox) Rect() image.Rectangle {
	return image.Rect(int(b.X), int(b.Y), int(b.X+b.Width), int(b.Y+b.Height))
}

// EnclosingCircle returns the circle around the box in pixel space.
// No axis flip is applied; the result is for drawing onto the raster itself.
func (b PixelBox) EnclosingCircle(expansion float64) Circle {
	return enclose(b.X+b.Width/2, b.Y+b.Height/2, b.Width, b.Height, expansion)
}

// PageBox is a rectangle on the page. (X, Y) is its bottom-left corner;
// Y increases upward.
type PageBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Top returns the page Y of the box's upper edge.
func (b PageBox) Top() float64 { return b.Y + b.Height }

// Contains reports whether the point lies inside or on the box.
func (b PageBox) Contains(x, y float64) bool {
	return x >= b.X && x <= b.X+b.Width && y >= b.Y && y <= b.Top()
}

// Circle is the annotation shape: a center point and a radius, expressed in
// whichever space produced it.
type Circle struct {
	CenterX float64 `json:"center_x"`
	CenterY float64 `json:"center_y"`
	Radius  float64 `json:"radius"`
}

// ToPixelBox scales a normalized box to a w×h image. Each component is
// clamped to [0,1] first; NaN becomes 0.
func ToPixelBox(nb NormalizedBox, w, h int) PixelBox {
	fw, fh := float64(max(w, 0)), float64(max(h, 0))
	return PixelBox{
		X:      clamp01(nb.X) * fw,
		Y:      clamp01(nb.Y) * fh,
		Width:  clamp01(nb.Width) * fw,
		Height: clamp01(nb.Height) * fh,
	}
}

// ToNormalized divides a pixel box by the image size. A non-positive
// dimension yields a zero box.
func ToNormalized(pb PixelBox, w, h int) NormalizedBox {
	if w <= 0 || h <= 0 {
		return NormalizedBox{}
	}
	fw, fh := float64(w), float64(h)
	return NormalizedBox{
		X:      pb.X / fw,
		Y:      pb.Y / fh,
		Width:  pb.Width / fw,
		Height: pb.Height / fh,
	}
}

// EnclosingCircle returns the circle centered on the box whose diameter is
// the box's larger side times expansion. A non-positive or NaN expansion
// falls back to DefaultExpansion.
func EnclosingCircle(b PageBox, expansion float64) Circle {
	return enclose(b.X+b.Width/2, b.Y+b.Height/2, b.Width, b.Height, expansion)
}

func enclose(cx, cy, w, h, expansion float64) Circle {
	if !(expansion > 0) || math.IsInf(expansion, 0) {
		expansion = DefaultExpansion
	}
	return Circle{
		CenterX: cx,
		CenterY: cy,
		Radius:  math.Max(math.Abs(w), math.Abs(h)) * expansion / 2,
	}
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
