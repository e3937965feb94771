// Package overlay turns segmentation output and damage locations into things
// that can be drawn: a translucent highlight raster for masks, page-space
// circles for the printable report, and annotations baked into the image.
package overlay

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/ironsheep/orthoscan/internal/apperr"
	"github.com/ironsheep/orthoscan/internal/geometry"
)

// DefaultHighlight is the mask paint color: red at about 50% alpha.
var DefaultHighlight = color.NRGBA{R: 255, G: 0, B: 0, A: 128}

// Highlight paints every mask pixel above zero in c and leaves the rest fully
// transparent. The result has the mask's size and origin (0,0).
func Highlight(mask *image.Gray, c color.NRGBA) *image.NRGBA {
	b := mask.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		src := mask.Pix[y*mask.Stride:]
		dst := out.Pix[y*out.Stride:]
		for x := 0; x < b.Dx(); x++ {
			if src[x] == 0 {
				continue
			}
			i := x * 4
			dst[i+0] = c.R
			dst[i+1] = c.G
			dst[i+2] = c.B
			dst[i+3] = c.A
		}
	}
	return out
}

// BoxShapes returns the page-space circles to draw around a damage location
// on an image of w×h pixels placed at p.
//
// Nothing is drawn when annotated is true (the stored image already carries
// its overlay) or when loc is nil. A location that maps to a degenerate or
// non-finite circle is dropped rather than failing the render.
func BoxShapes(loc *geometry.NormalizedBox, w, h int, p geometry.Placement, annotated bool, expansion float64) []geometry.Circle {
	if annotated || loc == nil {
		return nil
	}
	c, err := boxCircle(*loc, w, h, p, expansion)
	if err != nil {
		return nil
	}
	return []geometry.Circle{c}
}

func boxCircle(loc geometry.NormalizedBox, w, h int, p geometry.Placement, expansion float64) (geometry.Circle, error) {
	if w <= 0 || h <= 0 {
		return geometry.Circle{}, apperr.E(apperr.InvalidGeometry, "box shape", fmt.Errorf("image size %dx%d", w, h))
	}
	c := geometry.AnnotationCircle(loc, w, h, p, expansion)
	if !finite(c.CenterX, c.CenterY, c.Radius) {
		return geometry.Circle{}, apperr.E(apperr.InvalidGeometry, "box shape", fmt.Errorf("non-finite circle %+v", c))
	}
	return c, nil
}

// MaskFocus is MaskShape in the mask's own pixel space (Y down), for
// circling the segmented region when no damage location is known.
func MaskFocus(mask *image.Gray, expansion float64) (geometry.Circle, bool) {
	w, h := mask.Bounds().Dx(), mask.Bounds().Dy()
	c, ok := MaskShape(mask, geometry.PlacementAt(0, float64(h), w, h, 1), expansion)
	if !ok {
		return geometry.Circle{}, false
	}
	c.CenterY = geometry.FlipY(c.CenterY, float64(h))
	return c, true
}

// MaskShape reduces a mask to one page-space circle: centered on the
// intensity-weighted centroid of the marked pixels, sized from their
// bounding box. ok is false for an empty mask.
func MaskShape(mask *image.Gray, p geometry.Placement, expansion float64) (c geometry.Circle, ok bool) {
	b := mask.Bounds()
	var xs, ys, ws []float64
	minX, minY, maxX, maxY := b.Dx(), b.Dy(), -1, -1

	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			v := mask.GrayAt(x, y).Y
			if v == 0 {
				continue
			}
			lx, ly := x-b.Min.X, y-b.Min.Y
			xs = append(xs, float64(lx)+0.5)
			ys = append(ys, float64(ly)+0.5)
			ws = append(ws, float64(v))
			minX, minY = min(minX, lx), min(minY, ly)
			maxX, maxY = max(maxX, lx), max(maxY, ly)
		}
	}
	if len(ws) == 0 {
		return geometry.Circle{}, false
	}

	cx, cy := stat.Mean(xs, ws), stat.Mean(ys, ws)
	extent := geometry.PixelBox{
		X:      float64(minX),
		Y:      float64(minY),
		Width:  float64(maxX - minX + 1),
		Height: float64(maxY - minY + 1),
	}
	circle := geometry.EnclosingCircle(geometry.ToPageBox(extent, p), expansion)

	// Re-center on the weighted centroid, mapped the same way as the box.
	center := geometry.ToPageBox(geometry.PixelBox{X: cx, Y: cy}, p)
	circle.CenterX, circle.CenterY = center.X, center.Y
	return circle, true
}

// Coverage returns the fraction of mask pixels above zero.
func Coverage(mask *image.Gray) float64 {
	b := mask.Bounds()
	total := b.Dx() * b.Dy()
	if total == 0 {
		return 0
	}
	marked := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if mask.GrayAt(x, y).Y != 0 {
				marked++
			}
		}
	}
	return float64(marked) / float64(total)
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
