package overlay

import (
	"fmt"
	"image"
	"image/color"
	"math"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/ironsheep/orthoscan/internal/apperr"
	"github.com/ironsheep/orthoscan/internal/geometry"
)

// DefaultStrokeWidth is the width in pixels of the circle baked around a
// damage location.
const DefaultStrokeWidth = 5.0

// BakeOptions controls what Bake draws. A nil Location and nil Mask produce
// a plain copy of the image.
type BakeOptions struct {
	// Location is the damage location to circle.
	Location *geometry.NormalizedBox

	// Circle is drawn when Location is nil. It is in pixel space (Y down).
	Circle *geometry.Circle

	// Mask is painted under the circle in Highlight. It is scaled to the
	// image when sizes differ.
	Mask      *image.Gray
	Highlight color.NRGBA

	Stroke      color.NRGBA
	StrokeWidth float64
	Expansion   float64

	// Label, when set, is written above the circle.
	Label string
}

// DefaultBakeOptions returns the look used by the web client: translucent
// red mask, 5 px red circle, 1.2 expansion.
func DefaultBakeOptions() BakeOptions {
	return BakeOptions{
		Highlight:   DefaultHighlight,
		Stroke:      color.NRGBA{R: 255, A: 255},
		StrokeWidth: DefaultStrokeWidth,
		Expansion:   geometry.DefaultExpansion,
	}
}

// Bake draws the overlay into a copy of img, in pixel space (Y down). The
// source is not modified. The returned error is apperr.InvalidGeometry when
// the location could not be drawn; the image is still returned with
// everything else applied.
func Bake(img image.Image, opts BakeOptions) (*image.NRGBA, error) {
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Draw(out, out.Bounds(), img, b.Min, xdraw.Src)

	if opts.Mask != nil && !opts.Mask.Bounds().Empty() {
		hl := Highlight(opts.Mask, opts.Highlight)
		if hl.Bounds().Size() == out.Bounds().Size() {
			xdraw.Draw(out, out.Bounds(), hl, image.Point{}, xdraw.Over)
		} else {
			xdraw.NearestNeighbor.Scale(out, out.Bounds(), hl, hl.Bounds(), xdraw.Over, nil)
		}
	}

	var circle geometry.Circle
	switch {
	case opts.Location != nil:
		circle = geometry.ToPixelBox(*opts.Location, b.Dx(), b.Dy()).EnclosingCircle(opts.Expansion)
	case opts.Circle != nil:
		circle = *opts.Circle
	default:
		return out, nil
	}

	width := opts.StrokeWidth
	if width <= 0 {
		width = DefaultStrokeWidth
	}
	if !(circle.Radius > 0) || !finite(circle.CenterX, circle.CenterY, circle.Radius) {
		return out, apperr.E(apperr.InvalidGeometry, "bake annotation",
			fmt.Errorf("degenerate circle %+v", circle))
	}

	strokeCircle(out, circle, width, opts.Stroke)
	if opts.Label != "" {
		drawLabel(out, circle, width, opts.Label, opts.Stroke)
	}
	return out, nil
}

// strokeCircle draws an anti-aliased ring centered on the circle's radius.
func strokeCircle(dst *image.NRGBA, c geometry.Circle, width float64, col color.NRGBA) {
	half := width / 2
	reach := c.Radius + half + 1
	area := image.Rect(
		int(math.Floor(c.CenterX-reach)), int(math.Floor(c.CenterY-reach)),
		int(math.Ceil(c.CenterX+reach)), int(math.Ceil(c.CenterY+reach)),
	).Intersect(dst.Bounds())
	if area.Empty() {
		return
	}

	coverage := image.NewAlpha(area)
	for y := area.Min.Y; y < area.Max.Y; y++ {
		for x := area.Min.X; x < area.Max.X; x++ {
			d := math.Hypot(float64(x)+0.5-c.CenterX, float64(y)+0.5-c.CenterY)
			a := half + 0.5 - math.Abs(d-c.Radius)
			if a <= 0 {
				continue
			}
			coverage.SetAlpha(x, y, color.Alpha{A: uint8(math.Min(a, 1) * 255)})
		}
	}
	xdraw.DrawMask(dst, area, image.NewUniform(col), image.Point{}, coverage, area.Min, xdraw.Over)
}

// drawLabel writes text just above the circle on a dark backing box, kept
// inside the image.
func drawLabel(dst *image.NRGBA, c geometry.Circle, width float64, text string, fg color.NRGBA) {
	face := basicfont.Face7x13
	d := &font.Drawer{Dst: dst, Src: image.NewUniform(fg), Face: face}

	textW := d.MeasureString(text).Ceil()
	metrics := face.Metrics()
	ascent, descent := metrics.Ascent.Ceil(), metrics.Descent.Ceil()

	b := dst.Bounds()
	x := int(c.CenterX - c.Radius)
	y := int(c.CenterY-c.Radius-width/2) - descent - 2
	if y-ascent < b.Min.Y {
		y = int(c.CenterY+c.Radius+width/2) + ascent + 2
	}
	x = clampInt(x, b.Min.X+1, b.Max.X-textW-1)
	y = clampInt(y, b.Min.Y+ascent+1, b.Max.Y-descent-1)

	bg := image.Rect(x-1, y-ascent-1, x+textW+1, y+descent+1).Intersect(b)
	xdraw.Draw(dst, bg, image.NewUniform(color.NRGBA{A: 180}), image.Point{}, xdraw.Over)

	d.Dot = fixed.P(x, y)
	d.DrawString(text)
}

func clampInt(v, lo, hi int) int {
	if hi < lo {
		return lo
	}
	return min(max(v, lo), hi)
}
