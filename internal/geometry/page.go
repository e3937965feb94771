package geometry

import (
	"fmt"
	"math"

	"github.com/ironsheep/orthoscan/internal/apperr"
)

// Placement describes where a raster image was drawn on the page.
//
// OriginX/OriginY is the bottom-left corner of the drawn image in page space.
// Scale is page units per source pixel, and DrawnWidth/DrawnHeight are the
// image's on-page extent (source size times Scale).
type Placement struct {
	OriginX     float64 `json:"origin_x"`
	OriginY     float64 `json:"origin_y"`
	Scale       float64 `json:"scale"`
	DrawnWidth  float64 `json:"drawn_width"`
	DrawnHeight float64 `json:"drawn_height"`
}

// Bounds returns the drawn image's rectangle on the page.
func (p Placement) Bounds() PageBox {
	return PageBox{X: p.OriginX, Y: p.OriginY, Width: p.DrawnWidth, Height: p.DrawnHeight}
}

// PlacementAt builds the placement of a w×h image drawn at scale with its
// top-left corner at page point (left, top).
func PlacementAt(left, top float64, w, h int, scale float64) Placement {
	dw, dh := float64(w)*scale, float64(h)*scale
	return Placement{
		OriginX:     left,
		OriginY:     top - dh,
		Scale:       scale,
		DrawnWidth:  dw,
		DrawnHeight: dh,
	}
}

// FitPlacement scales a w×h image to fit inside frame while keeping its
// aspect ratio, and centers it in the frame.
func FitPlacement(w, h int, frame PageBox) (Placement, error) {
	if w <= 0 || h <= 0 {
		return Placement{}, apperr.E(apperr.InvalidGeometry, "fit placement",
			fmt.Errorf("image size %dx%d", w, h))
	}
	scale := math.Min(frame.Width/float64(w), frame.Height/float64(h))
	dw, dh := float64(w)*scale, float64(h)*scale
	return Placement{
		OriginX:     frame.X + (frame.Width-dw)/2,
		OriginY:     frame.Y + (frame.Height-dh)/2,
		Scale:       scale,
		DrawnWidth:  dw,
		DrawnHeight: dh,
	}, nil
}

// ToPageBox maps a pixel-space box of the placed image onto the page.
//
// Pixel Y grows downward from the image's top edge; page Y grows upward from
// the page's bottom edge. The box's top edge therefore lands at
// OriginY + DrawnHeight - y*Scale and its bottom edge one scaled height below.
func ToPageBox(pb PixelBox, p Placement) PageBox {
	top := p.OriginY + p.DrawnHeight - pb.Y*p.Scale
	height := pb.Height * p.Scale
	return PageBox{
		X:      p.OriginX + pb.X*p.Scale,
		Y:      top - height,
		Width:  pb.Width * p.Scale,
		Height: height,
	}
}

// FromPageBox is the inverse of ToPageBox. A zero scale yields a zero box.
func FromPageBox(b PageBox, p Placement) PixelBox {
	if p.Scale == 0 {
		return PixelBox{}
	}
	return PixelBox{
		X:      (b.X - p.OriginX) / p.Scale,
		Y:      (p.OriginY + p.DrawnHeight - b.Top()) / p.Scale,
		Width:  b.Width / p.Scale,
		Height: b.Height / p.Scale,
	}
}

// FlipY converts a Y coordinate between a bottom-left and a top-left origin
// on a surface of the given height. Applying it twice is the identity.
func FlipY(y, surfaceHeight float64) float64 {
	return surfaceHeight - y
}

// FlipBox converts a box between bottom-left and top-left origin
// conventions. The returned Y is the box's reference corner in the other
// convention (top edge becomes bottom edge and vice versa).
func FlipBox(b PageBox, surfaceHeight float64) PageBox {
	return PageBox{
		X:      b.X,
		Y:      surfaceHeight - b.Y - b.Height,
		Width:  b.Width,
		Height: b.Height,
	}
}

// AnnotationCircle runs the full normalized → pixel → page → circle chain
// for an image of w×h pixels drawn with placement p.
func AnnotationCircle(nb NormalizedBox, w, h int, p Placement, expansion float64) Circle {
	return EnclosingCircle(ToPageBox(ToPixelBox(nb, w, h), p), expansion)
}
