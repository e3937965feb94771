// Package geometry converts lesion locations between the three coordinate
// spaces used by the pipeline.
//
// # Coordinate Spaces
//
//   - Normalized: fractions of image width/height in [0,1], origin at the
//     image's top-left corner, Y increasing downward. This is what the
//     classification oracle returns as damage_location.
//   - Pixel: raster coordinates of the source image, origin top-left,
//     Y increasing downward. Detector boxes and masks live here.
//   - Page: coordinates of the printable page, unit = point, origin at the
//     bottom-left corner of the page, Y increasing upward.
//
// All conversions live in this package. The pixel to page flip lives in
// ToPageBox and its inverse FromPageBox. Renderers whose origin is top-left
// (the PDF writer) convert page coordinates with FlipY and FlipBox. Callers
// never recompute either flip.
//
// # Totality
//
// Numeric functions never fail. Out-of-range values are clamped and NaN is
// treated as 0. Only ParseNormalizedBox can fail, and only for input that is
// not an object or has non-numeric fields; such failures carry
// apperr.InvalidGeometry so the caller can skip the shape and keep rendering.
package geometry
