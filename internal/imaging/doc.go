// Package imaging provides the raster operations the lesion pipeline needs:
// decoding uploads, cropping regions of interest, resizing for fixed-size
// models, color parsing, encoding for transport, and the fracture-line
// filter used by heuristic segmentation.
//
// All operations work with standard Go image.Image types in pixel space:
// (0,0) is the top-left corner, X increases rightward and Y downward.
//
// # Coordinate System
//
// Regions are image.Rectangle values: Min is inclusive, Max exclusive.
// Functions that derive a new image (CropRegion, Resize, ToGray,
// FractureFilter) return images whose bounds start at (0,0), regardless of
// the source's bounds.
//
// # Decoding
//
// Decode accepts PNG, JPEG, GIF, BMP, TIFF and WebP. EXIF orientation is
// applied so that detector boxes and normalized locations refer to the image
// as displayed. Every decode failure carries apperr.ImageDecodeFailure, which
// the pipeline treats as fatal for the request.
//
// # Thread Safety
//
// ImageCache is safe for concurrent use. A decoded Source is never mutated,
// so it can be shared across goroutines without locking.
//
// # Filter Backends
//
// FractureFilter is implemented twice. The default build uses bild's
// convolution and morphology; building with -tags gocv switches to OpenCV's
// adaptiveThreshold and morphologyEx via gocv. Both apply the same
// parameters (11x11 Gaussian neighborhood, bias 2, inverted polarity, one 3x3
// opening).
package imaging
