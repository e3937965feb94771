package imaging

import (
	"image"

	"github.com/disintegration/imaging"
)

// Resample is the interpolation used for every resize in the pipeline. The
// dense segmenter resizes down to its input size and the mask back up with
// the same filter so blur is not compounded asymmetrically.
var Resample = imaging.Linear

// CropRegion extracts the part of rect that lies inside img.
//
// The second result is false when the clipped region has zero area; callers
// skip such regions instead of treating them as errors. The returned image
// always has its origin at (0,0).
func CropRegion(img image.Image, rect image.Rectangle) (*image.NRGBA, bool) {
	clipped := rect.Canon().Intersect(img.Bounds())
	if clipped.Empty() {
		return nil, false
	}
	return imaging.Crop(img, clipped), true
}

// Resize scales img to exactly w×h using Resample.
func Resize(img image.Image, w, h int) *image.NRGBA {
	return imaging.Resize(img, w, h, Resample)
}

// ToGray converts img to a single-channel intensity image with luminance
// weights 0.299/0.587/0.114. The result's origin is (0,0).
func ToGray(img image.Image) *image.Gray {
	src := imaging.Grayscale(img)
	b := src.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		row := src.Pix[y*src.Stride : y*src.Stride+b.Dx()*4]
		for x := 0; x < b.Dx(); x++ {
			gray.Pix[y*gray.Stride+x] = row[x*4]
		}
	}
	return gray
}
