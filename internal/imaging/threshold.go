package imaging

import (
	"image"
)

// Parameters of the fracture-line filter.
const (
	// ThresholdBlockSize is the side of the neighborhood whose
	// Gaussian-weighted mean each pixel is compared against.
	ThresholdBlockSize = 11

	// ThresholdBias is subtracted from the local mean; a pixel must be at
	// least this much darker than its surroundings to be marked.
	ThresholdBias = 2.0

	// OpeningSize is the side of the square structuring element used to
	// drop isolated pixels after thresholding.
	OpeningSize = 3
)

// FractureFilter highlights dark linear structures against brighter
// surroundings in a region of interest.
//
// The region is converted to intensity, thresholded against its local
// Gaussian-weighted mean with inverted polarity (dark lines become 255,
// everything else 0), then opened with a 3x3 square once so single noise
// pixels disappear while lines at least three pixels wide survive.
//
// The returned mask has the region's width and height and origin (0,0).
// The backend is bild by default, or OpenCV when built with -tags gocv.
func FractureFilter(roi image.Image) *image.Gray {
	gray := ToGray(roi)
	bin := adaptiveThresholdInv(gray, ThresholdBlockSize, ThresholdBias)
	return openBinary(bin, OpeningSize)
}

// gaussianSigma matches the sigma OpenCV derives for a Gaussian kernel of
// the given size when none is specified.
func gaussianSigma(size int) float64 {
	return 0.3*(float64(size-1)*0.5-1) + 0.8
}
