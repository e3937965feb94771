package detection

import (
	"context"
	"errors"
	"image"

	"github.com/ironsheep/orthoscan/internal/apperr"
	"github.com/ironsheep/orthoscan/internal/geometry"
)

// Detection is one candidate region reported by the detector.
type Detection struct {
	// BBox is (x1, y1, x2, y2) in pixel space of the analyzed image.
	BBox [4]float64 `json:"bbox" bson:"bbox"`

	// Confidence is the detector's score in [0,1].
	Confidence float64 `json:"confidence" bson:"confidence"`

	// Class is the label name, e.g. "fracture".
	Class string `json:"class" bson:"class"`

	// ClassID is the detector's numeric label.
	ClassID int `json:"class_id" bson:"class_id"`
}

// Box returns the detection as a pixel box.
func (d Detection) Box() geometry.PixelBox {
	return geometry.FromCorners(d.BBox[0], d.BBox[1], d.BBox[2], d.BBox[3])
}

// Rect returns the integer region covered by the detection, for cropping.
func (d Detection) Rect() image.Rectangle {
	return d.Box().Rect()
}

// Detector finds candidate regions in an image.
type Detector interface {
	// Available reports whether the capability loaded at startup.
	Available() bool

	// Detect returns candidates in the detector's own order. An unavailable
	// detector returns an empty list and an apperr.ModelUnavailable error.
	Detect(ctx context.Context, img image.Image) ([]Detection, error)
}

// ErrUnavailable is wrapped by detectors that failed their startup health check.
var ErrUnavailable = errors.New("detector not loaded")

// Unavailable is the Detector used when no detection capability could be
// loaded.
type Unavailable struct{}

func (Unavailable) Available() bool { return false }

func (Unavailable) Detect(context.Context, image.Image) ([]Detection, error) {
	return []Detection{}, apperr.E(apperr.ModelUnavailable, "detect", ErrUnavailable)
}

// FilterByConfidence returns the detections scoring at least min, preserving
// order. A min of zero or less returns dets unchanged.
func FilterByConfidence(dets []Detection, min float64) []Detection {
	if min <= 0 {
		return dets
	}
	kept := make([]Detection, 0, len(dets))
	for _, d := range dets {
		if d.Confidence >= min {
			kept = append(kept, d)
		}
	}
	return kept
}

// DetectOrEmpty runs d and converts any failure into an empty list, which is
// how callers treat a missing or failing detector. The error is returned for
// logging only.
func DetectOrEmpty(ctx context.Context, d Detector, img image.Image) ([]Detection, error) {
	if d == nil || !d.Available() {
		return []Detection{}, apperr.E(apperr.ModelUnavailable, "detect", ErrUnavailable)
	}
	dets, err := d.Detect(ctx, img)
	if err != nil {
		return []Detection{}, err
	}
	if dets == nil {
		dets = []Detection{}
	}
	return dets, nil
}
