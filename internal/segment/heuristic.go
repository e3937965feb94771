package segment

import (
	"context"
	"image"

	"github.com/ironsheep/orthoscan/internal/detection"
	"github.com/ironsheep/orthoscan/internal/imaging"
	"github.com/ironsheep/orthoscan/internal/logger"
)

// HeuristicSegmenter derives a mask from detector boxes: each box is cropped,
// passed through imaging.FractureFilter, and written back at its offset.
// Overlapping boxes keep the brighter pixel.
//
// It is always available. A missing or failing detector yields an all-zero
// mask, not an error.
type HeuristicSegmenter struct {
	detector      detection.Detector
	minConfidence float64
	log           logger.Logger
}

// NewHeuristic builds the fallback tier. Detections scoring below
// minConfidence are ignored. log may be nil.
func NewHeuristic(d detection.Detector, minConfidence float64, log logger.Logger) *HeuristicSegmenter {
	if d == nil {
		d = detection.Unavailable{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &HeuristicSegmenter{detector: d, minConfidence: minConfidence, log: log}
}

func (s *HeuristicSegmenter) Method() Method { return MethodHeuristic }

func (s *HeuristicSegmenter) Available() bool { return true }

func (s *HeuristicSegmenter) Segment(ctx context.Context, img image.Image) (*Result, error) {
	dets, err := detection.DetectOrEmpty(ctx, s.detector, img)
	if err != nil {
		s.log.Warning("segment", "detector failed, heuristic mask will be empty", map[string]interface{}{
			"error":    err.Error(),
			"degraded": true,
		})
	}
	dets = detection.FilterByConfidence(dets, s.minConfidence)

	return &Result{
		Mask:       CompositeRegions(img, dets),
		Method:     MethodHeuristic,
		Detections: dets,
	}, nil
}

// CompositeRegions filters every detection's region of img and combines the
// results into one mask the size of img. Zero-area and off-image boxes are
// skipped. With no detections the mask is all zero.
func CompositeRegions(img image.Image, dets []detection.Detection) *image.Gray {
	b := img.Bounds()
	mask := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))

	for _, d := range dets {
		// Detector boxes are relative to the image's top-left pixel.
		region := d.Rect().Add(b.Min).Intersect(b)
		roi, ok := imaging.CropRegion(img, region)
		if !ok {
			continue
		}
		filtered := imaging.FractureFilter(roi)

		offX, offY := region.Min.X-b.Min.X, region.Min.Y-b.Min.Y
		fb := filtered.Bounds()
		for y := 0; y < fb.Dy(); y++ {
			row := mask.Pix[(offY+y)*mask.Stride+offX:]
			src := filtered.Pix[y*filtered.Stride:]
			for x := 0; x < fb.Dx(); x++ {
				if src[x] > row[x] {
					row[x] = src[x]
				}
			}
		}
	}
	return mask
}
