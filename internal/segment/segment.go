// Package segment produces full-image abnormality masks.
//
// An Engine holds an ordered list of Segmenter tiers and returns the first
// tier's successful result. The default order is the dense model first and
// the heuristic (detector + classical filter) second. A tier that is not
// available is skipped; a tier that errors or panics is logged and the next
// tier runs. Only an image that cannot be read fails the whole call.
package segment

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/ironsheep/orthoscan/internal/apperr"
	"github.com/ironsheep/orthoscan/internal/detection"
	"github.com/ironsheep/orthoscan/internal/logger"
	"github.com/ironsheep/orthoscan/internal/metrics"
)

// Method names the tier that produced a mask.
type Method string

const (
	MethodDense     Method = "dense"
	MethodHeuristic Method = "heuristic"
)

// Result is a finished segmentation.
type Result struct {
	// Mask has exactly the source image's width and height, origin (0,0).
	// 0 means no abnormality; 255 means certainty.
	Mask *image.Gray

	Method Method

	// Detections are the regions the heuristic tier filtered. Nil for the
	// dense tier.
	Detections []detection.Detection
}

// Segmenter is one tier of the engine.
type Segmenter interface {
	Method() Method

	// Available reports whether the tier's capability loaded at startup.
	Available() bool

	// Segment returns a mask for img. The engine checks the mask's size.
	Segment(ctx context.Context, img image.Image) (*Result, error)
}

// Engine runs segmentation tiers in priority order. It is read-only after
// NewEngine and safe for concurrent use.
type Engine struct {
	tiers   []Segmenter
	log     logger.Logger
	metrics *metrics.Metrics
}

// NewEngine builds an engine over tiers, highest priority first. log and m
// may be nil.
func NewEngine(log logger.Logger, m *metrics.Metrics, tiers ...Segmenter) *Engine {
	if log == nil {
		log = logger.Nop()
	}
	return &Engine{tiers: tiers, log: log, metrics: m}
}

// Tiers returns the configured tiers in priority order.
func (e *Engine) Tiers() []Segmenter {
	return e.tiers
}

// Run returns the first successful tier's result. When every tier fails the
// result is an all-zero heuristic mask, which reads as "no visible region".
// The only error is apperr.ImageDecodeFailure for a nil or empty image.
func (e *Engine) Run(ctx context.Context, img image.Image) (*Result, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, apperr.E(apperr.ImageDecodeFailure, "segment", fmt.Errorf("no image data"))
	}
	b := img.Bounds()

	for _, tier := range e.tiers {
		if !tier.Available() {
			e.log.Debug("segment", "tier unavailable, skipping", map[string]interface{}{
				"tier": string(tier.Method()),
			})
			continue
		}

		start := time.Now()
		res, err := runTier(ctx, tier, img)
		if err == nil {
			err = checkMask(res, b.Dx(), b.Dy())
		}
		if err != nil {
			e.log.Warning("segment", "tier failed, trying next", map[string]interface{}{
				"tier":     string(tier.Method()),
				"error":    err.Error(),
				"degraded": true,
			})
			if e.metrics != nil {
				e.metrics.TierFailures.WithLabelValues(string(tier.Method())).Inc()
			}
			continue
		}

		if e.metrics != nil {
			e.metrics.SegmentResults.WithLabelValues(string(res.Method)).Inc()
			e.metrics.ObserveStage("segment_"+string(res.Method), start)
		}
		return res, nil
	}

	e.log.Warning("segment", "no tier produced a mask, returning empty mask", map[string]interface{}{
		"degraded": true,
	})
	if e.metrics != nil {
		e.metrics.SegmentResults.WithLabelValues(string(MethodHeuristic)).Inc()
	}
	return &Result{
		Mask:       image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy())),
		Method:     MethodHeuristic,
		Detections: []detection.Detection{},
	}, nil
}

// runTier calls tier.Segment and converts a panic into an error so one
// misbehaving tier cannot take down the request.
func runTier(ctx context.Context, tier Segmenter, img image.Image) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("%s tier panicked: %v", tier.Method(), r)
		}
	}()
	return tier.Segment(ctx, img)
}

func checkMask(res *Result, w, h int) error {
	if res == nil || res.Mask == nil {
		return fmt.Errorf("tier returned no mask")
	}
	mb := res.Mask.Bounds()
	if mb.Dx() != w || mb.Dy() != h {
		return fmt.Errorf("mask is %dx%d, image is %dx%d", mb.Dx(), mb.Dy(), w, h)
	}
	return nil
}
