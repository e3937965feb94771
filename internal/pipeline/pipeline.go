// Package pipeline sequences the analysis stages for one request: decode,
// classification, detection, segmentation, annotation and reporting.
//
// Every stage isolates its own failures and degrades to the best output it
// can produce. Only an undecodable upload, invalid report fields and store
// failures reach the caller as errors.
package pipeline

import (
	"context"
	"time"

	"github.com/ironsheep/orthoscan/internal/detection"
	"github.com/ironsheep/orthoscan/internal/imaging"
	"github.com/ironsheep/orthoscan/internal/logger"
	"github.com/ironsheep/orthoscan/internal/metrics"
	"github.com/ironsheep/orthoscan/internal/oracle"
	"github.com/ironsheep/orthoscan/internal/overlay"
	"github.com/ironsheep/orthoscan/internal/report"
	"github.com/ironsheep/orthoscan/internal/segment"
)

// Deps are the collaborators an Orchestrator is built from. Analyzer,
// Engine and Store are required; the rest may be left zero.
type Deps struct {
	Analyzer oracle.Analyzer
	Detector detection.Detector
	Engine   *segment.Engine
	Store    report.Store
	Logger   logger.Logger
	Metrics  *metrics.Metrics

	// MinConfidence drops detections scoring below it from Detect results.
	MinConfidence float64

	Bake overlay.BakeOptions
	Page report.Options

	// Now stamps new reports. Defaults to time.Now.
	Now func() time.Time
}

// Orchestrator runs the pipeline. It holds no per-request state and is safe
// for concurrent use.
type Orchestrator struct {
	analyzer      oracle.Analyzer
	detector      detection.Detector
	engine        *segment.Engine
	store         report.Store
	log           logger.Logger
	metrics       *metrics.Metrics
	minConfidence float64
	bake          overlay.BakeOptions
	page          report.Options
	now           func() time.Time
}

// New builds an Orchestrator.
func New(d Deps) *Orchestrator {
	o := &Orchestrator{
		analyzer:      d.Analyzer,
		detector:      d.Detector,
		engine:        d.Engine,
		store:         d.Store,
		log:           d.Logger,
		metrics:       d.Metrics,
		minConfidence: d.MinConfidence,
		bake:          d.Bake,
		page:          d.Page,
		now:           d.Now,
	}
	if o.log == nil {
		o.log = logger.Nop()
	}
	if o.detector == nil {
		o.detector = detection.Unavailable{}
	}
	if o.bake == (overlay.BakeOptions{}) {
		o.bake = overlay.DefaultBakeOptions()
	}
	if o.page == (report.Options{}) {
		o.page = report.DefaultOptions()
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// Health reports which model capabilities loaded at startup.
type Health struct {
	Status   string `json:"status"`
	Detector bool   `json:"detector"`
	Dense    bool   `json:"dense"`
}

// Health returns the readiness flags. The service is always "ok": a missing
// capability only means a degraded tier.
func (o *Orchestrator) Health() Health {
	h := Health{Status: "ok", Detector: o.detector.Available()}
	for _, tier := range o.engine.Tiers() {
		if tier.Method() == segment.MethodDense && tier.Available() {
			h.Dense = true
		}
	}
	return h
}

// Decode is the one fatal stage: an upload that cannot be decoded fails the
// request with apperr.ImageDecodeFailure. Callers that keep decoded images
// around pass the result to the *Source methods instead of re-uploading bytes.
func (o *Orchestrator) Decode(data []byte) (*imaging.Source, error) {
	return o.decode("decode", data)
}

func (o *Orchestrator) decode(op string, data []byte) (*imaging.Source, error) {
	src, err := imaging.Decode(data)
	if err != nil {
		if o.metrics != nil {
			o.metrics.DecodeFailures.Inc()
		}
		o.log.Warning("pipeline", "rejecting undecodable upload", map[string]interface{}{
			"op":    op,
			"bytes": len(data),
			"error": err.Error(),
		})
		return nil, err
	}
	return src, nil
}

// Analyze classifies an uploaded image. An oracle failure yields a mock
// finding marked with source "mock".
func (o *Orchestrator) Analyze(ctx context.Context, data []byte) (*oracle.Finding, error) {
	src, err := o.decode("analyze", data)
	if err != nil {
		return nil, err
	}
	return o.AnalyzeSource(ctx, src)
}

// AnalyzeSource is Analyze for an already decoded image.
func (o *Orchestrator) AnalyzeSource(ctx context.Context, src *imaging.Source) (*oracle.Finding, error) {
	finding, err := o.analyzer.Analyze(ctx, src.Data, src.MIMEType())
	if err != nil {
		return nil, err
	}
	o.log.Info("pipeline", "analysis complete", map[string]interface{}{
		"disorder":   finding.Disorder,
		"confidence": finding.Confidence,
		"source":     string(finding.Source),
	})
	return finding, nil
}

// DetectResult is the outcome of Detect.
type DetectResult struct {
	Detections []detection.Detection `json:"detections"`
	Available  bool                  `json:"available"`
}

// Detect runs the detector. A missing or failing detector yields an empty
// list with Available false rather than an error.
func (o *Orchestrator) Detect(ctx context.Context, data []byte) (*DetectResult, error) {
	src, err := o.decode("detect", data)
	if err != nil {
		return nil, err
	}
	return o.DetectSource(ctx, src)
}

// DetectSource is Detect for an already decoded image.
func (o *Orchestrator) DetectSource(ctx context.Context, src *imaging.Source) (*DetectResult, error) {
	start := time.Now()
	dets, err := detection.DetectOrEmpty(ctx, o.detector, src.Image)
	if err != nil {
		o.log.Warning("pipeline", "detection unavailable, returning no detections", map[string]interface{}{
			"error":    err.Error(),
			"degraded": true,
		})
		return &DetectResult{Detections: dets, Available: false}, nil
	}
	if o.metrics != nil {
		o.metrics.ObserveStage("detect", start)
	}
	return &DetectResult{
		Detections: detection.FilterByConfidence(dets, o.minConfidence),
		Available:  true,
	}, nil
}

// SegmentResult is the outcome of Segment. Mask is the RGBA highlight
// image as a PNG data URI.
type SegmentResult struct {
	Mask       string                `json:"mask"`
	Method     segment.Method        `json:"method"`
	Width      int                   `json:"width"`
	Height     int                   `json:"height"`
	Coverage   float64               `json:"coverage"`
	Detections []detection.Detection `json:"detections,omitzero"`
}

// Segment synthesizes the abnormality mask. Detections are reported only
// when the heuristic tier produced the mask.
func (o *Orchestrator) Segment(ctx context.Context, data []byte) (*SegmentResult, error) {
	src, err := o.decode("segment", data)
	if err != nil {
		return nil, err
	}
	return o.SegmentSource(ctx, src)
}

// SegmentSource is Segment for an already decoded image.
func (o *Orchestrator) SegmentSource(ctx context.Context, src *imaging.Source) (*SegmentResult, error) {
	res, err := o.engine.Run(ctx, src.Image)
	if err != nil {
		return nil, err
	}

	uri, err := imaging.PNGDataURI(overlay.Highlight(res.Mask, o.bake.Highlight))
	if err != nil {
		return nil, err
	}

	out := &SegmentResult{
		Mask:     uri,
		Method:   res.Method,
		Width:    src.Width(),
		Height:   src.Height(),
		Coverage: overlay.Coverage(res.Mask),
	}
	if res.Method == segment.MethodHeuristic {
		out.Detections = res.Detections
		if out.Detections == nil {
			out.Detections = []detection.Detection{}
		}
	}
	return out, nil
}
