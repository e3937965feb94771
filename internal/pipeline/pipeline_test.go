package pipeline

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/ironsheep/orthoscan/internal/apperr"
	"github.com/ironsheep/orthoscan/internal/detection"
	"github.com/ironsheep/orthoscan/internal/geometry"
	"github.com/ironsheep/orthoscan/internal/imaging"
	"github.com/ironsheep/orthoscan/internal/metrics"
	"github.com/ironsheep/orthoscan/internal/oracle"
	"github.com/ironsheep/orthoscan/internal/report"
	"github.com/ironsheep/orthoscan/internal/segment"
)

type fakeDetector struct {
	available bool
	dets      []detection.Detection
	err       error
}

func (f fakeDetector) Available() bool { return f.available }

func (f fakeDetector) Detect(context.Context, image.Image) ([]detection.Detection, error) {
	return f.dets, f.err
}

// fakeTier returns a mask filled with value, sized to the image.
type fakeTier struct {
	method    segment.Method
	available bool
	value     uint8
	err       error
}

func (f fakeTier) Method() segment.Method { return f.method }
func (f fakeTier) Available() bool        { return f.available }

func (f fakeTier) Segment(_ context.Context, img image.Image) (*segment.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	b := img.Bounds()
	mask := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for i := range mask.Pix {
		mask.Pix[i] = f.value
	}
	return &segment.Result{Mask: mask, Method: f.method}, nil
}

type stubAnalyzer struct {
	finding *oracle.Finding
	err     error
	gotMIME string
}

func (s *stubAnalyzer) Analyze(_ context.Context, _ []byte, mimeType string) (*oracle.Finding, error) {
	s.gotMIME = mimeType
	return s.finding, s.err
}

// createTestPNG returns PNG bytes of a w×h mid-gray image.
func createTestPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 128, 128, 128, 255
	}
	data, err := imaging.EncodePNG(img)
	if err != nil {
		t.Fatalf("encode test image: %v", err)
	}
	return data
}

func decodeDataURI(t *testing.T, uri string) image.Image {
	t.Helper()
	const prefix = "data:image/png;base64,"
	if !strings.HasPrefix(uri, prefix) {
		t.Fatalf("not a PNG data uri: %.40s", uri)
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(uri, prefix))
	if err != nil {
		t.Fatal(err)
	}
	src, err := imaging.Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	return src.Image
}

var testFinding = &oracle.Finding{
	Disorder:       "Fracture",
	Confidence:     0.9,
	Source:         oracle.SourceModel,
	DamageLocation: &geometry.NormalizedBox{X: 0.25, Y: 0.25, Width: 0.5, Height: 0.5},
}

func newTestOrchestrator(t *testing.T, det detection.Detector, tiers ...segment.Segmenter) (*Orchestrator, *report.MemoryStore, *metrics.Metrics) {
	t.Helper()
	store := report.NewMemoryStore()
	m := metrics.New()
	o := New(Deps{
		Analyzer: &stubAnalyzer{finding: testFinding},
		Detector: det,
		Engine:   segment.NewEngine(nil, m, tiers...),
		Store:    store,
		Metrics:  m,
		Now:      func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) },
	})
	return o, store, m
}

func TestDecodeFailureIsFatal(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, fakeDetector{available: true})
	ctx := context.Background()
	garbage := []byte("definitely not an image")

	calls := map[string]func() error{
		"analyze": func() error { _, err := o.Analyze(ctx, garbage); return err },
		"detect":  func() error { _, err := o.Detect(ctx, garbage); return err },
		"segment": func() error { _, err := o.Segment(ctx, garbage); return err },
		"annotate": func() error {
			_, err := o.Annotate(ctx, garbage, AnnotateRequest{})
			return err
		},
		"submit": func() error {
			_, err := o.SubmitReport(ctx, report.Submission{}, "d", garbage, true)
			return err
		},
	}
	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			if err := call(); !apperr.Is(err, apperr.ImageDecodeFailure) {
				t.Errorf("want ImageDecodeFailure, got %v", err)
			}
		})
	}
}

func TestAnalyze(t *testing.T) {
	stub := &stubAnalyzer{finding: testFinding}
	o := New(Deps{Analyzer: stub, Engine: segment.NewEngine(nil, nil), Store: report.NewMemoryStore()})

	f, err := o.Analyze(context.Background(), createTestPNG(t, 20, 20))
	if err != nil {
		t.Fatal(err)
	}
	if f.Disorder != "Fracture" {
		t.Errorf("finding: %+v", f)
	}
	if stub.gotMIME != "image/png" {
		t.Errorf("oracle got mime %q", stub.gotMIME)
	}
}

func TestAnalyze_OracleFailureFallsBack(t *testing.T) {
	analyzer := oracle.NewResilient(&stubAnalyzer{err: errors.New("quota")}, oracle.NewFallback(1), nil, nil)
	o := New(Deps{Analyzer: analyzer, Engine: segment.NewEngine(nil, nil), Store: report.NewMemoryStore()})

	f, err := o.Analyze(context.Background(), createTestPNG(t, 20, 20))
	if err != nil {
		t.Fatalf("oracle failure must not fail the request: %v", err)
	}
	if f.Source != oracle.SourceMock {
		t.Errorf("source: %q", f.Source)
	}
}

func TestDetect(t *testing.T) {
	dets := []detection.Detection{
		{BBox: [4]float64{1, 1, 5, 5}, Confidence: 0.9, Class: "fracture"},
		{BBox: [4]float64{2, 2, 6, 6}, Confidence: 0.1, Class: "fracture"},
	}

	tests := []struct {
		name          string
		det           detection.Detector
		wantCount     int
		wantAvailable bool
	}{
		{"available", fakeDetector{available: true, dets: dets}, 1, true},
		{"unavailable", fakeDetector{available: false, dets: dets}, 0, false},
		{"failing", fakeDetector{available: true, err: errors.New("timeout")}, 0, false},
		{"none", nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := New(Deps{
				Analyzer:      &stubAnalyzer{},
				Detector:      tt.det,
				Engine:        segment.NewEngine(nil, nil),
				Store:         report.NewMemoryStore(),
				MinConfidence: 0.5,
			})
			res, err := o.Detect(context.Background(), createTestPNG(t, 10, 10))
			if err != nil {
				t.Fatalf("Detect should not fail: %v", err)
			}
			if res.Detections == nil || len(res.Detections) != tt.wantCount {
				t.Errorf("detections: %v", res.Detections)
			}
			if res.Available != tt.wantAvailable {
				t.Errorf("available: got %v", res.Available)
			}
		})
	}
}

func TestSegment_Dense(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, nil,
		fakeTier{method: segment.MethodDense, available: true, value: 255},
		fakeTier{method: segment.MethodHeuristic, available: true},
	)

	res, err := o.Segment(context.Background(), createTestPNG(t, 30, 20))
	if err != nil {
		t.Fatal(err)
	}
	if res.Method != segment.MethodDense || res.Width != 30 || res.Height != 20 {
		t.Errorf("result: %+v", res)
	}
	if res.Detections != nil {
		t.Error("dense results carry no detections")
	}
	if res.Coverage != 1 {
		t.Errorf("coverage: %v", res.Coverage)
	}

	mask := decodeDataURI(t, res.Mask)
	if mask.Bounds().Dx() != 30 || mask.Bounds().Dy() != 20 {
		t.Errorf("mask size: %v", mask.Bounds())
	}
	_, _, _, a := mask.At(5, 5).RGBA()
	if a == 0 {
		t.Error("marked pixels should be highlighted")
	}
}

func TestSegment_FallsBackToHeuristic(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, nil,
		fakeTier{method: segment.MethodDense, available: true, err: errors.New("bad output")},
		fakeTier{method: segment.MethodHeuristic, available: true},
	)

	res, err := o.Segment(context.Background(), createTestPNG(t, 16, 16))
	if err != nil {
		t.Fatal(err)
	}
	if res.Method != segment.MethodHeuristic {
		t.Errorf("method: %q", res.Method)
	}
	if res.Detections == nil {
		t.Error("heuristic results always carry a detections list")
	}

	mask := decodeDataURI(t, res.Mask)
	_, _, _, a := mask.At(8, 8).RGBA()
	if a != 0 {
		t.Error("empty mask should be fully transparent")
	}
}

func TestAnnotate_ExplicitLocation(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, nil)
	loc := &geometry.NormalizedBox{X: 0.25, Y: 0.25, Width: 0.5, Height: 0.5}

	res, err := o.Annotate(context.Background(), createTestPNG(t, 100, 100), AnnotateRequest{Location: loc})
	if err != nil {
		t.Fatal(err)
	}
	if res.Finding != nil {
		t.Error("an explicit location needs no classification")
	}

	img := decodeDataURI(t, res.Image)
	// Circle of radius 30 around (50,50): the ring crosses (50,20).
	r, g, _, _ := img.At(50, 20).RGBA()
	if r>>8 < 200 || g>>8 > 80 {
		t.Errorf("expected red ring at (50,20), got %v", img.At(50, 20))
	}
	// The center is untouched.
	if c := color.NRGBAModel.Convert(img.At(50, 50)).(color.NRGBA); c.R != 128 {
		t.Errorf("center should be unchanged, got %v", c)
	}
}

func TestAnnotate_UsesFinding(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, nil, fakeTier{method: segment.MethodDense, available: true, value: 255})

	res, err := o.Annotate(context.Background(), createTestPNG(t, 64, 64), AnnotateRequest{WithMask: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.Finding == nil || res.Finding.Disorder != "Fracture" {
		t.Fatalf("finding: %+v", res.Finding)
	}
	if res.Location == nil || *res.Location != *testFinding.DamageLocation {
		t.Errorf("location: %+v", res.Location)
	}
	if res.Method != segment.MethodDense {
		t.Errorf("method: %q", res.Method)
	}
}

func TestAnnotate_DegenerateLocationSkipped(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, nil)
	zero := &geometry.NormalizedBox{X: 0.5, Y: 0.5}

	res, err := o.Annotate(context.Background(), createTestPNG(t, 20, 20), AnnotateRequest{Location: zero})
	if err != nil {
		t.Fatalf("a zero-size location must not fail the request: %v", err)
	}
	if res.Image == "" {
		t.Error("image should still be returned")
	}
}

func TestAnnotate_RawLocation(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, nil)
	ctx := context.Background()
	img := createTestPNG(t, 50, 50)

	tests := []struct {
		name         string
		raw          string
		wantLocation *geometry.NormalizedBox
		wantFinding  bool
	}{
		{"parsed", `{"x":0.1,"y":0.2,"width":0.3,"height":0.4}`, &geometry.NormalizedBox{X: 0.1, Y: 0.2, Width: 0.3, Height: 0.4}, false},
		{"malformed is skipped", `{"x":"left"}`, nil, false},
		{"not an object is skipped", `[1,2]`, nil, false},
		{"null classifies", `null`, testFinding.DamageLocation, true},
		{"empty classifies", ``, testFinding.DamageLocation, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := o.Annotate(ctx, img, AnnotateRequest{RawLocation: []byte(tt.raw)})
			if err != nil {
				t.Fatalf("Annotate failed: %v", err)
			}
			if (res.Finding != nil) != tt.wantFinding {
				t.Errorf("finding: %+v", res.Finding)
			}
			switch {
			case tt.wantLocation == nil && res.Location != nil:
				t.Errorf("location: got %+v, want none", res.Location)
			case tt.wantLocation != nil && (res.Location == nil || *res.Location != *tt.wantLocation):
				t.Errorf("location: got %+v, want %+v", res.Location, tt.wantLocation)
			}
			if res.Image == "" {
				t.Error("image should still be returned")
			}
		})
	}
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func TestAnnotate_CirclesMaskWithoutLocation(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, nil, fakeTier{method: segment.MethodDense, available: true, value: 255})

	res, err := o.Annotate(context.Background(), createTestPNG(t, 64, 64), AnnotateRequest{
		Location: &geometry.NormalizedBox{X: 0.5, Y: 0.5},
		WithMask: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Focus == nil {
		t.Fatal("the mask should be circled when the location has no extent")
	}
	// A full 64x64 mask: centroid (32,32), radius 64*1.2/2.
	if !near(res.Focus.CenterX, 32) || !near(res.Focus.CenterY, 32) || !near(res.Focus.Radius, 38.4) {
		t.Errorf("focus: %+v", *res.Focus)
	}
}

func TestAnnotate_EmptyMaskNoFocus(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, nil, fakeTier{method: segment.MethodDense, available: true, value: 0})

	res, err := o.Annotate(context.Background(), createTestPNG(t, 20, 20), AnnotateRequest{
		RawLocation: []byte(`"nowhere"`),
		WithMask:    true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Focus != nil {
		t.Errorf("an empty mask has nothing to circle, got %+v", *res.Focus)
	}
}

func TestSourceMethodsReuseDecodedImage(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, nil, fakeTier{method: segment.MethodDense, available: true, value: 9})
	ctx := context.Background()

	src, err := o.Decode(createTestPNG(t, 30, 20))
	if err != nil {
		t.Fatal(err)
	}
	// Only the raster is used from here on.
	src.Data = []byte("not an image")

	seg, err := o.SegmentSource(ctx, src)
	if err != nil {
		t.Fatalf("SegmentSource failed: %v", err)
	}
	if seg.Width != 30 || seg.Height != 20 {
		t.Errorf("size: %dx%d", seg.Width, seg.Height)
	}
	if _, err := o.AnnotateSource(ctx, src, AnnotateRequest{Location: &geometry.NormalizedBox{Width: 1, Height: 1}}); err != nil {
		t.Errorf("AnnotateSource failed: %v", err)
	}
}

func validSubmission() report.Submission {
	return report.Submission{
		PatientID:      "P-1",
		Disorder:       "Fracture",
		Confidence:     "0.9",
		Severity:       "Severe",
		Notes:          "n",
		DamageLocation: `{"x":0.2,"y":0.2,"width":0.4,"height":0.4}`,
	}
}

func TestSubmitReport_SaveOnly(t *testing.T) {
	o, store, _ := newTestOrchestrator(t, nil)
	ctx := context.Background()

	res, err := o.SubmitReport(ctx, validSubmission(), "alice", createTestPNG(t, 40, 40), true)
	if err != nil {
		t.Fatal(err)
	}
	if res.ReportID == "" || res.PDF != nil {
		t.Errorf("result: %+v", res)
	}
	if store.Len() != 1 {
		t.Fatalf("store has %d reports", store.Len())
	}

	saved, err := store.Get(ctx, res.ReportID)
	if err != nil {
		t.Fatal(err)
	}
	if saved.DoctorID != "alice" || saved.ImageMIME != "image/png" || len(saved.Image) == 0 {
		t.Errorf("saved: %+v", saved)
	}
	if !saved.CreatedAt.Equal(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Errorf("created_at: %v", saved.CreatedAt)
	}
}

func TestSubmitReport_RendersPDF(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, nil)

	res, err := o.SubmitReport(context.Background(), validSubmission(), "alice", createTestPNG(t, 40, 40), false)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(res.PDF, []byte("%PDF-")) {
		t.Error("expected a PDF")
	}
}

func TestSubmitReport_InvalidFields(t *testing.T) {
	o, store, _ := newTestOrchestrator(t, nil)
	sub := validSubmission()
	sub.Confidence = "high"

	_, err := o.SubmitReport(context.Background(), sub, "alice", createTestPNG(t, 8, 8), true)
	if !apperr.Is(err, apperr.InvalidInput) {
		t.Errorf("want InvalidInput, got %v", err)
	}
	if store.Len() != 0 {
		t.Error("nothing should be stored")
	}
}

type failingStore struct{ report.Store }

func (failingStore) Insert(context.Context, *report.Report) (string, error) {
	return "", apperr.E(apperr.PersistenceFailure, "insert report", errors.New("disk full"))
}

func TestSubmitReport_PersistenceFailure(t *testing.T) {
	o := New(Deps{Analyzer: &stubAnalyzer{}, Engine: segment.NewEngine(nil, nil), Store: failingStore{}})
	_, err := o.SubmitReport(context.Background(), validSubmission(), "alice", createTestPNG(t, 8, 8), true)
	if !apperr.Is(err, apperr.PersistenceFailure) {
		t.Errorf("want PersistenceFailure, got %v", err)
	}
}

func TestRenderAndListReports(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, nil)
	ctx := context.Background()

	res, err := o.SubmitReport(ctx, validSubmission(), "alice", createTestPNG(t, 40, 40), true)
	if err != nil {
		t.Fatal(err)
	}

	pdf, err := o.RenderReport(ctx, res.ReportID)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(pdf, []byte("%PDF-")) {
		t.Error("expected a PDF")
	}

	if _, err := o.RenderReport(ctx, "missing"); !apperr.Is(err, apperr.NotFound) {
		t.Errorf("want NotFound, got %v", err)
	}

	list, err := o.ListReports(ctx, "alice")
	if err != nil || len(list) != 1 || list[0].ID != res.ReportID {
		t.Errorf("list: %v, %v", list, err)
	}
	if list, _ := o.ListReports(ctx, "bob"); len(list) != 0 {
		t.Errorf("bob should see no reports, got %d", len(list))
	}
}

func TestHealth(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, fakeDetector{available: true},
		fakeTier{method: segment.MethodDense, available: false},
		fakeTier{method: segment.MethodHeuristic, available: true},
	)
	h := o.Health()
	if h.Status != "ok" || !h.Detector || h.Dense {
		t.Errorf("health: %+v", h)
	}
}
