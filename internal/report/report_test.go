package report

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/ironsheep/orthoscan/internal/apperr"
	"github.com/ironsheep/orthoscan/internal/geometry"
	"github.com/ironsheep/orthoscan/internal/imaging"
)

// createTestPNG returns PNG bytes of a w×h gray image.
func createTestPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: 120, G: 120, B: 120, A: 255})
		}
	}
	data, err := imaging.EncodePNG(img)
	if err != nil {
		t.Fatalf("encode test image: %v", err)
	}
	return data
}

// fixedMeasure approximates Helvetica at half an em per character.
func fixedMeasure(text string, f Font) float64 {
	return float64(len(text)) * f.Size / 2
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func TestFormatRecommendations(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"json list", `["Rest", "Ice"]`, "- Rest\n- Ice"},
		{"empty list", `[]`, ""},
		{"plain text", "Rest for two weeks", "Rest for two weeks"},
		{"json object", `{"a": 1}`, `{"a": 1}`},
		{"empty", "", NoRecommendations},
		{"blank", "   ", NoRecommendations},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatRecommendations(tt.raw); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func validSubmission() Submission {
	return Submission{
		PatientID:       "P-100",
		Disorder:        "Fracture",
		Confidence:      "0.91",
		Severity:        "Severe",
		Notes:           "Distal radius fracture.",
		Recommendations: `["Cast", "Follow-up in 2 weeks"]`,
		DamageLocation:  `{"x": 0.1, "y": 0.2, "width": 0.3, "height": 0.4}`,
	}
}

func TestNewReport(t *testing.T) {
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.FixedZone("X", 3600))
	r, err := NewReport(validSubmission(), "dr-house", []byte("img"), "image/png", now)
	if err != nil {
		t.Fatalf("NewReport failed: %v", err)
	}

	if r.ID == "" {
		t.Error("report should get an id")
	}
	if r.DoctorID != "dr-house" || r.Confidence != 0.91 {
		t.Errorf("fields: %+v", r)
	}
	if r.Recommendations != "- Cast\n- Follow-up in 2 weeks" {
		t.Errorf("recommendations: %q", r.Recommendations)
	}
	want := geometry.NormalizedBox{X: 0.1, Y: 0.2, Width: 0.3, Height: 0.4}
	if r.DamageLocation == nil || *r.DamageLocation != want {
		t.Errorf("damage location: %+v", r.DamageLocation)
	}
	if r.CreatedAt.Location() != time.UTC {
		t.Error("created_at should be UTC")
	}
}

func TestNewReport_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Submission)
	}{
		{"no patient", func(s *Submission) { s.PatientID = "" }},
		{"no disorder", func(s *Submission) { s.Disorder = " " }},
		{"no notes", func(s *Submission) { s.Notes = "" }},
		{"bad confidence", func(s *Submission) { s.Confidence = "very" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := validSubmission()
			tt.mutate(&sub)
			_, err := NewReport(sub, "d", nil, "", time.Now())
			if !apperr.Is(err, apperr.InvalidInput) {
				t.Errorf("want InvalidInput, got %v", err)
			}
		})
	}
}

func TestNewReport_BadLocationDropped(t *testing.T) {
	for _, loc := range []string{"", "null", "not json", `{"x": "left"}`} {
		sub := validSubmission()
		sub.DamageLocation = loc
		r, err := NewReport(sub, "d", nil, "", time.Now())
		if err != nil {
			t.Fatalf("%q: %v", loc, err)
		}
		if r.DamageLocation != nil {
			t.Errorf("%q: location should be dropped, got %+v", loc, r.DamageLocation)
		}
	}
}

func TestDoctorLabel(t *testing.T) {
	tests := []struct {
		r    Report
		want string
	}{
		{Report{DoctorName: "Dr. Grey", DoctorID: "grey"}, "Dr. Grey"},
		{Report{DoctorID: "grey"}, "grey"},
		{Report{}, "Unknown"},
	}
	for _, tt := range tests {
		if got := tt.r.DoctorLabel(); got != tt.want {
			t.Errorf("got %q, want %q", got, tt.want)
		}
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for i := 0; i < 3; i++ {
		doctor := "alice"
		if i == 1 {
			doctor = "bob"
		}
		_, err := s.Insert(ctx, &Report{PatientID: fmt.Sprintf("P%d", i), DoctorID: doctor, Image: []byte{1, 2, 3}})
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	list, err := s.ListByDoctor(ctx, "alice", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].PatientID != "P0" || list[1].PatientID != "P2" {
		t.Fatalf("alice's reports: %+v", list)
	}
	if list[0].Image != nil {
		t.Error("list should omit image bytes")
	}

	got, err := s.Get(ctx, list[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.Image, []byte{1, 2, 3}) {
		t.Error("Get should return the image bytes")
	}

	if list, _ := s.ListByDoctor(ctx, "alice", 1); len(list) != 1 {
		t.Errorf("limit 1: got %d", len(list))
	}
	if list, _ := s.ListByDoctor(ctx, "carol", 0); list == nil || len(list) != 0 {
		t.Errorf("unknown doctor should get an empty list, got %v", list)
	}
}

func TestMemoryStore_Errors(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if _, err := s.Get(ctx, "missing"); !apperr.Is(err, apperr.NotFound) {
		t.Errorf("want NotFound, got %v", err)
	}
	if _, err := s.Insert(ctx, &Report{ID: "x"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Insert(ctx, &Report{ID: "x"}); !apperr.Is(err, apperr.PersistenceFailure) {
		t.Errorf("duplicate id: want PersistenceFailure, got %v", err)
	}
	if _, err := s.Insert(ctx, nil); !apperr.Is(err, apperr.PersistenceFailure) {
		t.Errorf("nil report: want PersistenceFailure, got %v", err)
	}
}

func TestMemoryStore_ConcurrentInsert(t *testing.T) {
	s := NewMemoryStore()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Insert(context.Background(), &Report{DoctorID: "d"})
		}()
	}
	wg.Wait()
	if s.Len() != 20 {
		t.Errorf("got %d reports, want 20", s.Len())
	}
}

func TestReport_BSONFieldNames(t *testing.T) {
	loc := geometry.NormalizedBox{X: 0.1, Y: 0.1, Width: 0.2, Height: 0.2}
	data, err := bson.Marshal(&Report{ID: "abc", DoctorID: "alice", DamageLocation: &loc})
	if err != nil {
		t.Fatal(err)
	}
	var doc bson.M
	if err := bson.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	// The store queries on these names.
	for _, key := range []string{"_id", "doctor_id", "damage_location", "is_annotated_image", "created_at"} {
		if _, ok := doc[key]; !ok {
			t.Errorf("bson document lacks %q: %v", key, doc)
		}
	}
	if _, ok := doc["image"]; ok {
		t.Error("empty image should be omitted")
	}
}

func TestConnectMongo_BadURI(t *testing.T) {
	_, err := ConnectMongo(context.Background(), "not-a-mongo-uri", "bone", "reports")
	if !apperr.Is(err, apperr.PersistenceFailure) {
		t.Errorf("want PersistenceFailure, got %v", err)
	}
}

func TestCompose_ReferencePlacement(t *testing.T) {
	r := &Report{
		Image:          createTestPNG(t, 250, 250),
		DamageLocation: &geometry.NormalizedBox{X: 0.2, Y: 0.2, Width: 0.4, Height: 0.4},
	}
	page := Compose(r, DefaultOptions(), fixedMeasure)

	if page.Image == nil {
		t.Fatal("image should be placed")
	}
	p := page.Placement
	if !near(p.OriginX, 50) || !near(p.OriginY, 392) || !near(p.Scale, 1) {
		t.Errorf("placement: %+v", p)
	}
	if len(page.Shapes) != 1 {
		t.Fatalf("want 1 shape, got %d", len(page.Shapes))
	}
	// Top of the drawn image is 642; the box top is 50 pt below it.
	c := page.Shapes[0]
	if !near(c.CenterX, 150) || !near(c.CenterY, 542) || !near(c.Radius, 60) {
		t.Errorf("circle: %+v", c)
	}
	if !p.Bounds().Contains(c.CenterX, c.CenterY) {
		t.Error("circle center should lie on the drawn image")
	}
}

func TestCompose_FitsWideImage(t *testing.T) {
	r := &Report{Image: createTestPNG(t, 500, 250)}
	p := Compose(r, DefaultOptions(), fixedMeasure).Placement

	if !near(p.Scale, 0.5) || !near(p.DrawnWidth, 250) || !near(p.DrawnHeight, 125) {
		t.Errorf("scale: %+v", p)
	}
	// Centered vertically in the frame.
	if !near(p.OriginX, 50) || !near(p.OriginY, 392+62.5) {
		t.Errorf("origin: %+v", p)
	}
}

func TestCompose_AnnotatedImageHasNoShapes(t *testing.T) {
	r := &Report{
		Image:            createTestPNG(t, 100, 100),
		DamageLocation:   &geometry.NormalizedBox{X: 0.2, Y: 0.2, Width: 0.4, Height: 0.4},
		IsAnnotatedImage: true,
	}
	page := Compose(r, DefaultOptions(), fixedMeasure)
	if len(page.Shapes) != 0 {
		t.Errorf("annotated image should get no shapes, got %v", page.Shapes)
	}
	if page.Image == nil {
		t.Error("the stored image is still drawn")
	}
}

func hasText(page *Page, substr string) bool {
	for _, t := range page.Texts {
		if strings.Contains(t.Text, substr) {
			return true
		}
	}
	return false
}

func TestCompose_ImageFallbacks(t *testing.T) {
	noImage := Compose(&Report{}, DefaultOptions(), fixedMeasure)
	if noImage.Image != nil || !hasText(noImage, "Image placeholder") {
		t.Error("missing image should render a placeholder")
	}

	bad := Compose(&Report{Image: []byte("not an image")}, DefaultOptions(), fixedMeasure)
	if bad.Image != nil || !hasText(bad, "Image could not be processed") {
		t.Error("undecodable image should render a notice")
	}
	if len(bad.Shapes) != 0 {
		t.Error("no shapes without an image")
	}
}

func TestCompose_Sections(t *testing.T) {
	r := &Report{
		DoctorID:        "grey",
		PatientID:       "P-7",
		Disorder:        "Arthritis",
		Confidence:      0.876,
		Recommendations: "- Rest\n- Ice",
		Notes:           "Joint space narrowing.",
		CreatedAt:       time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
	}
	page := Compose(r, DefaultOptions(), fixedMeasure)

	for _, want := range []string{
		"OrthoAI Diagnostic Report",
		"Doctor: grey",
		"Patient ID: P-7",
		"Date: 2026-05-01",
		"Confidence: 87.6%",
		"Severity: N/A",
		"Recommendations",
		"- Ice",
		"Clinical Notes",
		"Disclaimer:",
	} {
		if !hasText(page, want) {
			t.Errorf("page lacks %q", want)
		}
	}
	if hasText(page, "Detailed Analysis") {
		t.Error("empty detailed analysis should be omitted")
	}
}

func TestWrap(t *testing.T) {
	f := Font{Size: 10} // 5 pt per character
	lines := wrap("aaaa bbbb cccc dddd", f, 50, fixedMeasure)
	want := []string{"aaaa bbbb", "cccc dddd"}
	if len(lines) != len(want) {
		t.Fatalf("got %q, want %q", lines, want)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d: got %q, want %q", i, lines[i], want[i])
		}
	}

	long := wrap("supercalifragilistic", f, 20, fixedMeasure)
	if len(long) != 1 {
		t.Errorf("a single long word stays on one line, got %q", long)
	}
}

func TestRender(t *testing.T) {
	tests := []struct {
		name string
		r    *Report
	}{
		{"with image", &Report{
			PatientID:        "P-1",
			Disorder:         "Fracture",
			Confidence:       0.9,
			DetailedAnalysis: strings.Repeat("Cortical disruption of the distal radius. ", 20),
			Recommendations:  "- Cast",
			Notes:            "Notes with ünïcode.",
			Image:            createTestPNG(t, 64, 48),
			DamageLocation:   &geometry.NormalizedBox{X: 0.25, Y: 0.25, Width: 0.5, Height: 0.5},
		}},
		{"without image", &Report{PatientID: "P-2", Notes: "n"}},
		{"bad image", &Report{PatientID: "P-3", Image: []byte("garbage")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := Render(&buf, tt.r, DefaultOptions()); err != nil {
				t.Fatalf("Render failed: %v", err)
			}
			if !bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")) {
				t.Errorf("output is not a PDF: %q", buf.Bytes()[:min(buf.Len(), 16)])
			}
		})
	}
}
