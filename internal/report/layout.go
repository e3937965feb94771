package report

import (
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/ironsheep/orthoscan/internal/geometry"
	"github.com/ironsheep/orthoscan/internal/imaging"
	"github.com/ironsheep/orthoscan/internal/overlay"
)

// US Letter in points.
const (
	PageWidth  = 612.0
	PageHeight = 792.0
)

// ImageFrame is the 250×250 box the report image is fitted into.
var ImageFrame = geometry.PageBox{X: 50, Y: PageHeight - 400, Width: 250, Height: 250}

const (
	textLeft      = 50.0
	wrapWidth     = 500.0
	bodyLeading   = 15.0
	headingGap    = 20.0
	sectionGap    = 10.0
	detailsStartY = PageHeight - 450
	disclaimer    = "Disclaimer: This report is generated by AI and should be verified by a medical professional."
)

// Font names a core PDF font.
type Font struct {
	Family string
	Style  string // "", "B", "I"
	Size   float64
}

var (
	titleFont   = Font{"Helvetica", "B", 24}
	headingFont = Font{"Helvetica", "B", 14}
	summaryFont = Font{"Helvetica", "B", 16}
	labelFont   = Font{"Helvetica", "", 12}
	bodyFont    = Font{"Helvetica", "", 11}
	footerFont  = Font{"Helvetica", "I", 10}
)

// Text is a line of text whose baseline starts at (X, Y) in page space.
type Text struct {
	X, Y float64
	Text string
	Font Font
}

// Rule is a straight line in page space.
type Rule struct {
	X1, Y1, X2, Y2 float64
}

// Page is a composed report page. Every coordinate is in page space.
type Page struct {
	Width, Height float64
	Texts         []Text
	Rules         []Rule

	// Image is the decoded report image, nil when there is none or it
	// could not be decoded. Placement is valid only when Image is set.
	Image     image.Image
	Placement geometry.Placement

	// Shapes are the annotation circles drawn over the image.
	Shapes      []geometry.Circle
	Stroke      color.NRGBA
	StrokeWidth float64
}

// Options control the annotation drawn on the page.
type Options struct {
	Expansion   float64
	Stroke      color.NRGBA
	StrokeWidth float64
}

// DefaultOptions returns a 3 pt red circle with the standard expansion.
func DefaultOptions() Options {
	return Options{
		Expansion:   geometry.DefaultExpansion,
		Stroke:      color.NRGBA{R: 255, A: 255},
		StrokeWidth: 3,
	}
}

// Measure returns the rendered width of text in points.
type Measure func(text string, f Font) float64

// Compose lays out a report. Missing optional sections are omitted; an
// undecodable image is replaced by a notice and never fails the render.
func Compose(r *Report, opts Options, measure Measure) *Page {
	p := &Page{
		Width:       PageWidth,
		Height:      PageHeight,
		Stroke:      opts.Stroke,
		StrokeWidth: opts.StrokeWidth,
	}
	top := func(offset float64) float64 { return PageHeight - offset }

	p.text(textLeft, top(50), "OrthoAI Diagnostic Report", titleFont)
	p.text(textLeft, top(80), "Generated by AI Analysis System", labelFont)
	p.Rules = append(p.Rules, Rule{X1: textLeft, Y1: top(90), X2: PageWidth - textLeft, Y2: top(90)})

	p.text(textLeft, top(120), "Doctor: "+r.DoctorLabel(), labelFont)
	p.text(textLeft, top(140), "Patient ID: "+orDefault(r.PatientID, "Unknown"), labelFont)
	date := "Unknown"
	if !r.CreatedAt.IsZero() {
		date = r.CreatedAt.Format("2006-01-02")
	}
	p.text(300, top(120), "Date: "+date, labelFont)

	p.placeImage(r, opts)

	p.text(350, top(180), "Analysis Summary", summaryFont)
	p.text(350, top(210), "Disorder: "+orDefault(r.Disorder, "N/A"), labelFont)
	p.text(350, top(230), fmt.Sprintf("Confidence: %.1f%%", r.Confidence*100), labelFont)
	p.text(350, top(250), "Severity: "+orDefault(r.Severity, "N/A"), labelFont)

	y := detailsStartY
	if strings.TrimSpace(r.DetailedAnalysis) != "" {
		y = p.section(y, "Detailed Analysis", wrap(r.DetailedAnalysis, bodyFont, wrapWidth, measure))
	}
	if strings.TrimSpace(r.Recommendations) != "" {
		y = p.section(y, "Recommendations", strings.Split(r.Recommendations, "\n"))
	}
	p.section(y, "Clinical Notes", []string{r.Notes})

	p.text(textLeft, 50, disclaimer, footerFont)
	return p
}

func (p *Page) placeImage(r *Report, opts Options) {
	if len(r.Image) == 0 {
		p.text(textLeft, PageHeight-300, "[Image placeholder: no image stored with this report]", labelFont)
		return
	}

	src, err := imaging.Decode(r.Image)
	if err != nil {
		p.text(textLeft, PageHeight-200, "Image could not be processed", labelFont)
		return
	}
	placement, err := geometry.FitPlacement(src.Width(), src.Height(), ImageFrame)
	if err != nil {
		p.text(textLeft, PageHeight-200, "Image could not be processed", labelFont)
		return
	}

	p.Image = src.Image
	p.Placement = placement
	p.Shapes = overlay.BoxShapes(r.DamageLocation, src.Width(), src.Height(), placement, r.IsAnnotatedImage, opts.Expansion)
}

// section writes a heading and its lines starting at y and returns the Y
// where the next section begins.
func (p *Page) section(y float64, heading string, lines []string) float64 {
	p.text(textLeft, y, heading, headingFont)
	y -= headingGap
	for _, line := range lines {
		p.text(textLeft, y, line, bodyFont)
		y -= bodyLeading
	}
	return y - sectionGap
}

func (p *Page) text(x, y float64, s string, f Font) {
	p.Texts = append(p.Texts, Text{X: x, Y: y, Text: s, Font: f})
}

// wrap breaks s into lines narrower than width.
func wrap(s string, f Font, width float64, measure Measure) []string {
	var lines []string
	current := ""
	for _, word := range strings.Fields(s) {
		candidate := word
		if current != "" {
			candidate = current + " " + word
		}
		if current == "" || measure(candidate, f) < width {
			current = candidate
			continue
		}
		lines = append(lines, current)
		current = word
	}
	if current != "" {
		lines = append(lines, current)
	}
	return lines
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
