package report

import (
	"bytes"
	"fmt"
	"io"

	"github.com/go-pdf/fpdf"

	"github.com/ironsheep/orthoscan/internal/geometry"
	"github.com/ironsheep/orthoscan/internal/imaging"
)

const imageName = "report-image"

// Render composes r and writes it to w as a one-page PDF.
func Render(w io.Writer, r *Report, opts Options) error {
	pdf := fpdf.New("P", "pt", "Letter", "")
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()

	measure := func(text string, f Font) float64 {
		pdf.SetFont(f.Family, f.Style, f.Size)
		return pdf.GetStringWidth(text)
	}
	page := Compose(r, opts, measure)

	if err := draw(pdf, page); err != nil {
		return err
	}
	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}

// draw paints a composed page. fpdf measures Y from the top edge, so every
// page-space coordinate goes through geometry.FlipY or FlipBox here.
func draw(pdf *fpdf.Fpdf, page *Page) error {
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	if page.Image != nil {
		data, err := imaging.EncodeJPEG(page.Image, 90)
		if err != nil {
			return fmt.Errorf("embed report image: %w", err)
		}
		opt := fpdf.ImageOptions{ImageType: "JPG"}
		pdf.RegisterImageOptionsReader(imageName, opt, bytes.NewReader(data))
		box := geometry.FlipBox(page.Placement.Bounds(), page.Height)
		pdf.ImageOptions(imageName, box.X, box.Y, box.Width, box.Height, false, opt, 0, "")
	}

	if len(page.Shapes) > 0 {
		pdf.SetDrawColor(int(page.Stroke.R), int(page.Stroke.G), int(page.Stroke.B))
		pdf.SetLineWidth(page.StrokeWidth)
		for _, c := range page.Shapes {
			pdf.Circle(c.CenterX, geometry.FlipY(c.CenterY, page.Height), c.Radius, "D")
		}
	}

	pdf.SetDrawColor(0, 0, 0)
	pdf.SetLineWidth(1)
	for _, l := range page.Rules {
		pdf.Line(l.X1, geometry.FlipY(l.Y1, page.Height), l.X2, geometry.FlipY(l.Y2, page.Height))
	}

	pdf.SetTextColor(0, 0, 0)
	for _, t := range page.Texts {
		pdf.SetFont(t.Font.Family, t.Font.Style, t.Font.Size)
		pdf.Text(t.X, geometry.FlipY(t.Y, page.Height), tr(t.Text))
	}

	if err := pdf.Error(); err != nil {
		return fmt.Errorf("draw pdf: %w", err)
	}
	return nil
}
