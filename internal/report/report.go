// Package report stores diagnostic reports and renders them as a printable
// page.
//
// A Report is created once on submission and only read back afterwards,
// either to list a doctor's reports or to regenerate its PDF. Rendering is
// split in two: Compose lays the page out in page space (origin bottom-left,
// Y up, unit = point) and Render draws that layout with fpdf, flipping Y
// into fpdf's top-left convention in one place.
package report

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ironsheep/orthoscan/internal/apperr"
	"github.com/ironsheep/orthoscan/internal/geometry"
)

// NoRecommendations replaces an empty recommendations field.
const NoRecommendations = "No specific recommendations provided."

// DefaultListLimit caps ListByDoctor results.
const DefaultListLimit = 100

// Report is one persisted diagnostic report.
type Report struct {
	ID               string                  `json:"id" bson:"_id"`
	PatientID        string                  `json:"patient_id" bson:"patient_id"`
	DoctorID         string                  `json:"doctor_id" bson:"doctor_id"`
	DoctorName       string                  `json:"doctor_name,omitempty" bson:"doctor_name,omitempty"`
	Disorder         string                  `json:"disorder" bson:"disorder"`
	Confidence       float64                 `json:"confidence" bson:"confidence"`
	Severity         string                  `json:"severity" bson:"severity"`
	Notes            string                  `json:"notes" bson:"notes"`
	DetailedAnalysis string                  `json:"detailed_analysis,omitempty" bson:"detailed_analysis,omitempty"`
	Recommendations  string                  `json:"recommendations" bson:"recommendations"`
	DamageLocation   *geometry.NormalizedBox `json:"damage_location" bson:"damage_location"`
	IsAnnotatedImage bool                    `json:"is_annotated_image" bson:"is_annotated_image"`
	Image            []byte                  `json:"-" bson:"image,omitempty"`
	ImageMIME        string                  `json:"image_mime,omitempty" bson:"image_mime,omitempty"`
	CreatedAt        time.Time               `json:"created_at" bson:"created_at"`
}

// Submission holds the raw form fields of a report submission.
type Submission struct {
	PatientID        string
	Disorder         string
	Confidence       string
	Severity         string
	Notes            string
	DetailedAnalysis string
	Recommendations  string
	DamageLocation   string
	DoctorName       string
	IsAnnotatedImage bool
}

// NewReport validates a submission and builds the record to insert.
// patient_id, disorder, confidence, severity and notes are required and
// confidence must be numeric. An unparsable damage_location is dropped.
func NewReport(sub Submission, doctorID string, image []byte, mimeType string, now time.Time) (*Report, error) {
	required := []struct{ name, value string }{
		{"patient_id", sub.PatientID},
		{"disorder", sub.Disorder},
		{"confidence", sub.Confidence},
		{"severity", sub.Severity},
		{"notes", sub.Notes},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return nil, apperr.E(apperr.InvalidInput, "new report", fmt.Errorf("missing field %q", f.name))
		}
	}

	confidence, err := strconv.ParseFloat(strings.TrimSpace(sub.Confidence), 64)
	if err != nil {
		return nil, apperr.E(apperr.InvalidInput, "new report", fmt.Errorf("confidence: %w", err))
	}

	loc, err := geometry.ParseNormalizedBox([]byte(sub.DamageLocation))
	if err != nil {
		loc = nil
	}

	return &Report{
		ID:               uuid.NewString(),
		PatientID:        sub.PatientID,
		DoctorID:         doctorID,
		DoctorName:       sub.DoctorName,
		Disorder:         sub.Disorder,
		Confidence:       confidence,
		Severity:         sub.Severity,
		Notes:            sub.Notes,
		DetailedAnalysis: sub.DetailedAnalysis,
		Recommendations:  FormatRecommendations(sub.Recommendations),
		DamageLocation:   loc,
		IsAnnotatedImage: sub.IsAnnotatedImage,
		Image:            image,
		ImageMIME:        mimeType,
		CreatedAt:        now.UTC(),
	}, nil
}

// FormatRecommendations turns a JSON list into "- a\n- b" lines. Any other
// non-empty value is kept as given; an empty one becomes NoRecommendations.
func FormatRecommendations(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return NoRecommendations
	}

	var list []interface{}
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return raw
	}
	lines := make([]string, 0, len(list))
	for _, item := range list {
		lines = append(lines, "- "+fmt.Sprint(item))
	}
	return strings.Join(lines, "\n")
}

// DoctorLabel is the name printed on the page: the doctor's name, else
// their id, else "Unknown".
func (r *Report) DoctorLabel() string {
	switch {
	case r.DoctorName != "":
		return r.DoctorName
	case r.DoctorID != "":
		return r.DoctorID
	default:
		return "Unknown"
	}
}

// summary returns a copy without the image bytes.
func (r *Report) summary() *Report {
	c := *r
	c.Image = nil
	return &c
}
