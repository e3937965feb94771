// Package oracle classifies a radiograph through a hosted vision-language
// model and falls back to a bounded mock finding when the model cannot be
// reached or answers with something unusable.
//
// Every Finding records where it came from in Source, so a mocked result is
// never indistinguishable from a real one.
package oracle

import (
	"context"

	"github.com/ironsheep/orthoscan/internal/geometry"
)

// Source tells whether a finding came from the model or the fallback.
type Source string

const (
	SourceModel Source = "model"
	SourceMock  Source = "mock"
)

// Finding is the structured classification of one image.
type Finding struct {
	Disorder         string                  `json:"disorder" bson:"disorder"`
	Confidence       float64                 `json:"confidence" bson:"confidence"`
	Severity         string                  `json:"severity" bson:"severity"`
	Notes            string                  `json:"notes" bson:"notes"`
	DetailedAnalysis string                  `json:"detailed_analysis" bson:"detailed_analysis"`
	Recommendations  []string                `json:"recommendations" bson:"recommendations"`
	DamageLocation   *geometry.NormalizedBox `json:"damage_location" bson:"damage_location"`
	Source           Source                  `json:"source" bson:"source"`
}

// DefaultLocation is used when the model returns a finding without a
// damage location.
var DefaultLocation = geometry.NormalizedBox{X: 0.2, Y: 0.2, Width: 0.4, Height: 0.4}

// Analyzer classifies encoded image bytes.
type Analyzer interface {
	Analyze(ctx context.Context, data []byte, mimeType string) (*Finding, error)
}
