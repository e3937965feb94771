package oracle

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/ironsheep/orthoscan/internal/geometry"
)

// MockDisorders is the vocabulary the fallback draws from.
var MockDisorders = []string{"Fracture", "Arthritis", "Osteoporosis", "Joint Dislocation", "Tissue Damage"}

// Bounds of the fallback confidence.
const (
	MockConfidenceMin = 0.85
	MockConfidenceMax = 0.99
)

// MockLocation is the damage location every fallback finding carries.
var MockLocation = geometry.NormalizedBox{X: 0.3, Y: 0.3, Width: 0.2, Height: 0.2}

var mockRecommendations = []string{
	"Consult an orthopedic specialist",
	"Schedule an MRI for better visualization",
	"Rest and immobilize the affected area",
}

// Fallback produces bounded random findings. It is safe for concurrent use.
type Fallback struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewFallback seeds the generator with seed; zero seeds from the clock.
// Equal non-zero seeds produce equal sequences.
func NewFallback(seed int64) *Fallback {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Fallback{rng: rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))}
}

// Finding returns the next mock finding. Every field is populated.
func (f *Fallback) Finding() *Finding {
	f.mu.Lock()
	disorder := MockDisorders[f.rng.IntN(len(MockDisorders))]
	confidence := MockConfidenceMin + f.rng.Float64()*(MockConfidenceMax-MockConfidenceMin)
	f.mu.Unlock()

	loc := MockLocation
	return &Finding{
		Disorder:   disorder,
		Confidence: confidence,
		Severity:   "Moderate",
		Notes: fmt.Sprintf("Detected signs of %s in the provided scan. Recommended further consultation. (Mock analysis: model unavailable)",
			strings.ToLower(disorder)),
		DetailedAnalysis: "Mock detailed analysis: the scan shows potential irregularities in the bone structure. Further investigation is required to confirm the diagnosis.",
		Recommendations:  append([]string(nil), mockRecommendations...),
		DamageLocation:   &loc,
		Source:           SourceMock,
	}
}
