package oracle

import (
	"context"
	"time"

	"github.com/ironsheep/orthoscan/internal/logger"
	"github.com/ironsheep/orthoscan/internal/metrics"
)

// Resilient wraps a primary Analyzer with the mock fallback. It never
// returns an error: a failed or missing primary yields a mock finding and a
// degraded-mode warning in the log.
type Resilient struct {
	primary  Analyzer
	fallback *Fallback
	log      logger.Logger
	metrics  *metrics.Metrics
}

// NewResilient builds the analyzer used by the pipeline. primary may be nil,
// in which case every finding is a mock. log and m may be nil.
func NewResilient(primary Analyzer, fallback *Fallback, log logger.Logger, m *metrics.Metrics) *Resilient {
	if fallback == nil {
		fallback = NewFallback(0)
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Resilient{primary: primary, fallback: fallback, log: log, metrics: m}
}

func (r *Resilient) Analyze(ctx context.Context, data []byte, mimeType string) (*Finding, error) {
	start := time.Now()
	finding := r.analyze(ctx, data, mimeType)
	if r.metrics != nil {
		r.metrics.OracleResults.WithLabelValues(string(finding.Source)).Inc()
		r.metrics.ObserveStage("analyze", start)
	}
	return finding, nil
}

func (r *Resilient) analyze(ctx context.Context, data []byte, mimeType string) *Finding {
	if r.primary == nil {
		r.log.Warning("oracle", "no classification model configured, returning mock finding", map[string]interface{}{
			"degraded": true,
			"source":   string(SourceMock),
		})
		return r.fallback.Finding()
	}

	finding, err := r.primary.Analyze(ctx, data, mimeType)
	if err != nil || finding == nil {
		fields := map[string]interface{}{
			"degraded": true,
			"source":   string(SourceMock),
		}
		if err != nil {
			fields["error"] = err.Error()
		}
		r.log.Warning("oracle", "classification failed, returning mock finding", fields)
		return r.fallback.Finding()
	}

	if finding.Source == "" {
		finding.Source = SourceModel
	}
	if finding.Recommendations == nil {
		finding.Recommendations = []string{}
	}
	if finding.DamageLocation == nil {
		def := DefaultLocation
		finding.DamageLocation = &def
	}
	return finding
}
