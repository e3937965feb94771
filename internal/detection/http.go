package detection

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"net/http"

	"github.com/ironsheep/orthoscan/internal/apperr"
	"github.com/ironsheep/orthoscan/internal/inference"
)

// HTTPDetector calls an inference service that accepts a multipart image
// upload and answers with a JSON detection list.
//
// The zero value is unusable; build one with Connect. After Connect returns
// the detector is read-only and safe for concurrent use.
type HTTPDetector struct {
	client    *inference.Client
	available bool
}

// Connect builds a detector for inferenceURL and calls the service's
// health endpoint once. The returned detector is never nil; when the check
// fails it reports Available() == false and the error is returned for
// the caller to log.
func Connect(ctx context.Context, inferenceURL string, httpClient *http.Client) (*HTTPDetector, error) {
	d := &HTTPDetector{client: inference.New(inferenceURL, httpClient)}
	if err := d.client.CheckHealth(ctx); err != nil {
		return d, apperr.E(apperr.ModelUnavailable, "connect detector", err)
	}
	d.available = true
	return d, nil
}

func (d *HTTPDetector) Available() bool { return d.available }

// Detect uploads img and returns the service's detections in the order it
// sent them.
func (d *HTTPDetector) Detect(ctx context.Context, img image.Image) ([]Detection, error) {
	if !d.available {
		return []Detection{}, apperr.E(apperr.ModelUnavailable, "detect", ErrUnavailable)
	}

	reply, _, err := d.client.PostImage(ctx, img)
	if err != nil {
		return nil, apperr.E(apperr.ModelUnavailable, "detect", err)
	}

	var result struct {
		Detections []Detection `json:"detections"`
	}
	if err := json.Unmarshal(reply, &result); err != nil {
		return nil, apperr.E(apperr.ModelUnavailable, "detect", fmt.Errorf("decode response: %w", err))
	}
	if result.Detections == nil {
		result.Detections = []Detection{}
	}
	return result.Detections, nil
}
