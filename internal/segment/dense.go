package segment

import (
	"context"
	"fmt"
	"image"
	"net/http"

	"github.com/ironsheep/orthoscan/internal/apperr"
	"github.com/ironsheep/orthoscan/internal/imaging"
	"github.com/ironsheep/orthoscan/internal/inference"
)

// DefaultInputSize is the square input the dense model was trained on.
const DefaultInputSize = 256

// DenseSegmenter sends the whole image to a dense segmentation service and
// scales the returned probability map back to the image size.
//
// The service receives the image resized to InputSize×InputSize as a PNG in
// the multipart field "file" and must reply with a single-channel image
// (any codec imaging.Decode accepts) whose intensity is the abnormality
// probability times 255.
type DenseSegmenter struct {
	client    *inference.Client
	inputSize int
	available bool
}

// ConnectDense builds the dense tier and checks its service's health once. The
// returned segmenter is never nil; when the check fails it is unavailable and
// the engine skips it.
func ConnectDense(ctx context.Context, url string, inputSize int, httpClient *http.Client) (*DenseSegmenter, error) {
	if inputSize <= 0 {
		inputSize = DefaultInputSize
	}
	s := &DenseSegmenter{client: inference.New(url, httpClient), inputSize: inputSize}
	if err := s.client.CheckHealth(ctx); err != nil {
		return s, apperr.E(apperr.ModelUnavailable, "connect dense segmenter", err)
	}
	s.available = true
	return s, nil
}

func (s *DenseSegmenter) Method() Method { return MethodDense }

func (s *DenseSegmenter) Available() bool { return s.available }

// InputSize returns the side of the square the image is resized to.
func (s *DenseSegmenter) InputSize() int { return s.inputSize }

func (s *DenseSegmenter) Segment(ctx context.Context, img image.Image) (*Result, error) {
	if !s.available {
		return nil, apperr.E(apperr.ModelUnavailable, "dense segment", fmt.Errorf("dense model not loaded"))
	}
	b := img.Bounds()

	input := imaging.Resize(img, s.inputSize, s.inputSize)
	reply, _, err := s.client.PostImage(ctx, input)
	if err != nil {
		return nil, apperr.E(apperr.ModelUnavailable, "dense segment", err)
	}

	probs, err := imaging.Decode(reply)
	if err != nil {
		return nil, apperr.E(apperr.ModelUnavailable, "dense segment", fmt.Errorf("malformed mask: %w", err))
	}

	// Same interpolation as the downscale above.
	mask := imaging.ToGray(imaging.Resize(probs.Image, b.Dx(), b.Dy()))
	return &Result{Mask: mask, Method: MethodDense}, nil
}
