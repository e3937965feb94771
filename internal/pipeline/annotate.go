package pipeline

import (
	"bytes"
	"context"
	"fmt"

	"github.com/ironsheep/orthoscan/internal/apperr"
	"github.com/ironsheep/orthoscan/internal/geometry"
	"github.com/ironsheep/orthoscan/internal/imaging"
	"github.com/ironsheep/orthoscan/internal/oracle"
	"github.com/ironsheep/orthoscan/internal/overlay"
	"github.com/ironsheep/orthoscan/internal/segment"
)

// AnnotateRequest selects what Annotate bakes into the image.
type AnnotateRequest struct {
	// Location is circled when set.
	Location *geometry.NormalizedBox

	// RawLocation is a client-supplied damage_location, parsed when Location
	// is nil. A value that does not parse is logged and no box is circled.
	RawLocation []byte

	// WithMask paints the segmentation mask under the circle. When there is
	// no drawable location, the mask's weighted centroid is circled instead.
	WithMask bool

	// Label is written above the circle. When the image was classified
	// and Label is empty, the disorder name is used.
	Label string
}

// AnnotateResult is the annotated raster as a PNG data URI, ready to be
// submitted as a report image with is_annotated_image set.
type AnnotateResult struct {
	Image    string                 `json:"image"`
	Width    int                    `json:"width"`
	Height   int                    `json:"height"`
	Location *geometry.NormalizedBox `json:"damage_location"`
	// Focus is the circle drawn around the mask, in pixels, when the mask
	// rather than a location was circled.
	Focus   *geometry.Circle `json:"mask_focus,omitempty"`
	Method  segment.Method   `json:"method,omitempty"`
	Finding *oracle.Finding  `json:"finding,omitempty"`
}

// Annotate bakes the overlay into a copy of the upload. When neither
// Location nor RawLocation names a box, the image is classified first and
// the finding's damage location is used.
func (o *Orchestrator) Annotate(ctx context.Context, data []byte, req AnnotateRequest) (*AnnotateResult, error) {
	src, err := o.decode("annotate", data)
	if err != nil {
		return nil, err
	}
	return o.AnnotateSource(ctx, src, req)
}

// AnnotateSource is Annotate for an already decoded image. A location that
// cannot be drawn is skipped; the rest of the overlay is still applied.
func (o *Orchestrator) AnnotateSource(ctx context.Context, src *imaging.Source, req AnnotateRequest) (*AnnotateResult, error) {
	out := &AnnotateResult{Width: src.Width(), Height: src.Height(), Location: req.Location}
	opts := o.bake
	opts.Label = req.Label

	classify := out.Location == nil
	if classify && len(bytes.TrimSpace(req.RawLocation)) > 0 {
		loc, err := geometry.ParseNormalizedBox(req.RawLocation)
		switch {
		case err != nil:
			o.log.Warning("pipeline", "ignoring malformed damage location", map[string]interface{}{
				"error": err.Error(),
			})
			classify = false
		case loc != nil:
			out.Location = loc
			classify = false
		}
	}

	if classify {
		finding, err := o.AnalyzeSource(ctx, src)
		if err != nil {
			return nil, err
		}
		out.Finding = finding
		out.Location = finding.DamageLocation
		if opts.Label == "" {
			opts.Label = finding.Disorder
		}
	}
	if out.Location != nil {
		clamped := out.Location.Clamp()
		out.Location = &clamped
	}
	opts.Location = out.Location

	if req.WithMask {
		res, err := o.engine.Run(ctx, src.Image)
		if err != nil {
			return nil, err
		}
		opts.Mask = res.Mask
		out.Method = res.Method

		if !drawable(out.Location) {
			if c, ok := overlay.MaskFocus(res.Mask, opts.Expansion); ok {
				opts.Location = nil
				opts.Circle = &c
				out.Focus = &c
			}
		}
	}

	baked, err := overlay.Bake(src.Image, opts)
	if err != nil {
		if !apperr.Is(err, apperr.InvalidGeometry) {
			return nil, fmt.Errorf("annotate: %w", err)
		}
		o.log.Warning("pipeline", "skipping undrawable damage location", map[string]interface{}{
			"error": err.Error(),
		})
	}

	out.Image, err = imaging.PNGDataURI(baked)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// drawable reports whether a clamped location has any extent to circle.
func drawable(loc *geometry.NormalizedBox) bool {
	return loc != nil && (loc.Width > 0 || loc.Height > 0)
}
