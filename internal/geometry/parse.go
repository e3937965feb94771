package geometry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ironsheep/orthoscan/internal/apperr"
)

var boxFields = [...]string{"x", "y", "width", "height"}

// ParseNormalizedBox decodes an untrusted damage_location value.
//
// Empty input and JSON null mean "no location" and return (nil, nil).
// Missing fields default to 0 and numeric strings are accepted. Anything
// else that is not a finite number, or a top-level value that is not an
// object, is rejected with apperr.InvalidGeometry. The returned box is
// clamped to the unit square.
func ParseNormalizedBox(data []byte) (*NormalizedBox, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, apperr.E(apperr.InvalidGeometry, "parse damage location", err)
	}
	if fields == nil {
		return nil, nil
	}
	return BoxFromMap(fields)
}

// BoxFromMap is ParseNormalizedBox for an already-decoded JSON object.
func BoxFromMap(fields map[string]interface{}) (*NormalizedBox, error) {
	var vals [len(boxFields)]float64
	for i, name := range boxFields {
		raw, ok := fields[name]
		if !ok || raw == nil {
			continue
		}
		v, err := toFloat(raw)
		if err != nil {
			return nil, apperr.E(apperr.InvalidGeometry, "parse damage location",
				fmt.Errorf("field %q: %w", name, err))
		}
		vals[i] = v
	}

	box := NormalizedBox{X: vals[0], Y: vals[1], Width: vals[2], Height: vals[3]}.Clamp()
	return &box, nil
}

func toFloat(v interface{}) (float64, error) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return 0, err
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", t)
		}
		f = parsed
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not finite: %v", f)
	}
	return f, nil
}
