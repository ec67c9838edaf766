// Package mapper translates between local entities and remote document fields.
//
// Decimal policy. Local monetary and measurement columns are decimals; remote
// documents carry float64. Values are rounded to the field scale on the way
// in and any push that cannot be represented exactly as float64 is reported
// through Losses.
//
//	latitude, longitude  scale 8
//	budget               scale 2
//	surface              scale 2
//	noteMoyenne          scale 2
package mapper

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"signalsync/internal/remote"

	"github.com/shopspring/decimal"
)

const (
	ScaleCoordinate = 8
	ScaleBudget     = 2
	ScaleSurface    = 2
	ScaleNote       = 2
)

var (
	ErrInvalidField     = errors.New("invalid field")
	ErrMissingReference = errors.New("missing reference")
)

// Losses names fields whose float64 form is not exactly the local decimal.
type Losses []string

func toFloat(field string, d decimal.Decimal, losses *Losses) float64 {
	f, exact := d.Float64()
	if !exact {
		*losses = append(*losses, field)
	}
	return f
}

func optString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func optTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func invalid(key string, v any, want string) error {
	return fmt.Errorf("%w: %s: expected %s, got %T", ErrInvalidField, key, want, v)
}

// stringField returns the value of key. present is false when the key is
// absent; a nil value with present=true is an explicit null.
func stringField(f remote.Fields, key string) (val *string, present bool, err error) {
	v, ok := f[key]
	if !ok {
		return nil, false, nil
	}
	switch t := v.(type) {
	case nil:
		return nil, true, nil
	case string:
		return &t, true, nil
	default:
		return nil, true, invalid(key, v, "string")
	}
}

func requiredString(f remote.Fields, key string) (string, bool, error) {
	s, present, err := stringField(f, key)
	if err != nil || !present {
		return "", present, err
	}
	if s == nil || strings.TrimSpace(*s) == "" {
		return "", true, fmt.Errorf("%w: %s: required", ErrInvalidField, key)
	}
	return *s, true, nil
}

func int64Field(f remote.Fields, key string) (*int64, bool, error) {
	v, ok := f[key]
	if !ok {
		return nil, false, nil
	}
	var n int64
	switch t := v.(type) {
	case nil:
		return nil, true, nil
	case int:
		n = int64(t)
	case int32:
		n = int64(t)
	case int64:
		n = t
	case float64:
		// int64(t) is undefined outside [-2^63, 2^63).
		if t != math.Trunc(t) || t < -(1<<63) || t >= 1<<63 {
			return nil, true, invalid(key, v, "integer")
		}
		n = int64(t)
	case json.Number:
		parsed, err := t.Int64()
		if err != nil {
			return nil, true, invalid(key, v, "integer")
		}
		n = parsed
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return nil, true, invalid(key, v, "integer")
		}
		n = parsed
	default:
		return nil, true, invalid(key, v, "integer")
	}
	return &n, true, nil
}

func decimalField(f remote.Fields, key string, scale int32) (*decimal.Decimal, bool, error) {
	v, ok := f[key]
	if !ok {
		return nil, false, nil
	}
	var d decimal.Decimal
	switch t := v.(type) {
	case nil:
		return nil, true, nil
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil, true, invalid(key, v, "finite number")
		}
		d = decimal.NewFromFloat(t)
	case float32:
		d = decimal.NewFromFloat32(t)
	case int:
		d = decimal.NewFromInt(int64(t))
	case int64:
		d = decimal.NewFromInt(t)
	case json.Number:
		parsed, err := decimal.NewFromString(t.String())
		if err != nil {
			return nil, true, invalid(key, v, "number")
		}
		d = parsed
	case string:
		parsed, err := decimal.NewFromString(strings.TrimSpace(t))
		if err != nil {
			return nil, true, invalid(key, v, "number")
		}
		d = parsed
	default:
		return nil, true, invalid(key, v, "number")
	}
	d = d.Round(scale)
	return &d, true, nil
}

func boolField(f remote.Fields, key string) (*bool, bool, error) {
	v, ok := f[key]
	if !ok {
		return nil, false, nil
	}
	switch t := v.(type) {
	case nil:
		return nil, true, nil
	case bool:
		return &t, true, nil
	default:
		return nil, true, invalid(key, v, "bool")
	}
}

func timeField(f remote.Fields, key string) (*time.Time, bool, error) {
	v, ok := f[key]
	if !ok {
		return nil, false, nil
	}
	switch t := v.(type) {
	case nil:
		return nil, true, nil
	case time.Time:
		return &t, true, nil
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return nil, true, invalid(key, v, "RFC3339 time")
		}
		return &parsed, true, nil
	default:
		return nil, true, invalid(key, v, "time")
	}
}

func stringsField(f remote.Fields, key string) ([]string, bool, error) {
	v, ok := f[key]
	if !ok {
		return nil, false, nil
	}
	switch t := v.(type) {
	case nil:
		return nil, true, nil
	case []string:
		return append([]string(nil), t...), true, nil
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, true, invalid(key, item, "string element")
			}
			out = append(out, s)
		}
		return out, true, nil
	default:
		return nil, true, invalid(key, v, "string list")
	}
}

// LocalID returns the numeric local identifier a document carries in "id".
func LocalID(f remote.Fields) (int64, bool, error) {
	v, _, err := int64Field(f, "id")
	if err != nil || v == nil {
		return 0, false, err
	}
	return *v, true, nil
}
