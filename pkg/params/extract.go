package params

import (
	"fmt"
	"math"
	"strings"

	"github.com/spf13/cast"
)

// Extract resolves the value of d from a job's parameter configuration.
//
// The result is a string (KindString, KindFile), int, float64, bool or
// []string (KindList). Absent optional parameters yield the declared default,
// or false for booleans, or nil.
func Extract(cfg map[string]any, d Descriptor) (any, error) {
	raw, ok := cfg[d.Name]
	if !ok || isBlank(raw) {
		return d.fallback()
	}

	v, err := d.coerce(raw)
	if err != nil {
		return nil, &InvalidParameterError{Name: d.Name, Value: raw, Reason: err.Error()}
	}

	if list, isList := v.([]string); isList && len(list) == 0 {
		return d.fallback()
	}

	if err := d.checkRange(v); err != nil {
		return nil, &InvalidParameterError{Name: d.Name, Value: raw, Reason: err.Error()}
	}

	return v, nil
}

// ExtractAll resolves every descriptor in order and returns the first failure.
func ExtractAll(cfg map[string]any, descriptors []Descriptor) (Values, error) {
	values := make(Values, len(descriptors))
	for _, d := range descriptors {
		v, err := Extract(cfg, d)
		if err != nil {
			return nil, err
		}
		values[d.Name] = v
	}
	return values, nil
}

func (d Descriptor) fallback() (any, error) {
	if d.Required {
		return nil, &MissingParameterError{Name: d.Name, Label: d.Label}
	}
	if d.Default != nil {
		return d.coerce(d.Default)
	}
	if d.Kind == KindBool {
		return false, nil
	}
	return nil, nil
}

func isBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	}
	return false
}

func (d Descriptor) coerce(raw any) (any, error) {
	switch d.Kind {
	case KindString, KindFile:
		s, err := cast.ToStringE(raw)
		if err != nil {
			return nil, err
		}
		return strings.TrimSpace(s), nil
	case KindInt:
		if f, ok := raw.(float64); ok && f != math.Trunc(f) {
			return nil, fmt.Errorf("expected an integer")
		}
		if s, ok := raw.(string); ok {
			raw = strings.TrimSpace(s)
		}
		i, err := cast.ToIntE(raw)
		if err != nil {
			return nil, fmt.Errorf("expected an integer")
		}
		return i, nil
	case KindFloat:
		if s, ok := raw.(string); ok {
			raw = strings.TrimSpace(s)
		}
		f, err := cast.ToFloat64E(raw)
		if err != nil {
			return nil, fmt.Errorf("expected a number")
		}
		return f, nil
	case KindBool:
		if s, ok := raw.(string); ok {
			raw = strings.ToLower(strings.TrimSpace(s))
		}
		b, err := cast.ToBoolE(raw)
		if err != nil {
			return nil, fmt.Errorf("expected true or false")
		}
		return b, nil
	case KindList:
		return d.coerceList(raw)
	default:
		return nil, fmt.Errorf("unsupported parameter kind %s", d.Kind)
	}
}

func (d Descriptor) coerceList(raw any) ([]string, error) {
	switch t := raw.(type) {
	case []string:
		return d.cleanTokens(t)
	case []any:
		tokens := make([]string, 0, len(t))
		for _, item := range t {
			s, err := cast.ToStringE(item)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, s)
		}
		return d.cleanTokens(tokens)
	default:
		s, err := cast.ToStringE(raw)
		if err != nil {
			return nil, err
		}
		return Split(s, d)
	}
}

func (d Descriptor) checkRange(v any) error {
	var n float64
	switch t := v.(type) {
	case int:
		n = float64(t)
	case float64:
		n = t
	default:
		return nil
	}

	if d.Min != nil && n < *d.Min {
		return fmt.Errorf("must be at least %v", *d.Min)
	}
	if d.Max != nil && n > *d.Max {
		return fmt.Errorf("must be at most %v", *d.Max)
	}
	return nil
}
