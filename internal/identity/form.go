package identity

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
)

type ParamType string

const (
	ParamBool       ParamType = "bool"
	ParamFloatRange ParamType = "float_range"
	ParamEnum       ParamType = "enum"
	ParamString     ParamType = "string"
)

// Param is one typed question of a connection form.
type Param struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Type        ParamType `json:"type"`
	Default     string    `json:"default,omitempty"`
	Private     bool      `json:"private,omitempty"`

	// float range
	Min  float64 `json:"min,omitempty"`
	Max  float64 `json:"max,omitempty"`
	Step float64 `json:"step,omitempty"`

	// enum
	Options []string `json:"options,omitempty"`
}

// Form is an arbitrary set of parameters an environment asks for.
type Form struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Params []Param `json:"params"`
}

// FormAnswer maps param ids to their answered value.
type FormAnswer map[string]string

// Normalize parses and checks a raw answer for p, returning the canonical
// string form stored in a FormAnswer.
func (p Param) Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = p.Default
	}

	switch p.Type {
	case ParamBool:
		b, err := parseBool(raw)
		if err != nil {
			return "", fmt.Errorf("%s: %w", p.Name, err)
		}
		return strconv.FormatBool(b), nil
	case ParamFloatRange:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return "", fmt.Errorf("%s: %q is not a number", p.Name, raw)
		}
		if f < p.Min || f > p.Max {
			return "", fmt.Errorf("%s: %v is outside [%v, %v]", p.Name, f, p.Min, p.Max)
		}
		if p.Step > 0 {
			steps := (f - p.Min) / p.Step
			if math.Abs(steps-math.Round(steps)) > 1e-9 {
				return "", fmt.Errorf("%s: %v is not a multiple of %v from %v", p.Name, f, p.Step, p.Min)
			}
		}
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	case ParamEnum:
		if !slices.Contains(p.Options, raw) {
			return "", fmt.Errorf("%s: %q is not one of %s", p.Name, raw, strings.Join(p.Options, ", "))
		}
		return raw, nil
	case ParamString:
		return raw, nil
	default:
		return "", fmt.Errorf("%s: unsupported parameter type %q", p.Name, p.Type)
	}
}

// Validate checks that answer covers every param with an acceptable value
// and returns the normalized answer.
func (f *Form) Validate(answer FormAnswer) (FormAnswer, error) {
	out := make(FormAnswer, len(f.Params))
	for _, p := range f.Params {
		v, err := p.Normalize(answer[p.ID])
		if err != nil {
			return nil, err
		}
		out[p.ID] = v
	}
	return out, nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "y", "yes", "on":
		return true, nil
	case "n", "no", "off":
		return false, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("%q is not a yes/no value", s)
	}
	return b, nil
}
