// Package params resolves synthesis hyperparameters, supporting literal
// values or uniform-random sampling within a declared range per parameter.
package params

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
)

// RandomSentinel is the reserved value signaling range-sampling instead of a
// literal parameter.
const RandomSentinel = "random"

// Parameter names. TopK is the only integer-valued parameter; it is sampled
// with integer granularity under random mode.
const (
	NameTemperature       = "temperature"
	NameLengthPenalty     = "length_penalty"
	NameRepetitionPenalty = "repetition_penalty"
	NameTopK              = "top_k"
	NameTopP              = "top_p"
	NameSpeed             = "speed"
)

// Range declares the closed interval used for random sampling.
type Range struct {
	Min float64
	Max float64
}

// Default sampling ranges per parameter.
var defaultRanges = map[string]Range{
	NameTemperature:       {Min: 0.5, Max: 1.0},
	NameLengthPenalty:     {Min: 0.5, Max: 2.0},
	NameRepetitionPenalty: {Min: 1.0, Max: 3.0},
	NameTopK:              {Min: 10, Max: 100},
	NameTopP:              {Min: 0.7, Max: 1.0},
	NameSpeed:             {Min: 0.9, Max: 1.1},
}

// DefaultRange returns the declared sampling range for a named parameter and
// whether one is declared.
func DefaultRange(name string) (Range, bool) {
	paramRange, ok := defaultRanges[name]

	return paramRange, ok
}

// Value is a tagged variant: either a literal number or a request to sample
// uniformly within the parameter's range at resolution time. The sentinel is
// resolved at a single explicit call site before use and is never carried as
// an untyped value through the pipeline.
type Value struct {
	literal float64
	random  bool
}

// Literal constructs a literal value.
func Literal(v float64) Value {
	return Value{literal: v, random: false}
}

// Random constructs the range-sampling variant.
func Random() Value {
	return Value{literal: 0, random: true}
}

// IsRandom reports whether this value requests range-sampling.
func (v Value) IsRandom() bool {
	return v.random
}

// Parse converts a CLI or config string into a Value. The string "random"
// (case-insensitive) maps to the sampling variant; anything else must parse
// as a number.
func Parse(raw string) (Value, error) {
	if strings.EqualFold(strings.TrimSpace(raw), RandomSentinel) {
		return Random(), nil
	}

	literal, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return Value{}, fmt.Errorf("failed to parse parameter value %q: %w", raw, err)
	}

	return Literal(literal), nil
}

// Resolve produces the concrete value for one record. Random values draw a
// uniform random integer in [Min, Max] for top_k and a uniform random float
// in the same closed interval for every other parameter. Literal values pass
// through unchanged: no range validation is performed on explicit values, so
// callers may pass out-of-range literals deliberately.
func Resolve(name string, value Value, paramRange Range) float64 {
	if !value.random {
		return value.literal
	}

	if name == NameTopK {
		low := int(paramRange.Min)
		high := int(paramRange.Max)

		return float64(low + rand.Intn(high-low+1))
	}

	return paramRange.Min + rand.Float64()*(paramRange.Max-paramRange.Min)
}
