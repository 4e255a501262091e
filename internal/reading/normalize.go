// Package reading turns recognized text into numeric readings and decides
// whether a new reading is plausible given the previous accepted one.
package reading

import (
	"strconv"
	"strings"
)

// DefaultMaxValue is the largest reading accepted by Normalize.
const DefaultMaxValue = 50000

// Normalizer converts raw recognized text into a canonical decimal string.
type Normalizer struct {
	MaxValue float64
}

// NewNormalizer returns a normalizer rejecting values above maxValue.
// A non-positive maxValue selects DefaultMaxValue.
func NewNormalizer(maxValue float64) Normalizer {
	if maxValue <= 0 {
		maxValue = DefaultMaxValue
	}
	return Normalizer{MaxValue: maxValue}
}

// Normalize applies the default normalizer.
func Normalize(raw string) string {
	return NewNormalizer(DefaultMaxValue).Normalize(raw)
}

// Normalize strips currency symbols and spaces, keeps ASCII digits and '.',
// and returns the parsed value formatted canonically. It returns "" when the
// text does not parse or falls outside [0, MaxValue].
//
// Every character other than digits and '.' is discarded, so a leading minus
// sign never survives: "-5" reads as "5". SignMasked reports such inputs.
func (n Normalizer) Normalize(raw string) string {
	cleaned := filterNumeric(raw)
	if cleaned == "" {
		return ""
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return ""
	}
	if v < 0 || v > n.MaxValue {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// SignMasked reports whether raw carried a minus sign in front of its digits
// that normalization discards.
func SignMasked(raw string) bool {
	i := strings.IndexByte(raw, '-')
	if i < 0 {
		return false
	}
	return strings.ContainsAny(raw[i+1:], "0123456789")
}

func filterNumeric(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if (c >= '0' && c <= '9') || c == '.' {
			b.WriteByte(c)
		}
	}
	return b.String()
}
