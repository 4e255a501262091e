package reading

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
)

// DefaultTolerance scales the previous bet into the largest credits drop
// that is still believable.
const DefaultTolerance = 1.1

// ErrIncompleteTriple is returned when any of the three values is missing.
var ErrIncompleteTriple = errors.New("credits, bet and win are all required")

// Triple is one numeric reading of the three tracked values.
type Triple struct {
	Credits float64 `json:"credits"`
	Bet     float64 `json:"bet"`
	Win     float64 `json:"win"`
}

// ParseTriple converts normalized strings into a Triple.
func ParseTriple(credits, bet, win string) (Triple, error) {
	if credits == "" || bet == "" || win == "" {
		return Triple{}, ErrIncompleteTriple
	}
	var t Triple
	var err error
	if t.Credits, err = strconv.ParseFloat(credits, 64); err != nil {
		return Triple{}, fmt.Errorf("invalid credits %q: %w", credits, err)
	}
	if t.Bet, err = strconv.ParseFloat(bet, 64); err != nil {
		return Triple{}, fmt.Errorf("invalid bet %q: %w", bet, err)
	}
	if t.Win, err = strconv.ParseFloat(win, 64); err != nil {
		return Triple{}, fmt.Errorf("invalid win %q: %w", win, err)
	}
	return t, nil
}

// Verdict explains a validation decision.
type Verdict struct {
	Accepted  bool    `json:"accepted"`
	ColdStart bool    `json:"cold_start,omitempty"`
	Delta     float64 `json:"delta"`
	Limit     float64 `json:"limit"`
	Reason    string  `json:"reason,omitempty"`
}

// Validator keeps the last accepted reading of one video session.
type Validator struct {
	tolerance float64

	mu   sync.Mutex
	last *Triple
}

// NewValidator creates a validator. A non-positive tolerance selects
// DefaultTolerance.
func NewValidator(tolerance float64) *Validator {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Validator{tolerance: tolerance}
}

// Check decides whether t is plausible without changing the baseline.
// A credits drop larger than the previous bet times the tolerance is
// rejected; a drop of exactly that size is accepted.
func (v *Validator) Check(t Triple) Verdict {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.check(t)
}

func (v *Validator) check(t Triple) Verdict {
	if v.last == nil {
		return Verdict{Accepted: true, ColdStart: true}
	}
	delta := t.Credits - v.last.Credits
	limit := v.last.Bet * v.tolerance
	verdict := Verdict{Accepted: true, Delta: delta, Limit: limit}
	if delta < 0 && math.Abs(delta) > limit {
		verdict.Accepted = false
		verdict.Reason = fmt.Sprintf("credits dropped by %s, more than %s allowed after a bet of %s",
			formatNumber(math.Abs(delta)), formatNumber(limit), formatNumber(v.last.Bet))
	}
	return verdict
}

// Accept makes t the new baseline.
func (v *Validator) Accept(t Triple) {
	v.mu.Lock()
	defer v.mu.Unlock()
	cp := t
	v.last = &cp
}

// Validate checks t and, when accepted, makes it the new baseline.
func (v *Validator) Validate(t Triple) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	verdict := v.check(t)
	if verdict.Accepted {
		cp := t
		v.last = &cp
	}
	return verdict.Accepted
}

// Baseline returns the last accepted reading.
func (v *Validator) Baseline() (Triple, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.last == nil {
		return Triple{}, false
	}
	return *v.last, true
}

// Reset forgets the baseline so the next reading is a cold start.
func (v *Validator) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.last = nil
}

// Tolerance returns the configured bet multiplier.
func (v *Validator) Tolerance() float64 { return v.tolerance }

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
