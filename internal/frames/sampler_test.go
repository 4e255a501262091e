package frames

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestSamplerDue(t *testing.T) {
	s := NewSampler(15)
	var due []int
	for pos := range 50 {
		if s.Due(pos) {
			due = append(due, pos)
		}
	}
	assert.Equal(t, []int{0, 15, 30, 45}, due)

	s.Reset()
	assert.True(t, s.Due(7), "first frame after a reset is always due")
	assert.False(t, s.Due(8))
}

func TestSamplerDefaultInterval(t *testing.T) {
	assert.Equal(t, DefaultSampleInterval, NewSampler(0).Interval())
	assert.Equal(t, DefaultSampleInterval, NewSampler(-3).Interval())
	assert.Equal(t, 4, NewSampler(4).Interval())
}

func TestSamplerSpacingProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("due frames are at least interval apart", prop.ForAll(
		func(interval int, steps []int) bool {
			s := NewSampler(interval)
			pos, last := 0, -1
			for _, step := range steps {
				pos += step
				if !s.Due(pos) {
					continue
				}
				if last >= 0 && pos-last < interval {
					return false
				}
				last = pos
			}
			return true
		},
		gen.IntRange(1, 60),
		gen.SliceOf(gen.IntRange(1, 10)),
	))

	properties.Property("no gap of interval frames goes unsampled", prop.ForAll(
		func(interval, n int) bool {
			s := NewSampler(interval)
			last := -1
			for pos := range n {
				if s.Due(pos) {
					last = pos
				}
				if pos-last >= interval {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 60),
		gen.IntRange(1, 500),
	))

	properties.TestingRun(t)
}

func TestTimeLabel(t *testing.T) {
	assert.Equal(t, "0:00:00 / 0:00:10", TimeLabel(0, 300, 30))
	assert.Equal(t, "0:01:05 / 1:00:00", TimeLabel(1950, 108000, 30))
	assert.Equal(t, "0:00:00 / 0:00:00", TimeLabel(10, 100, 0))
	assert.Equal(t, "0:00:00", FormatClock(-5))
}
