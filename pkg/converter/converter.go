// Package converter maps raw device parameter values (0..65535) to useful
// representations: decibels, percentages, booleans, selector positions.
// Converters are pure and stateless; the protocol engine never sees them.
package converter

import "math"

// rcnScale is the device's full-scale raw value.
const rcnScale = 65535

// Default fader range in decibels.
const (
	DefaultFaderMin = -72.0
	DefaultFaderMax = 12.0
)

// Converter maps raw device values to a typed representation and back.
type Converter[T any] interface {
	FromRCN(val int) T
	ToRCN(val T) int
}

// Decibel converts fader raw values to decibels. Raw 0 maps to -Inf
// (fully attenuated); the remaining raw range maps linearly onto
// [min, max] dB.
type Decibel struct {
	min, max float64
	delta    float64
}

// NewDecibel builds a converter for a fader spanning [min, max] dB.
func NewDecibel(min, max float64) *Decibel {
	return &Decibel{min: min, max: max, delta: max - min}
}

func (c *Decibel) Min() float64 { return c.min }
func (c *Decibel) Max() float64 { return c.max }

func (c *Decibel) FromRCN(val int) float64 {
	if val == 0 {
		return math.Inf(-1)
	}
	return c.min + c.delta*float64(val)/rcnScale
}

func (c *Decibel) ToRCN(val float64) int {
	if math.IsInf(val, -1) {
		return 0
	}
	raw := int((val - c.min) * rcnScale / c.delta)
	if raw < 0 {
		return 0
	}
	if raw > rcnScale {
		return rcnScale
	}
	return raw
}

// Percent converts fader raw values to a 0..100 position on the fader's
// decibel range.
type Percent struct {
	db *Decibel
}

// NewPercent builds a percentage converter over the decibel range [min, max].
func NewPercent(min, max float64) *Percent {
	return &Percent{db: NewDecibel(min, max)}
}

func (c *Percent) FromRCN(val int) float64 {
	db := c.db.FromRCN(val)
	if math.IsInf(db, -1) {
		return 0
	}
	return (db - c.db.min) / c.db.delta * 100.0
}

func (c *Percent) ToRCN(val float64) int {
	if val <= 0 {
		return 0
	}
	return c.db.ToRCN(val/100.0*c.db.delta + c.db.min)
}

// Button converts raw values to a pressed/released boolean. The raw range's
// upper half reads as true; Inverted flips both directions.
type Button struct {
	inverted bool
}

func NewButton(inverted bool) *Button { return &Button{inverted: inverted} }

func (c *Button) Inverted() bool { return c.inverted }

func (c *Button) FromRCN(val int) bool {
	return (val > rcnScale/2) != c.inverted
}

func (c *Button) ToRCN(val bool) int {
	if val != c.inverted {
		return rcnScale
	}
	return 0
}

// Selector converts raw values to an index in an n-position selector.
type Selector struct {
	count int
}

// NewSelector builds a converter for a selector with count positions.
func NewSelector(count int) *Selector { return &Selector{count: count} }

func (c *Selector) Count() int { return c.count }

func (c *Selector) FromRCN(val int) int {
	if c.count < 2 {
		return 0
	}
	idx := int(math.Round(float64(val) * float64(c.count-1) / rcnScale))
	if idx < 0 {
		return 0
	}
	if idx > c.count-1 {
		return c.count - 1
	}
	return idx
}

func (c *Selector) ToRCN(val int) int {
	if c.count < 2 {
		return 0
	}
	return int(float64(val) * rcnScale / float64(c.count-1))
}

// Shared default converters.
var (
	DefaultButton         = NewButton(false)
	DefaultInvertedButton = NewButton(true)
	DefaultDecibel        = NewDecibel(DefaultFaderMin, DefaultFaderMax)
	DefaultPercent        = NewPercent(DefaultFaderMin, DefaultFaderMax)
)
