// Package iirfilter implements a configurable biquad cascade filter,
// direct-form II transposed, applied per monitored signal.
package iirfilter

import "ichnaea/x/mathx"

// MaxOrder is the largest filter order a Config may declare.
const MaxOrder = 6

// MaxStages is the largest number of cascaded biquad sections a Config of
// order MaxOrder can require.
const MaxStages = (MaxOrder + 1) / 2

// MaxCoefficients bounds Config.Coefficients: 5 values (b0, b1, b2, a1, a2)
// per cascaded stage.
const MaxCoefficients = 5 * MaxStages

// Config describes one filter instance. Two Configs compare equal with ==
// when every field matches, which Filter uses to decide whether to
// preserve or reset its running state on reconfiguration.
type Config struct {
	Order        int
	SampleRateMs uint32
	Coefficients [MaxCoefficients]float32
}

// numStages returns the number of cascaded biquad sections c requires.
func (c Config) numStages() int {
	n := (c.Order + 1) / 2
	return mathx.Max(n, 1)
}

// Filter is a biquad cascade evaluated in direct-form II transposed form.
// The zero value is usable: until Initialize is called with a valid
// Config, Apply passes its input through unchanged.
type Filter struct {
	config Config
	stages int
	state  [MaxStages][2]float32
	ready  bool
}

// Initialize installs config. If config differs from the Filter's current
// configuration, internal state is reset to zero; an unchanged config
// (byte-for-byte equal) leaves any accumulated state untouched so a
// reconfiguration that changes nothing does not interrupt the filter's
// settling behavior.
func (f *Filter) Initialize(config Config) bool {
	if config.Order < 1 || config.Order > MaxOrder {
		return false
	}
	stages := config.numStages()
	if stages*5 > MaxCoefficients {
		return false
	}

	changed := config != f.config
	f.config = config
	f.stages = stages
	if changed {
		f.Reset()
	}
	f.ready = true
	return true
}

// Reset zeroes the filter's internal delay state without altering the
// installed configuration.
func (f *Filter) Reset() {
	for i := range f.state {
		f.state[i] = [2]float32{0, 0}
	}
}

// Apply runs one sample through the cascade and returns the filtered
// output. Apply on an uninitialized Filter returns the input unchanged.
func (f *Filter) Apply(input float32) float32 {
	if !f.ready {
		return input
	}

	x := input
	for s := 0; s < f.stages; s++ {
		off := s * 5
		b0 := f.config.Coefficients[off+0]
		b1 := f.config.Coefficients[off+1]
		b2 := f.config.Coefficients[off+2]
		a1 := f.config.Coefficients[off+3]
		a2 := f.config.Coefficients[off+4]

		d1 := f.state[s][0]
		d2 := f.state[s][1]

		y := b0*x + d1
		d1 = b1*x - a1*y + d2
		d2 = b2*x - a2*y

		f.state[s][0] = d1
		f.state[s][1] = d2
		x = y
	}
	return x
}
