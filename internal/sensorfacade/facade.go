package sensorfacade

import (
	"math"
	"sync"

	"ichnaea/hal"
	"ichnaea/x/mathx"
)

// InvalidContext is returned when Measurement is called reentrantly from
// within a callback that is itself running on behalf of a prior
// Measurement call. The firmware this is modeled on rejects ADC access
// from interrupt context; Go has no interrupt context to query, so the
// guard instead is a single in-flight flag: any Measurement call made
// while a Refresh acquisition is in progress is rejected, whichever
// goroutine makes it.
type InvalidContext struct{}

func (InvalidContext) Error() string { return "sensorfacade: invalid calling context" }

// Channel describes one physical acquisition path: which ADC input it
// reads (through an optional 3-line mux selector) and how to convert the
// raw voltage into the element's canonical unit.
type Channel struct {
	Element    Element
	ADCChannel int
	MuxSelect  int // -1 if the channel is not behind the shared mux
	Convert    func(f *Facade, rawVolts float32) float32
}

// CalibrationSource supplies per-channel runtime calibration, satisfied
// by *pdi.DB in production and a fake in tests.
type CalibrationSource interface {
	ReadFloat32(key uint32) float32
}

const (
	muxSettleMicros       = 1 // rounds up from the 50ns floor; DelayMicros has no sub-microsecond resolution
	muxSampleCount        = 3
	muxInterSampleMicros  = 50
)

// Facade provides uniform, unit-converted reads of every analog signal.
type Facade struct {
	adc   hal.ADC
	clock hal.Clock
	mux   [3]hal.GPIO
	cal   CalibrationSource

	channels [numElements]*Channel
	cached   [numElements]float32

	mu       sync.Mutex
	inFlight bool
}

// New returns a Facade that reads through adc, drives the three mux
// select lines via sel, times settling delays with clock, and resolves
// calibration values through cal (may be nil if no channel needs it).
func New(adc hal.ADC, clock hal.Clock, sel [3]hal.GPIO, cal CalibrationSource) *Facade {
	return &Facade{adc: adc, clock: clock, mux: sel, cal: cal}
}

// Register installs the acquisition path for one element. Re-registering
// an element replaces its prior path.
func (f *Facade) Register(ch Channel) {
	f.channels[ch.Element] = &ch
}

// Measurement returns elem's value in its canonical unit. Refresh
// triggers a fresh acquisition (settling the mux if needed, averaging
// three samples) and updates the cache; Cached returns the last cached
// value, or 0 if elem was never sampled.
func (f *Facade) Measurement(elem Element, mode Mode) (float32, error) {
	f.mu.Lock()
	if f.inFlight {
		f.mu.Unlock()
		return 0, InvalidContext{}
	}
	if mode == Cached {
		v := f.cached[elem]
		f.mu.Unlock()
		return v, nil
	}
	f.inFlight = true
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight = false
		f.mu.Unlock()
	}()

	ch := f.channels[elem]
	if ch == nil {
		return 0, nil
	}

	if ch.MuxSelect >= 0 {
		f.selectMux(ch.MuxSelect)
		f.clock.DelayMicros(muxSettleMicros)
	}

	var sum float32
	for i := 0; i < muxSampleCount; i++ {
		v, err := f.adc.ReadVoltage(ch.ADCChannel)
		if err != nil {
			return 0, err
		}
		sum += v
		if i < muxSampleCount-1 {
			f.clock.DelayMicros(muxInterSampleMicros)
		}
	}
	avgVolts := sum / float32(muxSampleCount)

	out := avgVolts
	if ch.Convert != nil {
		out = ch.Convert(f, avgVolts)
	}

	f.mu.Lock()
	f.cached[elem] = out
	f.mu.Unlock()
	return out, nil
}

func (f *Facade) selectMux(sel int) {
	for i, line := range f.mux {
		if line != nil {
			line.Set(sel&(1<<i) != 0)
		}
	}
}

// Calibration reads a calibration value by PDI key, or 0 if no
// calibration source is attached.
func (f *Facade) Calibration(key uint32) float32 {
	if f.cal == nil {
		return 0
	}
	return f.cal.ReadFloat32(key)
}

// VoltageDivider computes the upstream voltage across a resistive divider
// of r1 (top) and r2 (bottom) given the measured voltage across r2.
func VoltageDivider(vout, r1, r2 float32) float32 {
	return vout * (r1 + r2) / r2
}

// ThermistorBeta computes a temperature in Celsius from a divider voltage
// using the beta-model with reference temperature t0Kelvin at resistance
// r0, the divider's series resistance rSeries, and beta coefficient b.
// vSupply is the divider's excitation voltage.
func ThermistorBeta(vDivider, vSupply, rSeries, r0, t0Kelvin, b float32) float32 {
	r := rSeries * vDivider / (vSupply - vDivider)
	invT := 1/t0Kelvin + float32(math.Log(float64(r/r0)))/b
	return 1/invT - 273.15
}

// ShuntCurrent converts an amplified shunt voltage into a current given
// the amplifier's gain.
func ShuntCurrent(vAmplified, gain float32) float32 {
	return mathx.Clamp(vAmplified/gain, float32(-1e6), float32(1e6))
}
