package monitor

import "ichnaea/x/mathx"

// Limits is a tagged union over a monitor's range predicate, realized as
// an interface with one concrete type per variant rather than a single
// struct carrying every field, since each element only ever needs one
// shape of limit.
type Limits interface {
	outOfRange(v float32) bool
}

// InputVoltage bounds a signal to a closed band, used by VMON_SOLAR_INPUT.
type InputVoltage struct {
	Min, Max float32
}

func (l InputVoltage) outOfRange(v float32) bool {
	return v < l.Min || v > l.Max
}

// LoadOvercurrent flags either a user-configured or a system-rated
// current ceiling, used by IMON_LOAD.
type LoadOvercurrent struct {
	UserLimit, SystemLimit float32
}

func (l LoadOvercurrent) outOfRange(i float32) bool {
	return i > l.UserLimit || i > l.SystemLimit
}

// OutputVoltage tracks a regulation target with a percentage band, plus a
// hard system ceiling, used by VMON_LOAD. When Target is exactly zero the
// percentage band is compared against the raw magnitude instead of a
// ratio.
type OutputVoltage struct {
	Target, SystemLimit, PctErr float32
}

func (l OutputVoltage) outOfRange(v float32) bool {
	if l.Target == 0 {
		return mathx.AbsF32(v) > l.PctErr
	}
	return mathx.AbsF32(v-l.Target)/mathx.AbsF32(l.Target) > l.PctErr || v > l.SystemLimit
}

// GenericLowVoltageDC is the fixed 5% band applied to the 1V1/3V3/5V0/12V
// rails; the band is not configurable.
type GenericLowVoltageDC struct {
	Nominal float32
}

const genericLowVoltageDCBand = 0.05

func (l GenericLowVoltageDC) outOfRange(v float32) bool {
	return mathx.AbsF32(v-l.Nominal)/l.Nominal > genericLowVoltageDCBand
}

// Temperature bounds the composite board-temperature signal.
type Temperature struct {
	Low, High float32
}

func (l Temperature) outOfRange(t float32) bool {
	return t > l.High || t < l.Low
}

// FanSpeed tracks a target RPM with a percentage band; the engine adds a
// second, independent 10s absolute escalation timer on top of this
// predicate (see engine.go).
type FanSpeed struct {
	Target, PctErr float32
}

func (l FanSpeed) outOfRange(rpm float32) bool {
	return mathx.AbsF32(rpm-l.Target)/l.Target > l.PctErr
}
