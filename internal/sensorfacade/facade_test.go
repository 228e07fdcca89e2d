package sensorfacade

import (
	"testing"

	"github.com/stretchr/testify/require"

	"ichnaea/hal"
	"ichnaea/hal/halsim"
)

func newTestMux() [3]hal.GPIO {
	return [3]hal.GPIO{halsim.NewGPIO(), halsim.NewGPIO(), halsim.NewGPIO()}
}

func TestFacade_CachedReturnsZeroBeforeFirstRefresh(t *testing.T) {
	adc := halsim.NewADC()
	clk := halsim.NewClock(0)
	f := New(adc, clk, newTestMux(), nil)
	f.Register(Channel{Element: VmonLoad, ADCChannel: 0, MuxSelect: -1})

	v, err := f.Measurement(VmonLoad, Cached)
	require.NoError(t, err)
	require.Equal(t, float32(0), v)
}

func TestFacade_RefreshAveragesThreeSamplesAndCaches(t *testing.T) {
	adc := halsim.NewADC()
	adc.Values[0] = 2.0
	clk := halsim.NewClock(0)
	f := New(adc, clk, newTestMux(), nil)
	f.Register(Channel{Element: VmonLoad, ADCChannel: 0, MuxSelect: -1})

	v, err := f.Measurement(VmonLoad, Refresh)
	require.NoError(t, err)
	require.Equal(t, float32(2.0), v)

	cached, err := f.Measurement(VmonLoad, Cached)
	require.NoError(t, err)
	require.Equal(t, float32(2.0), cached)
}

func TestFacade_ConvertAppliesDividerMath(t *testing.T) {
	adc := halsim.NewADC()
	adc.Values[1] = 1.0
	clk := halsim.NewClock(0)
	f := New(adc, clk, newTestMux(), nil)
	f.Register(Channel{
		Element:    Vmon12V,
		ADCChannel: 1,
		MuxSelect:  -1,
		Convert: func(_ *Facade, raw float32) float32 {
			return VoltageDivider(raw, 100000, 10000)
		},
	})

	v, err := f.Measurement(Vmon12V, Refresh)
	require.NoError(t, err)
	require.InDelta(t, 11.0, v, 1e-6)
}

func TestFacade_UnregisteredElementReturnsZero(t *testing.T) {
	adc := halsim.NewADC()
	clk := halsim.NewClock(0)
	f := New(adc, clk, newTestMux(), nil)

	v, err := f.Measurement(FanSpeed, Refresh)
	require.NoError(t, err)
	require.Equal(t, float32(0), v)
}

func TestFacade_CalibrationReadsThroughSource(t *testing.T) {
	adc := halsim.NewADC()
	clk := halsim.NewClock(0)
	cal := fakeCalSource{values: map[uint32]float32{42: 1.5}}
	f := New(adc, clk, newTestMux(), cal)

	require.Equal(t, float32(1.5), f.Calibration(42))
	require.Equal(t, float32(0), f.Calibration(99))
}

func TestFacade_NilCalibrationSourceReturnsZero(t *testing.T) {
	adc := halsim.NewADC()
	clk := halsim.NewClock(0)
	f := New(adc, clk, newTestMux(), nil)

	require.Equal(t, float32(0), f.Calibration(1))
}

func TestThermistorBeta_KnownPoint(t *testing.T) {
	// At R == R0 the log term vanishes, so T == T0.
	const t0 = 298.15
	tempC := ThermistorBeta(1.5, 3.0, 10000, 10000, t0, 3950)
	require.InDelta(t, t0-273.15, tempC, 1e-4)
}

type fakeCalSource struct {
	values map[uint32]float32
}

func (f fakeCalSource) ReadFloat32(key uint32) float32 { return f.values[key] }
