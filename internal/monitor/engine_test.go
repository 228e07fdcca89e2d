package monitor_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"ichnaea/hal/halsim"
	"ichnaea/internal/iirfilter"
	"ichnaea/internal/monitor"
	"ichnaea/internal/panicrouter"
	"ichnaea/internal/pdi"
	"ichnaea/internal/sensorfacade"
)

type fakeSensors struct {
	values map[sensorfacade.Element]float32
	errs   map[sensorfacade.Element]error
}

func newFakeSensors() *fakeSensors {
	return &fakeSensors{values: map[sensorfacade.Element]float32{}, errs: map[sensorfacade.Element]error{}}
}

func (f *fakeSensors) Measurement(elem sensorfacade.Element, _ sensorfacade.Mode) (float32, error) {
	if err := f.errs[elem]; err != nil {
		return 0, err
	}
	return f.values[elem], nil
}

func u32bytes(v uint32) []byte {
	buf := make([]byte, 4)
	buf[0] = byte(v)
	buf[1] = byte(v >> 8)
	buf[2] = byte(v >> 16)
	buf[3] = byte(v >> 24)
	return buf
}

func newTestDB(t *testing.T) *pdi.DB {
	t.Helper()
	nvm := halsim.NewNVM(1 << 16)
	router := panicrouter.New(&halsim.System{})
	router.Seal()
	return pdi.New(nvm, router)
}

// insertMonitorKeys registers every PDI entry a Monitor touches for a
// given signal so Read*/Write* calls land somewhere instead of silently
// no-op'ing against an unregistered key.
func insertMonitorKeys(db *pdi.DB, filterKey, enterKey, exitKey, rawKey, filteredKey, validKey uint32, enterDelayMs, exitDelayMs uint32) {
	db.Insert(pdi.Entry{HashKey: filterKey, Size: iirfilter.WireSize, Durability: pdi.Persistent})
	db.Insert(pdi.Entry{HashKey: enterKey, Size: 4, Durability: pdi.Persistent, Default: u32bytes(enterDelayMs)})
	db.Insert(pdi.Entry{HashKey: exitKey, Size: 4, Durability: pdi.Persistent, Default: u32bytes(exitDelayMs)})
	if rawKey != 0 {
		db.Insert(pdi.Entry{HashKey: rawKey, Size: 4, Durability: pdi.Volatile})
	}
	db.Insert(pdi.Entry{HashKey: filteredKey, Size: 4, Durability: pdi.Volatile})
	db.Insert(pdi.Entry{HashKey: validKey, Size: 1, Durability: pdi.Volatile})
}

// --- voltage OOR entry/exit --------------------------------------------------

func TestEngine_VoltageOOREntryAndExit(t *testing.T) {
	db := newTestDB(t)
	insertMonitorKeys(db, pdi.KeyMonFilterInputVoltage, pdi.KeyMonInputVoltageOorEntryDelayMs,
		pdi.KeyMonInputVoltageOorExitDelayMs, pdi.KeyMonInputVoltageRaw, pdi.KeyMonInputVoltageFiltered,
		pdi.KeyMonInputVoltageValid, 100, 100)

	sensors := newFakeSensors()
	router := panicrouter.New(&halsim.System{})
	router.Seal()

	eng := monitor.New(sensors, db, router)
	eng.Register(monitor.VIn, "vin", monitor.InputVoltage{Min: 20, Max: 90}, 1)
	eng.SetEnabled(true)

	sensors.values[sensorfacade.VmonSolarInput] = 100
	var now uint64
	for now = 0; now <= 110; now += 10 {
		eng.Run(monitor.VIn, now)
	}
	require.False(t, db.ReadBool(pdi.KeyMonInputVoltageValid))
	require.Equal(t, panicrouter.MonVinOor, router.LastError())

	sensors.values[sensorfacade.VmonSolarInput] = 45
	for ; now <= 260; now += 10 {
		eng.Run(monitor.VIn, now)
	}
	require.True(t, db.ReadBool(pdi.KeyMonInputVoltageValid))
}

// --- fan 10s absolute escalation --------------------------------------------

func TestEngine_FanAbsoluteEscalation(t *testing.T) {
	db := newTestDB(t)
	insertMonitorKeys(db, pdi.KeyMonFilterFanSpeed, pdi.KeyMonFanSpeedOorEntryDelayMs,
		pdi.KeyMonFanSpeedOorExitDelayMs, 0, pdi.KeyMonFanSpeedFiltered, pdi.KeyMonFanSpeedValid, 500, 500)

	sensors := newFakeSensors()
	sensors.values[sensorfacade.FanSpeed] = 2000
	router := panicrouter.New(&halsim.System{})
	fanThrows := 0
	router.Register(panicrouter.MonFanSpeedOor, func(panicrouter.FaultCode) bool { fanThrows++; return true })
	router.Seal()

	eng := monitor.New(sensors, db, router)
	eng.Register(monitor.Fan, "fan", monitor.FanSpeed{Target: 3000, PctErr: 0.05}, 1)
	eng.SetEnabled(true)

	var now uint64
	for now = 0; now <= 600; now += 100 {
		eng.Run(monitor.Fan, now)
	}
	require.False(t, db.ReadBool(pdi.KeyMonFanSpeedValid), "normal debounce should have fired by 600ms")
	require.Equal(t, panicrouter.MonFanSpeedOor, router.LastError())

	// Confirm the absolute escalation still fires at t=10s regardless of
	// the entry debounce already having tripped once.
	for ; now <= 10_100; now += 100 {
		eng.Run(monitor.Fan, now)
	}
	require.Equal(t, panicrouter.MonFanSpeedOor, router.LastError())
	require.Equal(t, 2, fanThrows, "debounce throw at 600ms plus the absolute throw 10s after the first OOR sample")
}

// --- monitor refresh on PDI write -------------------------------------------

func TestEngine_ReconfigurationForcesInvalid(t *testing.T) {
	db := newTestDB(t)
	insertMonitorKeys(db, pdi.KeyMonFilterTemperature, pdi.KeyMonTemperatureOorEntryDelayMs,
		pdi.KeyMonTemperatureOorExitDelayMs, 0, pdi.KeyMonTemperatureFiltered, pdi.KeyMonTemperatureValid, 0, 0)

	sensors := newFakeSensors()
	sensors.values[sensorfacade.BoardTemp0] = 50
	sensors.values[sensorfacade.BoardTemp1] = 50
	router := panicrouter.New(&halsim.System{})
	router.Seal()

	eng := monitor.New(sensors, db, router)
	eng.Register(monitor.Temp, "temp", monitor.Temperature{Low: -20, High: 80}, 1)
	eng.SetEnabled(true)

	eng.Run(monitor.Temp, 0)
	require.True(t, db.ReadBool(pdi.KeyMonTemperatureValid), "in-range from t=0 with zero debounce should publish valid immediately")

	// config_max_temp_limit write lowers the high limit below the current
	// reading: the callback re-initializes limits and forces invalid
	// immediately, without waiting for the next sample.
	eng.SetLimits(monitor.Temp, monitor.Temperature{Low: -20, High: 40})
	require.False(t, db.ReadBool(pdi.KeyMonTemperatureValid))

	eng.Run(monitor.Temp, 10)
	require.False(t, db.ReadBool(pdi.KeyMonTemperatureValid), "first sample after reconfiguration with temp above new limit must report invalid")
}

// --- invariants --------------------------------------------------------------

func TestEngine_NoOOREventWhileDisabled(t *testing.T) {
	db := newTestDB(t)
	insertMonitorKeys(db, pdi.KeyMonFilterInputVoltage, pdi.KeyMonInputVoltageOorEntryDelayMs,
		pdi.KeyMonInputVoltageOorExitDelayMs, pdi.KeyMonInputVoltageRaw, pdi.KeyMonInputVoltageFiltered,
		pdi.KeyMonInputVoltageValid, 0, 0)

	sensors := newFakeSensors()
	sensors.values[sensorfacade.VmonSolarInput] = 100 // well above max
	router := panicrouter.New(&halsim.System{})
	router.Seal()

	eng := monitor.New(sensors, db, router)
	eng.Register(monitor.VIn, "vin", monitor.InputVoltage{Min: 20, Max: 90}, 1)
	// engine left disabled

	for now := uint64(0); now <= 50; now += 10 {
		eng.Run(monitor.VIn, now)
	}
	require.Equal(t, panicrouter.NoError, router.LastError())
}

func TestEngine_ValidImpliesNotLatched(t *testing.T) {
	db := newTestDB(t)
	insertMonitorKeys(db, pdi.KeyMonFilterInputVoltage, pdi.KeyMonInputVoltageOorEntryDelayMs,
		pdi.KeyMonInputVoltageOorExitDelayMs, pdi.KeyMonInputVoltageRaw, pdi.KeyMonInputVoltageFiltered,
		pdi.KeyMonInputVoltageValid, 50, 50)

	sensors := newFakeSensors()
	sensors.values[sensorfacade.VmonSolarInput] = 45 // in range from the start
	router := panicrouter.New(&halsim.System{})
	router.Seal()

	eng := monitor.New(sensors, db, router)
	eng.Register(monitor.VIn, "vin", monitor.InputVoltage{Min: 20, Max: 90}, 1)
	eng.SetEnabled(true)

	for now := uint64(0); now <= 50; now += 10 {
		eng.Run(monitor.VIn, now)
	}
	require.True(t, db.ReadBool(pdi.KeyMonInputVoltageValid))

	// valid and not-latched is the invariant under test: a subsequent OOR
	// sample must still require the full entry delay to elapse before
	// invalidating, proving oor_latched was false going in (a latched
	// monitor would already be invalid and this assertion would be moot).
	sensors.values[sensorfacade.VmonSolarInput] = 100
	eng.Run(monitor.VIn, 60)
	require.True(t, db.ReadBool(pdi.KeyMonInputVoltageValid), "a single OOR sample must not immediately invalidate before its entry delay elapses")
}
