// Package monitor implements the per-signal sampling, filtering and
// out-of-range hysteresis engine: one Monitor per signal running
// sample -> filter -> publish -> hysteresis -> fault-escalation on every
// tick.
package monitor

import (
	"sync"

	"ichnaea/internal/iirfilter"
	"ichnaea/internal/panicrouter"
	"ichnaea/internal/pdi"
	"ichnaea/internal/sensorfacade"
)

// Signal enumerates the nine signals actually monitored. This is a
// narrower enum than sensorfacade.Element on purpose: RP2040Temp and
// ImonLTCAvg have no monitor slot, and the two board temperature sensors
// collapse into one composite Temp monitor rather than two independent
// ones.
type Signal int

const (
	VIn Signal = iota
	IOut
	VOut
	V1V1
	V3V3
	V5V0
	V12V0
	Temp
	Fan

	numSignals
)

// Sensors is the subset of the sensor facade the engine samples from.
type Sensors interface {
	Measurement(elem sensorfacade.Element, mode sensorfacade.Mode) (float32, error)
}

// keyset names the PDI keys one monitor publishes to and configures from.
// rawKey is zero when a signal publishes no raw telemetry key.
type keyset struct {
	filterKey     uint32
	enterDelayKey uint32
	exitDelayKey  uint32
	rawKey        uint32
	filteredKey   uint32
	validKey      uint32
	faultCode     panicrouter.FaultCode
	raisesFault   bool
}

var keysets = [numSignals]keyset{
	VIn: {
		filterKey: pdi.KeyMonFilterInputVoltage, enterDelayKey: pdi.KeyMonInputVoltageOorEntryDelayMs,
		exitDelayKey: pdi.KeyMonInputVoltageOorExitDelayMs, rawKey: pdi.KeyMonInputVoltageRaw,
		filteredKey: pdi.KeyMonInputVoltageFiltered, validKey: pdi.KeyMonInputVoltageValid,
		faultCode: panicrouter.MonVinOor, raisesFault: true,
	},
	IOut: {
		filterKey: pdi.KeyMonFilterOutputCurrent, enterDelayKey: pdi.KeyMonLoadOvercurrentOorEntryDelayMs,
		exitDelayKey: pdi.KeyMonLoadOvercurrentOorExitDelayMs, rawKey: pdi.KeyMonOutputCurrentRaw,
		filteredKey: pdi.KeyMonOutputCurrentFiltered, validKey: pdi.KeyMonOutputCurrentValid,
		faultCode: panicrouter.MonIoutOor, raisesFault: true,
	},
	VOut: {
		filterKey: pdi.KeyMonFilterOutputVoltage, enterDelayKey: pdi.KeyMonLoadVoltageOorEntryDelayMs,
		exitDelayKey: pdi.KeyMonLoadVoltageOorExitDelayMs, rawKey: pdi.KeyMonOutputVoltageRaw,
		filteredKey: pdi.KeyMonOutputVoltageFiltered, validKey: pdi.KeyMonOutputVoltageValid,
		faultCode: panicrouter.MonVoutOor, raisesFault: true,
	},
	V1V1: {
		filterKey: pdi.KeyMonFilter1V1, enterDelayKey: pdi.KeyMon1V1OorEntryDelayMs,
		exitDelayKey: pdi.KeyMon1V1OorExitDelayMs,
		filteredKey: pdi.KeyMon1V1Filtered, validKey: pdi.KeyMon1V1Valid,
		raisesFault: false,
	},
	V3V3: {
		filterKey: pdi.KeyMonFilter3V3, enterDelayKey: pdi.KeyMon3V3OorEntryDelayMs,
		exitDelayKey: pdi.KeyMon3V3OorExitDelayMs,
		filteredKey: pdi.KeyMon3V3Filtered, validKey: pdi.KeyMon3V3Valid,
		raisesFault: false,
	},
	V5V0: {
		filterKey: pdi.KeyMonFilter5V0, enterDelayKey: pdi.KeyMon5V0OorEntryDelayMs,
		exitDelayKey: pdi.KeyMon5V0OorExitDelayMs,
		filteredKey: pdi.KeyMon5V0Filtered, validKey: pdi.KeyMon5V0Valid,
		raisesFault: false,
	},
	V12V0: {
		filterKey: pdi.KeyMonFilter12V0, enterDelayKey: pdi.KeyMon12V0OorEntryDelayMs,
		exitDelayKey: pdi.KeyMon12V0OorExitDelayMs,
		filteredKey: pdi.KeyMon12V0Filtered, validKey: pdi.KeyMon12V0Valid,
		faultCode: panicrouter.Mon12V0Oor, raisesFault: true,
	},
	Temp: {
		filterKey: pdi.KeyMonFilterTemperature, enterDelayKey: pdi.KeyMonTemperatureOorEntryDelayMs,
		exitDelayKey: pdi.KeyMonTemperatureOorExitDelayMs,
		filteredKey: pdi.KeyMonTemperatureFiltered, validKey: pdi.KeyMonTemperatureValid,
		faultCode: panicrouter.MonTempOor, raisesFault: true,
	},
	Fan: {
		filterKey: pdi.KeyMonFilterFanSpeed, enterDelayKey: pdi.KeyMonFanSpeedOorEntryDelayMs,
		exitDelayKey: pdi.KeyMonFanSpeedOorExitDelayMs,
		filteredKey: pdi.KeyMonFanSpeedFiltered, validKey: pdi.KeyMonFanSpeedValid,
		faultCode: panicrouter.MonFanSpeedOor, raisesFault: true,
	},
}

const fanAbsoluteTimeoutMs = 10_000

// Monitor is the runtime state for one signal: its own filter, hysteresis
// state, and the configured limits it is evaluated against.
type Monitor struct {
	mu sync.Mutex

	Name string

	sampleRateMs    uint64
	oorEnterDelayMs uint64
	oorExitDelayMs  uint64
	lastRunTime     uint64

	filter iirfilter.Filter
	limits Limits

	hyst hysteresis

	fanOORSince  uint64
	fanEscalated bool
}

// Engine binds the sensor facade, PDI database and panic router together
// and drives every registered Monitor.
type Engine struct {
	mu       sync.Mutex
	enabled  bool
	sensors  Sensors
	db       *pdi.DB
	router   *panicrouter.Router
	monitors [numSignals]*Monitor
}

// New returns a disabled Engine. Call Register for every signal, then
// SetEnabled(true) to begin fault escalation.
func New(sensors Sensors, db *pdi.DB, router *panicrouter.Router) *Engine {
	return &Engine{sensors: sensors, db: db, router: router}
}

// Register installs the Monitor for signal, pulling its filter and
// debounce configuration from PDI. A live reconfiguration goes through
// SetLimits/ReloadFilter/ReloadDebounce, which force the monitor back to
// invalid.
func (e *Engine) Register(signal Signal, name string, limits Limits, sampleRateMs uint64) {
	ks := keysets[signal]

	m := &Monitor{
		Name:            name,
		sampleRateMs:    sampleRateMs,
		oorEnterDelayMs: uint64(e.db.ReadUint32(ks.enterDelayKey)),
		oorExitDelayMs:  uint64(e.db.ReadUint32(ks.exitDelayKey)),
		limits:          limits,
	}
	e.loadFilterConfig(m, ks.filterKey)

	e.mu.Lock()
	e.monitors[signal] = m
	e.mu.Unlock()
}

func (e *Engine) loadFilterConfig(m *Monitor, filterKey uint32) {
	var buf [iirfilter.WireSize]byte
	n := e.db.Read(filterKey, buf[:], len(buf))
	cfg := iirfilter.Decode(buf[:n])
	m.mu.Lock()
	m.filter.Initialize(cfg)
	m.hyst = hysteresis{}
	m.mu.Unlock()
}

// SetEnabled toggles fault escalation and logging globally. The engine
// always keeps sampling and filtering regardless (filters stay warm);
// transitioning from disabled to enabled forces every monitor back to
// its just-reconfigured, invalid state.
func (e *Engine) SetEnabled(enabled bool) {
	e.mu.Lock()
	wasEnabled := e.enabled
	e.enabled = enabled
	e.mu.Unlock()

	if enabled && !wasEnabled {
		for _, m := range e.monitors {
			if m == nil {
				continue
			}
			m.mu.Lock()
			m.hyst = hysteresis{}
			m.fanOORSince = 0
			m.fanEscalated = false
			m.mu.Unlock()
		}
	}
}

// Enabled reports whether the engine currently escalates faults.
func (e *Engine) Enabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enabled
}

// Reset zeroes every monitor's filter state and hysteresis, without
// touching configuration.
func (e *Engine) Reset() {
	for _, m := range e.monitors {
		if m == nil {
			continue
		}
		m.mu.Lock()
		m.filter.Reset()
		m.hyst = hysteresis{}
		m.fanOORSince = 0
		m.fanEscalated = false
		m.mu.Unlock()
	}
}

// sample acquires the raw value behind signal, averaging the two board
// temperature sensors for Temp.
func (e *Engine) sample(signal Signal) (float32, error) {
	switch signal {
	case VIn:
		return e.sensors.Measurement(sensorfacade.VmonSolarInput, sensorfacade.Refresh)
	case IOut:
		return e.sensors.Measurement(sensorfacade.ImonLoad, sensorfacade.Refresh)
	case VOut:
		return e.sensors.Measurement(sensorfacade.VmonLoad, sensorfacade.Refresh)
	case V1V1:
		return e.sensors.Measurement(sensorfacade.Vmon1V1, sensorfacade.Refresh)
	case V3V3:
		return e.sensors.Measurement(sensorfacade.Vmon3V3, sensorfacade.Refresh)
	case V5V0:
		return e.sensors.Measurement(sensorfacade.Vmon5V0, sensorfacade.Refresh)
	case V12V0:
		return e.sensors.Measurement(sensorfacade.Vmon12V, sensorfacade.Refresh)
	case Temp:
		t0, err := e.sensors.Measurement(sensorfacade.BoardTemp0, sensorfacade.Refresh)
		if err != nil {
			return 0, err
		}
		t1, err := e.sensors.Measurement(sensorfacade.BoardTemp1, sensorfacade.Refresh)
		if err != nil {
			return 0, err
		}
		return (t0 + t1) / 2, nil
	case Fan:
		return e.sensors.Measurement(sensorfacade.FanSpeed, sensorfacade.Refresh)
	default:
		return 0, nil
	}
}

// Run executes one rate-limited evaluation of signal's monitor: sample,
// filter, publish, hysteresis, fault-escalation, in that order and
// without suspension in between.
func (e *Engine) Run(signal Signal, now uint64) {
	e.mu.Lock()
	m := e.monitors[signal]
	enabled := e.enabled
	e.mu.Unlock()
	if m == nil {
		return
	}

	m.mu.Lock()
	if now-m.lastRunTime <= m.sampleRateMs {
		m.mu.Unlock()
		return
	}
	m.lastRunTime = now
	m.mu.Unlock()

	raw, err := e.sample(signal)
	if err != nil {
		return
	}

	m.mu.Lock()
	filtered := m.filter.Apply(raw)
	m.mu.Unlock()

	if signal == Temp {
		// A NaN here means the thermistor math was fed garbage upstream;
		// the composite temperature must never publish it.
		e.router.Assert(filtered == filtered, panicrouter.AssertionFail)
	}

	ks := keysets[signal]
	if ks.rawKey != 0 {
		e.db.WriteFloat32(ks.rawKey, raw)
	}
	e.db.WriteFloat32(ks.filteredKey, filtered)

	isOOR := m.limits.outOfRange(filtered)

	if !enabled {
		return
	}

	m.mu.Lock()
	next, event := m.hyst.step(isOOR, now, m.oorEnterDelayMs, m.oorExitDelayMs)
	m.hyst = next
	m.mu.Unlock()

	switch event {
	case OutOfRange:
		e.db.WriteBool(ks.validKey, false)
		if ks.raisesFault {
			e.router.Throw(ks.faultCode)
		}
	case InRange:
		e.db.WriteBool(ks.validKey, true)
	}

	if signal == Fan {
		e.runFanAbsoluteTimer(m, isOOR, now)
	}
}

// SetLimits installs new limits for signal and forces its monitor back to
// the post-reconfiguration invalid state (valid=false, hysteresis
// cleared). Intended as the target of a PDI OnWrite callback on whatever
// config key feeds signal's limits, e.g. config_max_temp_limit for Temp.
func (e *Engine) SetLimits(signal Signal, limits Limits) {
	e.mu.Lock()
	m := e.monitors[signal]
	e.mu.Unlock()
	if m == nil {
		return
	}
	m.mu.Lock()
	m.limits = limits
	m.hyst = hysteresis{}
	m.mu.Unlock()

	e.db.WriteBool(keysets[signal].validKey, false)
}

// ReloadFilter re-reads and re-initializes signal's filter from PDI.
// Intended as the OnWrite callback target for that signal's mon_filter_*
// key; Filter.Initialize itself decides whether to preserve state, based
// on whether the decoded config actually changed.
func (e *Engine) ReloadFilter(signal Signal) {
	e.mu.Lock()
	m := e.monitors[signal]
	e.mu.Unlock()
	if m == nil {
		return
	}
	e.loadFilterConfig(m, keysets[signal].filterKey)
}

// ReloadDebounce re-reads signal's entry/exit delay keys from PDI and
// forces its monitor back to the invalid state. Intended as the OnWrite
// callback target for those delay keys.
func (e *Engine) ReloadDebounce(signal Signal) {
	e.mu.Lock()
	m := e.monitors[signal]
	e.mu.Unlock()
	if m == nil {
		return
	}
	ks := keysets[signal]
	m.mu.Lock()
	m.oorEnterDelayMs = uint64(e.db.ReadUint32(ks.enterDelayKey))
	m.oorExitDelayMs = uint64(e.db.ReadUint32(ks.exitDelayKey))
	m.hyst = hysteresis{}
	m.mu.Unlock()
}

// runFanAbsoluteTimer escalates a fan fault after 10 continuous seconds
// of the raw predicate being true, independent of (and not interacting
// with) the fan monitor's own entry/exit debounce.
func (e *Engine) runFanAbsoluteTimer(m *Monitor, isOOR bool, now uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !isOOR {
		m.fanOORSince = 0
		m.fanEscalated = false
		return
	}
	if m.fanOORSince == 0 {
		m.fanOORSince = now
	}
	if !m.fanEscalated && now-m.fanOORSince >= fanAbsoluteTimeoutMs {
		m.fanEscalated = true
		e.router.Throw(panicrouter.MonFanSpeedOor)
	}
}
