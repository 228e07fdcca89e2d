// Package power implements the high-level power-stage state machine that
// ties the LTC7871 controller driver to the monitor engine and the PDI
// database: preflight-gated engage, unconditional disengage, and a
// periodic pump for pending setpoints and fault monitoring.
package power

import (
	"context"
	"sync"

	"ichnaea/drivers/ltc7871"
	"ichnaea/internal/monitor"
	"ichnaea/internal/pdi"
	"ichnaea/internal/sensorfacade"
)

// Sensors is the subset of the sensor facade the preflight checks read
// from directly (the controller and monitor engine read the rest).
type Sensors interface {
	Measurement(elem sensorfacade.Element, mode sensorfacade.Mode) (float32, error)
}

// Controller is the subset of *ltc7871.Device the power manager drives.
type Controller interface {
	ModeNow() ltc7871.Mode
	Engage(ctx context.Context, voutTgt, ioutTgt float32, pgoodTimeoutMs uint32) bool
	Disengage(ctx context.Context, pgoodTimeoutMs uint32)
	RunFaultMonitoring(ctx context.Context, pgoodTimeoutMs uint32)
	SetVoutRef(ctx context.Context, voltage float32) bool
	SetIoutRef(ctx context.Context, current float32) bool
}

// FaultLED is the subset of hal.GPIO the manager drives when Faulted.
type FaultLED interface {
	Set(high bool)
}

// Manager is the application-level power sequencer: it owns the
// decision of whether the stage is allowed to engage, and the periodic
// dispatch of pending setpoints and fault monitoring while it runs.
type Manager struct {
	mu sync.Mutex

	controller Controller
	monitor    *monitor.Engine
	db         *pdi.DB
	sensors    Sensors
	faultLED   FaultLED

	enabled        bool
	pendingVoltage float32
	pendingCurrent float32
}

// New returns a Manager with the output disengaged. faultLED may be nil
// on boards with no dedicated fault indicator.
func New(controller Controller, mon *monitor.Engine, db *pdi.DB, sensors Sensors, faultLED FaultLED) *Manager {
	return &Manager{controller: controller, monitor: mon, db: db, sensors: sensors, faultLED: faultLED}
}

func (m *Manager) pgoodTimeoutMs() uint32 {
	return m.db.ReadUint32(pdi.KeyPgoodMonitorTimeoutMs)
}

// Engage runs the preflight checks and, if they all pass, engages the
// controller and brings the monitor engine back up. It is idempotent:
// calling it while already engaged is a no-op success.
func (m *Manager) Engage(ctx context.Context) bool {
	m.mu.Lock()
	if m.enabled {
		m.mu.Unlock()
		return true
	}
	m.mu.Unlock()

	vinMax := m.db.ReadFloat32(pdi.KeyConfigMaxSystemVoltageInput)
	vinMin := m.db.ReadFloat32(pdi.KeyConfigMinSystemVoltageInput)
	voutLim := m.db.ReadFloat32(pdi.KeyConfigSystemVoltageOutputRatedLimit)
	ioutLim := m.db.ReadFloat32(pdi.KeyConfigSystemCurrentOutputRatedLimit)
	ioutPhaseLim := m.db.ReadFloat32(pdi.KeyConfigPhaseCurrentOutputRatedLimit)
	voutTgt := m.db.ReadFloat32(pdi.KeyTargetSystemVoltageOutput)
	ioutTgt := m.db.ReadFloat32(pdi.KeyTargetSystemCurrentOutput)

	vinAct, _ := m.sensors.Measurement(sensorfacade.VmonSolarInput, sensorfacade.Refresh)
	voutAct, _ := m.sensors.Measurement(sensorfacade.VmonLoad, sensorfacade.Refresh)
	ioutAct, _ := m.sensors.Measurement(sensorfacade.ImonLoad, sensorfacade.Refresh)

	if !preflightOK(vinAct, vinMin, vinMax, voutAct, voutLim, ioutAct, voutTgt, ioutTgt, ioutLim, ioutPhaseLim) {
		return false
	}

	ok := m.controller.Engage(ctx, voutTgt, ioutTgt, m.pgoodTimeoutMs())
	if !ok {
		return false
	}

	m.monitor.Reset()
	m.monitor.SetEnabled(true)

	m.mu.Lock()
	m.enabled = true
	m.mu.Unlock()
	return true
}

// preflightOK is the chain of checks gating an engage: the input must
// sit within the user-configured band, the measured output voltage must
// not exceed its rated limit, no load current may already be flowing
// (at or above 100mA), and every
// requested target must fit inside both the system and per-phase
// converter limits (six phases on this board).
func preflightOK(vinAct, vinMin, vinMax, voutAct, voutLim, ioutAct, voutTgt, ioutTgt, ioutLim, ioutPhaseLim float32) bool {
	const noLoadCurrentA = 100e-3
	const numPhases = 6

	switch {
	case vinAct > vinMax:
	case vinAct < vinMin:
	case voutAct > voutLim:
	case ioutAct >= noLoadCurrentA:
	case voutTgt > vinAct:
	case voutTgt > voutLim:
	case ioutTgt > ioutLim:
	case ioutTgt/numPhases > ioutPhaseLim:
	default:
		return true
	}
	return false
}

// Disengage immediately removes power and tears down the monitor
// engine. Always succeeds; there is no preflight gate on the way down.
func (m *Manager) Disengage(ctx context.Context) {
	m.controller.Disengage(ctx, m.pgoodTimeoutMs())

	m.monitor.SetEnabled(false)
	m.monitor.Reset()

	m.mu.Lock()
	m.enabled = false
	m.mu.Unlock()
}

// Periodic drives one step of the controller's state machine: applies
// any single pending setpoint while Enabled, runs fault monitoring, and
// lights the fault indicator while Faulted.
func (m *Manager) Periodic(ctx context.Context) {
	switch m.controller.ModeNow() {
	case ltc7871.Enabled:
		m.applyPendingSetpoints(ctx)
		m.controller.RunFaultMonitoring(ctx, m.pgoodTimeoutMs())

	case ltc7871.Faulted:
		if m.faultLED != nil {
			m.faultLED.Set(true)
		}

	case ltc7871.Disabled:
	}
}

// applyPendingSetpoints consumes at most one voltage and one current
// request per call: a request is only honored if it fits under the
// rated limit, and is cleared back to the zero sentinel whether or not
// it was applied.
func (m *Manager) applyPendingSetpoints(ctx context.Context) {
	m.mu.Lock()
	voltage := m.pendingVoltage
	current := m.pendingCurrent
	m.mu.Unlock()

	if voltage > 0 {
		if limit := m.db.ReadFloat32(pdi.KeyConfigSystemVoltageOutputRatedLimit); voltage < limit {
			m.db.WriteFloat32(pdi.KeyTargetSystemVoltageOutput, voltage)
			m.controller.SetVoutRef(ctx, voltage)
		}
		m.mu.Lock()
		m.pendingVoltage = 0
		m.mu.Unlock()
	}

	if current > 0 {
		if limit := m.db.ReadFloat32(pdi.KeyConfigSystemCurrentOutputRatedLimit); current < limit {
			m.db.WriteFloat32(pdi.KeyTargetSystemCurrentOutput, current)
			m.controller.SetIoutRef(ctx, current)
		}
		m.mu.Lock()
		m.pendingCurrent = 0
		m.mu.Unlock()
	}
}

// SetOutputVoltage enqueues a new output voltage request, the entry
// point for remote setpoint commands; Periodic consumes it the next time
// the stage is Enabled.
func (m *Manager) SetOutputVoltage(voltage float32) {
	m.mu.Lock()
	m.pendingVoltage = voltage
	m.mu.Unlock()
}

// SetOutputCurrentLimit enqueues a new output current limit request.
func (m *Manager) SetOutputCurrentLimit(current float32) {
	m.mu.Lock()
	m.pendingCurrent = current
	m.mu.Unlock()
}

// Enabled reports whether the manager believes the stage is engaged.
func (m *Manager) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}
