package power_test

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"ichnaea/drivers/ltc7871"
	"ichnaea/hal/halsim"
	"ichnaea/internal/monitor"
	"ichnaea/internal/panicrouter"
	"ichnaea/internal/pdi"
	"ichnaea/internal/power"
	"ichnaea/internal/sensorfacade"
	"ichnaea/internal/tasks"
)

type fakeSensors struct {
	values map[sensorfacade.Element]float32
}

func (f *fakeSensors) Measurement(elem sensorfacade.Element, _ sensorfacade.Mode) (float32, error) {
	return f.values[elem], nil
}

type fakeController struct {
	mode              ltc7871.Mode
	engageCalls       int
	engageResult      bool
	disengageCalls    int
	faultMonCalls     int
	lastVoutRef       float32
	lastIoutRef       float32
	setVoutRefResult  bool
	setIoutRefResult  bool
}

func (f *fakeController) ModeNow() ltc7871.Mode { return f.mode }

func (f *fakeController) Engage(_ context.Context, _, _ float32, _ uint32) bool {
	f.engageCalls++
	if f.engageResult {
		f.mode = ltc7871.Enabled
	}
	return f.engageResult
}

func (f *fakeController) Disengage(_ context.Context, _ uint32) {
	f.disengageCalls++
	f.mode = ltc7871.Disabled
}

func (f *fakeController) RunFaultMonitoring(_ context.Context, _ uint32) {
	f.faultMonCalls++
}

func (f *fakeController) SetVoutRef(_ context.Context, v float32) bool {
	f.lastVoutRef = v
	return f.setVoutRefResult
}

func (f *fakeController) SetIoutRef(_ context.Context, i float32) bool {
	f.lastIoutRef = i
	return f.setIoutRefResult
}

type fakeLED struct {
	on bool
}

func (l *fakeLED) Set(high bool) { l.on = high }

func newTestDB() *pdi.DB {
	nvm := halsim.NewNVM(1 << 16)
	router := panicrouter.New(&halsim.System{})
	router.Seal()
	return pdi.New(nvm, router)
}

func f32(v float32) []byte {
	bits := math.Float32bits(v)
	var buf [4]byte
	buf[0] = byte(bits)
	buf[1] = byte(bits >> 8)
	buf[2] = byte(bits >> 16)
	buf[3] = byte(bits >> 24)
	return buf[:]
}

func insertPowerKeys(db *pdi.DB, vinMin, vinMax, voutLim, ioutLim, ioutPhaseLim, voutTgt, ioutTgt float32, pgoodTimeoutMs uint32) {
	db.Insert(pdi.Entry{HashKey: pdi.KeyConfigMinSystemVoltageInput, Size: 4, Durability: pdi.Persistent, Default: f32(vinMin)})
	db.Insert(pdi.Entry{HashKey: pdi.KeyConfigMaxSystemVoltageInput, Size: 4, Durability: pdi.Persistent, Default: f32(vinMax)})
	db.Insert(pdi.Entry{HashKey: pdi.KeyConfigSystemVoltageOutputRatedLimit, Size: 4, Durability: pdi.Persistent, Default: f32(voutLim)})
	db.Insert(pdi.Entry{HashKey: pdi.KeyConfigSystemCurrentOutputRatedLimit, Size: 4, Durability: pdi.Persistent, Default: f32(ioutLim)})
	db.Insert(pdi.Entry{HashKey: pdi.KeyConfigPhaseCurrentOutputRatedLimit, Size: 4, Durability: pdi.Persistent, Default: f32(ioutPhaseLim)})
	db.Insert(pdi.Entry{HashKey: pdi.KeyTargetSystemVoltageOutput, Size: 4, Durability: pdi.Persistent, Default: f32(voutTgt)})
	db.Insert(pdi.Entry{HashKey: pdi.KeyTargetSystemCurrentOutput, Size: 4, Durability: pdi.Persistent, Default: f32(ioutTgt)})
	var timeoutBuf [4]byte
	timeoutBuf[0] = byte(pgoodTimeoutMs)
	timeoutBuf[1] = byte(pgoodTimeoutMs >> 8)
	timeoutBuf[2] = byte(pgoodTimeoutMs >> 16)
	timeoutBuf[3] = byte(pgoodTimeoutMs >> 24)
	db.Insert(pdi.Entry{HashKey: pdi.KeyPgoodMonitorTimeoutMs, Size: 4, Durability: pdi.Persistent, Default: timeoutBuf[:]})
}

func newTestManager(t *testing.T, db *pdi.DB, ctrl *fakeController, sensors *fakeSensors, led *fakeLED) *power.Manager {
	t.Helper()
	router := panicrouter.New(&halsim.System{})
	router.Seal()
	mon := monitor.New(sensors, db, router)
	return power.New(ctrl, mon, db, sensors, led)
}

func TestEngage_RejectsWhenInputVoltageOutOfConfiguredBand(t *testing.T) {
	db := newTestDB()
	insertPowerKeys(db, 20, 60, 60, 30, 10, 48, 20, 50)
	ctrl := &fakeController{engageResult: true}
	sensors := &fakeSensors{values: map[sensorfacade.Element]float32{
		sensorfacade.VmonSolarInput: 5, // below vinMin
	}}
	mgr := newTestManager(t, db, ctrl, sensors, nil)

	ctx := tasks.WithOwner(context.Background(), tasks.OwnerControl)
	ok := mgr.Engage(ctx)

	require.False(t, ok)
	require.Equal(t, 0, ctrl.engageCalls, "controller must never be asked to engage on a failed preflight")
	require.False(t, mgr.Enabled())
}

func TestEngage_RejectsWhenLoadAlreadySourcingCurrent(t *testing.T) {
	db := newTestDB()
	insertPowerKeys(db, 20, 60, 60, 30, 10, 48, 20, 50)
	ctrl := &fakeController{engageResult: true}
	sensors := &fakeSensors{values: map[sensorfacade.Element]float32{
		sensorfacade.VmonSolarInput: 48,
		sensorfacade.ImonLoad:       1, // well above the 100mA no-load threshold
	}}
	mgr := newTestManager(t, db, ctrl, sensors, nil)

	ctx := tasks.WithOwner(context.Background(), tasks.OwnerControl)
	ok := mgr.Engage(ctx)

	require.False(t, ok)
	require.Equal(t, 0, ctrl.engageCalls)
}

func TestEngage_RejectsWhenPhaseCurrentExceedsLimit(t *testing.T) {
	db := newTestDB()
	// target 20A system current over 6 phases = 3.33A/phase > 2A phase limit
	insertPowerKeys(db, 20, 60, 60, 30, 2, 48, 20, 50)
	ctrl := &fakeController{engageResult: true}
	sensors := &fakeSensors{values: map[sensorfacade.Element]float32{
		sensorfacade.VmonSolarInput: 48,
	}}
	mgr := newTestManager(t, db, ctrl, sensors, nil)

	ctx := tasks.WithOwner(context.Background(), tasks.OwnerControl)
	ok := mgr.Engage(ctx)

	require.False(t, ok)
	require.Equal(t, 0, ctrl.engageCalls)
}

func TestEngage_SucceedsAndEnablesMonitor(t *testing.T) {
	db := newTestDB()
	insertPowerKeys(db, 20, 60, 60, 30, 10, 48, 20, 50)
	ctrl := &fakeController{engageResult: true}
	sensors := &fakeSensors{values: map[sensorfacade.Element]float32{
		sensorfacade.VmonSolarInput: 48,
	}}
	mgr := newTestManager(t, db, ctrl, sensors, nil)

	ctx := tasks.WithOwner(context.Background(), tasks.OwnerControl)
	ok := mgr.Engage(ctx)

	require.True(t, ok)
	require.Equal(t, 1, ctrl.engageCalls)
	require.True(t, mgr.Enabled())

	// Calling Engage again while already enabled is a no-op success.
	ok = mgr.Engage(ctx)
	require.True(t, ok)
	require.Equal(t, 1, ctrl.engageCalls, "a second Engage call must not re-invoke the controller")
}

func TestPeriodic_AppliesPendingSetpointOnceUnderLimit(t *testing.T) {
	db := newTestDB()
	insertPowerKeys(db, 20, 60, 60, 30, 10, 48, 20, 50)
	ctrl := &fakeController{mode: ltc7871.Enabled, setVoutRefResult: true}
	sensors := &fakeSensors{}
	mgr := newTestManager(t, db, ctrl, sensors, nil)

	mgr.SetOutputVoltage(24)
	ctx := tasks.WithOwner(context.Background(), tasks.OwnerControl)
	mgr.Periodic(ctx)

	require.Equal(t, float32(24), ctrl.lastVoutRef)
	require.Equal(t, float32(24), db.ReadFloat32(pdi.KeyTargetSystemVoltageOutput))
	require.Equal(t, 1, ctrl.faultMonCalls)

	// A second periodic tick with no new request must not reapply it.
	ctrl.lastVoutRef = 0
	mgr.Periodic(ctx)
	require.Equal(t, float32(0), ctrl.lastVoutRef)
}

func TestPeriodic_RejectsPendingSetpointAtOrAboveRatedLimit(t *testing.T) {
	db := newTestDB()
	insertPowerKeys(db, 20, 60, 60, 30, 10, 48, 20, 50)
	ctrl := &fakeController{mode: ltc7871.Enabled, setVoutRefResult: true}
	sensors := &fakeSensors{}
	mgr := newTestManager(t, db, ctrl, sensors, nil)

	mgr.SetOutputVoltage(60) // == voutLim, original uses a strict "<" bound
	ctx := tasks.WithOwner(context.Background(), tasks.OwnerControl)
	mgr.Periodic(ctx)

	require.Equal(t, float32(0), ctrl.lastVoutRef, "a request at the rated limit must be dropped, not clamped")
}

func TestPeriodic_IlluminatesFaultLEDWhenFaulted(t *testing.T) {
	db := newTestDB()
	insertPowerKeys(db, 20, 60, 60, 30, 10, 48, 20, 50)
	ctrl := &fakeController{mode: ltc7871.Faulted}
	led := &fakeLED{}
	mgr := newTestManager(t, db, ctrl, &fakeSensors{}, led)

	ctx := tasks.WithOwner(context.Background(), tasks.OwnerControl)
	mgr.Periodic(ctx)

	require.True(t, led.on)
	require.Equal(t, 0, ctrl.faultMonCalls, "fault monitoring only runs while Enabled")
}

func TestDisengage_DisablesMonitorAndClearsEnabledFlag(t *testing.T) {
	db := newTestDB()
	insertPowerKeys(db, 20, 60, 60, 30, 10, 48, 20, 50)
	ctrl := &fakeController{engageResult: true}
	sensors := &fakeSensors{values: map[sensorfacade.Element]float32{
		sensorfacade.VmonSolarInput: 48,
	}}
	mgr := newTestManager(t, db, ctrl, sensors, nil)
	ctx := tasks.WithOwner(context.Background(), tasks.OwnerControl)
	require.True(t, mgr.Engage(ctx))

	mgr.Disengage(ctx)

	require.False(t, mgr.Enabled())
	require.Equal(t, 1, ctrl.disengageCalls)
}
