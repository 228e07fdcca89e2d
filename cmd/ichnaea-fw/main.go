// Command ichnaea-fw wires the power-control core together and runs the
// four cooperative tasks of the firmware's concurrency model. It owns no
// domain logic of its own: every decision lives in the internal packages
// it constructs here, once, at boot.
//
// This binary targets TinyGo builds against real RP2-class hardware; the
// hal.ADC/GPIO/PWM/SPI/NVM/System implementations it needs are supplied
// by a board-bringup package that lives outside the power-control core
// and is therefore not provided here. Running this file directly falls
// back to hal/halsim fakes so the wiring itself is exercised without
// board support.
package main

import (
	"context"
	"encoding/binary"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ichnaea/bus"
	"ichnaea/drivers/ltc7871"
	"ichnaea/errcode"
	"ichnaea/hal"
	"ichnaea/hal/halsim"
	"ichnaea/internal/fan"
	"ichnaea/internal/iirfilter"
	"ichnaea/internal/monitor"
	"ichnaea/internal/panicrouter"
	"ichnaea/internal/pdi"
	"ichnaea/internal/power"
	"ichnaea/internal/sensorfacade"
	"ichnaea/internal/tasks"
	"ichnaea/x/conv"
	"ichnaea/x/fmtx"
)

// ---- bus topics ----
//
// One domain: power-stage escalation and control commands. The panic
// router's fault handlers publish faults here; main's loop subscribes
// through the control connection, logs them and serves the commands.

var (
	topicFault        = bus.T("power", "fault", "raised")
	topicEngageReq    = bus.T("power", "control", "engage")
	topicDisengageReq = bus.T("power", "control", "disengage")
	topicSetVoutReq   = bus.T("power", "control", "set-vout")
	topicSetIoutReq   = bus.T("power", "control", "set-iout")
)

// faultEvent is the payload published on topicFault.
type faultEvent struct {
	Code panicrouter.FaultCode
}

// handlerPolicyYAML is the production fault-handler policy document.
// internal/panicrouter/testdata/handlers.yaml mirrors it for the parser's
// own tests. Codes absent from this document keep the router's default
// handler (reboot), which is what the fatal class of faults wants.
const handlerPolicyYAML = `
faults:
  MonVinOor: disengage-and-report
  MonVoutOor: disengage-and-report
  MonIoutOor: disengage-and-report
  MonTempOor: disengage-and-report
  MonFanSpeedOor: disengage-and-report
  Mon12V0Oor: disengage-and-report
  LtcFault: disengage-and-report
  PwrDwnFail: disengage-and-report
  LtcDataWriteFail: report-only
  LtcDataReadFail: report-only
  LtcPecReadFail: report-only
  LtcPecWriteFail: report-only
  LtcCmdFail: report-only
  LtcHwStrapFail: report-only
`

func main() {
	ctx, cancelBackground := context.WithCancel(context.Background())
	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
		<-sigc
		cancelBackground()
	}()

	logln("[ichnaea] bootstrapping")

	cfg := decodeBoardConfig([]byte(boardConfigJSON))

	b := bus.NewBus(4)
	controlConn := b.NewConnection("control")
	monitorConn := b.NewConnection("monitor")

	sys := &halsim.System{}
	router := panicrouter.New(sys)

	nvm := halsim.NewNVM(hal.PDIPartitionSize)
	db := pdi.New(nvm, router)
	db.Open()
	seedPDIDefaults(db, cfg)

	adc := halsim.NewADC()
	clock := newWallClock()
	mux := [3]hal.GPIO{&halsim.GPIO{}, &halsim.GPIO{}, &halsim.GPIO{}}
	sensors := sensorfacade.New(adc, clock, mux, db)
	registerChannels(sensors)

	spi := &halsim.SPI{}
	pwmen := &halsim.GPIO{}
	controller := ltc7871.New(spi, 0, pwmen, clock, sensors, router, ltc7871.Static{
		VLowRa:    cfg.VLowRa,
		VLowRb:    cfg.VLowRb,
		SetCurRfb: cfg.SetCurRfb,
		IlimGainK: cfg.IlimGainK,
	})
	controller.BoardRevGE2 = cfg.BoardRevGE2
	controller.ModePin = &halsim.GPIO{}
	controller.SetPhaseInductorDCR(db.ReadFloat32(pdi.KeyConfigLtcPhaseInductorDCR))

	engine := monitor.New(sensors, db, router)
	registerMonitors(engine, db)

	fanDev := fan.New(&halsim.PWM{}, sensors)

	faultLED := &halsim.GPIO{}
	mgr := power.New(controller, engine, db, sensors, faultLED)

	bindConfigCallbacks(db, engine, controller)

	// The panic router's registered handlers are the only place outside
	// the Control task that may command a disengage. Each
	// disengage-and-report handler both forces the teardown directly
	// (the router's caller is the Monitor task, which is legal) and
	// republishes onto the bus so the Control task's loop can log it
	// without a second direct call into power.Manager.
	registerFaultHandlers(router, mgr, monitorConn)
	router.Seal()

	faultSub := controlConn.Subscribe(topicFault)
	engageSub := controlConn.Subscribe(topicEngageReq)
	disengageSub := controlConn.Subscribe(topicDisengageReq)
	setVoutSub := controlConn.Subscribe(topicSetVoutReq)
	setIoutSub := controlConn.Subscribe(topicSetIoutReq)

	monitorCtx, cancelMonitor := context.WithCancel(ctx)
	controlCtx, cancelControl := context.WithCancel(ctx)
	delayedIOCtx, cancelDelayedIO := context.WithCancel(ctx)

	monitorTask := &tasks.Task{
		Name: "monitor", Owner: tasks.OwnerMonitor, Period: 10 * time.Millisecond,
		Run: func(ctx context.Context) {
			now := clock.Millis()
			for s := monitor.Signal(0); s <= monitor.Fan; s++ {
				engine.Run(s, now)
			}
		},
	}
	controlTask := &tasks.Task{
		Name: "control", Owner: tasks.OwnerControl, Period: 25 * time.Millisecond,
		Run: func(ctx context.Context) {
			mgr.Periodic(ctx)
			fanDev.SetTargetRPM(db.ReadFloat32(pdi.KeyTargetFanSpeedRPM))
		},
	}
	delayedIOTask := &tasks.Task{
		Name: "delayed-io", Owner: tasks.OwnerDelayedIO, Period: 100 * time.Millisecond,
		Run: func(ctx context.Context) { db.Flush() },
	}

	monitorTask.Start(monitorCtx)
	controlTask.Start(controlCtx)
	delayedIOTask.Start(delayedIOCtx)

	logln("[ichnaea] tasks started; entering background loop")

	for {
		select {
		case m := <-faultSub.Channel():
			if ev, ok := m.Payload.(faultEvent); ok {
				var hexbuf [8]byte
				logf("[fault] %s bits=0x%s", ev.Code.String(),
					string(conv.U32Hex(hexbuf[:], controller.Faults())))
			}
		case m := <-engageSub.Channel():
			// The remote command layer calls through Request/RequestWait
			// and reads this Code back; a fire-and-forget Publish just
			// never sees the reply.
			code := errcode.OK
			if !mgr.Engage(controlCtx) {
				code = errcode.InvalidParams
			}
			controlConn.Reply(m, code, false)
			logln("[control] engage: " + string(code))
		case m := <-disengageSub.Channel():
			mgr.Disengage(controlCtx)
			controlConn.Reply(m, errcode.OK, false)
			logln("[control] disengaged")
		case m := <-setVoutSub.Channel():
			code := errcode.InvalidParams
			if v, ok := m.Payload.(float32); ok && v > 0 {
				mgr.SetOutputVoltage(v)
				code = errcode.OK
			}
			controlConn.Reply(m, code, false)
		case m := <-setIoutSub.Channel():
			code := errcode.InvalidParams
			if i, ok := m.Payload.(float32); ok && i > 0 {
				mgr.SetOutputCurrentLimit(i)
				code = errcode.OK
			}
			controlConn.Reply(m, code, false)
		case <-ctx.Done():
			// Background task shuts the others down in order: Control,
			// then Monitor, then Delayed I/O, and exits last itself.
			tasks.ShutdownChain(5*time.Millisecond, cancelControl, cancelMonitor, cancelDelayedIO)
			db.Flush()
			sys.WarmReset()
			return
		}
	}
}

// registerFaultHandlers turns the handler policy document into concrete
// router registrations: disengage-and-report forces the output down and
// republishes the code for the Control task's log; report-only (the
// communication faults, which the driver already retried locally)
// republishes without touching the output. Unknown action strings fall
// back to report-only.
func registerFaultHandlers(router *panicrouter.Router, mgr *power.Manager, conn *bus.Connection) {
	policy, err := panicrouter.ParseHandlerConfig([]byte(handlerPolicyYAML))
	if err != nil {
		logln("[ichnaea] bad handler policy: " + err.Error())
		return
	}
	for code, action := range policy {
		code := code
		disengage := action == panicrouter.ActionDisengageAndReport
		router.Register(code, func(c panicrouter.FaultCode) bool {
			if disengage {
				// Handlers run on the throwing task's stack, which for
				// every code in this class is the Monitor task.
				mgr.Disengage(tasks.WithOwner(context.Background(), tasks.OwnerMonitor))
			}
			conn.Publish(conn.NewMessage(topicFault, faultEvent{Code: c}, false))
			return true
		})
	}
}

// registerChannels wires the physical acquisition path for every sensor
// element. ADC channel numbers and mux selects are board-specific and
// therefore placeholders here: a real board-bringup package supplies the
// real numbers at the same call sites.
func registerChannels(f *sensorfacade.Facade) {
	reg := func(elem sensorfacade.Element, adcCh, muxSel int, convert func(*sensorfacade.Facade, float32) float32) {
		f.Register(sensorfacade.Channel{Element: elem, ADCChannel: adcCh, MuxSelect: muxSel, Convert: convert})
	}
	reg(sensorfacade.VmonSolarInput, 0, 0, func(f *sensorfacade.Facade, v float32) float32 {
		return sensorfacade.VoltageDivider(v, 97_000, 10_000)
	})
	reg(sensorfacade.VmonLoad, 0, 1, func(f *sensorfacade.Facade, v float32) float32 {
		return sensorfacade.VoltageDivider(v, 47_000, 10_000)
	})
	reg(sensorfacade.Vmon1V1, 0, 2, nil)
	reg(sensorfacade.Vmon3V3, 0, 3, func(f *sensorfacade.Facade, v float32) float32 {
		return sensorfacade.VoltageDivider(v, 2_000, 3_300)
	})
	reg(sensorfacade.Vmon5V0, 0, 4, func(f *sensorfacade.Facade, v float32) float32 {
		return sensorfacade.VoltageDivider(v, 2_000, 2_000)
	})
	reg(sensorfacade.Vmon12V, 0, 5, func(f *sensorfacade.Facade, v float32) float32 {
		return sensorfacade.VoltageDivider(v, 10_000, 1_000)
	})
	reg(sensorfacade.ImonLoad, 1, -1, func(f *sensorfacade.Facade, v float32) float32 {
		gain := f.Calibration(pdi.KeyCalOutputCurrent)
		if gain == 0 {
			gain = 20
		}
		return sensorfacade.ShuntCurrent(v, gain)
	})
	reg(sensorfacade.BoardTemp0, 2, -1, func(f *sensorfacade.Facade, v float32) float32 {
		return sensorfacade.ThermistorBeta(v, 3.3, 10_000, 10_000, 298.15, 3950)
	})
	reg(sensorfacade.BoardTemp1, 3, -1, func(f *sensorfacade.Facade, v float32) float32 {
		return sensorfacade.ThermistorBeta(v, 3.3, 10_000, 10_000, 298.15, 3950)
	})
	reg(sensorfacade.FanSpeed, 4, -1, nil)
}

// Limits builders, shared by initial registration and the PDI write
// callbacks so a config write always recomputes a monitor's limits from
// the same source of truth.

func vinLimits(db *pdi.DB) monitor.Limits {
	return monitor.InputVoltage{
		Min: db.ReadFloat32(pdi.KeyConfigMinSystemVoltageInput),
		Max: db.ReadFloat32(pdi.KeyConfigMaxSystemVoltageInput),
	}
}

func ioutLimits(db *pdi.DB) monitor.Limits {
	return monitor.LoadOvercurrent{
		UserLimit:   db.ReadFloat32(pdi.KeyTargetSystemCurrentOutput),
		SystemLimit: db.ReadFloat32(pdi.KeyConfigSystemCurrentOutputRatedLimit),
	}
}

func voutLimits(db *pdi.DB) monitor.Limits {
	return monitor.OutputVoltage{
		Target:      db.ReadFloat32(pdi.KeyTargetSystemVoltageOutput),
		SystemLimit: db.ReadFloat32(pdi.KeyConfigSystemVoltageOutputRatedLimit),
		PctErr:      db.ReadFloat32(pdi.KeyMonLoadVoltagePctErrorOorLimit),
	}
}

func tempLimits(db *pdi.DB) monitor.Limits {
	return monitor.Temperature{
		Low:  db.ReadFloat32(pdi.KeyConfigMinTempLimit),
		High: db.ReadFloat32(pdi.KeyConfigMaxTempLimit),
	}
}

func fanLimits(db *pdi.DB) monitor.Limits {
	return monitor.FanSpeed{
		Target: db.ReadFloat32(pdi.KeyTargetFanSpeedRPM),
		PctErr: db.ReadFloat32(pdi.KeyMonFanSpeedPctErrorOorLimit),
	}
}

// registerMonitors installs the nine monitors. Each monitor's own
// sample_rate_ms further rate-limits within the Monitor task's ~10ms
// period; limits come from the PDI defaults seeded at boot.
func registerMonitors(e *monitor.Engine, db *pdi.DB) {
	e.Register(monitor.VIn, "vin", vinLimits(db), 50)
	e.Register(monitor.IOut, "iout", ioutLimits(db), 50)
	e.Register(monitor.VOut, "vout", voutLimits(db), 50)
	e.Register(monitor.V1V1, "1v1", monitor.GenericLowVoltageDC{Nominal: 1.1}, 100)
	e.Register(monitor.V3V3, "3v3", monitor.GenericLowVoltageDC{Nominal: 3.3}, 100)
	e.Register(monitor.V5V0, "5v0", monitor.GenericLowVoltageDC{Nominal: 5.0}, 100)
	e.Register(monitor.V12V0, "12v0", monitor.GenericLowVoltageDC{Nominal: 12.0}, 100)
	e.Register(monitor.Temp, "temp", tempLimits(db), 200)
	e.Register(monitor.Fan, "fan", fanLimits(db), 200)
}

// bindConfigCallbacks closes the loop between configuration writes and
// the components that depend on them: a write to a limit-feeding key
// recomputes that monitor's limits (forcing it invalid until a fresh
// in-range window elapses), a filter or debounce key reloads the
// monitor's filter/debounce state, and the inductor-DCR key reprograms
// the controller's current-limit math. Sanitizers clamp the handful of
// keys with hard validity floors before any of that runs.
func bindConfigCallbacks(db *pdi.DB, engine *monitor.Engine, controller *ltc7871.Device) {
	relimit := func(signal monitor.Signal, build func(*pdi.DB) monitor.Limits) pdi.OnWriteFunc {
		return func(d *pdi.DB, _ uint32) { engine.SetLimits(signal, build(d)) }
	}

	db.Bind(pdi.KeyConfigMinSystemVoltageInput, nil, relimit(monitor.VIn, vinLimits))
	db.Bind(pdi.KeyConfigMaxSystemVoltageInput, nil, relimit(monitor.VIn, vinLimits))
	db.Bind(pdi.KeyTargetSystemCurrentOutput, nil, relimit(monitor.IOut, ioutLimits))
	db.Bind(pdi.KeyConfigSystemCurrentOutputRatedLimit, nil, relimit(monitor.IOut, ioutLimits))
	db.Bind(pdi.KeyTargetSystemVoltageOutput, nil, relimit(monitor.VOut, voutLimits))
	db.Bind(pdi.KeyConfigSystemVoltageOutputRatedLimit, nil, relimit(monitor.VOut, voutLimits))
	db.Bind(pdi.KeyMonLoadVoltagePctErrorOorLimit, sanitizePctError, relimit(monitor.VOut, voutLimits))
	db.Bind(pdi.KeyConfigMinTempLimit, nil, relimit(monitor.Temp, tempLimits))
	db.Bind(pdi.KeyConfigMaxTempLimit, nil, relimit(monitor.Temp, tempLimits))
	db.Bind(pdi.KeyTargetFanSpeedRPM, sanitizeNonNegativeF32, relimit(monitor.Fan, fanLimits))
	db.Bind(pdi.KeyMonFanSpeedPctErrorOorLimit, sanitizePctError, relimit(monitor.Fan, fanLimits))

	db.Bind(pdi.KeyConfigLtcPhaseInductorDCR, sanitizeNonNegativeF32, func(d *pdi.DB, k uint32) {
		controller.SetPhaseInductorDCR(d.ReadFloat32(k))
	})

	db.Bind(pdi.KeyPgoodMonitorTimeoutMs, sanitizePgoodTimeout, nil)

	filterKeys := map[uint32]monitor.Signal{
		pdi.KeyMonFilterInputVoltage:  monitor.VIn,
		pdi.KeyMonFilterOutputCurrent: monitor.IOut,
		pdi.KeyMonFilterOutputVoltage: monitor.VOut,
		pdi.KeyMonFilter1V1:           monitor.V1V1,
		pdi.KeyMonFilter3V3:           monitor.V3V3,
		pdi.KeyMonFilter5V0:           monitor.V5V0,
		pdi.KeyMonFilter12V0:          monitor.V12V0,
		pdi.KeyMonFilterTemperature:   monitor.Temp,
		pdi.KeyMonFilterFanSpeed:      monitor.Fan,
	}
	for key, signal := range filterKeys {
		signal := signal
		db.Bind(key, nil, func(*pdi.DB, uint32) { engine.ReloadFilter(signal) })
	}

	debounceKeys := map[uint32]monitor.Signal{
		pdi.KeyMonInputVoltageOorEntryDelayMs:    monitor.VIn,
		pdi.KeyMonInputVoltageOorExitDelayMs:     monitor.VIn,
		pdi.KeyMonLoadOvercurrentOorEntryDelayMs: monitor.IOut,
		pdi.KeyMonLoadOvercurrentOorExitDelayMs:  monitor.IOut,
		pdi.KeyMonLoadVoltageOorEntryDelayMs:     monitor.VOut,
		pdi.KeyMonLoadVoltageOorExitDelayMs:      monitor.VOut,
		pdi.KeyMon1V1OorEntryDelayMs:             monitor.V1V1,
		pdi.KeyMon1V1OorExitDelayMs:              monitor.V1V1,
		pdi.KeyMon3V3OorEntryDelayMs:             monitor.V3V3,
		pdi.KeyMon3V3OorExitDelayMs:              monitor.V3V3,
		pdi.KeyMon5V0OorEntryDelayMs:             monitor.V5V0,
		pdi.KeyMon5V0OorExitDelayMs:              monitor.V5V0,
		pdi.KeyMon12V0OorEntryDelayMs:            monitor.V12V0,
		pdi.KeyMon12V0OorExitDelayMs:             monitor.V12V0,
		pdi.KeyMonTemperatureOorEntryDelayMs:     monitor.Temp,
		pdi.KeyMonTemperatureOorExitDelayMs:      monitor.Temp,
		pdi.KeyMonFanSpeedOorEntryDelayMs:        monitor.Fan,
		pdi.KeyMonFanSpeedOorExitDelayMs:         monitor.Fan,
	}
	for key, signal := range debounceKeys {
		signal := signal
		db.Bind(key, nil, func(*pdi.DB, uint32) { engine.ReloadDebounce(signal) })
	}
}

// ---- sanitizers ----

// sanitizePctError clamps a percentage-band key into [0, 1].
func sanitizePctError(_ *pdi.DB, _ uint32, data []byte) {
	if len(data) < 4 {
		return
	}
	v := math.Float32frombits(binary.LittleEndian.Uint32(data))
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	binary.LittleEndian.PutUint32(data, math.Float32bits(v))
}

// sanitizeNonNegativeF32 floors a float32 key at zero.
func sanitizeNonNegativeF32(_ *pdi.DB, _ uint32, data []byte) {
	if len(data) < 4 {
		return
	}
	v := math.Float32frombits(binary.LittleEndian.Uint32(data))
	if v < 0 {
		binary.LittleEndian.PutUint32(data, math.Float32bits(0))
	}
}

// sanitizePgoodTimeout enforces the 10ms floor on the PGOOD wait window.
func sanitizePgoodTimeout(_ *pdi.DB, _ uint32, data []byte) {
	if len(data) < 4 {
		return
	}
	if v := binary.LittleEndian.Uint32(data); v < 10 {
		binary.LittleEndian.PutUint32(data, 10)
	}
}

// seedPDIDefaults inserts every persistent configuration key with the
// board config's default. Values already committed to NVM by a previous
// boot take precedence over these defaults at Insert.
func seedPDIDefaults(db *pdi.DB, cfg BoardConfig) {
	insertF32 := func(key uint32, v float32) {
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
		db.Insert(pdi.Entry{HashKey: key, Size: 4, Durability: pdi.Persistent, Default: buf[:]})
	}
	insertU32 := func(key uint32, v uint32) {
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], v)
		db.Insert(pdi.Entry{HashKey: key, Size: 4, Durability: pdi.Persistent, Default: buf[:]})
	}

	insertF32(pdi.KeyConfigMaxSystemVoltageInput, cfg.MaxSystemVoltageInput)
	insertF32(pdi.KeyConfigMinSystemVoltageInput, cfg.MinSystemVoltageInput)
	insertF32(pdi.KeyConfigMaxTempLimit, cfg.MaxTempLimit)
	insertF32(pdi.KeyConfigMinTempLimit, cfg.MinTempLimit)
	insertF32(pdi.KeyConfigLtcPhaseInductorDCR, cfg.LtcPhaseInductorDCR)
	insertF32(pdi.KeyConfigSystemVoltageOutputRatedLimit, cfg.SystemVoltageOutputRatedLimit)
	insertF32(pdi.KeyConfigSystemCurrentOutputRatedLimit, cfg.SystemCurrentOutputRatedLimit)
	insertF32(pdi.KeyConfigPhaseCurrentOutputRatedLimit, cfg.PhaseCurrentOutputRatedLimit)
	insertF32(pdi.KeyConfigMaxSystemVoltageInputRatedLimit, cfg.MaxSystemVoltageInputRatedLimit)
	insertF32(pdi.KeyConfigMinSystemVoltageInputRatedLimit, cfg.MinSystemVoltageInputRatedLimit)
	insertU32(pdi.KeyPgoodMonitorTimeoutMs, cfg.PgoodMonitorTimeoutMs)
	insertF32(pdi.KeyTargetSystemVoltageOutput, cfg.TargetSystemVoltageOutput)
	insertF32(pdi.KeyTargetSystemCurrentOutput, cfg.TargetSystemCurrentOutput)
	insertF32(pdi.KeyTargetPhaseCurrentOutput, cfg.TargetPhaseCurrentOutput)
	insertF32(pdi.KeyTargetFanSpeedRPM, cfg.TargetFanSpeedRPM)
	insertF32(pdi.KeyCalOutputCurrent, cfg.CalOutputCurrent)
	insertF32(pdi.KeyMonLoadVoltagePctErrorOorLimit, cfg.LoadVoltagePctErrorOorLimit)
	insertF32(pdi.KeyMonFanSpeedPctErrorOorLimit, cfg.FanSpeedPctErrorOorLimit)

	insertU32(pdi.KeyBootCount, 0)
	db.WriteUint32(pdi.KeyBootCount, db.ReadUint32(pdi.KeyBootCount)+1)

	for _, k := range []uint32{
		pdi.KeyMonFilterInputVoltage, pdi.KeyMonFilterOutputCurrent, pdi.KeyMonFilterOutputVoltage,
		pdi.KeyMonFilter1V1, pdi.KeyMonFilter3V3, pdi.KeyMonFilter5V0, pdi.KeyMonFilter12V0,
		pdi.KeyMonFilterTemperature, pdi.KeyMonFilterFanSpeed,
	} {
		db.Insert(pdi.Entry{HashKey: k, Size: iirfilter.WireSize, Durability: pdi.Persistent})
	}

	for _, k := range []uint32{
		pdi.KeyMonInputVoltageOorEntryDelayMs, pdi.KeyMonLoadOvercurrentOorEntryDelayMs,
		pdi.KeyMonLoadVoltageOorEntryDelayMs, pdi.KeyMonTemperatureOorEntryDelayMs,
		pdi.KeyMonFanSpeedOorEntryDelayMs, pdi.KeyMon1V1OorEntryDelayMs,
		pdi.KeyMon3V3OorEntryDelayMs, pdi.KeyMon5V0OorEntryDelayMs, pdi.KeyMon12V0OorEntryDelayMs,
		pdi.KeyMonInputVoltageOorExitDelayMs, pdi.KeyMonLoadOvercurrentOorExitDelayMs,
		pdi.KeyMonLoadVoltageOorExitDelayMs, pdi.KeyMonTemperatureOorExitDelayMs,
		pdi.KeyMonFanSpeedOorExitDelayMs, pdi.KeyMon1V1OorExitDelayMs,
		pdi.KeyMon3V3OorExitDelayMs, pdi.KeyMon5V0OorExitDelayMs, pdi.KeyMon12V0OorExitDelayMs,
	} {
		insertU32(k, 100)
	}

	// Volatile telemetry keys the monitor engine publishes raw/filtered
	// samples and validity into every tick. None of these ever touch NVM.
	insertVolF32 := func(key uint32) {
		db.Insert(pdi.Entry{HashKey: key, Size: 4, Durability: pdi.Volatile})
	}
	insertVolBool := func(key uint32) {
		db.Insert(pdi.Entry{HashKey: key, Size: 1, Durability: pdi.Volatile})
	}
	for _, k := range []uint32{
		pdi.KeyMonInputVoltageRaw, pdi.KeyMonInputVoltageFiltered,
		pdi.KeyMonOutputCurrentRaw, pdi.KeyMonOutputCurrentFiltered,
		pdi.KeyMonOutputVoltageRaw, pdi.KeyMonOutputVoltageFiltered,
		pdi.KeyMon1V1Filtered, pdi.KeyMon3V3Filtered, pdi.KeyMon5V0Filtered, pdi.KeyMon12V0Filtered,
		pdi.KeyMonTemperatureFiltered, pdi.KeyMonFanSpeedFiltered,
	} {
		insertVolF32(k)
	}
	for _, k := range []uint32{
		pdi.KeyMonInputVoltageValid, pdi.KeyMonOutputCurrentValid, pdi.KeyMonOutputVoltageValid,
		pdi.KeyMon1V1Valid, pdi.KeyMon3V3Valid, pdi.KeyMon5V0Valid, pdi.KeyMon12V0Valid,
		pdi.KeyMonTemperatureValid, pdi.KeyMonFanSpeedValid,
	} {
		insertVolBool(k)
	}
}

// ---- allocation-light logging ----

// logMirror, when non-nil, receives a copy of every console line.
var logMirror = initLogMirror()

func logln(s string) {
	println(s)
	if logMirror != nil {
		logMirror(s)
	}
}

func logf(format string, a ...any) {
	logln(fmtx.Sprintf(format, a...))
}
