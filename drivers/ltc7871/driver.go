package ltc7871

import (
	"context"

	"ichnaea/hal"
	"ichnaea/internal/panicrouter"
	"ichnaea/internal/sensorfacade"
	"ichnaea/internal/tasks"
	"ichnaea/x/mathx"
)

// Mode is the controller driver's top-level state.
type Mode int

const (
	Disabled Mode = iota
	Enabled
	Faulted
)

func (m Mode) String() string {
	switch m {
	case Disabled:
		return "Disabled"
	case Enabled:
		return "Enabled"
	case Faulted:
		return "Faulted"
	default:
		return "Unknown"
	}
}

// Measured holds the driver's last-refreshed analog snapshot.
type Measured struct {
	VIn, VOut, IAvg, IInst float32
}

// Static holds board-calibration constants that never change at runtime:
// the VLOW feedback divider (Ra bottom, Rb top) and the SETCUR feedback
// resistor, used by the DAC search routines in pec.go's siblings below.
type Static struct {
	VLowRa, VLowRb float32
	SetCurRfb      float32
	IlimGainK      float32
}

// State is the driver's full observable state.
type State struct {
	Mode            Mode
	FaultBits       uint32
	FaultCodeLogged uint32
	Measured        Measured
	Static          Static
}

// Sensors is the subset of the sensor facade the driver needs to refresh
// its own measured snapshot.
type Sensors interface {
	Measurement(elem sensorfacade.Element, mode sensorfacade.Mode) (float32, error)
}

// Device drives one controller IC over a SPI bus, with a PWMEN pin as the
// power-stage kill switch. Shaped after drivers/ltc4015.Device: a struct
// owning the bus handle plus small typed accessors over a register core.
type Device struct {
	spi    hal.SPI
	port   int
	pwmen  hal.GPIO // held low by a pulldown: Set(true) enables the stage
	clock  hal.Clock
	sense  Sensors
	router *panicrouter.Router
	mu     *tasks.RecursiveMutex

	BoardRevGE2 bool     // gates the 40mV ILIM strap check
	ModePin     hal.GPIO // controller MODE select; driven low for DCM before the DACs are programmed

	state State
	dcr   float32 // phase inductor DCR, PDI-sourced; 0 until set
}

// New returns a Device. static carries the board's divider/shunt
// calibration; pwmen may be nil on boards where the power stage has no
// software kill switch (PWMEN is then a no-op).
func New(spi hal.SPI, port int, pwmen hal.GPIO, clock hal.Clock, sense Sensors, router *panicrouter.Router, static Static) *Device {
	d := &Device{
		spi:    spi,
		port:   port,
		pwmen:  pwmen,
		clock:  clock,
		sense:  sense,
		router: router,
		mu:     tasks.NewRecursiveMutex(),
	}
	d.state.Static = static
	return d
}

// ModeNow returns the driver's current top-level state.
func (d *Device) ModeNow() Mode { return d.state.Mode }

// Faults returns the last collapsed 32-bit fault word.
func (d *Device) Faults() uint32 { return d.state.FaultBits }

// Measured returns the last refreshed analog snapshot.
func (d *Device) Measured() Measured { return d.state.Measured }

// SetPhaseInductorDCR updates the DCR used by current-limit DAC
// programming; wired as the on_write callback target for
// config_ltc_phase_inductor_dcr.
func (d *Device) SetPhaseInductorDCR(dcr float32) {
	d.dcr = dcr
}

// --- low-level register access ----------------------------------------

func (d *Device) setPWMEN(enable bool) {
	if d.pwmen == nil {
		return
	}
	d.pwmen.Set(enable)
}

// readRegister performs a 3-byte read transaction and validates the PEC
// of the reply against the address+data the controller would have used
// to compute it.
func (d *Device) readRegister(owner tasks.Owner, reg uint8) (uint8, error) {
	d.mu.Lock(owner)
	defer d.mu.Unlock(owner)

	readCmd := (reg << 1) | 1
	tx := [3]byte{readCmd, 0, 0}
	rx := [3]byte{}
	if err := d.spi.Transfer(d.port, tx[:], rx[:]); err != nil {
		d.router.Throw(panicrouter.LtcDataReadFail)
		return 0, err
	}

	want := ComputePEC(readCmd, rx[1])
	if want != rx[2] {
		d.router.Throw(panicrouter.LtcPecReadFail)
		return rx[1], errPEC{}
	}
	return rx[1], nil
}

func (d *Device) writeRegister(owner tasks.Owner, reg, data uint8) error {
	d.mu.Lock(owner)
	defer d.mu.Unlock(owner)

	addrByte := (reg << 1) & 0xFE
	tx := [3]byte{addrByte, data, ComputePEC(addrByte, data)}
	rx := [3]byte{}
	if err := d.spi.Transfer(d.port, tx[:], rx[:]); err != nil {
		d.router.Throw(panicrouter.LtcDataWriteFail)
		return err
	}

	ctrl, err := d.readRegister(owner, RegChipCtrl)
	if err == nil && ctrl&ChipCtrlCMLMask == ChipCtrlCMLFault {
		d.router.Throw(panicrouter.LtcPecWriteFail)
		return errPEC{}
	}
	return nil
}

type errPEC struct{}

func (errPEC) Error() string { return "ltc7871: pec mismatch" }

// writeProtect toggles the WP bit of MFR_CHIP_CTRL. Every MFR_IDAC_* write
// must be bracketed by writeProtect(owner,false) ... writeProtect(owner,true)
// on the same task, with the bus mutex held across the whole bracket.
func (d *Device) writeProtect(owner tasks.Owner, enable bool) {
	reg := uint8(0)
	if enable {
		reg = ChipCtrlWPEnable
	}
	_ = d.writeRegister(owner, RegChipCtrl, reg)
}

func (d *Device) clearCommunicationFault(owner tasks.Owner) {
	ctrl, err := d.readRegister(owner, RegChipCtrl)
	if err != nil || ctrl&ChipCtrlCMLMask == 0 {
		return
	}
	_ = d.writeRegister(owner, RegChipCtrl, ctrl|ChipCtrlCMLFault)
	ctrl, err = d.readRegister(owner, RegChipCtrl)
	if err != nil || ctrl&ChipCtrlCMLMask != 0 {
		d.router.Throw(panicrouter.LtcCmdFail)
	}
}

func (d *Device) readFaults(owner tasks.Owner) uint32 {
	f1, _ := d.readRegister(owner, RegMFRFault)
	f2, _ := d.readRegister(owner, RegMFROCFault)
	f3, _ := d.readRegister(owner, RegMFRNOCFault)
	return uint32(f1)<<16 | uint32(f2)<<8 | uint32(f3)
}

// --- state refresh ------------------------------------------------------

// RunStateUpdater refreshes the driver's measured snapshot from the
// sensor facade.
func (d *Device) RunStateUpdater() {
	if d.sense == nil {
		return
	}
	vin, _ := d.sense.Measurement(sensorfacade.VmonSolarInput, sensorfacade.Refresh)
	vout, _ := d.sense.Measurement(sensorfacade.VmonLoad, sensorfacade.Refresh)
	iinst, _ := d.sense.Measurement(sensorfacade.ImonLoad, sensorfacade.Refresh)
	iavg, _ := d.sense.Measurement(sensorfacade.ImonLTCAvg, sensorfacade.Refresh)
	d.state.Measured = Measured{VIn: vin, VOut: vout, IInst: iinst, IAvg: iavg}
}

// --- engage / disengage ---------------------------------------------------

// Engage runs the controller's power-on sequence: clear any latched
// communication fault, validate the hardware straps and fault registers,
// check the requested output against the minimum on-time, program the
// DACs under a write-protect release, then release PWMEN and wait for
// PGOOD. It only transitions from Disabled; pgoodTimeoutMs is floored
// at 10ms.
func (d *Device) Engage(ctx context.Context, voutTgt, ioutTgt float32, pgoodTimeoutMs uint32) bool {
	owner := tasks.OwnerOf(ctx)
	d.mu.Lock(owner)
	defer d.mu.Unlock(owner)

	if d.state.Mode != Disabled {
		return false
	}

	d.clearCommunicationFault(owner)

	cfg1, err1 := d.readRegister(owner, RegMFRConfig1)
	cfg2, err2 := d.readRegister(owner, RegMFRConfig2)
	if err1 != nil || err2 != nil {
		d.state.Mode = Faulted
		return false
	}

	strapOK := cfg2&Config2BuckBoostMask == Config2BuckBoostBuck &&
		cfg1&Config1DrvccSetMask == Config1DrvccSet10V &&
		cfg2&Config2DcmMask == 0 &&
		cfg2&Config2HizMask == 0 &&
		cfg2&Config2SprdMask == 0
	if d.BoardRevGE2 {
		strapOK = strapOK && cfg1&Config1IlimSetMask == Config1IlimSet40mV
	}
	if !strapOK {
		d.router.Throw(panicrouter.LtcHwStrapFail)
		d.state.Mode = Faulted
		return false
	}

	if faults := d.readFaults(owner); faults != 0 {
		d.state.Mode = Faulted
		return false
	}

	switch cfg1 & Config1IlimSetMask {
	case Config1IlimSet10mV, Config1IlimSet20mV:
		d.state.Static.IlimGainK = 40
	default:
		d.state.Static.IlimGainK = 20
	}

	d.RunStateUpdater()

	if !minOnTimeSatisfied(voutTgt, d.state.Measured.VIn) {
		return false
	}

	idacVlow, ok := computeIdacVlow(voutTgt, d.state.Static.VLowRa, d.state.Static.VLowRb)
	if !ok {
		return false
	}
	idacSetcur, ok := computeIdacSetcur(d.state.Static.IlimGainK, ioutTgt, d.dcr, d.state.Static.SetCurRfb)
	if !ok {
		return false
	}

	if d.ModePin != nil {
		// DCM for the soft-start window; the controller moves itself to
		// CCM once regulation settles.
		d.ModePin.Set(false)
	}

	d.writeProtect(owner, false)
	_ = d.writeRegister(owner, RegIdacSetCur, idacSetcur)
	_ = d.writeRegister(owner, RegIdacVLow, idacVlow)
	d.writeProtect(owner, true)

	d.setPWMEN(true)

	timeout := pgoodTimeoutMs
	if timeout < 10 {
		timeout = 10
	}
	start := d.clock.Millis()
	powerGood := false
	for {
		status, _ := d.readRegister(owner, RegMFRStatus)
		faults := d.readFaults(owner)
		powerGood = faults == 0 && status&StatusPGood != 0
		if powerGood || d.clock.Millis()-start >= uint64(timeout) {
			break
		}
		d.clock.DelayMicros(pgoodPollMicros)
	}

	if !powerGood {
		d.setPWMEN(false)
		d.state.Mode = Faulted
		return false
	}

	d.state.Mode = Enabled
	d.state.FaultBits = 0
	return true
}

// Disengage drives PWMEN off and waits for PGOOD to deassert within the
// timeout window; a stage still reporting power-good after that raises
// PwrDwnFail and the driver's mode is left unchanged.
func (d *Device) Disengage(ctx context.Context, pgoodTimeoutMs uint32) {
	owner := tasks.OwnerOf(ctx)
	d.mu.Lock(owner)
	defer d.mu.Unlock(owner)

	d.setPWMEN(false)

	timeout := pgoodTimeoutMs
	if timeout < 10 {
		timeout = 10
	}
	start := d.clock.Millis()
	powerGood := true
	for {
		status, _ := d.readRegister(owner, RegMFRStatus)
		powerGood = status&StatusPGood != 0
		if !powerGood || d.clock.Millis()-start >= uint64(timeout) {
			break
		}
		d.clock.DelayMicros(pgoodPollMicros)
	}

	if powerGood {
		d.router.Throw(panicrouter.PwrDwnFail)
		return
	}
	d.state.Mode = Disabled
}

// RunFaultMonitoring re-reads the three fault registers. Any newly-set
// bit is logged once and forces the power stage off immediately; any set
// bit at all transitions the driver to Faulted via the full disengage
// sequence.
func (d *Device) RunFaultMonitoring(ctx context.Context, pgoodTimeoutMs uint32) {
	owner := tasks.OwnerOf(ctx)
	d.mu.Lock(owner)
	faults := d.readFaults(owner)
	d.state.FaultBits = faults

	newlySet := faults &^ d.state.FaultCodeLogged
	if newlySet != 0 {
		d.setPWMEN(false)
		d.state.FaultCodeLogged |= newlySet
	}
	alreadyFaulted := d.state.Mode == Faulted
	d.mu.Unlock(owner)

	if faults != 0 && !alreadyFaulted {
		d.router.Throw(panicrouter.LtcFault)
		d.Disengage(ctx, pgoodTimeoutMs)
		d.mu.Lock(owner)
		d.state.Mode = Faulted
		d.mu.Unlock(owner)
	}
}

// ClearFaults is only meaningful in Faulted: it clears the software fault
// latches and the communication-fault bit and returns to Disabled.
func (d *Device) ClearFaults(ctx context.Context) {
	owner := tasks.OwnerOf(ctx)
	d.mu.Lock(owner)
	if d.state.Mode != Faulted {
		d.mu.Unlock(owner)
		return
	}
	d.state.FaultBits = 0
	d.state.FaultCodeLogged = 0
	d.mu.Unlock(owner)

	d.clearCommunicationFault(owner)

	d.mu.Lock(owner)
	d.state.Mode = Disabled
	d.mu.Unlock(owner)
}

// --- setpoint updates -----------------------------------------------------

// SetVoutRef reprograms the output-voltage DAC if the min-on-time guard
// still permits the new ratio against the last-refreshed Vin. The bus
// mutex is held across the whole write-protect bracket so no other task
// can slip a register access between the release and the re-enable.
func (d *Device) SetVoutRef(ctx context.Context, voltage float32) bool {
	owner := tasks.OwnerOf(ctx)
	d.mu.Lock(owner)
	defer d.mu.Unlock(owner)

	if !minOnTimeSatisfied(voltage, d.state.Measured.VIn) {
		return false
	}
	idacVlow, ok := computeIdacVlow(voltage, d.state.Static.VLowRa, d.state.Static.VLowRb)
	if !ok {
		return false
	}
	d.writeProtect(owner, false)
	_ = d.writeRegister(owner, RegIdacVLow, idacVlow)
	d.writeProtect(owner, true)
	d.RunStateUpdater()
	return true
}

// SetIoutRef reprograms the average-current-limit DAC.
func (d *Device) SetIoutRef(ctx context.Context, current float32) bool {
	owner := tasks.OwnerOf(ctx)
	d.mu.Lock(owner)
	defer d.mu.Unlock(owner)

	idacSetcur, ok := computeIdacSetcur(d.state.Static.IlimGainK, current, d.dcr, d.state.Static.SetCurRfb)
	if !ok {
		return false
	}
	d.writeProtect(owner, false)
	_ = d.writeRegister(owner, RegIdacSetCur, idacSetcur)
	d.writeProtect(owner, true)
	d.RunStateUpdater()
	return true
}

// --- DAC math -------------------------------------------------------------

// pgoodPollMicros spaces consecutive PGOOD/fault-register polls so the
// wait loops do not hammer the bus at SPI line rate.
const pgoodPollMicros = 1000

// minOnTimeSatisfied guards a requested output against the controller's
// minimum on-time. The comparison keeps the shipped firmware's bare
// 150ns scalar on the Vout/Vin ratio; the dimensionally-correct bound
// would be t_on_min * f_sw, which for any switching frequency above 1Hz
// is larger than 150e-9, so this check accepts ratios that bound rejects.
func minOnTimeSatisfied(vout, vin float32) bool {
	if vout <= 0 || vin <= 0 {
		return false
	}
	const minOnTime = 150e-9
	return vout/vin >= minOnTime
}

// idacVlowToVout decodes a signed IDAC_VLOW trim current (µA) back to the
// output voltage it produces across the Ra/Rb feedback divider.
func idacVlowToVout(idacUA int32, ra, rb float32) float32 {
	return 1.2*(1+rb/ra) - float32(idacUA)*1e-6*rb
}

func computeIdacVlow(vlow, ra, rb float32) (uint8, bool) {
	const idacMinUA, idacMaxUA = -64, 63
	if vlow < 0 || ra <= 0 || rb <= 0 {
		return 0, false
	}

	idealUA := int32(1e6 * (((1.2 * (1 + rb/ra)) - vlow) / rb))
	actualUA := mathx.Clamp(idealUA, int32(idacMinUA), int32(idacMaxUA))

	bestErr := mathx.AbsF32(vlow - idacVlowToVout(actualUA, ra, rb))
	for i := int32(-1); i <= 1; i++ {
		testUA := mathx.Clamp(actualUA+i, int32(idacMinUA), int32(idacMaxUA))
		if errv := mathx.AbsF32(vlow - idacVlowToVout(testUA, ra, rb)); errv < bestErr {
			bestErr = errv
			actualUA = testUA
		}
	}

	if actualUA >= 0 {
		return uint8(actualUA) & 0x7F, true
	}
	abs := uint8(-actualUA - 1)
	return (^abs) & 0x7F, true
}

func computeIdacSetcur(ilimGain, current, dcr, rfb float32) (uint8, bool) {
	const idacMaxUA = 31
	if current < 0 || dcr <= 0 || rfb <= 0 {
		return 0, false
	}

	vRes := (ilimGain * current * dcr) / 6.0
	iResUA := int32(vRes / rfb * 1e6)
	if iResUA < 0 || iResUA > idacMaxUA {
		return 0, false
	}

	return uint8(iResUA) & IdacSetCurMask, true
}
