package ltc7871_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"ichnaea/drivers/ltc7871"
	"ichnaea/hal/halsim"
	"ichnaea/internal/panicrouter"
	"ichnaea/internal/sensorfacade"
	"ichnaea/internal/tasks"
)

// --- PEC -------------------------------------------------------------------

func TestComputePEC_RoundTripIsDeterministic(t *testing.T) {
	a := ltc7871.ComputePEC(0x0F, 0x00)
	b := ltc7871.ComputePEC(0x0F, 0x00)
	require.Equal(t, a, b)
}

func TestComputePEC_DetectsSingleBitFlips(t *testing.T) {
	addr, data := uint8(0x0F), uint8(0x3C)
	want := ltc7871.ComputePEC(addr, data)

	for bit := 0; bit < 8; bit++ {
		flipped := data ^ (1 << uint(bit))
		got := ltc7871.ComputePEC(addr, flipped)
		require.NotEqual(t, want, got, "bit %d flip in data went undetected", bit)
	}
	for bit := 0; bit < 8; bit++ {
		flipped := addr ^ (1 << uint(bit))
		got := ltc7871.ComputePEC(flipped, data)
		require.NotEqual(t, want, got, "bit %d flip in addr went undetected", bit)
	}
}

// --- test fixture ------------------------------------------------------------

type fakeSensors struct {
	values map[sensorfacade.Element]float32
}

func (f *fakeSensors) Measurement(elem sensorfacade.Element, _ sensorfacade.Mode) (float32, error) {
	return f.values[elem], nil
}

// virtualChip is a minimal register model of the controller IC: it answers
// read/write frames with correctly-computed PEC bytes so a driver_test can
// exercise the real frame format without a bit-level SPI simulation.
type virtualChip struct {
	regs  map[uint8]uint8
	clock *halsim.Clock
	tickMs uint64 // advanced once per read of MFR_STATUS, to drain poll loops
}

func newVirtualChip(clock *halsim.Clock) *virtualChip {
	return &virtualChip{
		regs: map[uint8]uint8{
			ltc7871.RegMFRConfig1: ltc7871.Config1DrvccSet10V | ltc7871.Config1IlimSet30mV,
			ltc7871.RegMFRConfig2: ltc7871.Config2BuckBoostBuck,
		},
		clock:  clock,
		tickMs: 5,
	}
}

func (v *virtualChip) handler(port int, tx []byte) ([]byte, error) {
	addrByte := tx[0]
	reg := addrByte >> 1
	if addrByte&1 == 1 {
		data := v.regs[reg]
		if reg == ltc7871.RegMFRStatus {
			v.clock.Advance(v.tickMs)
		}
		return []byte{addrByte, data, ltc7871.ComputePEC(addrByte, data)}, nil
	}
	data := tx[1]
	v.regs[reg] = data
	return []byte{addrByte, data, ltc7871.ComputePEC(addrByte, data)}, nil
}

func newTestDevice(t *testing.T, chip *virtualChip, sensors *fakeSensors, clock *halsim.Clock) (*ltc7871.Device, *halsim.GPIO) {
	t.Helper()
	spi := &halsim.SPI{Handler: chip.handler}
	pwmen := &halsim.GPIO{}
	router := panicrouter.New(&halsim.System{})
	router.Seal()
	dev := ltc7871.New(spi, 0, pwmen, clock, sensors, router, ltc7871.Static{
		VLowRa:    15_000,
		VLowRb:    470_000,
		SetCurRfb: 10_000,
	})
	dev.ModePin = &halsim.GPIO{}
	dev.SetPhaseInductorDCR(0.002)
	return dev, pwmen
}

// --- engage / strap validation ----------------------------------------------

func TestEngage_RejectsOnBadStrap(t *testing.T) {
	clock := halsim.NewClock(0)
	chip := newVirtualChip(clock)
	chip.regs[ltc7871.RegMFRConfig2] = 0 // buck/boost strap wrong: not "buck"

	sensors := &fakeSensors{values: map[sensorfacade.Element]float32{
		sensorfacade.VmonSolarInput: 48,
	}}
	dev, pwmen := newTestDevice(t, chip, sensors, clock)

	ctx := tasks.WithOwner(context.Background(), tasks.OwnerControl)
	ok := dev.Engage(ctx, 12, 10, 50)

	require.False(t, ok)
	require.Equal(t, ltc7871.Faulted, dev.ModeNow())
	require.False(t, pwmen.Get(), "PWMEN must never assert on a strap-validation reject")
}

func TestEngage_RejectsWhenMinOnTimeViolated(t *testing.T) {
	clock := halsim.NewClock(0)
	chip := newVirtualChip(clock)

	// Vin so far below Vout that the ratio predicate cannot hold.
	sensors := &fakeSensors{values: map[sensorfacade.Element]float32{
		sensorfacade.VmonSolarInput: 0,
	}}
	dev, pwmen := newTestDevice(t, chip, sensors, clock)

	ctx := tasks.WithOwner(context.Background(), tasks.OwnerControl)
	ok := dev.Engage(ctx, 12, 10, 50)

	require.False(t, ok)
	require.Equal(t, ltc7871.Disabled, dev.ModeNow(), "a min-on-time reject leaves the driver Disabled, not Faulted")
	require.False(t, pwmen.Get())
	_, hasVlow := chip.regs[ltc7871.RegIdacVLow]
	require.False(t, hasVlow, "no DAC register should be touched before the min-on-time gate passes")
}

func TestEngage_SucceedsAndBracketsWriteProtect(t *testing.T) {
	clock := halsim.NewClock(0)
	chip := newVirtualChip(clock)
	chip.regs[ltc7871.RegMFRStatus] = ltc7871.StatusPGood

	sensors := &fakeSensors{values: map[sensorfacade.Element]float32{
		sensorfacade.VmonSolarInput: 48,
		sensorfacade.VmonLoad:       12,
	}}
	dev, pwmen := newTestDevice(t, chip, sensors, clock)

	ctx := tasks.WithOwner(context.Background(), tasks.OwnerControl)
	ok := dev.Engage(ctx, 12, 10, 50)

	require.True(t, ok)
	require.Equal(t, ltc7871.Enabled, dev.ModeNow())
	require.True(t, pwmen.Get())
	// WP must be re-enabled by the time Engage returns: the chip's
	// last-seen chip-ctrl write should have the WP bit set, not clear.
	require.Equal(t, uint8(ltc7871.ChipCtrlWPEnable), chip.regs[ltc7871.RegChipCtrl]&ltc7871.ChipCtrlWPEnable)
}

func TestEngage_PGoodTimeoutFaultsAndRetractsPWMEN(t *testing.T) {
	clock := halsim.NewClock(0)
	chip := newVirtualChip(clock)
	chip.tickMs = 20 // status never asserts PGOOD; each poll burns 20ms

	sensors := &fakeSensors{values: map[sensorfacade.Element]float32{
		sensorfacade.VmonSolarInput: 48,
		sensorfacade.VmonLoad:       12,
	}}
	dev, pwmen := newTestDevice(t, chip, sensors, clock)

	ctx := tasks.WithOwner(context.Background(), tasks.OwnerControl)
	ok := dev.Engage(ctx, 12, 10, 50)

	require.False(t, ok)
	require.Equal(t, ltc7871.Faulted, dev.ModeNow())
	require.False(t, pwmen.Get(), "PWMEN must be retracted after a PGOOD timeout")
}

// --- fault monitoring / clear ------------------------------------------------

func TestRunFaultMonitoring_ForcesFaultedAndKillsPWMEN(t *testing.T) {
	clock := halsim.NewClock(0)
	chip := newVirtualChip(clock)
	chip.regs[ltc7871.RegMFRStatus] = ltc7871.StatusPGood

	sensors := &fakeSensors{values: map[sensorfacade.Element]float32{
		sensorfacade.VmonSolarInput: 48,
		sensorfacade.VmonLoad:       12,
	}}
	dev, pwmen := newTestDevice(t, chip, sensors, clock)
	ctx := tasks.WithOwner(context.Background(), tasks.OwnerControl)
	require.True(t, dev.Engage(ctx, 12, 10, 50))

	chip.regs[ltc7871.RegMFRFault] = ltc7871.FaultOverTemp
	dev.RunFaultMonitoring(ctx, 50)

	require.Equal(t, ltc7871.Faulted, dev.ModeNow())
	require.False(t, pwmen.Get())
}

func TestClearFaults_OnlyFromFaulted(t *testing.T) {
	clock := halsim.NewClock(0)
	chip := newVirtualChip(clock)
	sensors := &fakeSensors{}
	dev, _ := newTestDevice(t, chip, sensors, clock)
	ctx := tasks.WithOwner(context.Background(), tasks.OwnerControl)

	dev.ClearFaults(ctx) // no-op: driver starts Disabled
	require.Equal(t, ltc7871.Disabled, dev.ModeNow())
}
