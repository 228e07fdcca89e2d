// Package ltc7871 is a register-level driver for the controller IC
// behind the power stage: a three-byte SPI frame with a PEC trailer,
// write-protected DAC registers, and an engage/disengage state machine
// built on top of them.
package ltc7871

// Register addresses. Anything below RegChipCtrl is read-only.
const (
	RegMFRFault      = 0x01
	RegMFROCFault    = 0x02
	RegMFRNOCFault   = 0x03
	RegMFRStatus     = 0x04
	RegMFRConfig1    = 0x05
	RegMFRConfig2    = 0x06
	RegChipCtrl      = 0x07
	RegIdacVLow      = 0x08
	RegIdacVHigh     = 0x09
	RegIdacSetCur    = 0x0A
	RegSSFM          = 0x0B
)

// MFR_FAULT bits.
const (
	FaultOverTemp = 1 << 0
	FaultVrefBad  = 1 << 1
	FaultV5UV     = 1 << 2
	FaultDrvccUV  = 1 << 3
	FaultVHighUV  = 1 << 4
	FaultVHighOV  = 1 << 5
	FaultVLowOV   = 1 << 6
)

// MFR_STATUS bits.
const (
	StatusPGood      = 1 << 0
	StatusMaxCurrent = 1 << 1
	StatusSSDone     = 1 << 2
)

// MFR_CONFIG1 fields.
const (
	Config1IlimSetMask  = 0x07
	Config1IlimSet10mV  = 0
	Config1IlimSet20mV  = 1
	Config1IlimSet30mV  = 2
	Config1IlimSet40mV  = 3
	Config1IlimSet50mV  = 4
	Config1DrvccSetMask = 0x03 << 3
	Config1DrvccSet10V  = 2 << 3
)

// MFR_CONFIG2 fields.
const (
	Config2BuckBoostMask = 1 << 0
	Config2BuckBoostBuck = 1 << 0
	Config2SprdMask      = 1 << 1
	Config2HizMask       = 1 << 2
	Config2DcmMask       = 1 << 3
	Config2BurstMask     = 1 << 4
)

// MFR_CHIP_CTRL fields.
const (
	ChipCtrlWPMask     = 1 << 0
	ChipCtrlWPEnable   = 1 << 0
	ChipCtrlResetMask  = 1 << 1
	ChipCtrlCMLMask    = 1 << 2
	ChipCtrlCMLFault   = 1 << 2
)

// MFR_IDAC_VLOW/VHIGH fields.
const (
	IdacVMask     = 0x7F
	IdacVSignMask = 1 << 6
)

// MFR_IDAC_SETCUR mask.
const IdacSetCurMask = 0x1F
