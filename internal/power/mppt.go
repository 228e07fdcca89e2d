package power

// MPPT is the interface a maximum-power-point-tracking algorithm would
// drive the power stage through.
type MPPT interface {
	SetOutputCurrentLimit(current float32)
	SetOutputVoltageReference(voltage float32)
}

// MPPTStub is a no-op MPPT. No tracking algorithm ships yet; the stub
// keeps the interface's call sites real until one does.
type MPPTStub struct{}

func (MPPTStub) SetOutputCurrentLimit(float32)     {}
func (MPPTStub) SetOutputVoltageReference(float32) {}
