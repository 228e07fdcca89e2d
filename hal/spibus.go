package hal

import "tinygo.org/x/drivers"

// SPIBus lifts a machine-level SPI peripheral plus per-port chip-select
// lines into the port-routed SPI this core consumes. drivers.SPI is the
// interface every TinyGo machine.SPI already satisfies, so board bringup
// hands the configured peripheral straight in; ports without a CS entry
// transfer without chip-select bracketing.
type SPIBus struct {
	Bus drivers.SPI
	CS  []GPIO // indexed by port; active low
}

func (b *SPIBus) Transfer(port int, tx, rx []byte) error {
	if port >= 0 && port < len(b.CS) && b.CS[port] != nil {
		b.CS[port].Set(false)
		defer b.CS[port].Set(true)
	}
	return b.Bus.Tx(tx, rx)
}
