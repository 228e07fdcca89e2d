package pdi

import (
	"ichnaea/hal"
	"ichnaea/internal/panicrouter"
)

// eraseStride is the stride used while erasing the PDI partition during
// cold-start recovery.
const eraseStride = 64 * 1024

// Open performs the database's NVM bring-up: a smoke-test read of the
// partition header. If it fails, Open erases the whole partition in
// 64KiB strides and retries the read once; if that still fails the
// database is marked permanently degraded — reads return defaults,
// writes land in RAM only — and, if a router was supplied, a fault is
// raised.
func (d *DB) Open() {
	probe := make([]byte, 4)
	if d.nvm.Read(hal.PDIPartitionOffset, probe) == nil {
		return
	}

	for off := uint32(hal.PDIPartitionOffset); off < hal.PDIPartitionOffset+hal.PDIPartitionSize; off += eraseStride {
		_ = d.nvm.Erase(off, eraseStride)
	}

	if d.nvm.Read(hal.PDIPartitionOffset, probe) == nil {
		return
	}

	d.mu.Lock()
	d.degraded = true
	d.mu.Unlock()

	if d.router != nil {
		d.router.Throw(panicrouter.SystemInitFail)
	}
}
