// Package pdi implements a typed key/value store shadowed over NVM with a
// RAM cache, per-key write and sanitize callbacks, and two durability
// classes.
//
// Callbacks are plain function values stored directly on each Entry, not
// interfaces: a per-entry tagged union of behaviors beats an inheritance
// hierarchy here and keeps the hot path allocation-free.
package pdi

import (
	"sync"

	"ichnaea/hal"
	"ichnaea/internal/panicrouter"
)

// Durability controls whether an entry's writes are synced to NVM.
type Durability int

const (
	// Persistent entries are synced from NVM at insertion and their
	// writes enqueue an NVM sync.
	Persistent Durability = iota
	// Volatile entries never touch NVM; writes only update the RAM cache.
	Volatile
)

// OnWriteFunc runs synchronously on the writing task's stack immediately
// after a write commits to the RAM cache. It may write other keys; it
// must not write the same key it was invoked for. That case is left
// unguarded rather than silently turned into a safe-but-surprising retry.
type OnWriteFunc func(db *DB, key uint32)

// SanitizeFunc clamps/corrects data in place before it is committed to the
// RAM cache. It must be idempotent: sanitize(sanitize(x)) == sanitize(x).
type SanitizeFunc func(db *DB, key uint32, data []byte)

// Entry is a single PDI descriptor. HashKey must be unique across the
// database; Insert is idempotent by key.
type Entry struct {
	HashKey    uint32
	Size       int
	Durability Durability
	OnWrite    OnWriteFunc
	Sanitize   SanitizeFunc
	Default    []byte // initial RAM value (zero-padded/truncated to Size); returned as-is by reads while degraded

	ram    []byte
	nvmOff uint32 // valid only for Persistent entries
}

// DB is a single owning context for a PDI instance. State lives on the
// struct, not in package globals, so tests can construct independent
// instances.
type DB struct {
	mu       sync.Mutex
	nvm      hal.NVM
	router   *panicrouter.Router
	entries  map[uint32]*Entry
	order    []uint32 // insertion order, for deterministic offset allocation
	pending  map[uint32]bool
	degraded bool
	nextOff  uint32
}

// New returns an empty database backed by nvm. router may be nil; if set,
// a cold-start recovery failure that leaves the database permanently
// degraded raises panicrouter.SystemInitFail on it.
func New(nvm hal.NVM, router *panicrouter.Router) *DB {
	return &DB{
		nvm:     nvm,
		router:  router,
		entries: make(map[uint32]*Entry),
		pending: make(map[uint32]bool),
		nextOff: hal.PDIPartitionOffset,
	}
}

// Degraded reports whether a prior NVM cold-start recovery failed
// permanently: reads now return defaults and writes land in RAM only.
func (d *DB) Degraded() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.degraded
}

// Insert registers entry. It is idempotent by HashKey: re-inserting the
// same key is a no-op. If entry is Persistent and its key already has a
// valid record on NVM, that record's payload is pulled into the RAM
// cache immediately; otherwise the entry keeps its Default bytes. A
// record is only considered valid when its stored header matches the
// entry's key and size, so an erased or never-written region never
// shadows a configured default.
func (d *DB) Insert(entry Entry) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.entries[entry.HashKey]; exists {
		return
	}

	e := entry
	e.ram = make([]byte, e.Size)
	if len(e.Default) > 0 {
		copy(e.ram, e.Default)
	}

	if e.Durability == Persistent {
		e.nvmOff = d.nextOff
		d.nextOff += uint32(wireHeaderSize + e.Size)
		if !d.degraded {
			rec := make([]byte, wireHeaderSize+e.Size)
			if err := d.nvm.Read(e.nvmOff, rec); err == nil {
				key, payload, ok := parseRecord(rec)
				if ok && key == e.HashKey && len(payload) == e.Size {
					copy(e.ram, payload)
				}
			}
		}
	}

	d.entries[entry.HashKey] = &e
	d.order = append(d.order, entry.HashKey)
}

// Bind attaches sanitize/on_write behaviors to an already-registered
// key, replacing any previous ones. Boot-time wiring uses this to close
// the loop between configuration entries and the components that must
// react to their writes, since those components are constructed after
// the database is seeded. Either function may be nil.
func (d *DB) Bind(key uint32, sanitize SanitizeFunc, onWrite OnWriteFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[key]
	if !ok {
		return
	}
	e.Sanitize = sanitize
	e.OnWrite = onWrite
}

// Exists reports whether key has been registered.
func (d *DB) Exists(key uint32) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.entries[key]
	return ok
}

// Read copies up to n bytes of key's RAM cache into buf and returns the
// number of bytes copied. An unregistered key returns 0. While degraded,
// reads return the entry's configured default instead of live data.
func (d *DB) Read(key uint32, buf []byte, n int) int {
	d.mu.Lock()
	e, ok := d.entries[key]
	degraded := d.degraded
	d.mu.Unlock()
	if !ok {
		return 0
	}

	// OnWrite callbacks may run on another task concurrently with this
	// read, so take a private snapshot under the lock rather than handing
	// out e.ram directly.
	d.mu.Lock()
	var src []byte
	if degraded && len(e.Default) > 0 {
		src = e.Default
	} else {
		src = e.ram
	}
	cpy := make([]byte, len(src))
	copy(cpy, src)
	d.mu.Unlock()

	if n > len(cpy) {
		n = len(cpy)
	}
	if n > len(buf) {
		n = len(buf)
	}
	copy(buf[:n], cpy[:n])
	return n
}

// Write sanitizes buf[:n] in place against key's entry, commits the
// result into the RAM cache, invokes the key's OnWrite callback (if any)
// outside the database lock so it may freely write other keys, and for
// Persistent entries enqueues an NVM sync. It returns the number of
// bytes written. An unregistered key returns 0.
func (d *DB) Write(key uint32, buf []byte, n int) int {
	d.mu.Lock()
	e, ok := d.entries[key]
	if !ok {
		d.mu.Unlock()
		return 0
	}
	if n > len(buf) {
		n = len(buf)
	}
	if n > e.Size {
		n = e.Size
	}
	data := make([]byte, n)
	copy(data, buf[:n])
	sanitize := e.Sanitize
	onWrite := e.OnWrite
	persistent := e.Durability == Persistent
	d.mu.Unlock()

	if sanitize != nil {
		sanitize(d, key, data)
	}

	d.mu.Lock()
	copy(e.ram, data)
	if n < e.Size {
		// Zero any tail not covered by this write, matching a
		// memcpy-sized fixed-size entry rather than a growable blob.
		for i := n; i < e.Size; i++ {
			e.ram[i] = 0
		}
	}
	if persistent && !d.degraded {
		d.pending[key] = true
	}
	d.mu.Unlock()

	if onWrite != nil {
		onWrite(d, key)
	}
	return n
}

// Flush forces any pending persistent writes to NVM. While degraded it is
// a no-op: writes already landed in RAM only.
func (d *DB) Flush() {
	d.mu.Lock()
	if d.degraded {
		d.pending = make(map[uint32]bool)
		d.mu.Unlock()
		return
	}
	toSync := make([]uint32, 0, len(d.pending))
	for k := range d.pending {
		toSync = append(toSync, k)
	}
	d.pending = make(map[uint32]bool)
	d.mu.Unlock()

	for _, key := range toSync {
		d.mu.Lock()
		e, ok := d.entries[key]
		if !ok {
			d.mu.Unlock()
			continue
		}
		rec := buildRecord(key, e.ram)
		off := e.nvmOff
		d.mu.Unlock()

		_ = d.nvm.Write(off, rec)
	}
}
