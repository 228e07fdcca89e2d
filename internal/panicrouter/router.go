// Package panicrouter implements a fault-code-to-handler table: a
// fixed-size array of plain function values, sealed after boot, plus a
// single last-error latch. It generalizes the errcode package's
// code-as-identifier idiom from a string newtype to a numeric FaultCode
// whose handler can run recovery logic or force the system into reset.
package panicrouter

import "sync"

// Handler reacts to a fault. Returning true means the condition was
// recovered and execution may continue; false means the system is
// expected to reset.
type Handler func(code FaultCode) bool

// Router holds one handler slot per FaultCode plus the last-error latch.
// Register must be called only during initialization, before any task
// observes the router; after Seal is called the handler table is
// read-only.
type Router struct {
	mu       sync.Mutex
	handlers [numFaultCodes]Handler
	def      Handler
	sealed   bool

	lastCode FaultCode
	trap     func(FaultCode)
}

// New returns a Router whose default handler reboots the system via sys.
func New(sys interface{ WarmReset() }) *Router {
	r := &Router{}
	r.def = func(FaultCode) bool {
		if sys != nil {
			sys.WarmReset()
		}
		return false
	}
	return r
}

// SetTrap installs an optional breakpoint/debug trap invoked before the
// handler runs. Pass nil to disable. Must be called before Seal.
func (r *Router) SetTrap(trap func(FaultCode)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return
	}
	r.trap = trap
}

// Register installs (or replaces) the handler for code. Must be called
// before Seal; calls after sealing are no-ops.
func (r *Router) Register(code FaultCode, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed || code < 0 || int(code) >= len(r.handlers) {
		return
	}
	r.handlers[code] = h
}

// Seal freezes the handler table. Call once, after all Register calls
// complete and before any task is started.
func (r *Router) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Throw latches code as the last error, optionally traps, and dispatches
// to the registered handler (or the default handler if none is
// registered). It returns whatever the handler returns: true means
// recovered.
func (r *Router) Throw(code FaultCode) bool {
	r.mu.Lock()
	r.lastCode = code
	h := r.handlers[code]
	trap := r.trap
	def := r.def
	r.mu.Unlock()

	if trap != nil {
		trap(code)
	}
	if h != nil {
		return h(code)
	}
	if def != nil {
		return def(code)
	}
	return false
}

// Assert throws code if pred is false. The caller should treat a false
// return (not recovered) as fatal.
func (r *Router) Assert(pred bool, code FaultCode) bool {
	if pred {
		return true
	}
	return r.Throw(code)
}

// LastError returns the most recently latched fault code. The latch
// persists across queries and is never cleared automatically.
func (r *Router) LastError() FaultCode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastCode
}
