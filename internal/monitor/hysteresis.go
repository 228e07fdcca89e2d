package monitor

// Event is what a single hysteresis step produces: a publishable
// validity transition, or nothing.
type Event int

const (
	NoChange Event = iota
	OutOfRange
	InRange
)

// hysteresis is the per-monitor debounce state. Zero value is the
// correct post-configuration-refresh state: invalid, not latched, no
// debounce window in progress.
type hysteresis struct {
	valid        bool
	oorLatched   bool
	oorEnterTime uint64
	oorExitTime  uint64
}

// step runs one evaluation of the entry/exit hysteresis state machine.
// The entry check runs before the exit check; both debounce timers are
// cleared whenever the opposite transition (or no transition at all)
// occurs, so a brief excursion inside a debounce window restarts it
// rather than accumulating toward it.
func (h hysteresis) step(isOOR bool, now, enterDelayMs, exitDelayMs uint64) (hysteresis, Event) {
	event := NoChange

	switch {
	case isOOR:
		h.oorExitTime = 0
		if h.oorEnterTime == 0 {
			h.oorEnterTime = now
		}
		windowMet := now-h.oorEnterTime >= enterDelayMs
		switch {
		case h.valid && windowMet:
			h.valid = false
			h.oorLatched = true
			event = OutOfRange
		case !h.valid && !h.oorLatched && windowMet:
			h.oorLatched = true
			event = OutOfRange
		}

	case !h.valid:
		h.oorEnterTime = 0
		if h.oorExitTime == 0 {
			h.oorExitTime = now
		}
		if now-h.oorExitTime >= exitDelayMs {
			h.valid = true
			h.oorLatched = false
			event = InRange
		}

	default:
		h.oorEnterTime = 0
		h.oorExitTime = 0
	}

	return h, event
}
