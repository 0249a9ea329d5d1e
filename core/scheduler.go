package core

// EventKind tags what a one-shot event does when it expires
type EventKind uint8

const (
	EventNone EventKind = iota
	EventCommutation
	EventHandover
	EventRampStep
	EventAlignDone
)

func (k EventKind) String() string {
	switch k {
	case EventCommutation:
		return "commutation"
	case EventHandover:
		return "handover"
	case EventRampStep:
		return "ramp_step"
	case EventAlignDone:
		return "align_done"
	default:
		return "none"
	}
}

// OneShot is a single-slot timer. At most one event is outstanding; a new
// Start fails until the current event has expired or been cancelled.
//
// Expire and Cancel run under the same critical section, so once Cancel
// returns the cancelled event can no longer be delivered.
type OneShot struct {
	clock  Clock
	due    uint32
	kind   EventKind
	active bool
}

// NewOneShot creates an idle slot timed by clock
func NewOneShot(clock Clock) *OneShot {
	return &OneShot{clock: clock}
}

// Start arms the slot to fire kind after delayUS. Returns false if an event
// is already pending.
func (s *OneShot) Start(delayUS uint32, kind EventKind) bool {
	state := EnterCritical()
	defer ExitCritical(state)

	if s.active {
		return false
	}
	s.due = s.clock.NowUS() + delayUS
	s.kind = kind
	s.active = true
	return true
}

// Cancel drops the pending event, if any
func (s *OneShot) Cancel() {
	state := EnterCritical()
	s.active = false
	s.kind = EventNone
	ExitCritical(state)
}

// IsActive reports whether an event is pending
func (s *OneShot) IsActive() bool {
	state := EnterCritical()
	active := s.active
	ExitCritical(state)
	return active
}

// Pending returns the pending event kind and its due time
func (s *OneShot) Pending() (EventKind, uint32, bool) {
	state := EnterCritical()
	defer ExitCritical(state)
	if !s.active {
		return EventNone, 0, false
	}
	return s.kind, s.due, true
}

// Expire returns the pending event if it is due at now. The slot is free
// again before the caller handles the event, so the handler may re-arm it.
func (s *OneShot) Expire(now uint32) (EventKind, bool) {
	state := EnterCritical()
	defer ExitCritical(state)

	if !s.active || !Reached(now, s.due) {
		return EventNone, false
	}
	kind := s.kind
	s.active = false
	s.kind = EventNone
	return kind, true
}
