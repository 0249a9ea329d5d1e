package core

// PeriodicTrigger is a fixed-rate tick source (a hardware timer interrupt on
// the target, a polled deadline in the simulator)
type PeriodicTrigger interface {
	Init() error
	RegisterCallback(fn func())
	Start()
	Stop()
	FrequencyHz() uint32
}

// PolledTrigger fires its callback from Poll once per period. It keeps
// phase across polls and resynchronises if polling stalls for more than a
// whole period.
type PolledTrigger struct {
	freqHz   uint32
	periodUS uint32
	next     uint32
	primed   bool
	running  bool
	callback func()
}

// NewPolledTrigger creates a trigger running at freqHz
func NewPolledTrigger(freqHz uint32) *PolledTrigger {
	if freqHz == 0 {
		freqHz = 1
	}
	p := 1000000 / freqHz
	if p == 0 {
		p = 1
	}
	return &PolledTrigger{freqHz: freqHz, periodUS: p}
}

func (t *PolledTrigger) Init() error                { return nil }
func (t *PolledTrigger) RegisterCallback(fn func()) { t.callback = fn }
func (t *PolledTrigger) FrequencyHz() uint32        { return t.freqHz }
func (t *PolledTrigger) PeriodUS() uint32           { return t.periodUS }

// Start arms the trigger; the first tick fires on the first Poll
func (t *PolledTrigger) Start() {
	t.running = true
	t.primed = false
}

// Stop disarms the trigger
func (t *PolledTrigger) Stop() {
	t.running = false
}

// Poll runs the callback if the next deadline has been reached. Returns
// true if it fired.
func (t *PolledTrigger) Poll(now uint32) bool {
	if !t.running || t.callback == nil {
		return false
	}
	if !t.primed {
		t.next = now
		t.primed = true
	}
	if !Reached(now, t.next) {
		return false
	}
	t.next += t.periodUS
	if Reached(now, t.next) {
		t.next = now + t.periodUS
	}
	t.callback()
	return true
}

// NextDue returns the next deadline once the trigger has fired at least once
func (t *PolledTrigger) NextDue() (uint32, bool) {
	return t.next, t.running && t.primed
}

// LoopStats describes a loop service's execution profile
type LoopStats struct {
	Ticks      uint32
	LastExecUS uint32
	AvgExecUS  float32
}

// LoopService runs a callback on a periodic trigger and profiles it
type LoopService struct {
	trigger  PeriodicTrigger
	clock    Clock
	callback func()
	stats    LoopStats
	running  bool
}

// NewLoopService wraps trigger; clock times each callback
func NewLoopService(trigger PeriodicTrigger, clock Clock) *LoopService {
	return &LoopService{trigger: trigger, clock: clock}
}

// Init initialises the underlying trigger
func (l *LoopService) Init() error {
	l.trigger.RegisterCallback(l.tick)
	return l.trigger.Init()
}

// RegisterCallback sets the function run every period
func (l *LoopService) RegisterCallback(fn func()) {
	l.callback = fn
}

// Start resets statistics and starts the trigger
func (l *LoopService) Start() {
	l.stats = LoopStats{}
	l.running = true
	l.trigger.Start()
}

// Stop stops the trigger
func (l *LoopService) Stop() {
	l.trigger.Stop()
	l.running = false
}

func (l *LoopService) Running() bool       { return l.running }
func (l *LoopService) FrequencyHz() uint32 { return l.trigger.FrequencyHz() }

// Stats returns a copy of the execution statistics
func (l *LoopService) Stats() LoopStats {
	state := EnterCritical()
	s := l.stats
	ExitCritical(state)
	return s
}

func (l *LoopService) tick() {
	if l.callback == nil {
		return
	}
	start := l.clock.NowUS()
	l.callback()
	exec := ElapsedUS(start, l.clock.NowUS())

	l.stats.Ticks++
	l.stats.LastExecUS = exec
	if l.stats.Ticks == 1 {
		l.stats.AvgExecUS = float32(exec)
	} else {
		l.stats.AvgExecUS = 0.9*l.stats.AvgExecUS + 0.1*float32(exec)
	}
}
