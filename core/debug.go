package core

// LogWriter receives one formatted log line
type LogWriter func(string)

// LogLevel filters log output
type LogLevel uint8

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelOff
)

// TimingEvent captures a control event for post-mortem analysis
type TimingEvent struct {
	Kind   uint8
	Clock  uint32
	Value1 uint32
	Value2 uint32
}

// Event kind codes
const (
	EvtZeroCross      = 1 // v1=period µs, v2=phase
	EvtCommutate      = 2 // v1=step, v2=duty per-mille
	EvtHandoverArm    = 3 // v1=delay µs, v2=captured step
	EvtHandover       = 4 // v1=step, v2=period µs
	EvtRampStep       = 5 // v1=step, v2=freq Hz
	EvtRampDone       = 6
	EvtAlignDone      = 7
	EvtReverse        = 8 // v1=new direction
	EvtStartupFailure = 9 // v1=attempt
	EvtSchedBusy      = 10
)

const EventRingSize = 32

var (
	logWrite LogWriter = func(string) {}
	logLevel           = LevelInfo

	eventRing     [EventRingSize]TimingEvent
	eventRingHead uint8

	logChan chan string
)

// SetLogWriter sets the platform output (USB CDC, UART, stdout)
func SetLogWriter(w LogWriter) {
	if w == nil {
		w = func(string) {}
	}
	logWrite = w
}

// SetLogLevel sets the minimum level that is written
func SetLogLevel(l LogLevel) {
	logLevel = l
}

// InitAsyncLog routes log lines through a buffered channel drained by a
// background goroutine, so control paths never block on slow output
func InitAsyncLog() {
	logChan = make(chan string, 16)
	go func() {
		for msg := range logChan {
			logWrite(msg)
		}
	}()
}

func emit(level LogLevel, prefix, msg string) {
	if level < logLevel {
		return
	}
	line := prefix + msg
	if logChan != nil {
		select {
		case logChan <- line:
		default:
			// full, drop
		}
		return
	}
	logWrite(line)
}

func LogDebug(msg string) { emit(LevelDebug, "[DEBUG] ", msg) }
func LogInfo(msg string)  { emit(LevelInfo, "[INFO] ", msg) }
func LogWarn(msg string)  { emit(LevelWarn, "[WARN] ", msg) }

// RecordEvent stores an event in the ring. Never blocks.
func RecordEvent(kind uint8, clock, value1, value2 uint32) {
	state := EnterCritical()
	idx := eventRingHead
	eventRing[idx] = TimingEvent{Kind: kind, Clock: clock, Value1: value1, Value2: value2}
	eventRingHead = (idx + 1) % EventRingSize
	ExitCritical(state)
}

// EventRing returns the recorded events, oldest first
func EventRing() []TimingEvent {
	state := EnterCritical()
	defer ExitCritical(state)

	out := make([]TimingEvent, 0, EventRingSize)
	for i := uint8(0); i < EventRingSize; i++ {
		evt := eventRing[(eventRingHead+i)%EventRingSize]
		if evt.Kind == 0 {
			continue
		}
		out = append(out, evt)
	}
	return out
}

// EventName returns a short name for an event kind
func EventName(kind uint8) string {
	switch kind {
	case EvtZeroCross:
		return "ZC"
	case EvtCommutate:
		return "COMM"
	case EvtHandoverArm:
		return "HANDOVER_ARM"
	case EvtHandover:
		return "HANDOVER"
	case EvtRampStep:
		return "RAMP_STEP"
	case EvtRampDone:
		return "RAMP_DONE"
	case EvtAlignDone:
		return "ALIGN_DONE"
	case EvtReverse:
		return "REVERSE"
	case EvtStartupFailure:
		return "STARTUP_FAIL"
	case EvtSchedBusy:
		return "SCHED_BUSY!"
	default:
		return "UNKNOWN"
	}
}

// DumpEventRing writes the ring through the log writer, bypassing the level
// filter. Call it after a fault or from a debug command.
func DumpEventRing() {
	logWrite("[TIMING] === Event Ring Dump ===")
	for _, evt := range EventRing() {
		logWrite("[TIMING] " + EventName(evt.Kind) +
			" clock=" + Utoa(evt.Clock) +
			" v1=" + Utoa(evt.Value1) +
			" v2=" + Utoa(evt.Value2))
	}
	logWrite("[TIMING] === End Dump ===")
}

// ClearEventRing empties the ring
func ClearEventRing() {
	state := EnterCritical()
	for i := range eventRing {
		eventRing[i] = TimingEvent{}
	}
	eventRingHead = 0
	ExitCritical(state)
}
