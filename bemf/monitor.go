// Package bemf detects back-EMF zero crossings on the floating phase and
// turns them into a validated, filtered commutation period.
//
// The virtual neutral is the mean of the three phase voltages; the
// floating phase's deviation from it changes sign at each crossing.
// Successive crossing timestamps give the period, which is range-checked,
// low-pass filtered and gated by a lock/unlock hysteresis.
package bemf

import "escore/core"

// Config holds the monitor's thresholds
type Config struct {
	VRef      float32 // ADC reference voltage
	ADCMax    float32 // ADC full-scale count
	MinAmplV  float32 // crossings between two samples both below this are noise
	MinPeriod uint32  // µs
	MaxPeriod uint32  // µs
	LockCount uint8   // consecutive valid events to lock
	UnlockCnt uint8   // consecutive invalid events to unlock
	Alpha     float32 // period filter weight of the new sample
}

// DefaultConfig returns thresholds for a 12-bit ADC at 3.3V
func DefaultConfig() Config {
	return Config{
		VRef:      3.3,
		ADCMax:    4095,
		MinAmplV:  0.005,
		MinPeriod: 100,
		MaxPeriod: 50000,
		LockCount: 2,
		UnlockCnt: 5,
		Alpha:     0.2,
	}
}

// Status is the published result of the last processed sample
type Status struct {
	ZeroCrossDetected bool       // a new validated crossing, until ClearFlag
	PeriodUS          float32    // filtered crossing-to-crossing period
	FloatingPhase     core.Phase // phase of the last crossing
	Valid             bool       // lock state
}

// Monitor is the zero-cross detector. Process is called from the fast loop;
// Status may be read from any context.
type Monitor struct {
	cfg    Config
	sensor core.MotorSensor
	clock  core.Clock

	prevBemf [core.PhaseCount]float32
	primed   [core.PhaseCount]bool

	lastZC        uint32
	bootstrapped  bool
	filterSeeded  bool
	filteredUS    float32
	validStreak   uint8
	invalidStreak uint8
	locked        bool

	status Status
}

// New creates a monitor reading sensor and timestamping with clock
func New(sensor core.MotorSensor, clock core.Clock, cfg Config) *Monitor {
	m := &Monitor{sensor: sensor, clock: clock, cfg: cfg}
	m.Init()
	return m
}

// Init brings the monitor to its reset state
func (m *Monitor) Init() {
	m.Reset()
}

// Reset clears history, filter and lock. The next crossing only sets the
// timestamp baseline.
func (m *Monitor) Reset() {
	state := core.EnterCritical()
	m.prevBemf = [core.PhaseCount]float32{}
	m.primed = [core.PhaseCount]bool{}
	m.lastZC = 0
	m.bootstrapped = false
	m.filterSeeded = false
	m.filteredUS = 0
	m.validStreak = 0
	m.invalidStreak = 0
	m.locked = false
	m.status = Status{}
	core.ExitCritical(state)
}

func (m *Monitor) toVolts(raw uint16) float32 {
	return float32(raw) * m.cfg.VRef / m.cfg.ADCMax
}

// Process evaluates the latest sample for the given floating phase
func (m *Monitor) Process(floating core.Phase) {
	if !floating.Valid() {
		return
	}
	meas, ok := m.sensor.Latest()
	if !ok {
		return
	}
	now := m.clock.NowUS()

	va := m.toVolts(meas.PhaseVoltage[core.PhaseA])
	vb := m.toVolts(meas.PhaseVoltage[core.PhaseB])
	vc := m.toVolts(meas.PhaseVoltage[core.PhaseC])
	neutral := (va + vb + vc) / 3

	bemf := m.toVolts(meas.PhaseVoltage[floating]) - neutral

	if !m.primed[floating] {
		m.primed[floating] = true
		m.prevBemf[floating] = bemf
		return
	}
	prev := m.prevBemf[floating]
	m.prevBemf[floating] = bemf

	crossed := (bemf >= 0 && prev < 0) || (bemf < 0 && prev >= 0)
	if !crossed {
		return
	}
	if abs(bemf) < m.cfg.MinAmplV && abs(prev) < m.cfg.MinAmplV {
		return
	}

	m.onCrossing(floating, now)
}

func (m *Monitor) onCrossing(phase core.Phase, now uint32) {
	state := core.EnterCritical()
	defer core.ExitCritical(state)

	if !m.bootstrapped {
		m.bootstrapped = true
		m.lastZC = now
		return
	}

	period := core.ElapsedUS(m.lastZC, now)
	m.lastZC = now
	m.status.FloatingPhase = phase

	if period < m.cfg.MinPeriod || period > m.cfg.MaxPeriod {
		m.validStreak = 0
		if m.invalidStreak < 255 {
			m.invalidStreak++
		}
		if m.invalidStreak >= m.cfg.UnlockCnt {
			m.locked = false
		}
		m.status.ZeroCrossDetected = false
		m.status.Valid = m.locked
		return
	}

	m.invalidStreak = 0
	if m.validStreak < 255 {
		m.validStreak++
	}
	if m.validStreak >= m.cfg.LockCount {
		m.locked = true
	}

	p := float32(period)
	if !m.filterSeeded {
		m.filteredUS = p
		m.filterSeeded = true
	} else {
		m.filteredUS = m.cfg.Alpha*p + (1-m.cfg.Alpha)*m.filteredUS
	}

	m.status.ZeroCrossDetected = true
	m.status.PeriodUS = m.filteredUS
	m.status.Valid = m.locked
}

// Status returns a copy of the current status
func (m *Monitor) Status() Status {
	state := core.EnterCritical()
	s := m.status
	core.ExitCritical(state)
	return s
}

// ClearFlag acknowledges the last crossing
func (m *Monitor) ClearFlag() {
	state := core.EnterCritical()
	m.status.ZeroCrossDetected = false
	core.ExitCritical(state)
}

// LastZeroCrossUS returns the timestamp of the most recent crossing
func (m *Monitor) LastZeroCrossUS() uint32 {
	state := core.EnterCritical()
	t := m.lastZC
	core.ExitCritical(state)
	return t
}

func abs(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
