// Package sim runs the motor controller against a simulated BLDC motor
// and inverter in simulated time.
package sim

import (
	"math"
	"math/rand"

	"escore/core"
)

// PlantParams describe the simulated motor, bridge and sensing
type PlantParams struct {
	PolePairs   uint8   `yaml:"pole_pairs"`
	Resistance  float64 `yaml:"resistance"`   // phase resistance, ohm
	Ke          float64 `yaml:"ke"`           // phase back-EMF peak per electrical rad/s
	Inertia     float64 `yaml:"inertia"`      // kg m^2
	Viscous     float64 `yaml:"viscous"`      // N m per rad/s
	Load        float64 `yaml:"load"`         // constant friction torque, N m
	BusVoltage  float64 `yaml:"bus_voltage"`  // V
	Divider     float64 `yaml:"divider"`      // phase voltage sense ratio
	VRef        float64 `yaml:"vref"`         // ADC reference, V
	ADCMax      uint16  `yaml:"adc_max"`      // full-scale count
	CurrentGain float64 `yaml:"current_gain"` // ADC counts per A around mid-scale
	Noise       float64 `yaml:"noise"`        // sense noise amplitude at the ADC, V
	Seed        int64   `yaml:"seed"`
}

// DefaultPlantParams is a small 12V outrunner, about 1000 RPM/V
func DefaultPlantParams() PlantParams {
	return PlantParams{
		PolePairs:   6,
		Resistance:  0.5,
		Ke:          0.000916,
		Inertia:     2e-5,
		Viscous:     1e-6,
		Load:        0.002,
		BusVoltage:  12,
		Divider:     0.2,
		VRef:        3.3,
		ADCMax:      4095,
		CurrentGain: 100,
		Noise:       0,
		Seed:        1,
	}
}

// phase offsets of the back-EMF waveforms
var phaseShift = [core.PhaseCount]float64{0, 2 * math.Pi / 3, 4 * math.Pi / 3}

// Plant is a three-phase BLDC model with an ideal averaged bridge. It
// implements core.Inverter and core.MotorSensor.
type Plant struct {
	p   PlantParams
	rng *rand.Rand

	states  [core.PhaseCount]core.OutputState
	duties  core.Duties
	enabled bool
	arms    uint32

	theta float64 // electrical angle, rad
	omega float64 // mechanical speed, rad/s

	current [core.PhaseCount]float64
	torque  float64
	meas    core.Measurements
	fresh   bool
}

func NewPlant(p PlantParams) *Plant {
	if p.PolePairs == 0 {
		p.PolePairs = 1
	}
	pl := &Plant{p: p, rng: rand.New(rand.NewSource(p.Seed))}
	pl.sample()
	return pl
}

func (pl *Plant) SetOutputState(phase core.Phase, state core.OutputState) {
	if phase.Valid() {
		pl.states[phase] = state
	}
}

func (pl *Plant) SetAllDuties(d core.Duties) { pl.duties = d }
func (pl *Plant) Arm()                       { pl.arms++ }
func (pl *Plant) Enable()                    { pl.enabled = true }

func (pl *Plant) Disable() {
	pl.enabled = false
	for i := range pl.states {
		pl.states[i] = core.Floating
	}
}

// Latest returns the sample taken by the last Step
func (pl *Plant) Latest() (core.Measurements, bool) {
	ok := pl.fresh
	pl.fresh = false
	return pl.meas, ok
}

// SetRotor places the rotor at an electrical angle (degrees) and
// mechanical speed (RPM, positive clockwise)
func (pl *Plant) SetRotor(angleDeg, rpm float64) {
	pl.theta = wrapAngle(angleDeg * math.Pi / 180)
	pl.omega = rpm * 2 * math.Pi / 60
	pl.sample()
}

// AngleDeg is the electrical angle in [0, 360)
func (pl *Plant) AngleDeg() float64 { return pl.theta * 180 / math.Pi }

// RPM is the signed mechanical speed
func (pl *Plant) RPM() float64 { return pl.omega * 60 / (2 * math.Pi) }

func (pl *Plant) Torque() float64 { return pl.torque }

func (pl *Plant) Current(phase core.Phase) float64 { return pl.current[phase] }

func (pl *Plant) Enabled() bool { return pl.enabled }

func (pl *Plant) Arms() uint32 { return pl.arms }

// BackEMF returns the phase back-EMF in volts
func (pl *Plant) BackEMF(phase core.Phase) float64 {
	we := pl.omega * float64(pl.p.PolePairs)
	return pl.p.Ke * we * math.Sin(pl.theta-phaseShift[phase])
}

// drive returns the averaged terminal voltage of a driven phase
func (pl *Plant) drive(phase core.Phase) (float64, bool) {
	if !pl.enabled {
		return 0, false
	}
	d := float64(pl.duties[phase])
	switch pl.states[phase] {
	case core.PWMActive, core.PWMHighOnly:
		return d * pl.p.BusVoltage, true
	case core.ForcedHigh:
		return pl.p.BusVoltage, true
	case core.ForcedLow, core.PWMLowOnly:
		return 0, true
	}
	return 0, false
}

// Step advances the model by dt seconds and takes a new sample
func (pl *Plant) Step(dt float64) {
	var v, e [core.PhaseCount]float64
	var driven [core.PhaseCount]bool
	n := 0
	for ph := core.PhaseA; ph < core.PhaseCount; ph++ {
		e[ph] = pl.BackEMF(ph)
		v[ph], driven[ph] = pl.drive(ph)
		if driven[ph] {
			n++
		}
	}

	// star point from the driven phases; floating phases carry no current
	pl.torque = 0
	pl.current = [core.PhaseCount]float64{}
	if n >= 2 {
		var vn float64
		for ph := range v {
			if driven[ph] {
				vn += v[ph] - e[ph]
			}
		}
		vn /= float64(n)
		kt := pl.p.Ke * float64(pl.p.PolePairs)
		for ph := range v {
			if driven[ph] {
				i := (v[ph] - e[ph] - vn) / pl.p.Resistance
				pl.current[ph] = i
				pl.torque += kt * i * math.Sin(pl.theta-phaseShift[ph])
			}
		}
	}

	net := pl.torque - pl.p.Viscous*pl.omega
	switch {
	case pl.omega > 0:
		net -= pl.p.Load
	case pl.omega < 0:
		net += pl.p.Load
	case math.Abs(net) <= pl.p.Load:
		net = 0
	default:
		net -= math.Copysign(pl.p.Load, net)
	}
	prev := pl.omega
	pl.omega += net / pl.p.Inertia * dt
	// friction stops the rotor, never reverses it
	if prev != 0 && (prev > 0) != (pl.omega > 0) && math.Abs(pl.torque) <= pl.p.Load {
		pl.omega = 0
	}
	pl.theta = wrapAngle(pl.theta + pl.omega*float64(pl.p.PolePairs)*dt)

	pl.sample()
}

// sample converts the terminal voltages and currents to ADC counts
func (pl *Plant) sample() {
	var v, e [core.PhaseCount]float64
	var driven [core.PhaseCount]bool
	n := 0
	for ph := core.PhaseA; ph < core.PhaseCount; ph++ {
		e[ph] = pl.BackEMF(ph)
		v[ph], driven[ph] = pl.drive(ph)
		if driven[ph] {
			n++
		}
	}

	vn := pl.p.BusVoltage / 2
	if n >= 2 {
		vn = 0
		for ph := range v {
			if driven[ph] {
				vn += v[ph] - e[ph]
			}
		}
		vn /= float64(n)
	}

	for ph := core.PhaseA; ph < core.PhaseCount; ph++ {
		term := v[ph]
		if !driven[ph] {
			term = vn + e[ph]
		}
		pl.meas.PhaseVoltage[ph] = pl.counts(term*pl.p.Divider + pl.noise())
		mid := float64(pl.p.ADCMax) / 2
		pl.meas.PhaseCurrent[ph] = pl.clampCounts(mid + pl.current[ph]*pl.p.CurrentGain)
	}
	pl.meas.BusVoltage = pl.counts(pl.p.BusVoltage * pl.p.Divider)
	pl.fresh = true
}

func (pl *Plant) noise() float64 {
	if pl.p.Noise == 0 {
		return 0
	}
	return (pl.rng.Float64()*2 - 1) * pl.p.Noise
}

func (pl *Plant) counts(volts float64) uint16 {
	return pl.clampCounts(volts / pl.p.VRef * float64(pl.p.ADCMax))
}

func (pl *Plant) clampCounts(c float64) uint16 {
	if c <= 0 {
		return 0
	}
	if c >= float64(pl.p.ADCMax) {
		return pl.p.ADCMax
	}
	return uint16(c + 0.5)
}

func wrapAngle(a float64) float64 {
	a = math.Mod(a, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	return a
}
