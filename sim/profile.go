package sim

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v2"

	"escore/motor"
	"escore/ramp"
)

var ErrBadAction = errors.New("action needs exactly one of set_speed, stop, slope")

// Action is one scripted command
type Action struct {
	At       time.Duration `yaml:"at"`
	SetSpeed *float32      `yaml:"set_speed,omitempty"`
	Stop     bool          `yaml:"stop,omitempty"`
	Slope    *float32      `yaml:"slope,omitempty"`
}

func (a Action) atUS() uint32 { return uint32(a.At.Microseconds()) }

func (a Action) apply(c *motor.Controller) {
	switch {
	case a.Stop:
		c.Stop()
	case a.SetSpeed != nil:
		c.SetSpeed(*a.SetSpeed)
	case a.Slope != nil:
		c.SetRampSlope(*a.Slope)
	}
}

func (a Action) validate() error {
	n := 0
	if a.Stop {
		n++
	}
	if a.SetSpeed != nil {
		n++
	}
	if a.Slope != nil {
		n++
	}
	if n != 1 || a.At < 0 {
		return ErrBadAction
	}
	return nil
}

func sortActions(in []Action) []Action {
	out := append([]Action(nil), in...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].At < out[j].At })
	return out
}

// MotorOverrides replace individual controller settings
type MotorOverrides struct {
	PolePairs         *uint8         `yaml:"pole_pairs"`
	LeadFactor        *float32       `yaml:"lead_factor"`
	HandoverMinEvents *uint8         `yaml:"handover_min_events"`
	HandoverMinHz     *float32       `yaml:"handover_min_hz"`
	RampSlope         *float32       `yaml:"ramp_slope"`
	AlignDuty         *float32       `yaml:"align_duty"`
	AlignDuration     *time.Duration `yaml:"align_duration"`
	StartRetries      *uint8         `yaml:"start_retries"`
	RampProfile       string         `yaml:"ramp_profile"`
	RampDuration      *time.Duration `yaml:"ramp_duration"`
	RampFreqStartHz   *float32       `yaml:"ramp_freq_start_hz"`
	RampFreqEndHz     *float32       `yaml:"ramp_freq_end_hz"`
	RampDutyStart     *float32       `yaml:"ramp_duty_start"`
	RampDutyEnd       *float32       `yaml:"ramp_duty_end"`
	PID               []float32      `yaml:"pid,flow"`
}

// Profile is a simulation scenario as read from YAML
type Profile struct {
	Name        string         `yaml:"name"`
	Duration    time.Duration  `yaml:"duration"`
	StepUS      uint32         `yaml:"step_us"`
	FastHz      uint32         `yaml:"fast_hz"`
	SlowHz      uint32         `yaml:"slow_hz"`
	RecordEvery time.Duration  `yaml:"record_every"`
	Plant       PlantParams    `yaml:"plant"`
	Motor       MotorOverrides `yaml:"motor"`
	Script      []Action       `yaml:"script"`
}

// ParseProfile decodes a YAML profile. Plant fields left out keep their
// defaults.
func ParseProfile(data []byte) (*Profile, error) {
	p := &Profile{Plant: DefaultPlantParams()}
	if err := yaml.UnmarshalStrict(data, p); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	if p.Duration <= 0 {
		p.Duration = 3 * time.Second
	}
	for i, a := range p.Script {
		if err := a.validate(); err != nil {
			return nil, fmt.Errorf("script entry %d: %w", i, err)
		}
	}
	if p.Motor.RampProfile != "" {
		if _, ok := ramp.ParseProfile(p.Motor.RampProfile); !ok {
			return nil, fmt.Errorf("unknown ramp profile %q", p.Motor.RampProfile)
		}
	}
	if n := len(p.Motor.PID); n != 0 && n != 3 {
		return nil, fmt.Errorf("pid needs [kp, ki, kd], got %d values", n)
	}
	return p, nil
}

// LoadProfile reads a YAML profile from a file
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}
	return ParseProfile(data)
}

// Options turns the profile into runner options
func (p *Profile) Options() Options {
	o := DefaultOptions()
	o.Plant = p.Plant
	if p.StepUS != 0 {
		o.StepUS = p.StepUS
	}
	if p.FastHz != 0 {
		o.FastHz = p.FastHz
	}
	if p.SlowHz != 0 {
		o.SlowHz = p.SlowHz
	}
	o.RecordEvery = p.RecordEvery
	o.Script = p.Script
	o.Motor = p.Motor.apply(o.Motor)
	o.Motor.PID.Dt = 1 / float32(o.SlowHz)
	return o
}

func (m MotorOverrides) apply(c motor.Config) motor.Config {
	if m.PolePairs != nil {
		c.PolePairs = *m.PolePairs
	}
	if m.LeadFactor != nil {
		c.LeadFactor = *m.LeadFactor
	}
	if m.HandoverMinEvents != nil {
		c.HandoverMinEvents = *m.HandoverMinEvents
	}
	if m.HandoverMinHz != nil {
		c.HandoverMinHz = *m.HandoverMinHz
	}
	if m.RampSlope != nil {
		c.RampSlope = *m.RampSlope
	}
	if m.AlignDuty != nil {
		c.AlignDuty = *m.AlignDuty
	}
	if m.AlignDuration != nil {
		c.AlignDuration = *m.AlignDuration
	}
	if m.StartRetries != nil {
		c.StartRetries = *m.StartRetries
	}
	if pr, ok := ramp.ParseProfile(m.RampProfile); ok {
		c.OpenLoop.Profile = pr
	}
	if m.RampDuration != nil {
		c.OpenLoop.Duration = *m.RampDuration
	}
	if m.RampFreqStartHz != nil {
		c.OpenLoop.FreqStartHz = *m.RampFreqStartHz
	}
	if m.RampFreqEndHz != nil {
		c.OpenLoop.FreqEndHz = *m.RampFreqEndHz
	}
	if m.RampDutyStart != nil {
		c.OpenLoop.DutyStart = *m.RampDutyStart
	}
	if m.RampDutyEnd != nil {
		c.OpenLoop.DutyEnd = *m.RampDutyEnd
	}
	if len(m.PID) == 3 {
		c.PID.Kp, c.PID.Ki, c.PID.Kd = m.PID[0], m.PID[1], m.PID[2]
	}
	return c
}
