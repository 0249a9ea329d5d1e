// Package config loads the ESC's JSON configuration. Fields left at zero
// take the built-in defaults.
package config

import (
	"encoding/json"
	"fmt"
	"time"

	"escore/bemf"
	"escore/motor"
	"escore/ramp"
)

// File is the top-level configuration document
type File struct {
	Board   BoardConfig   `json:"board"`
	Loops   LoopConfig    `json:"loops"`
	Motor   MotorConfig   `json:"motor"`
	Startup StartupConfig `json:"startup"`
	Speed   SpeedConfig   `json:"speed"`
	BEMF    BEMFConfig    `json:"bemf"`
}

// BoardConfig maps the inverter and sensing onto pins
type BoardConfig struct {
	PhasePins  [3]string `json:"phase_pins"`  // IN (PWM) inputs A, B, C
	EnablePins [3]string `json:"enable_pins"` // per-phase gate enables
	SensePins  [3]string `json:"sense_pins"`  // phase voltage dividers
	StrobePin  string    `json:"strobe_pin"`  // PIO commutation strobe, empty to disable
	LEDPin     string    `json:"led_pin"`     // WS2812 status LED, empty to disable
	PWMFreqHz  uint32    `json:"pwm_freq_hz"`
}

// LoopConfig sets the two control rates
type LoopConfig struct {
	FastHz uint32 `json:"fast_hz"`
	SlowHz uint32 `json:"slow_hz"`
}

// MotorConfig describes the motor and commutation timing
type MotorConfig struct {
	PolePairs      uint8   `json:"pole_pairs"`
	LeadFactor     float64 `json:"lead_factor"`
	CommDelayMinUS uint32  `json:"comm_delay_min_us"`
	CommDelayMaxUS uint32  `json:"comm_delay_max_us"`
}

// StartupConfig is alignment, ramp and handover
type StartupConfig struct {
	AlignDuty         float64 `json:"align_duty"`
	AlignMS           uint32  `json:"align_ms"`
	DutyStart         float64 `json:"duty_start"`
	DutyEnd           float64 `json:"duty_end"`
	FreqStartHz       float64 `json:"freq_start_hz"`
	FreqEndHz         float64 `json:"freq_end_hz"`
	RampMS            uint32  `json:"ramp_ms"`
	Profile           string  `json:"profile"`
	HandoverMinEvents uint8   `json:"handover_min_events"`
	HandoverMinHz     float64 `json:"handover_min_hz"`
	HandoverMinDuty   float64 `json:"handover_min_duty"`
	Retries           *uint8  `json:"retries,omitempty"`
}

// SpeedConfig is the speed loop
type SpeedConfig struct {
	PID             [3]float64 `json:"pid"` // kp, ki, kd
	OutMin          float64    `json:"out_min"`
	OutMax          float64    `json:"out_max"`
	IntegratorLimit float64    `json:"integrator_limit"`
	RampSlope       float64    `json:"ramp_slope"`
	ReverseBelowRPM float64    `json:"reverse_below_rpm"`
	ReportFloorRPM  float64    `json:"report_floor_rpm"`
}

// BEMFConfig is the zero-cross monitor
type BEMFConfig struct {
	VRef        float64 `json:"vref"`
	ADCMax      float64 `json:"adc_max"`
	MinAmplV    float64 `json:"min_ampl_v"`
	MinPeriodUS uint32  `json:"min_period_us"`
	MaxPeriodUS uint32  `json:"max_period_us"`
	LockCount   uint8   `json:"lock_count"`
	UnlockCount uint8   `json:"unlock_count"`
	Alpha       float64 `json:"alpha"`
}

// LoadConfig parses a JSON document and fills in defaults
func LoadConfig(jsonData []byte) (*File, error) {
	var cfg File
	if err := json.Unmarshal(jsonData, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration with every field defaulted
func Default() *File {
	var cfg File
	applyDefaults(&cfg)
	return &cfg
}

func applyDefaults(cfg *File) {
	d := motor.DefaultConfig()

	b := &cfg.Board
	if b.PhasePins == [3]string{} {
		b.PhasePins = [3]string{"gpio0", "gpio2", "gpio4"}
	}
	if b.EnablePins == [3]string{} {
		b.EnablePins = [3]string{"gpio1", "gpio3", "gpio5"}
	}
	if b.SensePins == [3]string{} {
		b.SensePins = [3]string{"ADC0", "ADC1", "ADC2"}
	}
	if b.PWMFreqHz == 0 {
		b.PWMFreqHz = 24000
	}

	if cfg.Loops.FastHz == 0 {
		cfg.Loops.FastHz = 24000
	}
	if cfg.Loops.SlowHz == 0 {
		cfg.Loops.SlowHz = 1000
	}

	m := &cfg.Motor
	defU8(&m.PolePairs, d.PolePairs)
	defF(&m.LeadFactor, d.LeadFactor)
	defU32(&m.CommDelayMinUS, d.CommDelayMinUS)
	defU32(&m.CommDelayMaxUS, d.CommDelayMaxUS)

	s := &cfg.Startup
	defF(&s.AlignDuty, d.AlignDuty)
	defU32(&s.AlignMS, uint32(d.AlignDuration/time.Millisecond))
	defF(&s.DutyStart, d.OpenLoop.DutyStart)
	defF(&s.DutyEnd, d.OpenLoop.DutyEnd)
	defF(&s.FreqStartHz, d.OpenLoop.FreqStartHz)
	defF(&s.FreqEndHz, d.OpenLoop.FreqEndHz)
	defU32(&s.RampMS, uint32(d.OpenLoop.Duration/time.Millisecond))
	if s.Profile == "" {
		s.Profile = d.OpenLoop.Profile.String()
	}
	defU8(&s.HandoverMinEvents, d.HandoverMinEvents)
	defF(&s.HandoverMinHz, d.HandoverMinHz)
	defF(&s.HandoverMinDuty, d.HandoverMinDuty)
	if s.Retries == nil {
		r := d.StartRetries
		s.Retries = &r
	}

	sp := &cfg.Speed
	if sp.PID == [3]float64{} {
		sp.PID = [3]float64{float64(d.PID.Kp), float64(d.PID.Ki), float64(d.PID.Kd)}
	}
	defF(&sp.OutMin, d.PID.OutMin)
	defF(&sp.OutMax, d.PID.OutMax)
	defF(&sp.IntegratorLimit, d.PID.IntegratorLimit)
	defF(&sp.RampSlope, d.RampSlope)
	defF(&sp.ReverseBelowRPM, d.ReverseBelowRPM)
	defF(&sp.ReportFloorRPM, d.ReportFloorRPM)

	e := &cfg.BEMF
	defF(&e.VRef, d.BEMF.VRef)
	defF(&e.ADCMax, d.BEMF.ADCMax)
	defF(&e.MinAmplV, d.BEMF.MinAmplV)
	defU32(&e.MinPeriodUS, d.BEMF.MinPeriod)
	defU32(&e.MaxPeriodUS, d.BEMF.MaxPeriod)
	defU8(&e.LockCount, d.BEMF.LockCount)
	defU8(&e.UnlockCount, d.BEMF.UnlockCnt)
	defF(&e.Alpha, d.BEMF.Alpha)
}

func defF(v *float64, d float32) {
	if *v == 0 {
		*v = float64(d)
	}
}

func defU32(v *uint32, d uint32) {
	if *v == 0 {
		*v = d
	}
}

func defU8(v *uint8, d uint8) {
	if *v == 0 {
		*v = d
	}
}

// Validate checks ranges that would make the controller misbehave
func (f *File) Validate() error {
	if _, ok := ramp.ParseProfile(f.Startup.Profile); !ok {
		return fmt.Errorf("startup.profile: unknown profile %q", f.Startup.Profile)
	}
	if f.Startup.DutyStart > 1 || f.Startup.DutyEnd > 1 || f.Startup.AlignDuty > 1 {
		return fmt.Errorf("startup: duty above 1")
	}
	if f.Speed.OutMin >= f.Speed.OutMax {
		return fmt.Errorf("speed: out_min %.3f not below out_max %.3f", f.Speed.OutMin, f.Speed.OutMax)
	}
	if f.Motor.CommDelayMinUS > f.Motor.CommDelayMaxUS {
		return fmt.Errorf("motor: comm_delay_min_us above comm_delay_max_us")
	}
	if f.BEMF.MinPeriodUS >= f.BEMF.MaxPeriodUS {
		return fmt.Errorf("bemf: min_period_us not below max_period_us")
	}
	if f.BEMF.Alpha <= 0 || f.BEMF.Alpha > 1 {
		return fmt.Errorf("bemf: alpha %.3f outside (0,1]", f.BEMF.Alpha)
	}
	if f.Loops.SlowHz > f.Loops.FastHz {
		return fmt.Errorf("loops: slow_hz above fast_hz")
	}
	return nil
}

// Controller converts the file into controller tuning. The PID period
// follows the slow loop rate.
func (f *File) Controller() motor.Config {
	profile, _ := ramp.ParseProfile(f.Startup.Profile)
	var retries uint8
	if f.Startup.Retries != nil {
		retries = *f.Startup.Retries
	}
	return motor.Config{
		PolePairs:         f.Motor.PolePairs,
		LeadFactor:        float32(f.Motor.LeadFactor),
		CommDelayMinUS:    f.Motor.CommDelayMinUS,
		CommDelayMaxUS:    f.Motor.CommDelayMaxUS,
		HandoverMinEvents: f.Startup.HandoverMinEvents,
		HandoverMinHz:     float32(f.Startup.HandoverMinHz),
		HandoverMinDuty:   float32(f.Startup.HandoverMinDuty),
		RampSlope:         float32(f.Speed.RampSlope),
		RampSlopeMin:      1,
		RampSlopeMax:      500,
		ReverseBelowRPM:   float32(f.Speed.ReverseBelowRPM),
		ReportFloorRPM:    float32(f.Speed.ReportFloorRPM),
		AlignDuty:         float32(f.Startup.AlignDuty),
		AlignDuration:     time.Duration(f.Startup.AlignMS) * time.Millisecond,
		StartRetries:      retries,
		OpenLoop: motor.OpenLoopConfig{
			DutyStart:   float32(f.Startup.DutyStart),
			DutyEnd:     float32(f.Startup.DutyEnd),
			FreqStartHz: float32(f.Startup.FreqStartHz),
			FreqEndHz:   float32(f.Startup.FreqEndHz),
			Duration:    time.Duration(f.Startup.RampMS) * time.Millisecond,
			Profile:     profile,
		},
		PID: motor.PIDConfig{
			Kp:              float32(f.Speed.PID[0]),
			Ki:              float32(f.Speed.PID[1]),
			Kd:              float32(f.Speed.PID[2]),
			Dt:              1 / float32(f.Loops.SlowHz),
			OutMin:          float32(f.Speed.OutMin),
			OutMax:          float32(f.Speed.OutMax),
			IntegratorLimit: float32(f.Speed.IntegratorLimit),
		},
		BEMF: bemf.Config{
			VRef:      float32(f.BEMF.VRef),
			ADCMax:    float32(f.BEMF.ADCMax),
			MinAmplV:  float32(f.BEMF.MinAmplV),
			MinPeriod: f.BEMF.MinPeriodUS,
			MaxPeriod: f.BEMF.MaxPeriodUS,
			LockCount: f.BEMF.LockCount,
			UnlockCnt: f.BEMF.UnlockCount,
			Alpha:     float32(f.BEMF.Alpha),
		},
	}
}
