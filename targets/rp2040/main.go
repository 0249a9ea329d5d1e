//go:build rp2040

package main

import (
	_ "embed"
	"machine"
	"time"

	"escore/command"
	"escore/config"
	"escore/core"
	"escore/motor"
	"escore/targets/pio"
)

//go:embed board.json
var boardJSON []byte

var (
	controller *motor.Controller
	server     *command.Server
	led        *StatusLED
	fastTrig   *core.PolledTrigger
	slowTrig   *core.PolledTrigger

	loopErrors uint32
)

// observers fans controller notifications out to the board peripherals
type observers []motor.Observer

func (o observers) OnCommutation(step uint8, dir core.Direction) {
	for _, ob := range o {
		ob.OnCommutation(step, dir)
	}
}

func (o observers) OnModeChange(m motor.Mode) {
	for _, ob := range o {
		ob.OnModeChange(m)
	}
}

func main() {
	// clear any watchdog state left from before the reset
	if err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0}); err != nil {
		return
	}

	// USB carries the command link, so logs go to UART0
	_ = machine.UART0.Configure(machine.UARTConfig{BaudRate: 115200})
	core.SetLogWriter(func(s string) {
		machine.UART0.Write([]byte(s))
		machine.UART0.Write([]byte("\r\n"))
	})
	core.SetLogLevel(core.LevelInfo)
	core.InitAsyncLog()

	InitUSB()
	UpdateSystemTime()

	cfg, err := config.LoadConfig(boardJSON)
	if err != nil {
		core.LogWarn("config: " + err.Error() + ", using defaults")
		cfg = config.Default()
	}
	if err := setup(cfg); err != nil {
		core.LogWarn("setup: " + err.Error())
		if led != nil {
			led.Fault()
		}
		for {
			time.Sleep(time.Second)
		}
	}
	core.LogInfo("esc: ready")

	run()
}

func setup(cfg *config.File) error {
	b := cfg.Board
	in, err := parsePins(b.PhasePins)
	if err != nil {
		return err
	}
	en, err := parsePins(b.EnablePins)
	if err != nil {
		return err
	}
	sense, err := parsePins(b.SensePins)
	if err != nil {
		return err
	}

	inv, err := NewBridgeInverter(in, en, b.PWMFreqHz)
	if err != nil {
		return err
	}
	sensor, err := NewPhaseSensor(sense, machine.NoPin)
	if err != nil {
		return err
	}

	var obs observers
	if b.LEDPin != "" {
		pin, err := parsePin(b.LEDPin)
		if err != nil {
			return err
		}
		led = NewStatusLED(pin)
		obs = append(obs, led)
	}
	if b.StrobePin != "" {
		pin, err := parsePin(b.StrobePin)
		if err != nil {
			return err
		}
		strobe := pio.NewStrobe(0, 0)
		if err := strobe.Init(pin, machine.NoPin); err != nil {
			return err
		}
		obs = append(obs, strobe)
	}

	fastTrig = core.NewPolledTrigger(cfg.Loops.FastHz)
	slowTrig = core.NewPolledTrigger(cfg.Loops.SlowHz)
	fast := core.NewLoopService(fastTrig, clock)
	slow := core.NewLoopService(slowTrig, clock)

	deps := motor.Deps{Inverter: inv, Sensor: sensor, Clock: clock}
	if len(obs) > 0 {
		deps.Observer = obs
	}
	controller = motor.New(cfg.Controller(), deps)
	if err := controller.Attach(fast, slow); err != nil {
		return err
	}

	server = command.NewServer(command.NewESC(controller, fast, slow), &usbWriter{})
	// a host that restarts its sequence gets a stopped motor
	server.Transport().SetResetCallback(controller.Stop)
	return nil
}

// run is the superloop: time, control loops, one-shot events, then the
// link. Control work comes first on every pass.
func run() {
	var rx [64]byte
	for {
		func() {
			defer func() {
				if r := recover(); r != nil {
					loopErrors++
					controller.Stop()
					core.LogWarn("esc: main loop panic, motor stopped")
					core.DumpEventRing()
				}
			}()

			now := UpdateSystemTime()
			fastTrig.Poll(now)
			slowTrig.Poll(now)
			controller.DispatchEvents()

			if USBAvailable() > 0 {
				n := USBRead(rx[:])
				data := rx[:n]
				for len(data) > 0 {
					used := server.Feed(data)
					data = data[used:]
					if err := server.Poll(); err != nil {
						break
					}
				}
			}
			_ = server.Poll()

			if led != nil {
				led.Refresh()
			}
		}()
	}
}
