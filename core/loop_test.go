package core

import "testing"

func TestPolledTriggerRate(t *testing.T) {
	trig := NewPolledTrigger(1000)
	count := 0
	trig.RegisterCallback(func() { count++ })
	trig.Start()

	for now := uint32(0); now < 10000; now += 10 {
		trig.Poll(now)
	}
	if count != 10 {
		t.Errorf("Expected 10 ticks in 10ms at 1kHz, got %d", count)
	}
}

func TestPolledTriggerStopped(t *testing.T) {
	trig := NewPolledTrigger(1000)
	count := 0
	trig.RegisterCallback(func() { count++ })

	if trig.Poll(0) {
		t.Error("Trigger fired before Start")
	}
	trig.Start()
	trig.Poll(0)
	trig.Stop()
	trig.Poll(5000)
	if count != 1 {
		t.Errorf("Expected 1 tick, got %d", count)
	}
}

func TestPolledTriggerResync(t *testing.T) {
	trig := NewPolledTrigger(1000)
	count := 0
	trig.RegisterCallback(func() { count++ })
	trig.Start()

	trig.Poll(0)
	// stall for 50 periods: only one catch-up tick
	trig.Poll(50000)
	trig.Poll(50001)
	if count != 2 {
		t.Errorf("Expected 2 ticks after stall, got %d", count)
	}
	next, ok := trig.NextDue()
	if !ok || next != 51000 {
		t.Errorf("NextDue = %d %v, want 51000 true", next, ok)
	}
}

func TestLoopServiceStats(t *testing.T) {
	clock := NewTickClock(0)
	trig := NewPolledTrigger(1000)
	loop := NewLoopService(trig, clock)
	if err := loop.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	loop.RegisterCallback(func() { clock.Advance(20) })
	loop.Start()

	if loop.FrequencyHz() != 1000 {
		t.Errorf("Expected 1000Hz, got %d", loop.FrequencyHz())
	}

	for i := 0; i < 5; i++ {
		trig.Poll(clock.NowUS())
		clock.Advance(1000)
	}

	stats := loop.Stats()
	if stats.Ticks != 5 {
		t.Errorf("Expected 5 ticks, got %d", stats.Ticks)
	}
	if stats.LastExecUS != 20 {
		t.Errorf("Expected last exec 20us, got %d", stats.LastExecUS)
	}
	if stats.AvgExecUS < 19.99 || stats.AvgExecUS > 20.01 {
		t.Errorf("Expected avg exec 20us, got %f", stats.AvgExecUS)
	}

	loop.Stop()
	loop.Start()
	if loop.Stats().Ticks != 0 {
		t.Error("Start should reset statistics")
	}
}
