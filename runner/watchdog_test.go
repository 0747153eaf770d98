// ABOUTME: Tests for the silence watchdog: stall warnings, one warning per silence, and re-arming on output.
package runner

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestWatchdogWarnsOncePerSilence(t *testing.T) {
	var mu sync.Mutex
	var stalls []EngineEvent
	w := NewWatchdog(WatchdogConfig{StallTimeout: 50 * time.Millisecond, CheckInterval: 10 * time.Millisecond}, func(evt EngineEvent) {
		mu.Lock()
		stalls = append(stalls, evt)
		mu.Unlock()
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	w.HandleEvent(EngineEvent{Type: EventTaskStarted, TaskID: 4})
	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(stalls)
	}
	if !waitFor(t, 2*time.Second, func() bool { return count() == 1 }) {
		t.Fatal("expected a stall warning")
	}
	time.Sleep(150 * time.Millisecond)
	if n := count(); n != 1 {
		t.Errorf("warned %d times for one silence", n)
	}

	mu.Lock()
	evt := stalls[0]
	mu.Unlock()
	if evt.Type != EventTaskStalled || evt.TaskID != 4 {
		t.Errorf("event = %+v", evt)
	}

	w.HandleEvent(EngineEvent{Type: EventTaskOutput, TaskID: 4})
	if !waitFor(t, 2*time.Second, func() bool { return count() == 2 }) {
		t.Error("output should re-arm the warning")
	}

	w.HandleEvent(EngineEvent{Type: EventTaskCompleted, TaskID: 4})
	time.Sleep(150 * time.Millisecond)
	if n := count(); n != 2 {
		t.Errorf("finished task still warned: %d", n)
	}
}

func TestWatchdogTouchUnknownTask(t *testing.T) {
	w := NewWatchdog(watchdogConfigFor(time.Minute), nil)
	w.Touch(9)
	w.check()
	if len(w.lastOutput) != 0 {
		t.Error("Touch should not start tracking an unknown task")
	}
}

func TestWatchdogConfigFor(t *testing.T) {
	if cfg := watchdogConfigFor(time.Hour); cfg.CheckInterval != 10*time.Second {
		t.Errorf("interval = %s, want capped at 10s", cfg.CheckInterval)
	}
	if cfg := watchdogConfigFor(time.Millisecond); cfg.CheckInterval != 10*time.Millisecond {
		t.Errorf("interval = %s, want floor of 10ms", cfg.CheckInterval)
	}
}
