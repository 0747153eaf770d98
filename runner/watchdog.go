// ABOUTME: Silence watchdog that notices when the running worker has produced no output for too long.
// ABOUTME: Purely observational: it emits task.stalled events and never cancels the task.
package runner

import (
	"context"
	"sync"
	"time"
)

// WatchdogConfig tunes silence detection.
type WatchdogConfig struct {
	StallTimeout  time.Duration // silence allowed before a warning
	CheckInterval time.Duration // how often silence is measured
}

// watchdogConfigFor derives a check interval from the stall timeout so short
// timeouts (tests, demos) are still noticed promptly.
func watchdogConfigFor(stall time.Duration) WatchdogConfig {
	interval := stall / 4
	if interval > 10*time.Second {
		interval = 10 * time.Second
	}
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	return WatchdogConfig{StallTimeout: stall, CheckInterval: interval}
}

// Watchdog tracks the last output time of active tasks. Each silence
// period is reported at most once; new output re-arms the warning.
type Watchdog struct {
	config       WatchdogConfig
	eventHandler func(EngineEvent)
	mu           sync.Mutex
	lastOutput   map[int]time.Time // task id -> last output
	warned       map[int]bool
}

// NewWatchdog creates a Watchdog. eventHandler is called from the watchdog
// goroutine.
func NewWatchdog(cfg WatchdogConfig, eventHandler func(EngineEvent)) *Watchdog {
	return &Watchdog{
		config:       cfg,
		eventHandler: eventHandler,
		lastOutput:   make(map[int]time.Time),
		warned:       make(map[int]bool),
	}
}

// Start runs the check loop until ctx is cancelled.
func (w *Watchdog) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(w.config.CheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.check()
			}
		}
	}()
}

// TaskStarted begins tracking a task.
func (w *Watchdog) TaskStarted(id int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastOutput[id] = time.Now()
	delete(w.warned, id)
}

// Touch records output from a task.
func (w *Watchdog) Touch(id int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.lastOutput[id]; !ok {
		return
	}
	w.lastOutput[id] = time.Now()
	delete(w.warned, id)
}

// TaskFinished stops tracking a task.
func (w *Watchdog) TaskFinished(id int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.lastOutput, id)
	delete(w.warned, id)
}

// HandleEvent routes engine events to TaskStarted / TaskFinished so the
// watchdog can sit in an event handler chain.
func (w *Watchdog) HandleEvent(evt EngineEvent) {
	switch evt.Type {
	case EventTaskStarted:
		w.TaskStarted(evt.TaskID)
	case EventTaskOutput:
		w.Touch(evt.TaskID)
	case EventTaskCompleted, EventTaskFailed, EventTaskTimedOut, EventTaskInterrupt:
		w.TaskFinished(evt.TaskID)
	}
}

// check emits events outside the lock so handlers may take their own locks.
func (w *Watchdog) check() {
	w.mu.Lock()
	var toEmit []EngineEvent
	now := time.Now()
	for id, last := range w.lastOutput {
		if w.warned[id] {
			continue
		}
		silent := now.Sub(last)
		if silent > w.config.StallTimeout {
			w.warned[id] = true
			toEmit = append(toEmit, EngineEvent{
				Type:      EventTaskStalled,
				TaskID:    id,
				Timestamp: now,
				Data: map[string]any{
					"silent":        silent.Round(time.Millisecond).String(),
					"stall_timeout": w.config.StallTimeout.String(),
				},
			})
		}
	}
	w.mu.Unlock()

	for _, evt := range toEmit {
		if w.eventHandler != nil {
			w.eventHandler(evt)
		}
	}
}
