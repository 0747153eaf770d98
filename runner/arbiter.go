// ABOUTME: Single-writer-wins arbitration between the observers of one task execution.
// ABOUTME: Exit, timeout, cancellation, and in-band error all propose verdicts; only the first is applied.
package runner

import "sync"

// arbiter accepts the first terminal verdict for one execution and discards
// the rest. The winning verdict is reported exactly once.
type arbiter struct {
	mu      sync.Mutex
	decided bool
	outcome TaskOutcome
	done    chan struct{}
	report  func(TaskOutcome)
}

func newArbiter(report func(TaskOutcome)) *arbiter {
	return &arbiter{done: make(chan struct{}), report: report}
}

// decide proposes a verdict. It returns true if this call won.
func (a *arbiter) decide(o TaskOutcome) bool {
	a.mu.Lock()
	if a.decided {
		a.mu.Unlock()
		return false
	}
	a.decided = true
	a.outcome = o
	close(a.done)
	// The report runs under the lock so later proposals block until the
	// winner has been applied, keeping store writes in decision order.
	if a.report != nil {
		a.report(o)
	}
	a.mu.Unlock()
	return true
}

// verdict returns the winning outcome and whether one exists.
func (a *arbiter) verdict() (TaskOutcome, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.outcome, a.decided
}

// Done is closed once a verdict has been accepted.
func (a *arbiter) Done() <-chan struct{} { return a.done }
