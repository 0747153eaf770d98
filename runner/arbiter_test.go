// ABOUTME: Tests for single-writer-wins arbitration between concurrent verdict proposals.
package runner

import (
	"sync"
	"testing"
)

func TestArbiterFirstVerdictWins(t *testing.T) {
	var reports []TaskOutcome
	a := newArbiter(func(o TaskOutcome) { reports = append(reports, o) })

	if !a.decide(TaskOutcome{TaskID: 1, Kind: OutcomeTimedOut}) {
		t.Fatal("first proposal should win")
	}
	if a.decide(TaskOutcome{TaskID: 1, Kind: OutcomeCompleted}) {
		t.Fatal("second proposal should lose")
	}
	o, ok := a.verdict()
	if !ok || o.Kind != OutcomeTimedOut {
		t.Errorf("verdict = %+v, %v", o, ok)
	}
	if len(reports) != 1 {
		t.Errorf("report called %d times, want 1", len(reports))
	}
	select {
	case <-a.Done():
	default:
		t.Error("Done not closed after a verdict")
	}
}

func TestArbiterConcurrentProposals(t *testing.T) {
	var mu sync.Mutex
	reports := 0
	a := newArbiter(func(TaskOutcome) {
		mu.Lock()
		reports++
		mu.Unlock()
	})

	kinds := []OutcomeKind{OutcomeCompleted, OutcomeFailed, OutcomeTimedOut, OutcomeInterrupted}
	var wg sync.WaitGroup
	var winsMu sync.Mutex
	wins := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(k OutcomeKind) {
			defer wg.Done()
			if a.decide(TaskOutcome{Kind: k}) {
				winsMu.Lock()
				wins++
				winsMu.Unlock()
			}
		}(kinds[i%len(kinds)])
	}
	wg.Wait()

	if wins != 1 || reports != 1 {
		t.Errorf("wins=%d reports=%d, want exactly one of each", wins, reports)
	}
}

func TestArbiterNoVerdict(t *testing.T) {
	a := newArbiter(nil)
	if _, ok := a.verdict(); ok {
		t.Error("fresh arbiter should have no verdict")
	}
}
