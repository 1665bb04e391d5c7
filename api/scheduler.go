/*
scheduler.go - Automated alert sweep

PURPOSE:
  Periodically runs billing.Service.Sweep so students get Overdue and
  DueSoon notices without staff pressing a button. The engine only decides
  which alerts are needed; this is the external trigger.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on start
  - Relies on the sweep's dedup keys, so overlapping or repeated runs
    never raise the same notice twice
  - Keeps the last run's result for GET-style inspection

CONFIGURATION:
  - CheckInterval: How often to sweep (default: 24 hours)
  - Window: DueSoon look-ahead (default: 3 days)
  - Enabled: Whether the sweeper is active (default: true)

USAGE:
  sweeper := NewAlertSweeper(svc)
  sweeper.Start()
  // ... later
  sweeper.Stop()

SEE ALSO:
  - handlers.go: TriggerSweep endpoint (manual sweep)
  - billing/alerts.go: Sweep and its predicate
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/warp/tuition-engine/billing"
)

// AlertSweeper runs the alert sweep on a ticker.
type AlertSweeper struct {
	Service       *billing.Service
	CheckInterval time.Duration
	Window        time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	lastMu  sync.Mutex
	lastRun time.Time
	last    billing.SweepResult
	lastErr error
}

// NewAlertSweeper creates a new sweeper.
func NewAlertSweeper(svc *billing.Service) *AlertSweeper {
	return &AlertSweeper{
		Service:       svc,
		CheckInterval: 24 * time.Hour,
		Window:        billing.DefaultDueSoonWindow,
		Enabled:       true,
	}
}

// Start begins the sweeper.
func (s *AlertSweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		log.Println("[Sweep] Disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run(s.ticker, s.stop)

	log.Printf("[Sweep] Started with check interval: %v, due-soon window: %v", s.CheckInterval, s.Window)
}

// Stop stops the sweeper and waits for an in-flight sweep.
func (s *AlertSweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		log.Println("[Sweep] Stopped")
	}
}

func (s *AlertSweeper) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	// Run immediately on start
	s.RunNow(context.Background())

	for {
		select {
		case <-ticker.C:
			s.RunNow(context.Background())
		case <-stop:
			return
		}
	}
}

// RunNow sweeps once (for testing/admin).
func (s *AlertSweeper) RunNow(ctx context.Context) (billing.SweepResult, error) {
	start := time.Now()
	result, err := s.Service.Sweep(ctx, s.Window)

	s.lastMu.Lock()
	s.lastRun, s.last, s.lastErr = start, result, err
	s.lastMu.Unlock()

	if err != nil {
		log.Printf("[Sweep] Failed after %d raised: %v", result.Raised, err)
		return result, err
	}
	if result.Raised > 0 || result.Skipped > 0 {
		log.Printf("[Sweep] Completed: %d checked, %d raised, %d skipped (already sent)",
			result.Checked, result.Raised, result.Skipped)
	}
	return result, nil
}

// LastRun returns the most recent sweep's start time, result and error.
func (s *AlertSweeper) LastRun() (time.Time, billing.SweepResult, error) {
	s.lastMu.Lock()
	defer s.lastMu.Unlock()
	return s.lastRun, s.last, s.lastErr
}

// GetNextRunTime returns when the next scheduled sweep will occur.
func (s *AlertSweeper) GetNextRunTime() time.Time {
	s.lastMu.Lock()
	defer s.lastMu.Unlock()
	if s.lastRun.IsZero() {
		return time.Now()
	}
	return s.lastRun.Add(s.CheckInterval)
}
