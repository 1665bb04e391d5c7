package billing_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/warp/tuition-engine/billing"
	"github.com/warp/tuition-engine/billing/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// clock is a settable time source for the service.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(t time.Time) *clock { return &clock{now: t} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// sequentialIDs returns "id-1", "id-2", ...
func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func newTestService(t *testing.T, now time.Time) (*billing.Service, *store.Memory, *clock) {
	t.Helper()
	mem := store.NewMemory()
	clk := newClock(now)
	svc := billing.NewService(mem,
		billing.WithClock(clk.Now),
		billing.WithIDGenerator(sequentialIDs()),
	)
	return svc, mem, clk
}

func day(year int, month time.Month, d int) billing.Date {
	return billing.NewDate(year, month, d)
}

func at(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 10, 0, 0, 0, time.UTC)
}

func money(s string) billing.Money { return billing.MustMoney(s) }

func datePtr(d billing.Date) *billing.Date { return &d }

func amounts(lines []billing.PlanLine) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l.Amount.String()
	}
	return out
}
