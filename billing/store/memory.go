// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/tuition-engine/billing"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	obligations map[billing.ObligationID]billing.Obligation
	alerts      map[billing.AlertID]billing.Alert
	dedup       map[string]billing.AlertID
}

var (
	_ billing.Store    = (*Memory)(nil)
	_ billing.Resetter = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{
		obligations: make(map[billing.ObligationID]billing.Obligation),
		alerts:      make(map[billing.AlertID]billing.Alert),
		dedup:       make(map[string]billing.AlertID),
	}
}

func (m *Memory) CreateObligation(_ context.Context, ob billing.Obligation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.obligations[ob.ID] = ob.Clone()
	return nil
}

func (m *Memory) GetObligation(_ context.Context, id billing.ObligationID) (billing.Obligation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ob, ok := m.obligations[id]
	if !ok {
		return billing.Obligation{}, &billing.NotFoundError{Kind: "obligation", ID: string(id)}
	}
	return ob.Clone(), nil
}

// SaveObligation replaces an existing record.
func (m *Memory) SaveObligation(_ context.Context, ob billing.Obligation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.obligations[ob.ID]; !ok {
		return &billing.NotFoundError{Kind: "obligation", ID: string(ob.ID)}
	}
	m.obligations[ob.ID] = ob.Clone()
	return nil
}

func (m *Memory) DeleteObligation(_ context.Context, id billing.ObligationID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.obligations[id]; !ok {
		return &billing.NotFoundError{Kind: "obligation", ID: string(id)}
	}
	delete(m.obligations, id)
	return nil
}

func (m *Memory) ListObligations(_ context.Context, filter billing.ObligationFilter) ([]billing.Obligation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]billing.Obligation, 0, len(m.obligations))
	for _, ob := range m.obligations {
		if filter.Matches(ob) {
			result = append(result, ob.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (m *Memory) CreateAlert(_ context.Context, a billing.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.DedupKey != "" {
		if _, taken := m.dedup[a.DedupKey]; taken {
			return billing.ErrDuplicateAlert
		}
		m.dedup[a.DedupKey] = a.ID
	}
	m.alerts[a.ID] = copyAlert(a)
	return nil
}

func (m *Memory) GetAlert(_ context.Context, id billing.AlertID) (billing.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.alerts[id]
	if !ok {
		return billing.Alert{}, &billing.NotFoundError{Kind: "alert", ID: string(id)}
	}
	return copyAlert(a), nil
}

func (m *Memory) SaveAlert(_ context.Context, a billing.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.alerts[a.ID]; !ok {
		return &billing.NotFoundError{Kind: "alert", ID: string(a.ID)}
	}
	m.alerts[a.ID] = copyAlert(a)
	return nil
}

func (m *Memory) ListAlerts(_ context.Context, filter billing.AlertFilter) ([]billing.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]billing.Alert, 0)
	for _, a := range m.alerts {
		if filter.Matches(a) {
			result = append(result, copyAlert(a))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})
	return result, nil
}

func (m *Memory) AlertExists(_ context.Context, dedupKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.dedup[dedupKey]
	return ok, nil
}

// Reset drops everything.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.obligations = make(map[billing.ObligationID]billing.Obligation)
	m.alerts = make(map[billing.AlertID]billing.Alert)
	m.dedup = make(map[string]billing.AlertID)
	return nil
}

func copyAlert(a billing.Alert) billing.Alert {
	if a.ReadAt != nil {
		t := *a.ReadAt
		a.ReadAt = &t
	}
	return a
}
