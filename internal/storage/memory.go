package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// memoryStore keeps everything behind one mutex, which trivially
// satisfies the admission atomicity contract. Used by tests and
// throwaway runs; nothing survives a restart.
type memoryStore struct {
	mu         sync.Mutex
	recipients map[string]Recipient
	delivered  map[string]time.Time
	maxAllowed int64
	sentCount  int64
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		recipients: map[string]Recipient{},
		delivered:  map[string]time.Time{},
		maxAllowed: 100,
	}
}

func (m *memoryStore) Close() error { return nil }

func (m *memoryStore) GetRecipient(_ context.Context, id string) (Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.recipients[id]
	if !ok {
		return Recipient{}, ErrNotFound
	}
	return r, nil
}

func (m *memoryStore) EnsureRecipient(_ context.Context, id string) (Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.recipients[id]; ok {
		return r, nil
	}
	now := time.Now()
	r := Recipient{Identifier: id, State: StateStart, CreatedAt: now, UpdatedAt: now}
	m.recipients[id] = r
	return r, nil
}

func (m *memoryStore) UpdateRecipient(_ context.Context, id string, state State, displayName string) error {
	if !state.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownState, state)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.recipients[id]
	if !ok {
		return ErrNotFound
	}
	r.State = state
	if name := strings.TrimSpace(displayName); name != "" {
		r.DisplayName = name
	}
	r.UpdatedAt = time.Now()
	m.recipients[id] = r
	return nil
}

func (m *memoryStore) TryAdmit(_ context.Context, id string) (AdmitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.delivered[id]; ok {
		return AlreadyDelivered, nil
	}
	if m.sentCount >= m.maxAllowed {
		return QuotaExhausted, nil
	}
	m.delivered[id] = time.Now()
	m.sentCount++
	return Admitted, nil
}

func (m *memoryStore) Quota(_ context.Context) (Quota, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Quota{MaxAllowed: m.maxAllowed, SentCount: m.sentCount}, nil
}

func (m *memoryStore) SetMaxAllowed(_ context.Context, v int64) error {
	if v < 0 {
		return ErrNegativeMax
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxAllowed = v
	return nil
}

func (m *memoryStore) Delivered(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.delivered[id]
	return ok, nil
}

func (m *memoryStore) Redeem(_ context.Context, id string) (RedeemResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.recipients[id]
	if !ok {
		return RedeemNotFound, nil
	}
	if r.State != StateCompleted {
		return RedeemNotEligible, nil
	}
	if r.RedeemedAt != nil {
		return RedeemAlreadyUsed, nil
	}
	now := time.Now()
	r.RedeemedAt = &now
	r.UpdatedAt = now
	m.recipients[id] = r
	return Redeemed, nil
}
