// Package testutil provides configurable test fakes for gateway interfaces.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	gateway "github.com/eugener/radagast/internal"
)

// FakeStore is an in-memory implementation of storage.Store for testing.
type FakeStore struct {
	mu     sync.RWMutex
	models map[string]*gateway.ModelDescriptor
	usage  map[string]gateway.Usage
	active gateway.ActiveUserCount

	// RecordCalls counts RecordUsage invocations.
	RecordCalls int
	// RecordErr, when non-nil, is returned by RecordUsage.
	RecordErr error
	// LastRecord captures the arguments of the most recent RecordUsage call.
	LastRecord RecordArgs
}

// RecordArgs are the captured arguments of a RecordUsage call.
type RecordArgs struct {
	UserID       uint64
	Provider     gateway.Provider
	Model        string
	InputTokens  int64
	OutputTokens int64
}

// NewFakeStore returns a FakeStore with empty collections.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		models: make(map[string]*gateway.ModelDescriptor),
		usage:  make(map[string]gateway.Usage),
		active: gateway.ActiveUserCount{UsersInRecentMinutes: 1, UsersInRecentDays: 1},
	}
}

func key(userID uint64, provider gateway.Provider, model string) string {
	return fmt.Sprintf("%d/%s/%s", userID, provider, model)
}

// AddModel registers a model descriptor.
func (s *FakeStore) AddModel(m *gateway.ModelDescriptor) {
	s.mu.Lock()
	s.models[string(m.Provider)+"/"+m.Name] = m
	s.mu.Unlock()
}

// SetUsage seeds the usage row for a user/model pair.
func (s *FakeStore) SetUsage(userID uint64, provider gateway.Provider, model string, u gateway.Usage) {
	s.mu.Lock()
	s.usage[key(userID, provider, model)] = u
	s.mu.Unlock()
}

// SetActiveUsers seeds the active-user counts.
func (s *FakeStore) SetActiveUsers(minutes, days int64) {
	s.mu.Lock()
	s.active = gateway.ActiveUserCount{UsersInRecentMinutes: minutes, UsersInRecentDays: days}
	s.mu.Unlock()
}

// Model implements storage.ModelStore.
func (s *FakeStore) Model(_ context.Context, provider gateway.Provider, name string) (*gateway.ModelDescriptor, error) {
	s.mu.RLock()
	m, ok := s.models[string(provider)+"/"+name]
	s.mu.RUnlock()
	if !ok {
		return nil, gateway.ErrModelNotFound
	}
	return m, nil
}

// UpsertModel implements storage.ModelStore.
func (s *FakeStore) UpsertModel(_ context.Context, m *gateway.ModelDescriptor) error {
	s.AddModel(m)
	return nil
}

// GetUsage implements storage.UsageStore.
func (s *FakeStore) GetUsage(_ context.Context, userID uint64, provider gateway.Provider, model string, _ time.Time) (gateway.Usage, error) {
	s.mu.RLock()
	u := s.usage[key(userID, provider, model)]
	s.mu.RUnlock()
	return u, nil
}

// RecordUsage implements storage.UsageStore.
func (s *FakeStore) RecordUsage(_ context.Context, userID uint64, provider gateway.Provider, model string, inputTokens, outputTokens int64, _ time.Time) (gateway.Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RecordCalls++
	s.LastRecord = RecordArgs{
		UserID: userID, Provider: provider, Model: model,
		InputTokens: inputTokens, OutputTokens: outputTokens,
	}
	if s.RecordErr != nil {
		return gateway.Usage{}, s.RecordErr
	}
	k := key(userID, provider, model)
	u := s.usage[k]
	u.RequestsThisMinute++
	u.TokensThisMinute += inputTokens + outputTokens
	u.TokensThisDay += inputTokens + outputTokens
	u.InputTokensThisMonth += inputTokens
	u.OutputTokensThisMonth += outputTokens
	s.usage[k] = u
	return u, nil
}

// ActiveUserCounts implements storage.UsageStore.
func (s *FakeStore) ActiveUserCounts(context.Context, time.Time) (gateway.ActiveUserCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active, nil
}

// Ping implements storage.Store.
func (s *FakeStore) Ping(context.Context) error { return nil }

// Close implements storage.Store.
func (s *FakeStore) Close() error { return nil }

// Recorded returns the RecordUsage call count under the lock.
func (s *FakeStore) Recorded() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.RecordCalls
}

// LastRecorded returns the most recent RecordUsage arguments under the lock.
func (s *FakeStore) LastRecorded() RecordArgs {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.LastRecord
}
