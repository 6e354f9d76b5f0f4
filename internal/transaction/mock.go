package transaction

import (
	"context"
	"sync"
)

// MockParticipant is a Participant whose behavior is supplied per test.
// Nil funcs succeed. Every call is appended to Calls.
type MockParticipant struct {
	BeginFunc    func(ctx context.Context) error
	CommitFunc   func(ctx context.Context) error
	RollbackFunc func(ctx context.Context) error

	mu    sync.Mutex
	calls []string
}

func (m *MockParticipant) Begin(ctx context.Context) error {
	m.record("begin")
	if m.BeginFunc == nil {
		return nil
	}
	return m.BeginFunc(ctx)
}

func (m *MockParticipant) Commit(ctx context.Context) error {
	m.record("commit")
	if m.CommitFunc == nil {
		return nil
	}
	return m.CommitFunc(ctx)
}

func (m *MockParticipant) Rollback(ctx context.Context) error {
	m.record("rollback")
	if m.RollbackFunc == nil {
		return nil
	}
	return m.RollbackFunc(ctx)
}

// Calls returns the methods invoked so far, in order.
func (m *MockParticipant) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *MockParticipant) record(call string) {
	m.mu.Lock()
	m.calls = append(m.calls, call)
	m.mu.Unlock()
}
