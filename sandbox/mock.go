package sandbox

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// MockClient is a mock implementation of SandboxClient for testing.
type MockClient struct {
	Mu sync.Mutex

	// State
	LatestHeight int64
	ResultById   map[string]*ExecutionResult
	DefaultOk    bool
	CallDelay    time.Duration

	// Error injection
	ExecuteError     error
	LatestBlockError error

	// Call tracking
	ExecuteCalled     int
	LatestBlockCalled int
	MaxInflight       int
	inflight          int
}

var _ SandboxClient = (*MockClient)(nil)

func NewMockClient() *MockClient {
	return &MockClient{
		DefaultOk:  true,
		ResultById: make(map[string]*ExecutionResult),
	}
}

type mockPayload struct {
	Id string `json:"id"`
}

func (m *MockClient) Execute(ctx context.Context, payload json.RawMessage, targetBlockHeight int64) (*ExecutionResult, error) {
	m.Mu.Lock()
	m.ExecuteCalled++
	m.inflight++
	if m.inflight > m.MaxInflight {
		m.MaxInflight = m.inflight
	}
	delay := m.CallDelay
	executeErr := m.ExecuteError
	m.Mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			m.release()
			return nil, ctx.Err()
		}
	}
	m.release()

	if executeErr != nil {
		return nil, executeErr
	}

	var p mockPayload
	_ = json.Unmarshal(payload, &p)
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if result, ok := m.ResultById[p.Id]; ok {
		return result, nil
	}
	return &ExecutionResult{Ok: m.DefaultOk}, nil
}

func (m *MockClient) release() {
	m.Mu.Lock()
	m.inflight--
	m.Mu.Unlock()
}

func (m *MockClient) LatestBlock(ctx context.Context) (int64, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.LatestBlockCalled++
	if m.LatestBlockError != nil {
		return 0, m.LatestBlockError
	}
	return m.LatestHeight, nil
}
