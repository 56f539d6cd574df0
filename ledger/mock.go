package ledger

import (
	"context"
	"sync"
)

// MockClient is a mock implementation of Client for testing.
type MockClient struct {
	Mu sync.Mutex

	// State
	Height        int64
	TempoBlocks   int64
	Snapshot      *DirectorySnapshot
	IncludedBlock int64

	// Error injection
	CurrentBlockError  error
	TempoError         error
	DirectoryError     error
	SubmitWeightsError error

	// Call tracking
	CurrentBlockCalled  int
	TempoCalled         int
	DirectoryCalled     int
	SubmitWeightsCalled int
	LastUpdate          *WeightUpdate
}

var _ Client = (*MockClient)(nil)

func NewMockClient() *MockClient {
	return &MockClient{
		TempoBlocks: 360,
		Snapshot: &DirectorySnapshot{
			Identities:      map[string]IdentityInfo{},
			ValidatorPermit: true,
		},
	}
}

func (m *MockClient) CurrentBlock(ctx context.Context) (int64, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.CurrentBlockCalled++
	if m.CurrentBlockError != nil {
		return 0, m.CurrentBlockError
	}
	return m.Height, nil
}

func (m *MockClient) Tempo(ctx context.Context) (int64, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.TempoCalled++
	if m.TempoError != nil {
		return 0, m.TempoError
	}
	return m.TempoBlocks, nil
}

func (m *MockClient) Directory(ctx context.Context) (*DirectorySnapshot, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.DirectoryCalled++
	if m.DirectoryError != nil {
		return nil, m.DirectoryError
	}
	return m.Snapshot, nil
}

func (m *MockClient) SubmitWeights(ctx context.Context, update WeightUpdate, waitForFinalization bool) (int64, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.SubmitWeightsCalled++
	if m.SubmitWeightsError != nil {
		return 0, m.SubmitWeightsError
	}
	m.LastUpdate = &update
	return m.IncludedBlock, nil
}
