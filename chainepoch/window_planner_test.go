package chainepoch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"validator-engine/ledger"
	"validator-engine/types"
)

func TestWindowAt(t *testing.T) {
	planner := &WindowPlanner{finalizationBufferBlocks: 5}

	testCases := []struct {
		name          string
		tempo         int64
		currentBlock  int64
		expectedIndex int64
		expectNil     bool
	}{
		{
			name:         "First epoch has no previous window",
			tempo:        100,
			currentBlock: 50,
			expectNil:    true,
		},
		{
			name:         "Window closed but inside finalization buffer",
			tempo:        100,
			currentBlock: 103, // window 0 ends at 99, only 4 blocks past
			expectNil:    true,
		},
		{
			name:          "Window closed and buffer cleared",
			tempo:         100,
			currentBlock:  104, // 104 - 99 = 5 blocks past the close
			expectedIndex: 0,
		},
		{
			name:          "Later epoch",
			tempo:         100,
			currentBlock:  360,
			expectedIndex: 2,
		},
		{
			name:          "Exact epoch boundary still inside buffer",
			tempo:         100,
			currentBlock:  300,
			expectNil:     true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			window := planner.windowAt(tc.tempo, tc.currentBlock)
			if tc.expectNil {
				assert.Nil(t, window)
				return
			}
			require.NotNil(t, window)
			assert.Equal(t, tc.expectedIndex, window.Index)
			assert.Equal(t, tc.expectedIndex*tc.tempo, window.StartBlock)
			assert.Equal(t, (tc.expectedIndex+1)*tc.tempo-1, window.EndBlock)
		})
	}
}

func TestPreviousClosedWindow(t *testing.T) {
	client := ledger.NewMockClient()
	client.TempoBlocks = 10
	client.Height = 27

	planner := NewWindowPlanner(client, 5)
	window, err := planner.PreviousClosedWindow(context.Background())
	require.NoError(t, err)
	require.NotNil(t, window)
	assert.Equal(t, int64(1), window.Index)
	assert.Equal(t, int64(10), window.StartBlock)
	assert.Equal(t, int64(19), window.EndBlock)
}

func TestPreviousClosedWindowHeightUnavailable(t *testing.T) {
	client := ledger.NewMockClient()
	client.TempoBlocks = 10
	client.CurrentBlockError = ledger.ErrHeightUnavailable

	planner := NewWindowPlanner(client, 5)
	window, err := planner.PreviousClosedWindow(context.Background())
	assert.Nil(t, window)
	assert.ErrorIs(t, err, ledger.ErrHeightUnavailable)
}

func TestTempoCachedAcrossFailures(t *testing.T) {
	client := ledger.NewMockClient()
	client.TempoBlocks = 10
	client.Height = 27

	planner := NewWindowPlanner(client, 5)
	_, err := planner.PreviousClosedWindow(context.Background())
	require.NoError(t, err)

	// Tempo queries now fail, the cached value keeps the planner working.
	client.Mu.Lock()
	client.TempoError = errors.New("tempo unavailable")
	client.Mu.Unlock()

	window, err := planner.PreviousClosedWindow(context.Background())
	require.NoError(t, err)
	require.NotNil(t, window)
	assert.Equal(t, int64(1), window.Index)
}

func TestIsAlreadyPublished(t *testing.T) {
	state := types.PersistedState{
		LastProcessedWindowIndex: 7,
		LastPublishedWindowIndex: 5,
	}

	assert.True(t, IsAlreadyPublished(4, state))
	assert.True(t, IsAlreadyPublished(5, state))
	assert.False(t, IsAlreadyPublished(6, state))

	// Windows 6 and 7 were abandoned, not published, but are still done.
	assert.True(t, IsAlreadyProcessed(6, state))
	assert.True(t, IsAlreadyProcessed(7, state))
	assert.False(t, IsAlreadyProcessed(8, state))
}
