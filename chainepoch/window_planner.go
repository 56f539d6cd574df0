package chainepoch

import (
	"context"
	"sync"
	"time"

	"validator-engine/ledger"
	"validator-engine/logging"
	"validator-engine/types"
)

const tempoRefreshInterval = 10 * time.Minute

// WindowPlanner derives tempo-aligned epoch windows from the ledger's block
// height, so independently-running validators slice identical windows. A
// window is only handed out once the chain has advanced past its close by
// the finalization buffer.
type WindowPlanner struct {
	client                   ledger.Client
	finalizationBufferBlocks int64

	mu             sync.Mutex
	cachedTempo    int64
	tempoFetchedAt time.Time
}

func NewWindowPlanner(client ledger.Client, finalizationBufferBlocks int64) *WindowPlanner {
	return &WindowPlanner{
		client:                   client,
		finalizationBufferBlocks: finalizationBufferBlocks,
	}
}

// PreviousClosedWindow returns the most recent window that has fully closed
// and cleared the finalization buffer, or nil when no window is ready yet.
// If the ledger height is unavailable the error is surfaced so the caller
// waits and retries; window boundaries are never guessed.
func (p *WindowPlanner) PreviousClosedWindow(ctx context.Context) (*types.EpochWindow, error) {
	tempo, err := p.tempo(ctx)
	if err != nil {
		return nil, err
	}
	currentBlock, err := p.client.CurrentBlock(ctx)
	if err != nil {
		return nil, err
	}
	return p.windowAt(tempo, currentBlock), nil
}

// windowAt is the pure boundary computation: the current epoch index is
// currentBlock/tempo, and the candidate window is the one before it,
// spanning blocks [index*tempo, (index+1)*tempo - 1].
func (p *WindowPlanner) windowAt(tempo, currentBlock int64) *types.EpochWindow {
	currentEpoch := currentBlock / tempo
	if currentEpoch <= 0 {
		return nil
	}
	previousEpoch := currentEpoch - 1
	endBlock := currentEpoch*tempo - 1

	if currentBlock-endBlock < p.finalizationBufferBlocks {
		logging.Debug("Window closed but still inside finalization buffer", logging.Scheduler,
			"window", previousEpoch, "endBlock", endBlock, "currentBlock", currentBlock)
		return nil
	}

	return &types.EpochWindow{
		Index:                    previousEpoch,
		StartBlock:               previousEpoch * tempo,
		EndBlock:                 endBlock,
		FinalizationBufferBlocks: p.finalizationBufferBlocks,
		OpenedAt:                 time.Now().UTC(),
	}
}

// IsAlreadyPublished gates re-entrancy on the persisted watermark, never on
// ledger reads, since ledger read-after-write may lag.
func IsAlreadyPublished(index int64, state types.PersistedState) bool {
	return index <= state.LastPublishedWindowIndex
}

// IsAlreadyProcessed also covers windows abandoned after exhausting the
// publish retry budget.
func IsAlreadyProcessed(index int64, state types.PersistedState) bool {
	return index <= state.LastProcessedWindowIndex || IsAlreadyPublished(index, state)
}

func (p *WindowPlanner) tempo(ctx context.Context) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cachedTempo > 0 && time.Since(p.tempoFetchedAt) < tempoRefreshInterval {
		return p.cachedTempo, nil
	}
	tempo, err := p.client.Tempo(ctx)
	if err != nil {
		if p.cachedTempo > 0 {
			logging.Warn("Tempo query failed, using cached value", logging.Scheduler,
				"tempo", p.cachedTempo, "error", err)
			return p.cachedTempo, nil
		}
		return 0, err
	}
	p.cachedTempo = tempo
	p.tempoFetchedAt = time.Now()
	return tempo, nil
}
