package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"validator-engine/apiconfig"
	"validator-engine/chainepoch"
	"validator-engine/coordination"
	"validator-engine/internal/dispatch"
	"validator-engine/internal/metrics"
	"validator-engine/internal/publisher"
	"validator-engine/internal/scoring"
	"validator-engine/internal/statestore"
	"validator-engine/ledger"
	"validator-engine/logging"
	"validator-engine/types"
)

// CoordinationClient is the slice of the coordination service the engine
// needs per window.
type CoordinationClient interface {
	FetchAllPending(ctx context.Context, windowIndex int64) ([]types.WorkItem, error)
	SubmitOutcome(ctx context.Context, outcome types.VerificationOutcome) error
}

// Engine drives the window lifecycle: open, fetch, verify, aggregate,
// publish, persist. One window at a time; window N+1 never opens until
// window N is published or abandoned after the publish retry budget.
//
// A window is verified and finalized once. The finalized vector is held in
// pendingWindow/pendingVector until the ledger accepts it (or the window is
// abandoned), so a failed publication retries only the publish step and
// never re-runs verification.
type Engine struct {
	planner      *chainepoch.WindowPlanner
	coordClient  CoordinationClient
	dispatcher   *dispatch.Dispatcher
	publisher    *publisher.Publisher
	store        *statestore.Store
	blockStream  ledger.BlockStreamer
	scoringCfg   apiconfig.ScoringConfig
	schedulerCfg apiconfig.SchedulerConfig

	mu              sync.Mutex
	state           types.PersistedState
	pendingWindow   *types.EpochWindow
	pendingVector   *types.ScoreVector
	publishAttempts map[int64]int
	lastTick        time.Time
	lastTickError   string
	stalled         bool
}

func NewEngine(
	planner *chainepoch.WindowPlanner,
	coordClient CoordinationClient,
	dispatcher *dispatch.Dispatcher,
	pub *publisher.Publisher,
	store *statestore.Store,
	blockStream ledger.BlockStreamer,
	scoringCfg apiconfig.ScoringConfig,
	schedulerCfg apiconfig.SchedulerConfig,
) (*Engine, error) {
	state, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("loading persisted state: %w", err)
	}
	logging.Info("Engine state loaded", logging.System,
		"lastProcessedWindow", state.LastProcessedWindowIndex,
		"lastPublishedWindow", state.LastPublishedWindowIndex)
	return &Engine{
		planner:         planner,
		coordClient:     coordClient,
		dispatcher:      dispatcher,
		publisher:       pub,
		store:           store,
		blockStream:     blockStream,
		scoringCfg:      scoringCfg,
		schedulerCfg:    schedulerCfg,
		state:           state,
		publishAttempts: make(map[int64]int),
	}, nil
}

// Run ticks until the context is cancelled or a fatal error (bad
// credentials, corrupt state) surfaces. New-block headers from the ledger
// stream trigger early ticks between intervals.
func (e *Engine) Run(ctx context.Context) error {
	go e.watchdog(ctx)

	var headers <-chan ledger.BlockHeader
	if e.blockStream != nil {
		var err error
		headers, err = e.blockStream.SubscribeNewBlocks(ctx)
		if err != nil {
			logging.Warn("Block stream unavailable, relying on tick interval only", logging.System, "error", err)
		}
	}

	ticker := time.NewTicker(e.schedulerCfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case header, ok := <-headers:
			if !ok {
				headers = nil
				continue
			}
			logging.Debug("New block header", logging.System, "height", header.Height)
		}

		if err := e.Tick(ctx); err != nil {
			if errors.Is(err, coordination.ErrUnauthorized) || errors.Is(err, statestore.ErrCorruptState) {
				return err
			}
			logging.Warn("Tick failed, will retry", logging.System, "error", err)
		}
	}
}

// Tick runs one full cycle for the most recent closed window, if any.
func (e *Engine) Tick(ctx context.Context) error {
	e.mu.Lock()
	pendingWindow, pendingVector := e.pendingWindow, e.pendingVector
	e.mu.Unlock()

	// A finalized vector awaiting ledger acceptance is retried before
	// anything else; its window's outcomes were already produced and must
	// not be recomputed.
	if pendingWindow != nil {
		err := e.publishWindow(ctx, *pendingWindow, pendingVector)
		e.noteTick(err)
		return err
	}

	window, err := e.planner.PreviousClosedWindow(ctx)
	if err != nil {
		e.noteTick(err)
		return err
	}
	if window == nil {
		e.noteTick(nil)
		return nil
	}

	e.mu.Lock()
	state := e.state
	e.mu.Unlock()

	if chainepoch.IsAlreadyProcessed(window.Index, state) {
		logging.Debug("Window already processed, skipping", logging.Scheduler,
			"window", window.Index,
			"lastPublished", state.LastPublishedWindowIndex,
			"lastProcessed", state.LastProcessedWindowIndex)
		e.noteTick(nil)
		return nil
	}

	err = e.processWindow(ctx, *window)
	e.noteTick(err)
	return err
}

func (e *Engine) processWindow(ctx context.Context, window types.EpochWindow) error {
	logging.Info("Processing window", logging.Scheduler,
		"window", window.Index, "startBlock", window.StartBlock, "endBlock", window.EndBlock)

	items, err := e.coordClient.FetchAllPending(ctx, window.Index)
	if err != nil {
		if errors.Is(err, coordination.ErrUnauthorized) {
			return err
		}
		return fmt.Errorf("fetching work items for window %d: %w", window.Index, err)
	}

	aggregator, err := scoring.NewAggregator(e.scoringCfg)
	if err != nil {
		return fmt.Errorf("building aggregator: %w", err)
	}

	outcomes := e.dispatcher.DispatchAll(ctx, items)
	unsubmitted := 0
	for _, outcome := range outcomes {
		aggregator.Record(outcome)
		if err := e.coordClient.SubmitOutcome(ctx, outcome); err != nil {
			// Local aggregation alone decides the published vector; a
			// rejected submission only costs visibility on the service.
			unsubmitted++
			metrics.UnsubmittedOutcomes.Inc()
			logging.Warn("Outcome not accepted by coordination service", logging.Coordination,
				"workItem", outcome.WorkItemId, "status", outcome.Status, "error", err)
		}
	}
	logging.Info("Window verification complete", logging.Verification,
		"window", window.Index, "items", len(items), "unsubmitted", unsubmitted)

	vector, err := aggregator.Finalize(window)
	if err != nil {
		return fmt.Errorf("finalizing window %d: %w", window.Index, err)
	}

	e.mu.Lock()
	e.pendingWindow = &window
	e.pendingVector = vector
	e.mu.Unlock()

	return e.publishWindow(ctx, window, vector)
}

// publishWindow submits a finalized vector and commits the watermark on
// acceptance. Failures leave the vector pending for the next tick.
func (e *Engine) publishWindow(ctx context.Context, window types.EpochWindow, vector *types.ScoreVector) error {
	e.mu.Lock()
	state := e.state
	e.mu.Unlock()

	if err := e.publisher.Publish(ctx, window, vector, &state); err != nil {
		return e.handlePublishFailure(window, err)
	}

	e.mu.Lock()
	e.state = state
	e.pendingWindow, e.pendingVector = nil, nil
	delete(e.publishAttempts, window.Index)
	e.mu.Unlock()

	metrics.WindowsProcessed.Inc()
	return nil
}

// handlePublishFailure leaves the window unpublished so it is retried on the
// next tick, until the retry budget runs out and the window is abandoned.
// Missing permit never burns budget: it is an operator condition, not a
// transient fault.
func (e *Engine) handlePublishFailure(window types.EpochWindow, pubErr error) error {
	if errors.Is(pubErr, publisher.ErrNoPermit) {
		metrics.PublicationsTotal.WithLabelValues(metrics.ResultSkipped).Inc()
		logging.Warn("Publication skipped, no permit; window left unpublished", logging.Publication,
			"window", window.Index)
		return pubErr
	}

	e.mu.Lock()
	e.publishAttempts[window.Index]++
	attempts := e.publishAttempts[window.Index]
	e.mu.Unlock()

	metrics.PublicationsTotal.WithLabelValues(metrics.ResultFailed).Inc()

	if attempts < e.schedulerCfg.PublishRetryBudget {
		logging.Warn("Publication failed, will retry next tick", logging.Publication,
			"window", window.Index, "attempt", attempts,
			"budget", e.schedulerCfg.PublishRetryBudget, "error", pubErr)
		return pubErr
	}

	// Budget exhausted: abandon so later windows are not starved. Only the
	// processed watermark moves, the published watermark stays behind.
	e.mu.Lock()
	e.state.LastProcessedWindowIndex = window.Index
	state := e.state
	e.pendingWindow, e.pendingVector = nil, nil
	delete(e.publishAttempts, window.Index)
	e.mu.Unlock()

	if err := e.store.Save(state); err != nil {
		return fmt.Errorf("persisting abandoned window %d: %w", window.Index, err)
	}

	metrics.PublicationsTotal.WithLabelValues(metrics.ResultAbandoned).Inc()
	logging.Error("Window abandoned after exhausting publish retry budget", logging.Publication,
		"window", window.Index, "attempts", attempts, "error", pubErr)
	return nil
}

func (e *Engine) noteTick(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastTick = time.Now().UTC()
	e.stalled = false
	metrics.LastTickTimestamp.Set(float64(e.lastTick.Unix()))
	metrics.EngineStalled.Set(0)
	if err != nil {
		e.lastTickError = err.Error()
	} else {
		e.lastTickError = ""
	}
}

// watchdog turns a silently stalled tick loop into a loud, observable
// condition: an error log, a gauge, and a failing health endpoint so a
// supervisor restarts the process.
func (e *Engine) watchdog(ctx context.Context) {
	staleAfter := e.schedulerCfg.WatchdogStaleAfter
	if staleAfter <= 0 {
		return
	}
	ticker := time.NewTicker(staleAfter / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if e.refreshStallStatus() {
				e.mu.Lock()
				last := e.lastTick
				e.mu.Unlock()
				logging.Error("Engine tick loop appears stalled", logging.System,
					"lastTick", last.Format(time.RFC3339), "staleAfter", staleAfter.String())
			}
		}
	}
}

// refreshStallStatus recomputes whether the tick loop has gone quiet for
// longer than the watchdog threshold.
func (e *Engine) refreshStallStatus() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	staleAfter := e.schedulerCfg.WatchdogStaleAfter
	e.stalled = staleAfter > 0 && !e.lastTick.IsZero() && time.Since(e.lastTick) > staleAfter
	if e.stalled {
		metrics.EngineStalled.Set(1)
	} else {
		metrics.EngineStalled.Set(0)
	}
	return e.stalled
}

// Status is the snapshot served by the admin endpoint.
type Status struct {
	LastTick                 time.Time `json:"last_tick"`
	LastTickError            string    `json:"last_tick_error,omitempty"`
	Stalled                  bool      `json:"stalled"`
	LastProcessedWindowIndex int64     `json:"last_processed_window_index"`
	LastPublishedWindowIndex int64     `json:"last_published_window_index"`
	LastPublishedBlock       int64     `json:"last_published_block"`
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		LastTick:                 e.lastTick,
		LastTickError:            e.lastTickError,
		Stalled:                  e.stalled,
		LastProcessedWindowIndex: e.state.LastProcessedWindowIndex,
		LastPublishedWindowIndex: e.state.LastPublishedWindowIndex,
		LastPublishedBlock:       e.state.LastPublishedBlock,
	}
}
