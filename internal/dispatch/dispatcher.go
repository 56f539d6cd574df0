package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"validator-engine/apiconfig"
	"validator-engine/internal/metrics"
	"validator-engine/logging"
	"validator-engine/sandbox"
	"validator-engine/types"
)

// Dispatcher turns each WorkItem into exactly one VerificationOutcome. At
// most maxConcurrent sandbox calls are outstanding at once; each call
// carries its own timeout so a slow item never blocks the pipeline or its
// siblings. The dispatcher holds no cross-item state.
type Dispatcher struct {
	client         sandbox.SandboxClient
	maxConcurrent  int
	callTimeout    time.Duration
	maxStaleBlocks int64
}

func NewDispatcher(client sandbox.SandboxClient, config apiconfig.SandboxConfig) *Dispatcher {
	return &Dispatcher{
		client:         client,
		maxConcurrent:  config.MaxConcurrent,
		callTimeout:    config.CallTimeout,
		maxStaleBlocks: config.MaxStaleBlocks,
	}
}

// DispatchAll verifies a batch with a fixed-size worker pool and returns one
// outcome per item. Outcomes arrive in item order regardless of completion
// order.
func (d *Dispatcher) DispatchAll(ctx context.Context, items []types.WorkItem) []types.VerificationOutcome {
	if len(items) == 0 {
		return nil
	}

	// One staleness anchor per batch: the sandbox's observed latest block.
	// If it cannot be determined, no item is classified Stale this batch.
	latestBlock, err := d.client.LatestBlock(ctx)
	if err != nil {
		logging.Warn("Failed to query sandbox latest block, skipping staleness checks", logging.Verification,
			"error", err)
		latestBlock = 0
	}

	outcomes := make([]types.VerificationOutcome, len(items))
	indexes := make(chan int)

	var wg sync.WaitGroup
	workers := d.maxConcurrent
	if workers > len(items) {
		workers = len(items)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				outcomes[i] = d.Dispatch(ctx, items[i], latestBlock)
			}
		}()
	}

	for i := range items {
		indexes <- i
	}
	close(indexes)
	wg.Wait()

	return outcomes
}

// Dispatch classifies one item. Precedence: Error (the call itself cannot be
// made or failed) over Stale, Stale over Timeout, Timeout over the
// sandbox-reported pass/fail.
func (d *Dispatcher) Dispatch(ctx context.Context, item types.WorkItem, latestBlock int64) types.VerificationOutcome {
	outcome := types.VerificationOutcome{
		WorkItemId:  item.Id,
		SubmitterId: item.SubmitterId,
		ObservedAt:  time.Now().UTC(),
	}

	if len(item.Payload) == 0 || !json.Valid(item.Payload) {
		outcome.Status = types.OutcomeError
		logging.Warn("Work item has malformed payload", logging.Verification, "id", item.Id)
		metrics.OutcomesTotal.WithLabelValues(string(outcome.Status)).Inc()
		return outcome
	}

	if d.isStale(item, latestBlock) {
		outcome.Status = types.OutcomeStale
		logging.Debug("Work item target state is stale", logging.Verification,
			"id", item.Id, "targetBlock", item.TargetBlockHeight, "latestBlock", latestBlock)
		metrics.OutcomesTotal.WithLabelValues(string(outcome.Status)).Inc()
		return outcome
	}

	callCtx, cancel := context.WithTimeout(ctx, d.callTimeout)
	defer cancel()

	metrics.InflightVerifications.Inc()
	result, err := d.client.Execute(callCtx, item.Payload, item.TargetBlockHeight)
	metrics.InflightVerifications.Dec()

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		outcome.Status = types.OutcomeTimeout
	case err != nil:
		outcome.Status = types.OutcomeError
		logging.Warn("Sandbox call failed", logging.Verification, "id", item.Id, "error", err)
	case result.Ok:
		outcome.Status = types.OutcomeSuccess
	default:
		outcome.Status = types.OutcomeFailure
		logging.Debug("Execution plan failed verification", logging.Verification,
			"id", item.Id, "reason", result.FailureReason)
	}

	metrics.OutcomesTotal.WithLabelValues(string(outcome.Status)).Inc()
	return outcome
}

// isStale reports whether the item's target-state reference is too far
// behind the sandbox's view of the chain to be trusted.
func (d *Dispatcher) isStale(item types.WorkItem, latestBlock int64) bool {
	if latestBlock <= 0 || item.TargetBlockHeight <= 0 {
		return false
	}
	return latestBlock-item.TargetBlockHeight > d.maxStaleBlocks
}
