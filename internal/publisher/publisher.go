package publisher

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"cosmossdk.io/math"

	"validator-engine/apiconfig"
	"validator-engine/internal/metrics"
	"validator-engine/internal/statestore"
	"validator-engine/ledger"
	"validator-engine/logging"
	"validator-engine/types"
)

// ErrNoPermit means the ledger does not currently grant this validator
// publication eligibility. The window stays unpublished and is retried on a
// later tick.
var ErrNoPermit = errors.New("validator holds no publication permit")

// Publisher maps score vectors onto ledger-native identity slots and submits
// them, exactly once per window. The persisted watermark advances strictly
// after the ledger accepts the submission.
type Publisher struct {
	client              ledger.Client
	store               *statestore.Store
	waitForFinalization bool
}

func NewPublisher(client ledger.Client, store *statestore.Store, config apiconfig.LedgerConfig) *Publisher {
	return &Publisher{
		client:              client,
		store:               store,
		waitForFinalization: config.WaitForFinalization,
	}
}

// Publish submits the vector for the window and persists the watermark. The
// passed state is mutated on success.
func (p *Publisher) Publish(ctx context.Context, window types.EpochWindow, vector *types.ScoreVector, state *types.PersistedState) error {
	directory, err := p.client.Directory(ctx)
	if err != nil {
		return fmt.Errorf("fetching identity directory: %w", err)
	}

	// Crash reconciliation: this window's own submission is only sent once
	// the finalization buffer has passed its end block, so its inclusion
	// lands strictly past EndBlock+buffer. An earlier window's submission
	// included late can land up to buffer blocks past EndBlock without
	// being ours; those must not suppress this window's publication.
	if directory.ValidatorLastUpdateBlock > window.EndBlock+window.FinalizationBufferBlocks {
		logging.Warn("Ledger already holds a weight update for this window, persisting watermark without resubmitting",
			logging.Publication,
			"window", window.Index,
			"ledgerUpdateBlock", directory.ValidatorLastUpdateBlock,
			"windowEndBlock", window.EndBlock)
		return p.persistPublished(window, vector, directory.ValidatorLastUpdateBlock, state)
	}

	if !directory.ValidatorPermit {
		return fmt.Errorf("%w (window %d)", ErrNoPermit, window.Index)
	}

	update, dropped := mapToSlots(window.Index, vector, directory)
	if dropped > 0 {
		logging.Warn("Dropped submitters with no resolvable ledger slot", logging.Publication,
			"window", window.Index, "dropped", dropped, "kept", len(update.Slots))
	}

	if len(update.Slots) == 0 {
		// Nothing to publish for this window. The window still completes:
		// leaving it open would stall every later window behind it.
		logging.Info("Score vector empty after slot mapping, completing window without submission",
			logging.Publication, "window", window.Index)
		return p.persistPublished(window, vector, state.LastPublishedBlock, state)
	}

	includedBlock, err := p.client.SubmitWeights(ctx, update, p.waitForFinalization)
	if err != nil {
		return fmt.Errorf("submitting weights for window %d: %w", window.Index, err)
	}

	return p.persistPublished(window, vector, includedBlock, state)
}

func (p *Publisher) persistPublished(window types.EpochWindow, vector *types.ScoreVector, includedBlock int64, state *types.PersistedState) error {
	state.LastPublishedWindowIndex = window.Index
	if window.Index > state.LastProcessedWindowIndex {
		state.LastProcessedWindowIndex = window.Index
	}
	state.LastScoreVector = vector
	state.LastPublishedBlock = includedBlock

	if err := p.store.Save(*state); err != nil {
		// The ledger accepted the vector but the watermark did not reach
		// disk. Reconciliation on the next tick (or restart) detects the
		// accepted update and will not resubmit.
		return fmt.Errorf("persisting watermark for window %d: %w", window.Index, err)
	}

	metrics.PublicationsTotal.WithLabelValues(metrics.ResultSuccess).Inc()
	logging.Info("Window published", logging.Publication,
		"window", window.Index, "includedBlock", includedBlock, "entries", len(vector.Entries))
	return nil
}

// mapToSlots resolves submitter identities to ledger slots. Unresolvable
// identities are dropped and the remaining weight is renormalized across the
// survivors, never redistributed to a guessed slot.
func mapToSlots(windowIndex int64, vector *types.ScoreVector, directory *ledger.DirectorySnapshot) (ledger.WeightUpdate, int) {
	update := ledger.WeightUpdate{WindowIndex: windowIndex}
	if vector.IsEmpty() {
		return update, 0
	}

	type slotWeight struct {
		slot   int64
		weight math.LegacyDec
	}
	resolved := make([]slotWeight, 0, len(vector.Entries))
	keptSum := math.LegacyZeroDec()
	dropped := 0

	for _, entry := range vector.Entries {
		info, ok := directory.Identities[entry.SubmitterId]
		if !ok {
			logging.Debug("Submitter not present in identity directory", logging.Publication,
				"submitter", entry.SubmitterId)
			dropped++
			continue
		}
		if entry.Weight.IsZero() {
			continue
		}
		resolved = append(resolved, slotWeight{slot: info.Slot, weight: entry.Weight})
		keptSum = keptSum.Add(entry.Weight)
	}

	if len(resolved) == 0 || keptSum.IsZero() {
		return update, dropped
	}

	sort.Slice(resolved, func(i, j int) bool { return resolved[i].slot < resolved[j].slot })

	update.Slots = make([]int64, len(resolved))
	update.Weights = make([]math.LegacyDec, len(resolved))
	for i, sw := range resolved {
		update.Slots[i] = sw.slot
		update.Weights[i] = sw.weight.Quo(keptSum)
	}
	return update, dropped
}
