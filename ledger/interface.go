package ledger

import (
	"context"
	"errors"

	"cosmossdk.io/math"
)

// ErrHeightUnavailable is returned when the ledger cannot report its current
// block height. Callers must back off and retry; window boundaries are never
// guessed.
var ErrHeightUnavailable = errors.New("ledger block height unavailable")

// IdentityInfo is one row of the ledger's identity directory.
type IdentityInfo struct {
	Slot            int64 `json:"slot"`
	LastUpdateBlock int64 `json:"last_update_block"`
}

// DirectorySnapshot maps submitter identities to their ledger-native slots,
// taken at a single block. It also carries this validator's own standing:
// its slot, its publication permit, and the block of its last accepted
// weight update.
type DirectorySnapshot struct {
	Block                    int64                   `json:"block"`
	Identities               map[string]IdentityInfo `json:"identities"`
	ValidatorSlot            int64                   `json:"validator_slot"`
	ValidatorPermit          bool                    `json:"validator_permit"`
	ValidatorLastUpdateBlock int64                   `json:"validator_last_update_block"`
}

// WeightUpdate is a slot-indexed normalized weight vector ready for
// submission. Slots and Weights are parallel, sorted by slot.
type WeightUpdate struct {
	WindowIndex int64            `json:"window_index"`
	Slots       []int64          `json:"slots"`
	Weights     []math.LegacyDec `json:"weights"`
}

// BlockHeader is a new-block notification from the ledger stream.
type BlockHeader struct {
	Height int64  `json:"height"`
	Hash   string `json:"hash"`
}

// Client is the narrow contract the engine relies on from the ledger.
type Client interface {
	// CurrentBlock returns the latest finalized block height, or
	// ErrHeightUnavailable.
	CurrentBlock(ctx context.Context) (int64, error)

	// Tempo returns the network's block-count period defining one epoch
	// window.
	Tempo(ctx context.Context) (int64, error)

	// Directory returns the current identity-directory snapshot.
	Directory(ctx context.Context) (*DirectorySnapshot, error)

	// SubmitWeights submits the vector, optionally waiting for chain
	// finalization, and returns the inclusion block height.
	SubmitWeights(ctx context.Context, update WeightUpdate, waitForFinalization bool) (int64, error)
}

// BlockStreamer is implemented by clients that can push new-block headers,
// sparing the scheduler from polling between ticks.
type BlockStreamer interface {
	SubscribeNewBlocks(ctx context.Context) (<-chan BlockHeader, error)
}
