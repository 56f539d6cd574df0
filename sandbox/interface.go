package sandbox

import (
	"context"
	"encoding/json"
)

// ExecutionResult is the sandbox's verdict for one execution plan.
type ExecutionResult struct {
	Ok              bool   `json:"ok"`
	AmountDelivered string `json:"amount_delivered"`
	GasUsed         uint64 `json:"gas_used"`
	FeePaid         string `json:"fee_paid"`
	FailureReason   string `json:"failure_reason,omitempty"`
}

// SandboxClient runs execution plans against the deterministic-execution
// sandbox. The sandbox is a black box: one call, one result.
type SandboxClient interface {
	// Execute runs the plan against a fork of chain state at the target
	// height. A non-nil error means the call itself failed (malformed
	// payload, sandbox unreachable), not that the plan failed.
	Execute(ctx context.Context, payload json.RawMessage, targetBlockHeight int64) (*ExecutionResult, error)

	// LatestBlock reports the most recent block height the sandbox has
	// observed, used to detect stale target-state references.
	LatestBlock(ctx context.Context) (int64, error)
}
