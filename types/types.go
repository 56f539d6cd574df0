package types

import (
	"encoding/json"
	"time"
)

// WorkItem is one externally-submitted unit of work pending verification.
// Immutable once fetched from the coordination service.
type WorkItem struct {
	Id                string          `json:"id"`
	SubmitterId       string          `json:"submitter_id"`
	Payload           json.RawMessage `json:"payload"`
	TargetBlockHeight int64           `json:"target_block_height"`
	ReceivedAt        time.Time       `json:"received_at"`
}

type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeFailure OutcomeStatus = "failure"
	OutcomeTimeout OutcomeStatus = "timeout"
	OutcomeStale   OutcomeStatus = "stale"
	OutcomeError   OutcomeStatus = "error"
)

// VerificationOutcome is produced exactly once per WorkItem per window.
type VerificationOutcome struct {
	WorkItemId  string        `json:"work_item_id"`
	SubmitterId string        `json:"submitter_id"`
	Status      OutcomeStatus `json:"status"`
	ObservedAt  time.Time     `json:"observed_at"`
}

// EpochWindow is one tempo-aligned scoring window. Windows are strictly
// increasing and never reopened after publication.
type EpochWindow struct {
	Index                    int64     `json:"index"`
	StartBlock               int64     `json:"start_block"`
	EndBlock                 int64     `json:"end_block"`
	FinalizationBufferBlocks int64     `json:"finalization_buffer_blocks"`
	OpenedAt                 time.Time `json:"opened_at"`
}

// SubmitterMetric is the per-submitter running tally for one open window.
type SubmitterMetric struct {
	SuccessCount int64 `json:"success_count"`
	TotalCount   int64 `json:"total_count"`
}

// PersistedState is the engine's durable progress record and the sole source
// of truth for whether a window has been published. Window index 0 is never
// processed, so the zero value means "nothing published yet".
type PersistedState struct {
	LastProcessedWindowIndex int64        `json:"last_processed_window_index"`
	LastPublishedWindowIndex int64        `json:"last_published_window_index"`
	LastPublishedBlock       int64        `json:"last_published_block"`
	LastScoreVector          *ScoreVector `json:"last_score_vector,omitempty"`
	SavedAt                  time.Time    `json:"saved_at"`
}
