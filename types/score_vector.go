package types

import (
	"sort"

	"cosmossdk.io/math"
)

// WeightEntry assigns one submitter its normalized share of the vector.
type WeightEntry struct {
	SubmitterId string         `json:"submitter_id"`
	Weight      math.LegacyDec `json:"weight"`
}

// ScoreVector is the normalized per-window weight distribution. Entries are
// kept sorted by submitter id so two validators that computed the same
// weights serialize and submit the identical vector.
type ScoreVector struct {
	WindowIndex int64         `json:"window_index"`
	Entries     []WeightEntry `json:"entries"`
}

func NewScoreVector(windowIndex int64, weights map[string]math.LegacyDec) *ScoreVector {
	entries := make([]WeightEntry, 0, len(weights))
	for id, w := range weights {
		entries = append(entries, WeightEntry{SubmitterId: id, Weight: w})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].SubmitterId < entries[j].SubmitterId
	})
	return &ScoreVector{WindowIndex: windowIndex, Entries: entries}
}

func (v *ScoreVector) IsEmpty() bool {
	return v == nil || len(v.Entries) == 0
}

func (v *ScoreVector) Get(submitterId string) (math.LegacyDec, bool) {
	if v == nil {
		return math.LegacyZeroDec(), false
	}
	for _, e := range v.Entries {
		if e.SubmitterId == submitterId {
			return e.Weight, true
		}
	}
	return math.LegacyZeroDec(), false
}

func (v *ScoreVector) Sum() math.LegacyDec {
	sum := math.LegacyZeroDec()
	if v == nil {
		return sum
	}
	for _, e := range v.Entries {
		sum = sum.Add(e.Weight)
	}
	return sum
}
