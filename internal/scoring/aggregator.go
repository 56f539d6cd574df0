package scoring

import (
	"fmt"
	"sort"

	"cosmossdk.io/math"

	"validator-engine/apiconfig"
	"validator-engine/logging"
	"validator-engine/types"
)

// Aggregator folds verification outcomes into per-submitter metrics for one
// window and reduces them to a normalized score vector at window close.
//
// Finalize is deterministic: submitters are processed in lexicographic order
// and all arithmetic uses fixed-point decimals, so two validators that
// observed the same outcomes produce bit-identical vectors.
type Aggregator struct {
	burnFraction math.LegacyDec
	burnId       string
	minWeight    math.LegacyDec
	maxWeight    math.LegacyDec

	metrics   map[string]*types.SubmitterMetric
	finalized bool
}

func NewAggregator(config apiconfig.ScoringConfig) (*Aggregator, error) {
	burnFraction, err := math.LegacyNewDecFromStr(config.BurnFraction)
	if err != nil {
		return nil, fmt.Errorf("parsing burn_fraction %q: %w", config.BurnFraction, err)
	}
	minWeight, err := math.LegacyNewDecFromStr(config.MinWeight)
	if err != nil {
		return nil, fmt.Errorf("parsing min_weight %q: %w", config.MinWeight, err)
	}
	maxWeight, err := math.LegacyNewDecFromStr(config.MaxWeight)
	if err != nil {
		return nil, fmt.Errorf("parsing max_weight %q: %w", config.MaxWeight, err)
	}

	if burnFraction.IsNegative() || burnFraction.GT(math.LegacyOneDec()) {
		return nil, fmt.Errorf("burn_fraction %s outside [0,1]", burnFraction)
	}
	if burnFraction.IsPositive() && config.BurnId == "" {
		return nil, fmt.Errorf("burn_fraction is %s but burn_id is not set", burnFraction)
	}
	if minWeight.IsNegative() || maxWeight.GT(math.LegacyOneDec()) || minWeight.GT(maxWeight) {
		return nil, fmt.Errorf("invalid weight bounds [%s, %s]", minWeight, maxWeight)
	}

	return &Aggregator{
		burnFraction: burnFraction,
		burnId:       config.BurnId,
		minWeight:    minWeight,
		maxWeight:    maxWeight,
		metrics:      make(map[string]*types.SubmitterMetric),
	}, nil
}

// Record tallies one outcome. Every outcome counts toward the submitter's
// total; only Success counts toward successes. Inconclusive runs (Timeout,
// Stale, Error) still penalize the success rate, so ambiguous outcomes
// cannot be gamed.
func (a *Aggregator) Record(outcome types.VerificationOutcome) {
	metric, ok := a.metrics[outcome.SubmitterId]
	if !ok {
		metric = &types.SubmitterMetric{}
		a.metrics[outcome.SubmitterId] = metric
	}
	metric.TotalCount++
	if outcome.Status == types.OutcomeSuccess {
		metric.SuccessCount++
	}
}

// Metrics returns a copy of the per-submitter tallies.
func (a *Aggregator) Metrics() map[string]types.SubmitterMetric {
	out := make(map[string]types.SubmitterMetric, len(a.metrics))
	for id, m := range a.metrics {
		out[id] = *m
	}
	return out
}

// Finalize reduces the window's metrics to the normalized score vector:
// raw success rates, normalized to sum 1, clamped to the ledger's per-identity
// bounds, then diluted by the burn fraction with the reserved share assigned
// to the burn identity. Submitters that never entered the window
// (TotalCount == 0) are excluded. Callable once per window.
func (a *Aggregator) Finalize(window types.EpochWindow) (*types.ScoreVector, error) {
	if a.finalized {
		return nil, fmt.Errorf("window %d already finalized", window.Index)
	}
	a.finalized = true

	submitters := make([]string, 0, len(a.metrics))
	for id, metric := range a.metrics {
		if metric.TotalCount > 0 {
			submitters = append(submitters, id)
		}
	}
	sort.Strings(submitters)

	raw := make([]math.LegacyDec, len(submitters))
	rawSum := math.LegacyZeroDec()
	for i, id := range submitters {
		metric := a.metrics[id]
		raw[i] = math.LegacyNewDec(metric.SuccessCount).Quo(math.LegacyNewDec(metric.TotalCount))
		rawSum = rawSum.Add(raw[i])
	}

	if rawSum.IsZero() {
		// No submitter earned any weight this window. The burn identity
		// absorbs everything when a burn is configured, otherwise the
		// vector is empty.
		if a.burnFraction.IsPositive() {
			return types.NewScoreVector(window.Index, map[string]math.LegacyDec{
				a.burnId: math.LegacyOneDec(),
			}), nil
		}
		return types.NewScoreVector(window.Index, nil), nil
	}

	normalized := make([]math.LegacyDec, len(submitters))
	for i := range raw {
		normalized[i] = raw[i].Quo(rawSum)
	}

	clamped, ok := clampAndRenormalize(normalized, a.minWeight, a.maxWeight)
	if !ok {
		logging.Warn("Weight bounds unsatisfiable, publishing empty vector", logging.Scoring,
			"window", window.Index, "submitters", len(submitters),
			"minWeight", a.minWeight.String(), "maxWeight", a.maxWeight.String())
		return types.NewScoreVector(window.Index, nil), nil
	}

	weights := make(map[string]math.LegacyDec, len(submitters)+1)
	keep := math.LegacyOneDec().Sub(a.burnFraction)
	for i, id := range submitters {
		weights[id] = clamped[i].Mul(keep)
	}
	if a.burnFraction.IsPositive() {
		weights[a.burnId] = a.burnFraction
	}

	return types.NewScoreVector(window.Index, weights), nil
}

// clampAndRenormalize forces every weight into [min, max], redistributing
// the excess or deficit proportionally across unclamped entries, and repeats
// until both constraints hold. Returns ok=false when the bounds cannot be
// satisfied for this many entries.
func clampAndRenormalize(weights []math.LegacyDec, min, max math.LegacyDec) ([]math.LegacyDec, bool) {
	n := len(weights)
	if n == 0 {
		return weights, true
	}
	// Feasibility: n entries must be able to sum to 1 within the bounds.
	if max.MulInt64(int64(n)).LT(math.LegacyOneDec()) {
		return nil, false
	}
	if min.MulInt64(int64(n)).GT(math.LegacyOneDec()) {
		return nil, false
	}

	out := make([]math.LegacyDec, n)
	copy(out, weights)

	// Each pass pins at least one entry to a bound, so n+1 passes suffice.
	for pass := 0; pass <= n; pass++ {
		violation := false

		// Ceiling: cap violators, spread the excess over entries with
		// remaining headroom, proportional to their current weight.
		excess := math.LegacyZeroDec()
		headroom := math.LegacyZeroDec()
		for i := range out {
			if out[i].GT(max) {
				excess = excess.Add(out[i].Sub(max))
				out[i] = max
				violation = true
			} else if out[i].LT(max) {
				headroom = headroom.Add(out[i])
			}
		}
		if excess.IsPositive() && headroom.IsPositive() {
			for i := range out {
				if out[i].LT(max) && out[i].IsPositive() {
					out[i] = out[i].Add(excess.Mul(out[i]).Quo(headroom))
				}
			}
		}

		// Floor: raise violators, take the deficit from entries above the
		// floor, proportional to their margin over it.
		deficit := math.LegacyZeroDec()
		margin := math.LegacyZeroDec()
		for i := range out {
			if out[i].IsPositive() && out[i].LT(min) {
				deficit = deficit.Add(min.Sub(out[i]))
				out[i] = min
				violation = true
			} else if out[i].GT(min) {
				margin = margin.Add(out[i].Sub(min))
			}
		}
		if deficit.IsPositive() && margin.IsPositive() {
			for i := range out {
				if out[i].GT(min) {
					out[i] = out[i].Sub(deficit.Mul(out[i].Sub(min)).Quo(margin))
				}
			}
		}

		if !violation {
			return out, true
		}
	}
	return nil, false
}
