package scoring

import (
	"testing"

	"cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"validator-engine/apiconfig"
	"validator-engine/types"
)

var window = types.EpochWindow{Index: 7, StartBlock: 700, EndBlock: 799}

func record(a *Aggregator, submitterId string, successes, failures int64) {
	for i := int64(0); i < successes; i++ {
		a.Record(types.VerificationOutcome{SubmitterId: submitterId, Status: types.OutcomeSuccess})
	}
	for i := int64(0); i < failures; i++ {
		a.Record(types.VerificationOutcome{SubmitterId: submitterId, Status: types.OutcomeFailure})
	}
}

func newAggregator(t *testing.T, config apiconfig.ScoringConfig) *Aggregator {
	t.Helper()
	aggregator, err := NewAggregator(config)
	require.NoError(t, err)
	return aggregator
}

func weightOf(t *testing.T, vector *types.ScoreVector, submitterId string) math.LegacyDec {
	t.Helper()
	weight, ok := vector.Get(submitterId)
	require.True(t, ok, "no weight for %s", submitterId)
	return weight
}

func TestFinalizeClampCeiling(t *testing.T) {
	// A: 9/10, B: 1/10, C: 0/0 (excluded). Ceiling 0.8 forces A down and
	// the excess flows to B.
	aggregator := newAggregator(t, apiconfig.ScoringConfig{
		BurnFraction: "0", MinWeight: "0.05", MaxWeight: "0.8",
	})
	record(aggregator, "submitter-a", 9, 1)
	record(aggregator, "submitter-b", 1, 9)

	vector, err := aggregator.Finalize(window)
	require.NoError(t, err)
	require.Len(t, vector.Entries, 2)

	assert.True(t, weightOf(t, vector, "submitter-a").Equal(math.LegacyMustNewDecFromStr("0.8")))
	assert.True(t, weightOf(t, vector, "submitter-b").Equal(math.LegacyMustNewDecFromStr("0.2")))
	assert.True(t, vector.Sum().Equal(math.LegacyOneDec()))

	_, ok := vector.Get("submitter-c")
	assert.False(t, ok)
}

func TestFinalizeBurnFraction(t *testing.T) {
	// Same distribution with half the weight diverted to the burn identity:
	// the clamped distribution is scaled by (1-b).
	aggregator := newAggregator(t, apiconfig.ScoringConfig{
		BurnFraction: "0.5", BurnId: "burn-identity", MinWeight: "0.05", MaxWeight: "0.8",
	})
	record(aggregator, "submitter-a", 9, 1)
	record(aggregator, "submitter-b", 1, 9)

	vector, err := aggregator.Finalize(window)
	require.NoError(t, err)
	require.Len(t, vector.Entries, 3)

	assert.True(t, weightOf(t, vector, "burn-identity").Equal(math.LegacyMustNewDecFromStr("0.5")))
	assert.True(t, weightOf(t, vector, "submitter-a").Equal(math.LegacyMustNewDecFromStr("0.4")))
	assert.True(t, weightOf(t, vector, "submitter-b").Equal(math.LegacyMustNewDecFromStr("0.1")))
	assert.True(t, vector.Sum().Equal(math.LegacyOneDec()))
}

func TestFinalizeDeterministicAcrossRecordOrder(t *testing.T) {
	config := apiconfig.ScoringConfig{BurnFraction: "0", MinWeight: "0.01", MaxWeight: "0.9"}

	outcomes := []types.VerificationOutcome{
		{SubmitterId: "charlie", Status: types.OutcomeSuccess},
		{SubmitterId: "alice", Status: types.OutcomeSuccess},
		{SubmitterId: "bob", Status: types.OutcomeFailure},
		{SubmitterId: "alice", Status: types.OutcomeTimeout},
		{SubmitterId: "bob", Status: types.OutcomeSuccess},
		{SubmitterId: "charlie", Status: types.OutcomeStale},
	}

	first := newAggregator(t, config)
	for _, outcome := range outcomes {
		first.Record(outcome)
	}
	firstVector, err := first.Finalize(window)
	require.NoError(t, err)

	second := newAggregator(t, config)
	for i := len(outcomes) - 1; i >= 0; i-- {
		second.Record(outcomes[i])
	}
	secondVector, err := second.Finalize(window)
	require.NoError(t, err)

	require.Equal(t, len(firstVector.Entries), len(secondVector.Entries))
	for i := range firstVector.Entries {
		assert.Equal(t, firstVector.Entries[i].SubmitterId, secondVector.Entries[i].SubmitterId)
		assert.True(t, firstVector.Entries[i].Weight.Equal(secondVector.Entries[i].Weight),
			"weight mismatch for %s: %s vs %s",
			firstVector.Entries[i].SubmitterId,
			firstVector.Entries[i].Weight, secondVector.Entries[i].Weight)
	}
}

func TestInconclusiveOutcomesPenalizeSuccessRate(t *testing.T) {
	aggregator := newAggregator(t, apiconfig.ScoringConfig{
		BurnFraction: "0", MinWeight: "0", MaxWeight: "1",
	})
	aggregator.Record(types.VerificationOutcome{SubmitterId: "a", Status: types.OutcomeSuccess})
	aggregator.Record(types.VerificationOutcome{SubmitterId: "a", Status: types.OutcomeTimeout})
	aggregator.Record(types.VerificationOutcome{SubmitterId: "a", Status: types.OutcomeStale})
	aggregator.Record(types.VerificationOutcome{SubmitterId: "a", Status: types.OutcomeError})

	metrics := aggregator.Metrics()
	assert.Equal(t, int64(4), metrics["a"].TotalCount)
	assert.Equal(t, int64(1), metrics["a"].SuccessCount)
}

func TestFinalizeNoEligibleSubmitters(t *testing.T) {
	aggregator := newAggregator(t, apiconfig.ScoringConfig{
		BurnFraction: "0", MinWeight: "0", MaxWeight: "1",
	})
	vector, err := aggregator.Finalize(window)
	require.NoError(t, err)
	assert.True(t, vector.IsEmpty())
}

func TestFinalizeAllFailuresGoesToBurn(t *testing.T) {
	aggregator := newAggregator(t, apiconfig.ScoringConfig{
		BurnFraction: "0.3", BurnId: "burn-identity", MinWeight: "0", MaxWeight: "1",
	})
	record(aggregator, "a", 0, 5)

	vector, err := aggregator.Finalize(window)
	require.NoError(t, err)
	require.Len(t, vector.Entries, 1)
	assert.True(t, weightOf(t, vector, "burn-identity").Equal(math.LegacyOneDec()))
}

func TestFinalizeTwiceFails(t *testing.T) {
	aggregator := newAggregator(t, apiconfig.ScoringConfig{
		BurnFraction: "0", MinWeight: "0", MaxWeight: "1",
	})
	record(aggregator, "a", 1, 0)

	_, err := aggregator.Finalize(window)
	require.NoError(t, err)
	_, err = aggregator.Finalize(window)
	assert.Error(t, err)
}

func TestFinalizeClampBoundsHold(t *testing.T) {
	aggregator := newAggregator(t, apiconfig.ScoringConfig{
		BurnFraction: "0", MinWeight: "0.1", MaxWeight: "0.5",
	})
	record(aggregator, "a", 10, 0)
	record(aggregator, "b", 1, 9)
	record(aggregator, "c", 1, 19)

	vector, err := aggregator.Finalize(window)
	require.NoError(t, err)

	min := math.LegacyMustNewDecFromStr("0.1")
	max := math.LegacyMustNewDecFromStr("0.5")
	for _, entry := range vector.Entries {
		if entry.Weight.IsZero() {
			continue
		}
		assert.True(t, entry.Weight.GTE(min), "%s below floor: %s", entry.SubmitterId, entry.Weight)
		assert.True(t, entry.Weight.LTE(max), "%s above ceiling: %s", entry.SubmitterId, entry.Weight)
	}
	diff := vector.Sum().Sub(math.LegacyOneDec()).Abs()
	assert.True(t, diff.LTE(math.LegacyNewDecWithPrec(1, 12)), "sum drifted: %s", vector.Sum())
}

func TestFinalizeUnsatisfiableBoundsReturnsEmpty(t *testing.T) {
	// Three entries but the ceiling only allows 3*0.2 = 0.6 of total weight.
	aggregator := newAggregator(t, apiconfig.ScoringConfig{
		BurnFraction: "0", MinWeight: "0", MaxWeight: "0.2",
	})
	record(aggregator, "a", 1, 0)
	record(aggregator, "b", 1, 0)
	record(aggregator, "c", 1, 0)

	vector, err := aggregator.Finalize(window)
	require.NoError(t, err)
	assert.True(t, vector.IsEmpty())
}

func TestNewAggregatorValidation(t *testing.T) {
	testCases := []struct {
		name   string
		config apiconfig.ScoringConfig
	}{
		{
			name:   "burn fraction above one",
			config: apiconfig.ScoringConfig{BurnFraction: "1.5", BurnId: "x", MinWeight: "0", MaxWeight: "1"},
		},
		{
			name:   "burn without burn id",
			config: apiconfig.ScoringConfig{BurnFraction: "0.2", MinWeight: "0", MaxWeight: "1"},
		},
		{
			name:   "min above max",
			config: apiconfig.ScoringConfig{BurnFraction: "0", MinWeight: "0.6", MaxWeight: "0.5"},
		},
		{
			name:   "unparseable fraction",
			config: apiconfig.ScoringConfig{BurnFraction: "lots", MinWeight: "0", MaxWeight: "1"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewAggregator(tc.config)
			assert.Error(t, err)
		})
	}
}
