package coordination

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"validator-engine/apiconfig"
	"validator-engine/types"
)

func testConfig(url string) apiconfig.CoordinationConfig {
	return apiconfig.CoordinationConfig{
		Url:               url,
		ApiKey:            "secret",
		Timeout:           2 * time.Second,
		VerifyTls:         true,
		MaxRetries:        3,
		BackoffInterval:   time.Millisecond,
		BackoffMultiplier: 1.1,
		PageLimit:         2,
	}
}

func TestFetchAllPendingPaginates(t *testing.T) {
	pages := map[string]pendingItemsResponse{
		"": {
			Items: []types.WorkItem{
				{Id: "order-1", SubmitterId: "a"},
				{Id: "order-2", SubmitterId: "b"},
			},
			NextCursor: "page-2",
		},
		"page-2": {
			Items: []types.WorkItem{
				{Id: "order-3", SubmitterId: "a"},
			},
		},
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "validator-1", r.URL.Query().Get("validator_id"))
		assert.Equal(t, "42", r.URL.Query().Get("window"))
		assert.Equal(t, "2", r.URL.Query().Get("limit"))

		page, ok := pages[r.URL.Query().Get("cursor")]
		require.True(t, ok, "unexpected cursor %q", r.URL.Query().Get("cursor"))
		require.NoError(t, json.NewEncoder(w).Encode(page))
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), "validator-1")
	items, err := client.FetchAllPending(context.Background(), 42)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "order-3", items[2].Id)
}

func TestFetchPendingRetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		require.NoError(t, json.NewEncoder(w).Encode(pendingItemsResponse{
			Items: []types.WorkItem{{Id: "order-1", SubmitterId: "a"}},
		}))
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), "validator-1")
	items, _, err := client.FetchPending(context.Background(), 1, "")
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchPendingAuthFailureIsPermanent(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), "validator-1")
	_, _, err := client.FetchPending(context.Background(), 1, "")
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, int32(1), calls.Load(), "auth failures must not be retried")
}

func TestFetchPendingGivesUpAfterRetryBudget(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), "validator-1")
	_, _, err := client.FetchPending(context.Background(), 1, "")
	assert.Error(t, err)
	// Initial attempt plus MaxRetries.
	assert.Equal(t, int32(4), calls.Load())
}

func TestSubmitOutcome(t *testing.T) {
	var received outcomeSubmission
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, outcomesPath, r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), "validator-1")
	outcome := types.VerificationOutcome{
		WorkItemId:  "order-1",
		SubmitterId: "submitter-a",
		Status:      types.OutcomeSuccess,
		ObservedAt:  time.Now().UTC(),
	}
	require.NoError(t, client.SubmitOutcome(context.Background(), outcome))

	assert.Equal(t, "order-1", received.WorkItemId)
	assert.Equal(t, "submitter-a", received.SubmitterId)
	assert.Equal(t, types.OutcomeSuccess, received.Status)
	assert.Equal(t, "validator-1", received.ValidatorId)
	assert.NotEmpty(t, received.IdempotencyKey)
}

func TestSubmitOutcomeClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), "validator-1")
	err := client.SubmitOutcome(context.Background(), types.VerificationOutcome{WorkItemId: "x"})
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}
