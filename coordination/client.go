package coordination

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"validator-engine/apiconfig"
	"validator-engine/logging"
	"validator-engine/types"
)

const (
	pendingItemsPath = "/v1/validators/work-items"
	outcomesPath     = "/v1/validators/outcomes"
)

// ErrUnauthorized is returned on 401/403 responses. It is fatal for the
// process and is never retried.
var ErrUnauthorized = errors.New("coordination service rejected credentials")

// Client talks to the shared coordination service that stores pending work
// items and accepts verification outcomes. Fetches are idempotent and paged;
// submissions carry an idempotency key so retries are safe.
type Client struct {
	baseUrl           string
	apiKey            string
	validatorId       string
	pageLimit         int
	maxRetries        uint64
	backoffInterval   time.Duration
	backoffMultiplier float64
	httpClient        *http.Client
}

func NewClient(config apiconfig.CoordinationConfig, validatorId string) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !config.VerifyTls {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &Client{
		baseUrl:           config.Url,
		apiKey:            config.ApiKey,
		validatorId:       validatorId,
		pageLimit:         config.PageLimit,
		maxRetries:        uint64(config.MaxRetries),
		backoffInterval:   config.BackoffInterval,
		backoffMultiplier: config.BackoffMultiplier,
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}
}

type pendingItemsResponse struct {
	Items      []types.WorkItem `json:"items"`
	NextCursor string           `json:"next_cursor"`
}

// FetchPending returns one page of pending work items for the given window.
// An empty next cursor means the last page has been reached.
func (c *Client) FetchPending(ctx context.Context, windowIndex int64, pageCursor string) ([]types.WorkItem, string, error) {
	query := url.Values{}
	query.Set("validator_id", c.validatorId)
	query.Set("window", strconv.FormatInt(windowIndex, 10))
	query.Set("limit", strconv.Itoa(c.pageLimit))
	if pageCursor != "" {
		query.Set("cursor", pageCursor)
	}

	var page pendingItemsResponse
	err := c.doWithRetry(ctx, http.MethodGet, pendingItemsPath+"?"+query.Encode(), nil, &page)
	if err != nil {
		return nil, "", err
	}
	return page.Items, page.NextCursor, nil
}

// FetchAllPending loops pages until the cursor is exhausted.
func (c *Client) FetchAllPending(ctx context.Context, windowIndex int64) ([]types.WorkItem, error) {
	var all []types.WorkItem
	cursor := ""
	for {
		items, next, err := c.FetchPending(ctx, windowIndex, cursor)
		if err != nil {
			return nil, err
		}
		all = append(all, items...)
		if next == "" {
			return all, nil
		}
		cursor = next
	}
}

type outcomeSubmission struct {
	IdempotencyKey string              `json:"idempotency_key"`
	ValidatorId    string              `json:"validator_id"`
	WorkItemId     string              `json:"work_item_id"`
	SubmitterId    string              `json:"submitter_id"`
	Status         types.OutcomeStatus `json:"status"`
	ObservedAt     time.Time           `json:"observed_at"`
}

// SubmitOutcome reports one verification outcome. On retry-budget exhaustion
// the error is returned for the caller to log; local aggregation must proceed
// regardless, publication correctness never depends on the remote accepting
// the submission.
func (c *Client) SubmitOutcome(ctx context.Context, outcome types.VerificationOutcome) error {
	submission := outcomeSubmission{
		IdempotencyKey: uuid.NewString(),
		ValidatorId:    c.validatorId,
		WorkItemId:     outcome.WorkItemId,
		SubmitterId:    outcome.SubmitterId,
		Status:         outcome.Status,
		ObservedAt:     outcome.ObservedAt,
	}
	body, err := json.Marshal(submission)
	if err != nil {
		return fmt.Errorf("marshalling outcome submission: %w", err)
	}
	return c.doWithRetry(ctx, http.MethodPost, outcomesPath, body, nil)
}

func (c *Client) doWithRetry(ctx context.Context, method, path string, body []byte, out interface{}) error {
	operation := func() error {
		return c.doOnce(ctx, method, path, body, out)
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = c.backoffInterval
	expo.Multiplier = c.backoffMultiplier
	policy := backoff.WithContext(backoff.WithMaxRetries(expo, c.maxRetries), ctx)

	return backoff.RetryNotify(operation, policy, func(err error, wait time.Duration) {
		logging.Warn("Coordination request failed, retrying", logging.Coordination,
			"method", method, "path", path, "wait", wait.String(), "error", err)
	})
}

func (c *Client) doOnce(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseUrl+path, reader)
	if err != nil {
		return backoff.Permanent(err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network errors are transient.
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return backoff.Permanent(ErrUnauthorized)
	case resp.StatusCode >= 500:
		return fmt.Errorf("coordination service returned %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return backoff.Permanent(fmt.Errorf("coordination service returned %d: %s", resp.StatusCode, respBody))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return backoff.Permanent(fmt.Errorf("decoding coordination response: %w", err))
	}
	return nil
}
