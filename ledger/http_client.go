package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"validator-engine/apiconfig"
	"validator-engine/logging"
)

const (
	statusPath    = "/v1/status"
	tempoPath     = "/v1/params/tempo"
	directoryPath = "/v1/identities"
	weightsPath   = "/v1/weights"
)

// HttpClient speaks the ledger gateway's JSON API. Reads are retried with a
// short backoff; weight submission is attempted once per call, the engine's
// tick loop owns retry policy across windows.
type HttpClient struct {
	baseUrl       string
	validatorId   string
	submitTimeout time.Duration
	httpClient    *http.Client
}

var _ Client = (*HttpClient)(nil)

func NewHttpClient(config apiconfig.LedgerConfig) *HttpClient {
	return &HttpClient{
		baseUrl:       config.Url,
		validatorId:   config.ValidatorId,
		submitTimeout: config.SubmitTimeout,
		httpClient:    &http.Client{Timeout: 15 * time.Second},
	}
}

type statusResponse struct {
	LatestBlockHeight int64  `json:"latest_block_height"`
	LatestBlockHash   string `json:"latest_block_hash"`
}

func (c *HttpClient) CurrentBlock(ctx context.Context) (int64, error) {
	var status statusResponse
	if err := c.getWithRetry(ctx, statusPath, &status); err != nil {
		logging.Warn("Failed to query ledger status", logging.Ledger, "error", err)
		return 0, fmt.Errorf("%w: %v", ErrHeightUnavailable, err)
	}
	if status.LatestBlockHeight <= 0 {
		return 0, ErrHeightUnavailable
	}
	return status.LatestBlockHeight, nil
}

type tempoResponse struct {
	Tempo int64 `json:"tempo"`
}

func (c *HttpClient) Tempo(ctx context.Context) (int64, error) {
	var tempo tempoResponse
	if err := c.getWithRetry(ctx, tempoPath, &tempo); err != nil {
		return 0, err
	}
	if tempo.Tempo <= 0 {
		return 0, fmt.Errorf("ledger reported non-positive tempo %d", tempo.Tempo)
	}
	return tempo.Tempo, nil
}

func (c *HttpClient) Directory(ctx context.Context) (*DirectorySnapshot, error) {
	var snapshot DirectorySnapshot
	path := directoryPath + "?validator_id=" + c.validatorId
	if err := c.getWithRetry(ctx, path, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

type submitWeightsRequest struct {
	ValidatorId         string       `json:"validator_id"`
	Update              WeightUpdate `json:"update"`
	WaitForFinalization bool         `json:"wait_for_finalization"`
}

type submitWeightsResponse struct {
	IncludedBlock int64 `json:"included_block"`
}

func (c *HttpClient) SubmitWeights(ctx context.Context, update WeightUpdate, waitForFinalization bool) (int64, error) {
	body, err := json.Marshal(submitWeightsRequest{
		ValidatorId:         c.validatorId,
		Update:              update,
		WaitForFinalization: waitForFinalization,
	})
	if err != nil {
		return 0, fmt.Errorf("marshalling weight update: %w", err)
	}

	submitCtx, cancel := context.WithTimeout(ctx, c.submitTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(submitCtx, http.MethodPost, c.baseUrl+weightsPath, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return 0, fmt.Errorf("weight submission rejected with %d: %s", resp.StatusCode, respBody)
	}

	var result submitWeightsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("decoding submission response: %w", err)
	}
	logging.Info("Weight update accepted by ledger", logging.Ledger,
		"window", update.WindowIndex,
		"slots", len(update.Slots),
		"includedBlock", strconv.FormatInt(result.IncludedBlock, 10))
	return result.IncludedBlock, nil
}

func (c *HttpClient) getWithRetry(ctx context.Context, path string, out interface{}) error {
	operation := func() error {
		return c.getOnce(ctx, path, out)
	}
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 250 * time.Millisecond
	policy := backoff.WithContext(backoff.WithMaxRetries(expo, 3), ctx)
	return backoff.Retry(operation, policy)
}

func (c *HttpClient) getOnce(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseUrl+path, nil)
	if err != nil {
		return backoff.Permanent(err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("ledger returned %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return backoff.Permanent(fmt.Errorf("ledger returned %d", resp.StatusCode))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return backoff.Permanent(fmt.Errorf("decoding ledger response: %w", err))
	}
	return nil
}
