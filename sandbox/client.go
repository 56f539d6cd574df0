package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"validator-engine/apiconfig"
)

const (
	executePath     = "/api/v1/execute"
	latestBlockPath = "/api/v1/chain/latest-block"
)

type Client struct {
	baseUrl    string
	httpClient *http.Client
}

var _ SandboxClient = (*Client)(nil)

func NewClient(config apiconfig.SandboxConfig) *Client {
	return &Client{
		baseUrl: config.Url,
		// Per-call deadlines come from the dispatcher's context; the
		// transport itself carries no timeout.
		httpClient: &http.Client{},
	}
}

type executeRequest struct {
	Payload           json.RawMessage `json:"payload"`
	TargetBlockHeight int64           `json:"target_block_height,omitempty"`
}

func (c *Client) Execute(ctx context.Context, payload json.RawMessage, targetBlockHeight int64) (*ExecutionResult, error) {
	body, err := json.Marshal(executeRequest{
		Payload:           payload,
		TargetBlockHeight: targetBlockHeight,
	})
	if err != nil {
		return nil, fmt.Errorf("marshalling execute request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseUrl+executePath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("sandbox returned %d: %s", resp.StatusCode, respBody)
	}

	var result ExecutionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding sandbox response: %w", err)
	}
	return &result, nil
}

type latestBlockResponse struct {
	Height int64 `json:"height"`
}

func (c *Client) LatestBlock(ctx context.Context) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseUrl+latestBlockPath, nil)
	if err != nil {
		return 0, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("sandbox returned %d", resp.StatusCode)
	}

	var block latestBlockResponse
	if err := json.NewDecoder(resp.Body).Decode(&block); err != nil {
		return 0, fmt.Errorf("decoding latest block response: %w", err)
	}
	return block.Height, nil
}
