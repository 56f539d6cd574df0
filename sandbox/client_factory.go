package sandbox

import "validator-engine/apiconfig"

// NewFromConfig returns the HTTP client, or the mock when sandbox.mock is
// set (local runs without a real sandbox).
func NewFromConfig(config apiconfig.SandboxConfig) SandboxClient {
	if config.Mock {
		mock := NewMockClient()
		mock.LatestHeight = 1
		return mock
	}
	return NewClient(config)
}
