package ledger

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"validator-engine/apiconfig"
	"validator-engine/logging"
)

// BlockStream maintains a websocket subscription to the ledger's new-block
// feed and reconnects on failure. Consumers that fall behind lose headers;
// the scheduler only needs the most recent height, so that is acceptable.
type BlockStream struct {
	websocketUrl string
}

var _ BlockStreamer = (*BlockStream)(nil)

func NewBlockStream(config apiconfig.LedgerConfig) *BlockStream {
	return &BlockStream{websocketUrl: config.WebsocketUrl}
}

func (s *BlockStream) SubscribeNewBlocks(ctx context.Context) (<-chan BlockHeader, error) {
	headers := make(chan BlockHeader, 16)
	go s.run(ctx, headers)
	return headers, nil
}

func (s *BlockStream) run(ctx context.Context, headers chan<- BlockHeader) {
	defer close(headers)
	for {
		if ctx.Err() != nil {
			return
		}
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.websocketUrl, nil)
		if err != nil {
			logging.Warn("Failed to connect to ledger block stream, retrying", logging.Ledger,
				"url", s.websocketUrl, "error", err)
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		logging.Info("Connected to ledger block stream", logging.Ledger, "url", s.websocketUrl)
		s.readLoop(ctx, conn, headers)
		conn.Close()
	}
}

func (s *BlockStream) readLoop(ctx context.Context, conn *websocket.Conn, headers chan<- BlockHeader) {
	// Unblock ReadMessage when the context is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				logging.Warn("Ledger block stream read failed, reconnecting", logging.Ledger, "error", err)
			}
			return
		}
		var header BlockHeader
		if err := json.Unmarshal(message, &header); err != nil {
			logging.Warn("Dropping malformed block header", logging.Ledger, "error", err)
			continue
		}
		select {
		case headers <- header:
		default:
			// Consumer is behind; drop the oldest semantics are not
			// needed, newer headers supersede this one anyway.
		}
	}
}
