// Package ledgerwatch subscribes to the ledger's Socket.IO feed and reports
// newly mined blocks.
package ledgerwatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"

	"github.com/vanshika/amlwatch/internal/domain"
	"github.com/vanshika/amlwatch/internal/metrics"
	"github.com/vanshika/amlwatch/internal/record"
)

const newBlockEvent = "new_block"

// ErrMissingURL indicates the ledger socket URL is not configured.
var ErrMissingURL = errors.New("ledger socket URL is required")

// Options configures a Watcher.
type Options struct {
	URL       string
	Namespace string
}

// Watcher forwards new_block events to a callback.
type Watcher struct {
	opts    Options
	onBlock func(domain.Block)
	logger  *slog.Logger
}

// New builds a Watcher. onBlock runs on the socket's event goroutine and
// must not block.
func New(opts Options, logger *slog.Logger, onBlock func(domain.Block)) *Watcher {
	if opts.Namespace == "" {
		opts.Namespace = "/"
	}
	return &Watcher{opts: opts, onBlock: onBlock, logger: logger}
}

// Run connects and delivers events until ctx is cancelled. The socket client
// reconnects on its own after transient failures.
func (w *Watcher) Run(ctx context.Context) error {
	if w.opts.URL == "" {
		return ErrMissingURL
	}
	parsed, err := url.Parse(w.opts.URL)
	if err != nil {
		return fmt.Errorf("parse ledger socket URL: %w", err)
	}

	opts := socket.DefaultOptions()
	if parsed.Path != "" && parsed.Path != "/" {
		opts.SetPath(parsed.Path)
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	baseURL := fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host)
	manager := socket.NewManager(baseURL, opts)
	io := manager.Socket(w.opts.Namespace, opts)
	defer io.Disconnect()

	logger := w.logger.With("component", "ledgerwatch", "url", baseURL)

	io.On(types.EventName("connect"), func(...any) {
		logger.Info("ledger socket connected", "sid", io.Id())
	})
	io.On(types.EventName("connect_error"), func(errs ...any) {
		logger.Warn("ledger socket connect error", "error", firstArg(errs))
	})
	io.On(types.EventName("disconnect"), func(reason ...any) {
		logger.Info("ledger socket disconnected", "reason", firstArg(reason))
	})
	io.On(types.EventName(newBlockEvent), func(data ...any) {
		metrics.LedgerEvent()
		block, ok := decodeEvent(data...)
		if !ok {
			logger.Warn("ignoring malformed new_block event")
			return
		}
		logger.Debug("new block", "index", block.Index, "transactions", len(block.Transactions))
		w.onBlock(block)
	})

	io.Connect()
	<-ctx.Done()
	return nil
}

// decodeEvent normalizes a new_block payload. The socket client hands over
// decoded JSON values, so they are re-encoded before normalizing.
func decodeEvent(args ...any) (domain.Block, bool) {
	if len(args) == 0 || args[0] == nil {
		return domain.Block{}, false
	}
	var raw []byte
	switch v := args[0].(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return domain.Block{}, false
		}
		raw = encoded
	}
	return record.DecodeBlock(raw)
}

func firstArg(args []any) any {
	if len(args) == 0 {
		return nil
	}
	return args[0]
}
