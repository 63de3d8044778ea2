package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/vanshika/amlwatch/internal/domain"
	"github.com/vanshika/amlwatch/internal/record"
)

// LedgerClient talks to the mining node that owns the chain.
type LedgerClient struct {
	c *client
}

// NewLedgerClient constructs a LedgerClient.
func NewLedgerClient(opts Options) *LedgerClient {
	return &LedgerClient{c: newClient("ledger", opts)}
}

// Transfer is a transaction submitted by a wallet holder. The sender is
// taken from the session's wallet.
type Transfer struct {
	Receiver         string
	Amount           decimal.Decimal
	MerchantCategory string
	PaymentMethod    string
}

// SubmitResult reports how the ledger classified a submitted transfer.
type SubmitResult struct {
	Status         string   `json:"status"`
	BlockIndex     int      `json:"block_index"`
	TriggeredRules []string `json:"triggered_rules,omitempty"`
}

// Flagged reports whether the ledger's rule engine matched the transfer.
func (r SubmitResult) Flagged() bool {
	return r.Status == "flagged"
}

// Chain returns every block on the ledger, oldest first.
func (l *LedgerClient) Chain(ctx context.Context, s domain.Session) ([]domain.Block, error) {
	var raw json.RawMessage
	err := l.c.do(ctx, call{
		op:      "chain",
		method:  http.MethodGet,
		path:    "/chain",
		session: &s,
		out:     &raw,
	})
	if err != nil {
		return nil, err
	}
	return record.DecodeChain(raw), nil
}

// SubmitTransaction posts a transfer from the session's wallet.
func (l *LedgerClient) SubmitTransaction(ctx context.Context, s domain.Session, t Transfer) (SubmitResult, error) {
	body := map[string]any{
		"receiver":          t.Receiver,
		"amount":            json.Number(t.Amount.String()),
		"merchant_category": t.MerchantCategory,
		"payment_method":    t.PaymentMethod,
	}
	var resp SubmitResult
	err := l.c.do(ctx, call{
		op:      "add_tx",
		method:  http.MethodPost,
		path:    "/add_tx",
		session: &s,
		body:    body,
		out:     &resp,
	})
	if err != nil {
		return SubmitResult{}, err
	}
	return resp, nil
}

// Mine asks the ledger to seal pending transactions into a new block.
func (l *LedgerClient) Mine(ctx context.Context, s domain.Session) (domain.Block, error) {
	var raw json.RawMessage
	err := l.c.do(ctx, call{
		op:      "mine",
		method:  http.MethodGet,
		path:    "/mine",
		session: &s,
		out:     &raw,
	})
	if err != nil {
		return domain.Block{}, err
	}
	block, ok := record.DecodeBlock(raw)
	if !ok {
		return domain.Block{}, fmt.Errorf("ledger mine: unexpected response")
	}
	return block, nil
}
