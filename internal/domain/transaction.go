package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Transaction is the normalized view of a ledger or auditor record.
type Transaction struct {
	Sender           string
	Receiver         string
	Amount           decimal.Decimal
	TotalAmount      decimal.Decimal
	Path             []string
	LinkedMembers    []string
	LinkedReceiver   string
	Layering         Layering
	Timestamps       []float64
	Data             string
	MerchantCategory string
	PaymentMethod    string
	BlockIndex       *int
}

// Layering holds the multi-hop metrics computed by the ledger for layered transfers.
type Layering struct {
	Layers           int
	AccountsInvolved int
	AvgDelaySeconds  float64
}

// Detected reports whether the ledger marked the transaction as layered.
func (l Layering) Detected() bool {
	return l.Layers > 0
}

// HopPath returns the explicit path, or the implicit sender→receiver pair when
// no usable path was recorded. Blank identifiers are dropped.
func (t Transaction) HopPath() []string {
	if path := compactIDs(t.Path); len(path) > 0 {
		return path
	}
	return compactIDs([]string{t.Sender, t.Receiver})
}

func compactIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}

// FlaggedTransaction is a transaction the auditor matched against one or more rules.
type FlaggedTransaction struct {
	ID         string
	Tx         Transaction
	Rules      []string
	RiskLevels []string
	FlaggedAt  string
	Raw        string
}

// FlaggedSummary is the stored projection of a flagged transaction.
type FlaggedSummary struct {
	ID         string
	Sender     string
	Receiver   string
	Amount     decimal.Decimal
	Rules      []string
	PathLength int
	FlaggedAt  string
}
