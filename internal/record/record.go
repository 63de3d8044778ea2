// Package record normalizes upstream ledger and auditor payloads into domain
// types. Upstream services emit the same transaction in several shapes
// (wrapped under "tx", flat, or as an undecodable on-chain string); callers
// past this package only ever see domain.Transaction.
package record

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vanshika/amlwatch/internal/domain"
)

// Decode normalizes a flagged or plain transaction record. It returns false
// only when raw is not a JSON object; fields of the wrong type are ignored.
func Decode(raw []byte) (domain.FlaggedTransaction, bool) {
	outer, ok := decodeObject(raw)
	if !ok {
		return domain.FlaggedTransaction{}, false
	}

	body := outer
	if nested, ok := decodeObject(outer["tx"]); ok {
		body = nested
	}

	flagged := domain.FlaggedTransaction{
		Tx:         decodeTransaction(body),
		Rules:      mergeStrings(outer.strings("matched_rules"), outer.strings("rules_triggered"), body.strings("rules_triggered")),
		RiskLevels: outer.strings("risk_levels"),
		FlaggedAt:  firstNonEmpty(outer.string("timestamp"), body.string("timestamp")),
		Raw:        outer.string("raw"),
	}
	flagged.ID = FlaggedID(flagged)
	return flagged, true
}

// DecodeTransaction normalizes a record and returns only its transaction.
func DecodeTransaction(raw []byte) (domain.Transaction, bool) {
	flagged, ok := Decode(raw)
	if !ok {
		return domain.Transaction{}, false
	}
	return flagged.Tx, true
}

// FlaggedID derives a stable identifier for a flagged record from its content.
func FlaggedID(f domain.FlaggedTransaction) string {
	parts := []string{
		f.Tx.Sender,
		f.Tx.Receiver,
		f.Tx.Amount.String(),
		strings.Join(f.Tx.HopPath(), ">"),
		f.FlaggedAt,
		f.Raw,
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])[:32]
}

func decodeTransaction(f fields) domain.Transaction {
	tx := domain.Transaction{
		Sender:         strings.TrimSpace(f.identifier("sender")),
		Receiver:       strings.TrimSpace(f.identifier("receiver")),
		Amount:         f.decimal("amount"),
		Path:           f.strings("path"),
		LinkedMembers:  f.strings("linked_chain_members"),
		LinkedReceiver: strings.TrimSpace(f.identifier("linked_chain_common_receiver")),
		Layering: domain.Layering{
			Layers:           int(f.number("num_layers")),
			AccountsInvolved: int(f.number("num_accounts_involved")),
			AvgDelaySeconds:  f.number("avg_delay_between_layers"),
		},
		Timestamps:       f.numbers("timestamps"),
		Data:             f.string("data"),
		MerchantCategory: f.string("merchant_category"),
		PaymentMethod:    f.string("payment_method"),
	}

	tx.TotalAmount = tx.Amount
	if _, ok := f["total_amount"]; ok {
		tx.TotalAmount = f.decimal("total_amount")
	}

	for _, key := range []string{"blockIndex", "block_index"} {
		if v, ok := decodeField[float64](f, key); ok {
			idx := int(v)
			tx.BlockIndex = &idx
			break
		}
	}
	return tx
}

type fields map[string]json.RawMessage

func decodeObject(raw []byte) (fields, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var f fields
	if err := json.Unmarshal(raw, &f); err != nil || f == nil {
		return nil, false
	}
	return f, true
}

func decodeField[T any](f fields, key string) (T, bool) {
	var out T
	v, ok := f[key]
	if !ok {
		return out, false
	}
	if err := json.Unmarshal(v, &out); err != nil {
		var zero T
		return zero, false
	}
	return out, true
}

func (f fields) string(key string) string {
	v, _ := decodeField[string](f, key)
	return v
}

func (f fields) number(key string) float64 {
	v, _ := decodeField[float64](f, key)
	return v
}

func (f fields) decimal(key string) decimal.Decimal {
	v, ok := decodeField[decimal.Decimal](f, key)
	if !ok {
		return decimal.Zero
	}
	return v
}

// identifier reads an account identifier. Ledgers that number their
// accounts send them as JSON numbers; those keep their literal text.
func (f fields) identifier(key string) string {
	v, ok := f[key]
	if !ok {
		return ""
	}
	return identifierText(v)
}

// strings decodes a list of identifiers. Numeric entries are kept as their
// literal text; anything else in a heterogeneous list is dropped.
func (f fields) strings(key string) []string {
	items, ok := decodeField[[]json.RawMessage](f, key)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range items {
		if id := identifierText(item); id != "" {
			out = append(out, id)
		}
	}
	return out
}

func identifierText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func (f fields) numbers(key string) []float64 {
	v, _ := decodeField[[]float64](f, key)
	return v
}

func mergeStrings(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, item := range list {
			if item == "" {
				continue
			}
			if _, ok := seen[item]; ok {
				continue
			}
			seen[item] = struct{}{}
			out = append(out, item)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
