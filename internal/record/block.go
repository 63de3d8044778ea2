package record

import (
	"encoding/json"

	"github.com/vanshika/amlwatch/internal/domain"
)

// DecodeBlock normalizes one mined block. Each transaction is stamped with the
// block's index.
func DecodeBlock(raw []byte) (domain.Block, bool) {
	f, ok := decodeObject(raw)
	if !ok {
		return domain.Block{}, false
	}

	block := domain.Block{
		Index:        int(f.number("index")),
		Timestamp:    f.number("timestamp"),
		Hash:         f.string("hash"),
		PreviousHash: f.string("previous_hash"),
	}

	items, _ := decodeField[[]json.RawMessage](f, "transactions")
	block.Transactions = make([]domain.Transaction, 0, len(items))
	for _, item := range items {
		body, ok := decodeObject(item)
		if !ok {
			continue
		}
		tx := decodeTransaction(body)
		idx := block.Index
		tx.BlockIndex = &idx
		block.Transactions = append(block.Transactions, tx)
	}
	return block, true
}

// DecodeChain normalizes a chain listing, skipping entries that are not objects.
func DecodeChain(raw []byte) []domain.Block {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	blocks := make([]domain.Block, 0, len(items))
	for _, item := range items {
		if b, ok := DecodeBlock(item); ok {
			blocks = append(blocks, b)
		}
	}
	return blocks
}
