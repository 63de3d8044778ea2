package domain

// Block is a mined ledger block.
type Block struct {
	Index        int
	Timestamp    float64
	Hash         string
	PreviousHash string
	Transactions []Transaction
}

// ChainOverview summarises ledger and auditor state for the admin dashboard.
type ChainOverview struct {
	Blocks        int
	AuditedBlocks int
	LatestBlock   *Block
	FlaggedCount  int
}
