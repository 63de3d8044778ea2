package server

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vanshika/amlwatch/internal/domain"
	"github.com/vanshika/amlwatch/internal/service"
)

// --- Request DTOs ---

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type registerRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	Passport string `json:"passport" validate:"required"`
}

// Amount positivity is checked by the service; validator cannot compare decimals.
type transferRequest struct {
	Receiver         string          `json:"receiver" validate:"required"`
	Amount           decimal.Decimal `json:"amount"`
	MerchantCategory string          `json:"merchant_category" validate:"omitempty,max=64"`
	PaymentMethod    string          `json:"payment_method" validate:"omitempty,max=64"`
}

type depositRequest struct {
	WalletID string          `json:"wallet_id" validate:"required"`
	Amount   decimal.Decimal `json:"amount"`
}

// --- Response DTOs ---

type loginResponse struct {
	Token     string `json:"token"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	WalletID  string `json:"walletId,omitempty"`
	ExpiresAt string `json:"expiresAt,omitempty"`
	Landing   string `json:"landing"`
}

type sessionResponse struct {
	Email     string `json:"email"`
	Role      string `json:"role"`
	WalletID  string `json:"walletId,omitempty"`
	ExpiresAt string `json:"expiresAt,omitempty"`
	Landing   string `json:"landing"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type nodeResponse struct {
	ID    string `json:"id"`
	Color string `json:"color"`
}

type edgeResponse struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

type graphResponse struct {
	Nodes []nodeResponse `json:"nodes"`
	Edges []edgeResponse `json:"edges"`
}

type transferResponse struct {
	Status         string   `json:"status"`
	BlockIndex     int      `json:"blockIndex"`
	Flagged        bool     `json:"flagged"`
	TriggeredRules []string `json:"triggeredRules"`
}

type balanceResponse struct {
	WalletID string          `json:"walletId"`
	Balance  decimal.Decimal `json:"balance"`
}

type syncResponse struct {
	Fetched  int      `json:"fetched"`
	Synced   int      `json:"synced"`
	Skipped  int      `json:"skipped"`
	Failures []string `json:"failures,omitempty"`
}

type transactionResponse struct {
	Sender           string          `json:"sender"`
	Receiver         string          `json:"receiver"`
	Amount           decimal.Decimal `json:"amount"`
	Path             []string        `json:"path,omitempty"`
	MerchantCategory string          `json:"merchantCategory,omitempty"`
	PaymentMethod    string          `json:"paymentMethod,omitempty"`
	Layers           int             `json:"layers,omitempty"`
	BlockIndex       *int            `json:"blockIndex,omitempty"`
}

type blockResponse struct {
	Index        int                   `json:"index"`
	Timestamp    float64               `json:"timestamp"`
	Hash         string                `json:"hash"`
	PreviousHash string                `json:"previousHash"`
	Transactions []transactionResponse `json:"transactions"`
}

type overviewResponse struct {
	Blocks        int            `json:"blocks"`
	AuditedBlocks int            `json:"auditedBlocks"`
	FlaggedCount  int            `json:"flaggedCount"`
	LatestBlock   *blockResponse `json:"latestBlock"`
}

type paginationResponse struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"pageSize"`
	TotalItems int64 `json:"totalItems"`
	TotalPages int   `json:"totalPages"`
}

type auditTransactionsResponse struct {
	Items      []transactionResponse `json:"items"`
	Pagination paginationResponse    `json:"pagination"`
}

type flaggedResponse struct {
	ID          string              `json:"id"`
	Transaction transactionResponse `json:"transaction"`
	Rules       []string            `json:"rules"`
	RiskLevels  []string            `json:"riskLevels,omitempty"`
	FlaggedAt   string              `json:"flaggedAt,omitempty"`
	Raw         string              `json:"raw,omitempty"`
}

type flaggedLogResponse struct {
	OnChainCount int               `json:"onChainCount"`
	Items        []flaggedResponse `json:"items"`
}

type flaggedSummaryResponse struct {
	ID         string          `json:"id"`
	Sender     string          `json:"sender"`
	Receiver   string          `json:"receiver"`
	Amount     decimal.Decimal `json:"amount"`
	Rules      []string        `json:"rules"`
	PathLength int             `json:"pathLength"`
	FlaggedAt  string          `json:"flaggedAt,omitempty"`
}

type storedFlaggedResponse struct {
	Items      []flaggedSummaryResponse `json:"items"`
	Pagination paginationResponse       `json:"pagination"`
}

type accountFlagResponse struct {
	flaggedSummaryResponse
	Color string `json:"color"`
}

type accountFlagsResponse struct {
	AccountID string                `json:"accountId"`
	Items     []accountFlagResponse `json:"items"`
}

// --- Mapping ---

func toGraphResponse(g domain.Graph) graphResponse {
	resp := graphResponse{
		Nodes: make([]nodeResponse, 0, len(g.Nodes)),
		Edges: make([]edgeResponse, 0, len(g.Edges)),
	}
	for _, n := range g.Nodes {
		resp.Nodes = append(resp.Nodes, nodeResponse{ID: n.ID, Color: string(n.Color)})
	}
	for _, e := range g.Edges {
		resp.Edges = append(resp.Edges, edgeResponse{Source: e.Source, Target: e.Target})
	}
	return resp
}

func toTransactionResponse(tx domain.Transaction) transactionResponse {
	return transactionResponse{
		Sender:           tx.Sender,
		Receiver:         tx.Receiver,
		Amount:           tx.Amount,
		Path:             tx.Path,
		MerchantCategory: tx.MerchantCategory,
		PaymentMethod:    tx.PaymentMethod,
		Layers:           tx.Layering.Layers,
		BlockIndex:       tx.BlockIndex,
	}
}

func toBlockResponse(b domain.Block) blockResponse {
	resp := blockResponse{
		Index:        b.Index,
		Timestamp:    b.Timestamp,
		Hash:         b.Hash,
		PreviousHash: b.PreviousHash,
		Transactions: make([]transactionResponse, 0, len(b.Transactions)),
	}
	for _, tx := range b.Transactions {
		resp.Transactions = append(resp.Transactions, toTransactionResponse(tx))
	}
	return resp
}

func toFlaggedResponse(f domain.FlaggedTransaction) flaggedResponse {
	rules := f.Rules
	if rules == nil {
		rules = []string{}
	}
	return flaggedResponse{
		ID:          f.ID,
		Transaction: toTransactionResponse(f.Tx),
		Rules:       rules,
		RiskLevels:  f.RiskLevels,
		FlaggedAt:   f.FlaggedAt,
		Raw:         f.Raw,
	}
}

func toFlaggedSummaryResponse(s domain.FlaggedSummary) flaggedSummaryResponse {
	rules := s.Rules
	if rules == nil {
		rules = []string{}
	}
	return flaggedSummaryResponse{
		ID:         s.ID,
		Sender:     s.Sender,
		Receiver:   s.Receiver,
		Amount:     s.Amount,
		Rules:      rules,
		PathLength: s.PathLength,
		FlaggedAt:  s.FlaggedAt,
	}
}

func toPaginationResponse(p service.PaginationMeta) paginationResponse {
	return paginationResponse{
		Page:       p.Page,
		PageSize:   p.PageSize,
		TotalItems: p.TotalItems,
		TotalPages: p.TotalPages,
	}
}

func toSyncResponse(r service.SyncReport, taskErr *service.TaskError) syncResponse {
	resp := syncResponse{Fetched: r.Fetched, Synced: r.Synced, Skipped: r.Skipped}
	if taskErr != nil {
		for _, err := range taskErr.Errors {
			resp.Failures = append(resp.Failures, err.Error())
		}
	}
	return resp
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
