package upstream

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/vanshika/amlwatch/internal/domain"
	"github.com/vanshika/amlwatch/internal/record"
)

// AuditorClient talks to the auditor node that reads the on-chain AML log.
type AuditorClient struct {
	c *client
}

// NewAuditorClient constructs an AuditorClient.
func NewAuditorClient(opts Options) *AuditorClient {
	return &AuditorClient{c: newClient("auditor", opts)}
}

// FlaggedLog is the auditor's view of the on-chain flagged log.
type FlaggedLog struct {
	OnChainCount int
	Items        []domain.FlaggedTransaction
}

// Observation is the auditor's summary of the chain it has audited.
type Observation struct {
	AuditedBlocks int
	LatestBlock   *domain.Block
}

// FlaggedLogs returns every flagged transaction, normalized.
func (a *AuditorClient) FlaggedLogs(ctx context.Context, s domain.Session) (FlaggedLog, error) {
	var resp struct {
		Count int               `json:"on_chain_flagged_count"`
		Items []json.RawMessage `json:"flagged_transactions"`
	}
	err := a.c.do(ctx, call{
		op:      "view_logs",
		method:  http.MethodGet,
		path:    "/view_logs",
		session: &s,
		out:     &resp,
	})
	if err != nil {
		return FlaggedLog{}, err
	}

	log := FlaggedLog{
		OnChainCount: resp.Count,
		Items:        make([]domain.FlaggedTransaction, 0, len(resp.Items)),
	}
	for _, item := range resp.Items {
		if f, ok := record.Decode(item); ok {
			log.Items = append(log.Items, f)
		}
	}
	return log, nil
}

// Observe returns the audited block count and the latest block.
func (a *AuditorClient) Observe(ctx context.Context, s domain.Session) (Observation, error) {
	var resp struct {
		AuditedBlocks int             `json:"audited_blocks"`
		LatestBlock   json.RawMessage `json:"latest_block"`
	}
	err := a.c.do(ctx, call{
		op:      "observe",
		method:  http.MethodGet,
		path:    "/observe",
		session: &s,
		out:     &resp,
	})
	if err != nil {
		return Observation{}, err
	}

	obs := Observation{AuditedBlocks: resp.AuditedBlocks}
	if block, ok := record.DecodeBlock(resp.LatestBlock); ok {
		obs.LatestBlock = &block
	}
	return obs, nil
}
