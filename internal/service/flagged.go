package service

import (
	"context"
	"errors"
	"strings"

	"github.com/vanshika/amlwatch/internal/domain"
	"github.com/vanshika/amlwatch/internal/logging"
	"github.com/vanshika/amlwatch/internal/metrics"
	"github.com/vanshika/amlwatch/internal/record"
	"github.com/vanshika/amlwatch/internal/repository"
	"github.com/vanshika/amlwatch/internal/txgraph"
)

// BuildGraph normalizes a raw record and builds its graph. Malformed input
// yields an empty graph.
func (s *MonitorService) BuildGraph(raw []byte) domain.Graph {
	tx, ok := record.DecodeTransaction(raw)
	if !ok {
		metrics.GraphBuilt(string(txgraph.KindEmpty))
		return txgraph.BuildRecord(nil)
	}
	g, kind := txgraph.Describe(tx)
	metrics.GraphBuilt(string(kind))
	return g
}

// FlaggedLog is the flagged dashboard content.
type FlaggedLog struct {
	OnChainCount int
	Items        []domain.FlaggedTransaction
}

// Flagged returns the auditor's flagged transactions, normalized.
func (s *MonitorService) Flagged(ctx context.Context, sess domain.Session) (FlaggedLog, error) {
	logs, err := s.auditor.FlaggedLogs(ctx, sess)
	if err != nil {
		return FlaggedLog{}, s.upstreamErr(ctx, sess, err)
	}
	return FlaggedLog{OnChainCount: logs.OnChainCount, Items: logs.Items}, nil
}

// FlaggedGraph returns the graph of one flagged transaction. The stored
// projection is preferred; without one the graph is rebuilt from the auditor log.
func (s *MonitorService) FlaggedGraph(ctx context.Context, sess domain.Session, id string) (domain.Graph, error) {
	id = strings.TrimSpace(id)
	if s.repo != nil {
		g, err := s.repo.FetchFlaggedGraph(ctx, id)
		if err == nil {
			return g, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			logging.FromContext(ctx).Warn("stored graph lookup failed, rebuilding", "flagged_id", id, "error", err)
		}
	}

	logs, err := s.Flagged(ctx, sess)
	if err != nil {
		return domain.Graph{}, err
	}
	for _, f := range logs.Items {
		if f.ID == id {
			g, kind := txgraph.Describe(f.Tx)
			metrics.GraphBuilt(string(kind))
			return g, nil
		}
	}
	return domain.Graph{}, ErrNotFound
}

// ListFlaggedParams defines filters for listing stored flagged projections.
type ListFlaggedParams struct {
	Page      int
	PageSize  int
	Rule      string
	Account   string
	SortField string
	SortOrder string
}

// FlaggedPage represents paginated stored flagged projections.
type FlaggedPage struct {
	Items      []domain.FlaggedSummary
	Pagination PaginationMeta
}

// StoredFlagged lists flagged projections from the graph store.
func (s *MonitorService) StoredFlagged(ctx context.Context, params ListFlaggedParams) (FlaggedPage, error) {
	if s.repo == nil {
		return FlaggedPage{}, ErrStoreUnavailable
	}
	page, pageSize := normalizePagination(params.Page, params.PageSize)

	result, err := s.repo.ListFlagged(ctx, repository.ListFlaggedOptions{
		Offset:    (page - 1) * pageSize,
		Limit:     pageSize,
		Rule:      params.Rule,
		Account:   params.Account,
		SortField: params.SortField,
		SortOrder: params.SortOrder,
	})
	if err != nil {
		return FlaggedPage{}, err
	}
	return FlaggedPage{
		Items:      result.Items,
		Pagination: buildPaginationMeta(page, pageSize, result.Total),
	}, nil
}

// AccountFlags lists the stored flagged transactions an account took part in.
func (s *MonitorService) AccountFlags(ctx context.Context, accountID string) ([]domain.AccountFlag, error) {
	if s.repo == nil {
		return nil, ErrStoreUnavailable
	}
	return s.repo.FlaggedForAccount(ctx, strings.TrimSpace(accountID))
}

// SyncReport summarises a flagged sync run.
type SyncReport struct {
	Fetched int
	Synced  int
	Skipped int
}

// SyncFlagged projects every flagged transaction the auditor knows about into
// the graph store. Records with nothing to draw are skipped.
func (s *MonitorService) SyncFlagged(ctx context.Context, sess domain.Session) (SyncReport, error) {
	if s.ingestor == nil {
		return SyncReport{}, ErrStoreUnavailable
	}
	logs, err := s.Flagged(ctx, sess)
	if err != nil {
		return SyncReport{}, err
	}
	return s.ingestor.SyncFlagged(ctx, logs.Items)
}

// ImportFlagged projects already-normalized flagged records, as read from a
// file by the CLI.
func (s *MonitorService) ImportFlagged(ctx context.Context, items []domain.FlaggedTransaction) (SyncReport, error) {
	if s.ingestor == nil {
		return SyncReport{}, ErrStoreUnavailable
	}
	return s.ingestor.SyncFlagged(ctx, items)
}
