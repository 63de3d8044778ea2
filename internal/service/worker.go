package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/vanshika/amlwatch/internal/domain"
	"github.com/vanshika/amlwatch/internal/metrics"
	"github.com/vanshika/amlwatch/internal/txgraph"
)

// TaskError accumulates multiple errors produced during bulk ingestion.
type TaskError struct {
	Errors []error
}

func (e *TaskError) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	msg := fmt.Sprintf("%d errors:", len(e.Errors))
	for _, err := range e.Errors {
		msg += " " + err.Error() + ";"
	}
	return msg
}

// Unwrap exposes the individual failures to errors.Is and errors.As.
func (e *TaskError) Unwrap() []error {
	return e.Errors
}

func (e *TaskError) append(err error) {
	if err == nil {
		return
	}
	e.Errors = append(e.Errors, err)
}

func (e *TaskError) asError() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e
}

// BulkIngestor projects flagged transactions into the graph store using a worker pool.
type BulkIngestor struct {
	repo    FlaggedRepository
	workers int
}

// NewBulkIngestor creates a new BulkIngestor instance with the provided concurrency.
func NewBulkIngestor(repo FlaggedRepository, workers int) *BulkIngestor {
	if workers <= 0 {
		workers = 4
	}
	return &BulkIngestor{repo: repo, workers: workers}
}

// SyncFlagged builds and stores the graph of every item concurrently. Items
// without an ID or without anything to draw are skipped.
func (bi *BulkIngestor) SyncFlagged(ctx context.Context, items []domain.FlaggedTransaction) (SyncReport, error) {
	report := SyncReport{Fetched: len(items)}
	var synced, skipped atomic.Int64

	err := bi.run(ctx, len(items), func(idx int) error {
		f := items[idx]
		g := txgraph.Build(f.Tx)
		if f.ID == "" || g.Empty() {
			skipped.Add(1)
			return nil
		}
		if err := bi.repo.UpsertFlagged(ctx, f, g); err != nil {
			return fmt.Errorf("flagged %s: %w", f.ID, err)
		}
		synced.Add(1)
		return nil
	})

	report.Synced = int(synced.Load())
	report.Skipped = int(skipped.Load())
	metrics.FlaggedSynced("ok", report.Synced)
	metrics.FlaggedSynced("skipped", report.Skipped)
	if err != nil {
		metrics.FlaggedSynced("error", report.Fetched-report.Synced-report.Skipped)
	}
	return report, err
}

func (bi *BulkIngestor) run(ctx context.Context, total int, workerFn func(idx int) error) error {
	if total == 0 {
		return nil
	}
	indexCh := make(chan int)
	errCh := make(chan error, total)
	var wg sync.WaitGroup

	worker := func() {
		defer wg.Done()
		for idx := range indexCh {
			if err := workerFn(idx); err != nil {
				select {
				case errCh <- err:
				case <-ctx.Done():
					return
				}
			}
		}
	}

	for i := 0; i < bi.workers; i++ {
		wg.Add(1)
		go worker()
	}

Loop:
	for i := 0; i < total; i++ {
		select {
		case indexCh <- i:
		case <-ctx.Done():
			break Loop
		}
	}
	close(indexCh)
	wg.Wait()
	close(errCh)

	if err := ctx.Err(); err != nil {
		return err
	}

	var taskErr TaskError
	for err := range errCh {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		taskErr.append(err)
	}
	return taskErr.asError()
}
