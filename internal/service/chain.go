package service

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/vanshika/amlwatch/internal/domain"
	"github.com/vanshika/amlwatch/internal/metrics"
	"github.com/vanshika/amlwatch/internal/session"
)

const defaultRecentBlocks = 10

// chainCache holds the last fetched chain for a short TTL. Concurrent misses
// from one session share one upstream call.
type chainCache struct {
	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group

	mu         sync.Mutex
	blocks     []domain.Block
	fetchedAt  time.Time
	generation uint64
}

func newChainCache(ttl time.Duration) *chainCache {
	return &chainCache{ttl: ttl, now: time.Now}
}

// get serves the cached chain or fetches it. Misses are coalesced per flight
// key, so a rejected token only fails the callers presenting it. The fetch is
// detached from any single caller's cancellation; each caller stops waiting
// when its own ctx ends.
func (c *chainCache) get(ctx context.Context, flight string, fetch func(context.Context) ([]domain.Block, error)) ([]domain.Block, error) {
	c.mu.Lock()
	if c.blocks != nil && c.ttl > 0 && c.now().Sub(c.fetchedAt) < c.ttl {
		blocks := c.blocks
		c.mu.Unlock()
		metrics.ChainCache("hit")
		return blocks, nil
	}
	gen := c.generation
	c.mu.Unlock()
	metrics.ChainCache("miss")

	key := strconv.FormatUint(gen, 10) + ":" + flight
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		blocks, err := fetch(fetchCtx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.generation == gen {
			c.blocks = blocks
			c.fetchedAt = c.now()
		}
		c.mu.Unlock()
		return blocks, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]domain.Block), nil
	}
}

func (c *chainCache) invalidate() {
	c.mu.Lock()
	c.blocks = nil
	c.generation++
	c.mu.Unlock()
	metrics.ChainCache("invalidated")
}

// InvalidateChain drops the cached chain. Called when the ledger announces a block.
func (s *MonitorService) InvalidateChain() {
	s.chain.invalidate()
}

// Chain returns the full chain, oldest block first.
func (s *MonitorService) Chain(ctx context.Context, sess domain.Session) ([]domain.Block, error) {
	blocks, err := s.chain.get(ctx, session.Key(sess.Token), func(ctx context.Context) ([]domain.Block, error) {
		return s.ledger.Chain(ctx, sess)
	})
	if err != nil {
		return nil, s.upstreamErr(ctx, sess, err)
	}
	return blocks, nil
}

// AuditPage is a page of chain transactions with pagination metadata.
type AuditPage struct {
	Items      []domain.Transaction
	Pagination PaginationMeta
}

// AuditLog flattens the chain into its transactions, in chain order, each
// stamped with its block index.
func (s *MonitorService) AuditLog(ctx context.Context, sess domain.Session, page, pageSize int) (AuditPage, error) {
	blocks, err := s.Chain(ctx, sess)
	if err != nil {
		return AuditPage{}, err
	}

	var all []domain.Transaction
	for _, b := range blocks {
		all = append(all, b.Transactions...)
	}

	page, pageSize = normalizePagination(page, pageSize)
	start := min((page-1)*pageSize, len(all))
	end := min(start+pageSize, len(all))

	items := make([]domain.Transaction, 0, end-start)
	items = append(items, all[start:end]...)
	return AuditPage{
		Items:      items,
		Pagination: buildPaginationMeta(page, pageSize, int64(len(all))),
	}, nil
}

// RecentBlocks returns up to n of the newest blocks, newest first.
func (s *MonitorService) RecentBlocks(ctx context.Context, sess domain.Session, n int) ([]domain.Block, error) {
	blocks, err := s.Chain(ctx, sess)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		n = defaultRecentBlocks
	}
	n = min(n, len(blocks))

	out := make([]domain.Block, 0, n)
	for i := len(blocks) - 1; i >= len(blocks)-n; i-- {
		out = append(out, blocks[i])
	}
	return out, nil
}

// Overview gathers chain length, the latest block and flagged counts concurrently.
func (s *MonitorService) Overview(ctx context.Context, sess domain.Session) (domain.ChainOverview, error) {
	var (
		overview domain.ChainOverview
		blocks   []domain.Block
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		blocks, err = s.Chain(gctx, sess)
		return err
	})
	g.Go(func() error {
		logs, err := s.auditor.FlaggedLogs(gctx, sess)
		if err != nil {
			return s.upstreamErr(gctx, sess, err)
		}
		overview.FlaggedCount = logs.OnChainCount
		return nil
	})
	g.Go(func() error {
		obs, err := s.auditor.Observe(gctx, sess)
		if err != nil {
			return s.upstreamErr(gctx, sess, err)
		}
		overview.AuditedBlocks = obs.AuditedBlocks
		return nil
	})
	if err := g.Wait(); err != nil {
		return domain.ChainOverview{}, err
	}

	overview.Blocks = len(blocks)
	if len(blocks) > 0 {
		latest := blocks[len(blocks)-1]
		overview.LatestBlock = &latest
	}
	return overview, nil
}

// Mine asks the ledger to seal pending transactions. Admin only.
func (s *MonitorService) Mine(ctx context.Context, sess domain.Session) (domain.Block, error) {
	if !sess.HasRole(domain.RoleAdmin) {
		return domain.Block{}, ErrForbidden
	}
	block, err := s.ledger.Mine(ctx, sess)
	if err != nil {
		return domain.Block{}, s.upstreamErr(ctx, sess, err)
	}
	s.InvalidateChain()
	return block, nil
}
