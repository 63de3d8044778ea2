package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanshika/amlwatch/internal/domain"
	"github.com/vanshika/amlwatch/internal/session"
	"github.com/vanshika/amlwatch/internal/upstream"
)

const testSecret = "test-secret"

type fixture struct {
	svc      *MonitorService
	auth     *stubAuth
	ledger   *stubLedger
	auditor  *stubAuditor
	repo     *stubRepository
	sessions *session.MemoryStore
}

func newFixture(t *testing.T, withRepo bool) *fixture {
	t.Helper()
	f := &fixture{
		auth:     &stubAuth{},
		ledger:   &stubLedger{},
		auditor:  &stubAuditor{},
		sessions: session.NewMemoryStore(time.Hour),
	}
	var repo FlaggedRepository
	if withRepo {
		f.repo = newStubRepository()
		repo = f.repo
	}
	f.svc = NewMonitorService(f.auth, f.ledger, f.auditor, f.sessions, repo, Options{
		JWTSecret:   testSecret,
		ChainTTL:    time.Minute,
		SyncWorkers: 3,
	})
	return f
}

func signedToken(t *testing.T, email, role string, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"email": email,
		"role":  role,
		"exp":   exp.Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func TestLogin_OpensSessionAndPicksLanding(t *testing.T) {
	cases := map[domain.Role]string{
		domain.RoleAdmin:   "/dashboard",
		domain.RoleAuditor: "/audit",
		domain.RoleUser:    "/portal",
	}
	for role, landing := range cases {
		t.Run(string(role), func(t *testing.T) {
			f := newFixture(t, false)
			token := signedToken(t, "x@example.com", string(role), time.Now().Add(time.Hour))
			f.auth.login = upstream.LoginResult{Token: token, Role: role, WalletID: "W-1"}

			out, err := f.svc.Login(context.Background(), " x@example.com ", "pw")
			require.NoError(t, err)
			assert.Equal(t, landing, out.Landing)
			assert.Equal(t, "x@example.com", out.Session.Email)
			assert.False(t, out.Session.ExpiresAt.IsZero())

			sess, err := f.svc.Authenticate(context.Background(), token)
			require.NoError(t, err)
			assert.Equal(t, role, sess.Role)
			assert.Equal(t, "W-1", sess.WalletID)
		})
	}
}

func TestLogin_Failures(t *testing.T) {
	f := newFixture(t, false)
	f.auth.loginErr = &upstream.StatusError{Service: "auth", Operation: "login", StatusCode: 401, Message: "Invalid password"}
	_, err := f.svc.Login(context.Background(), "x@example.com", "bad")
	assert.ErrorIs(t, err, upstream.ErrUnauthorized)

	f = newFixture(t, false)
	f.auth.login = upstream.LoginResult{Token: signedToken(t, "x@example.com", "user", time.Now().Add(-time.Minute))}
	_, err = f.svc.Login(context.Background(), "x@example.com", "pw")
	assert.ErrorIs(t, err, session.ErrTokenExpired)
}

func TestAuthenticate_UnknownAndLoggedOut(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	_, err := f.svc.Authenticate(ctx, "")
	assert.ErrorIs(t, err, session.ErrSessionNotFound)

	sess := domain.Session{Token: "tok", Role: domain.RoleUser}
	require.NoError(t, f.sessions.Save(ctx, sess))
	require.NoError(t, f.svc.Logout(ctx, sess))
	_, err = f.svc.Authenticate(ctx, "tok")
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestSubmitTransaction(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	user := domain.Session{Token: "tok", Role: domain.RoleUser, WalletID: "W-1"}
	f.ledger.submitRes = upstream.SubmitResult{Status: "clean", BlockIndex: 4}

	res, err := f.svc.SubmitTransaction(ctx, user, TransferInput{Receiver: " W-2 ", Amount: decimal.NewFromInt(50)})
	require.NoError(t, err)
	assert.Equal(t, 4, res.BlockIndex)
	require.Len(t, f.ledger.submitted, 1)
	assert.Equal(t, "W-2", f.ledger.submitted[0].Receiver)

	_, err = f.svc.SubmitTransaction(ctx, user, TransferInput{Receiver: "W-2", Amount: decimal.Zero})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.SubmitTransaction(ctx, domain.Session{Token: "t"}, TransferInput{Receiver: "W-2", Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestUpstreamUnauthorizedEndsSession(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	sess := domain.Session{Token: "stale", Role: domain.RoleUser, WalletID: "W-1"}
	require.NoError(t, f.sessions.Save(ctx, sess))

	f.auth.balanceErr = &upstream.StatusError{Service: "auth", StatusCode: 401}
	_, err := f.svc.Balance(ctx, sess)
	assert.ErrorIs(t, err, upstream.ErrUnauthorized)

	_, err = f.sessions.Get(ctx, "stale")
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestDeposit_AdminOnly(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	amount := decimal.RequireFromString("100.25")

	_, err := f.svc.Deposit(ctx, domain.Session{Role: domain.RoleAuditor}, "W-9", amount)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.Deposit(ctx, domain.Session{Role: domain.RoleAdmin}, "W-9", decimal.NewFromInt(-1))
	assert.ErrorIs(t, err, ErrInvalidInput)

	msg, err := f.svc.Deposit(ctx, domain.Session{Role: domain.RoleAdmin}, " W-9 ", amount)
	require.NoError(t, err)
	assert.Equal(t, "Deposited", msg)
	assert.Equal(t, []string{"W-9:100.25"}, f.auth.deposits)
}

func chainOf(n int) []domain.Block {
	blocks := make([]domain.Block, 0, n)
	for i := 1; i <= n; i++ {
		idx := i
		blocks = append(blocks, domain.Block{
			Index: i,
			Hash:  fmt.Sprintf("h%d", i),
			Transactions: []domain.Transaction{
				{Sender: fmt.Sprintf("S%d", i), Receiver: "R", Amount: decimal.NewFromInt(int64(i)), BlockIndex: &idx},
			},
		})
	}
	return blocks
}

func TestAuditLog_FlattensAndPaginates(t *testing.T) {
	f := newFixture(t, false)
	f.ledger.setChain(chainOf(5))

	page, err := f.svc.AuditLog(context.Background(), domain.Session{}, 2, 2)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "S3", page.Items[0].Sender)
	assert.Equal(t, 3, *page.Items[0].BlockIndex)
	assert.Equal(t, PaginationMeta{Page: 2, PageSize: 2, TotalItems: 5, TotalPages: 3}, page.Pagination)

	page, err = f.svc.AuditLog(context.Background(), domain.Session{}, 9, 2)
	require.NoError(t, err)
	assert.Empty(t, page.Items)
}

func TestRecentBlocks_NewestFirst(t *testing.T) {
	f := newFixture(t, false)
	f.ledger.setChain(chainOf(12))

	blocks, err := f.svc.RecentBlocks(context.Background(), domain.Session{}, 0)
	require.NoError(t, err)
	require.Len(t, blocks, 10)
	assert.Equal(t, 12, blocks[0].Index)
	assert.Equal(t, 3, blocks[9].Index)

	blocks, err = f.svc.RecentBlocks(context.Background(), domain.Session{}, 50)
	require.NoError(t, err)
	assert.Len(t, blocks, 12)
}

func TestChainCache_CoalescesAndInvalidates(t *testing.T) {
	f := newFixture(t, false)
	f.ledger.setChain(chainOf(2))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Chain(ctx, domain.Session{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	calls := f.ledger.chainCalls.Load()
	assert.LessOrEqual(t, calls, int32(8))

	_, err := f.svc.Chain(ctx, domain.Session{})
	require.NoError(t, err)
	assert.Equal(t, calls, f.ledger.chainCalls.Load(), "cached chain should not hit the ledger")

	f.ledger.setChain(chainOf(3))
	f.svc.InvalidateChain()
	blocks, err := f.svc.Chain(ctx, domain.Session{})
	require.NoError(t, err)
	assert.Len(t, blocks, 3)
}

func TestChain_RejectedTokenOnlyEndsItsOwnSession(t *testing.T) {
	f := newFixture(t, false)
	f.ledger.setChain(chainOf(2))
	f.ledger.chainGate = make(chan struct{})
	f.ledger.rejected = "bad"
	ctx := context.Background()

	bad := domain.Session{Token: "bad", Email: "bad@example.com", Role: domain.RoleAuditor}
	good := domain.Session{Token: "good", Email: "good@example.com", Role: domain.RoleAuditor}
	require.NoError(t, f.sessions.Save(ctx, bad))
	require.NoError(t, f.sessions.Save(ctx, good))

	var badErr, goodErr error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, badErr = f.svc.Chain(ctx, bad)
	}()
	go func() {
		defer wg.Done()
		_, goodErr = f.svc.Chain(ctx, good)
	}()
	require.Eventually(t, func() bool { return f.ledger.chainCalls.Load() == 2 }, time.Second, 5*time.Millisecond)
	close(f.ledger.chainGate)
	wg.Wait()

	assert.ErrorIs(t, badErr, upstream.ErrUnauthorized)
	assert.NoError(t, goodErr)

	_, err := f.sessions.Get(ctx, "bad")
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
	_, err = f.sessions.Get(ctx, "good")
	assert.NoError(t, err)
}

func TestChain_CallerCancellationDoesNotFailOthers(t *testing.T) {
	f := newFixture(t, false)
	f.ledger.setChain(chainOf(3))
	f.ledger.chainGate = make(chan struct{})

	cancelled, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := f.svc.Chain(cancelled, domain.Session{})
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return f.ledger.chainCalls.Load() == 1 }, time.Second, 5*time.Millisecond)

	type result struct {
		blocks []domain.Block
		err    error
	}
	second := make(chan result, 1)
	go func() {
		blocks, err := f.svc.Chain(context.Background(), domain.Session{})
		second <- result{blocks, err}
	}()

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(f.ledger.chainGate)
	res := <-second
	require.NoError(t, res.err)
	assert.Len(t, res.blocks, 3)
}

func TestAuditLog_HugePageIsEmpty(t *testing.T) {
	f := newFixture(t, false)
	f.ledger.setChain(chainOf(5))

	for _, page := range []int{math.MaxInt, math.MaxInt / 2, math.MaxInt/200 + 2} {
		out, err := f.svc.AuditLog(context.Background(), domain.Session{}, page, 200)
		require.NoError(t, err)
		assert.Empty(t, out.Items)
		assert.EqualValues(t, 5, out.Pagination.TotalItems)
	}
}

func TestChainCache_Expires(t *testing.T) {
	f := newFixture(t, false)
	clock := time.Now()
	f.svc.WithClock(func() time.Time { return clock })
	f.ledger.setChain(chainOf(1))
	ctx := context.Background()

	_, err := f.svc.Chain(ctx, domain.Session{})
	require.NoError(t, err)
	clock = clock.Add(2 * time.Minute)
	_, err = f.svc.Chain(ctx, domain.Session{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, f.ledger.chainCalls.Load())
}

func TestOverview(t *testing.T) {
	f := newFixture(t, false)
	f.ledger.setChain(chainOf(4))
	f.auditor.logs = upstream.FlaggedLog{OnChainCount: 7}
	f.auditor.observed = upstream.Observation{AuditedBlocks: 4}

	ov, err := f.svc.Overview(context.Background(), domain.Session{})
	require.NoError(t, err)
	assert.Equal(t, 4, ov.Blocks)
	assert.Equal(t, 4, ov.AuditedBlocks)
	assert.Equal(t, 7, ov.FlaggedCount)
	require.NotNil(t, ov.LatestBlock)
	assert.Equal(t, "h4", ov.LatestBlock.Hash)

	f.auditor.logsErr = errors.New("auditor down")
	_, err = f.svc.Overview(context.Background(), domain.Session{})
	assert.ErrorContains(t, err, "auditor down")
}

func TestMine_InvalidatesChain(t *testing.T) {
	f := newFixture(t, false)
	f.ledger.setChain(chainOf(1))
	f.ledger.mined = domain.Block{Index: 2}
	ctx := context.Background()

	_, err := f.svc.Mine(ctx, domain.Session{Role: domain.RoleUser})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.Chain(ctx, domain.Session{})
	require.NoError(t, err)
	block, err := f.svc.Mine(ctx, domain.Session{Role: domain.RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, 2, block.Index)

	_, err = f.svc.Chain(ctx, domain.Session{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, f.ledger.chainCalls.Load())
}
