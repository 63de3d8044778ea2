package service

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"github.com/vanshika/amlwatch/internal/domain"
	"github.com/vanshika/amlwatch/internal/repository"
	"github.com/vanshika/amlwatch/internal/upstream"
)

type stubAuth struct {
	login      upstream.LoginResult
	loginErr   error
	registered []string
	balance    decimal.Decimal
	balanceErr error
	deposits   []string
	depositErr error
}

func (s *stubAuth) Login(ctx context.Context, email, password string) (upstream.LoginResult, error) {
	return s.login, s.loginErr
}

func (s *stubAuth) Register(ctx context.Context, email, password, passport string) (string, error) {
	s.registered = append(s.registered, email)
	return "Registered", nil
}

func (s *stubAuth) Balance(ctx context.Context, sess domain.Session) (decimal.Decimal, error) {
	return s.balance, s.balanceErr
}

func (s *stubAuth) Deposit(ctx context.Context, sess domain.Session, walletID string, amount decimal.Decimal) (string, error) {
	if s.depositErr != nil {
		return "", s.depositErr
	}
	s.deposits = append(s.deposits, walletID+":"+amount.String())
	return "Deposited", nil
}

type stubLedger struct {
	mu         sync.Mutex
	chain      []domain.Block
	chainErr   error
	chainCalls atomic.Int32
	chainGate  chan struct{}
	rejected   string
	submitted  []upstream.Transfer
	submitRes  upstream.SubmitResult
	submitErr  error
	mined      domain.Block
}

func (s *stubLedger) Chain(ctx context.Context, sess domain.Session) ([]domain.Block, error) {
	s.chainCalls.Add(1)
	if s.chainGate != nil {
		<-s.chainGate
	}
	if s.rejected != "" && sess.Token == s.rejected {
		return nil, &upstream.StatusError{Service: "ledger", Operation: "chain", StatusCode: 401}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chain, s.chainErr
}

func (s *stubLedger) SubmitTransaction(ctx context.Context, sess domain.Session, t upstream.Transfer) (upstream.SubmitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitted = append(s.submitted, t)
	return s.submitRes, s.submitErr
}

func (s *stubLedger) Mine(ctx context.Context, sess domain.Session) (domain.Block, error) {
	return s.mined, nil
}

func (s *stubLedger) setChain(blocks []domain.Block) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chain = blocks
}

type stubAuditor struct {
	logs      upstream.FlaggedLog
	logsErr   error
	observed  upstream.Observation
	observeEr error
}

func (s *stubAuditor) FlaggedLogs(ctx context.Context, sess domain.Session) (upstream.FlaggedLog, error) {
	return s.logs, s.logsErr
}

func (s *stubAuditor) Observe(ctx context.Context, sess domain.Session) (upstream.Observation, error) {
	return s.observed, s.observeEr
}

type stubRepository struct {
	mu        sync.Mutex
	upserted  map[string]domain.Graph
	upsertErr map[string]error
	graphs    map[string]domain.Graph
	listOpts  repository.ListFlaggedOptions
	list      domain.FlaggedListResult
	flags     []domain.AccountFlag
}

func newStubRepository() *stubRepository {
	return &stubRepository{
		upserted:  make(map[string]domain.Graph),
		upsertErr: make(map[string]error),
		graphs:    make(map[string]domain.Graph),
	}
}

func (s *stubRepository) UpsertFlagged(ctx context.Context, f domain.FlaggedTransaction, g domain.Graph) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.upsertErr[f.ID]; err != nil {
		return err
	}
	s.upserted[f.ID] = g
	return nil
}

func (s *stubRepository) ListFlagged(ctx context.Context, opts repository.ListFlaggedOptions) (domain.FlaggedListResult, error) {
	s.listOpts = opts
	return s.list, nil
}

func (s *stubRepository) FetchFlaggedGraph(ctx context.Context, id string) (domain.Graph, error) {
	g, ok := s.graphs[id]
	if !ok {
		return domain.Graph{}, repository.ErrNotFound
	}
	return g, nil
}

func (s *stubRepository) FlaggedForAccount(ctx context.Context, accountID string) ([]domain.AccountFlag, error) {
	return s.flags, nil
}
