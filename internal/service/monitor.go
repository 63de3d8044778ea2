package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vanshika/amlwatch/internal/domain"
	"github.com/vanshika/amlwatch/internal/logging"
	"github.com/vanshika/amlwatch/internal/repository"
	"github.com/vanshika/amlwatch/internal/session"
	"github.com/vanshika/amlwatch/internal/upstream"
)

var (
	// ErrForbidden indicates the session's role may not perform the operation.
	ErrForbidden = errors.New("operation not permitted for role")
	// ErrInvalidInput indicates a request failed a business-level check.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound indicates the requested flagged transaction does not exist.
	ErrNotFound = errors.New("not found")
	// ErrStoreUnavailable indicates the graph projection store is not configured.
	ErrStoreUnavailable = errors.New("graph store not configured")
)

// AuthAPI is the auth service contract.
type AuthAPI interface {
	Login(ctx context.Context, email, password string) (upstream.LoginResult, error)
	Register(ctx context.Context, email, password, passport string) (string, error)
	Balance(ctx context.Context, s domain.Session) (decimal.Decimal, error)
	Deposit(ctx context.Context, s domain.Session, walletID string, amount decimal.Decimal) (string, error)
}

// LedgerAPI is the ledger service contract.
type LedgerAPI interface {
	Chain(ctx context.Context, s domain.Session) ([]domain.Block, error)
	SubmitTransaction(ctx context.Context, s domain.Session, t upstream.Transfer) (upstream.SubmitResult, error)
	Mine(ctx context.Context, s domain.Session) (domain.Block, error)
}

// AuditorAPI is the auditor service contract.
type AuditorAPI interface {
	FlaggedLogs(ctx context.Context, s domain.Session) (upstream.FlaggedLog, error)
	Observe(ctx context.Context, s domain.Session) (upstream.Observation, error)
}

// FlaggedRepository is the storage contract for flagged-graph projections.
type FlaggedRepository interface {
	UpsertFlagged(ctx context.Context, f domain.FlaggedTransaction, g domain.Graph) error
	ListFlagged(ctx context.Context, opts repository.ListFlaggedOptions) (domain.FlaggedListResult, error)
	FetchFlaggedGraph(ctx context.Context, id string) (domain.Graph, error)
	FlaggedForAccount(ctx context.Context, accountID string) ([]domain.AccountFlag, error)
}

// Options tunes a MonitorService.
type Options struct {
	// JWTSecret verifies auth-service tokens; empty reads claims unverified.
	JWTSecret   string
	ChainTTL    time.Duration
	SyncWorkers int
}

// MonitorService orchestrates the upstream services on behalf of a session.
type MonitorService struct {
	auth      AuthAPI
	ledger    LedgerAPI
	auditor   AuditorAPI
	sessions  session.Store
	repo      FlaggedRepository
	ingestor  *BulkIngestor
	chain     *chainCache
	jwtSecret string
	nowFn     func() time.Time
}

// NewMonitorService wires a MonitorService. repo may be nil when no graph store
// is configured; the stored-graph operations then report ErrStoreUnavailable.
func NewMonitorService(auth AuthAPI, ledger LedgerAPI, auditor AuditorAPI, sessions session.Store, repo FlaggedRepository, opts Options) *MonitorService {
	s := &MonitorService{
		auth:      auth,
		ledger:    ledger,
		auditor:   auditor,
		sessions:  sessions,
		repo:      repo,
		chain:     newChainCache(opts.ChainTTL),
		jwtSecret: opts.JWTSecret,
		nowFn:     time.Now,
	}
	if repo != nil {
		s.ingestor = NewBulkIngestor(repo, opts.SyncWorkers)
	}
	return s
}

// WithClock overrides the time provider (used primarily in tests).
func (s *MonitorService) WithClock(nowFn func() time.Time) {
	if nowFn != nil {
		s.nowFn = nowFn
		s.chain.now = nowFn
	}
}

// LoginOutcome is a new session and the UI route its role lands on.
type LoginOutcome struct {
	Session domain.Session
	Landing string
}

// Login authenticates against the auth service and opens a local session.
func (s *MonitorService) Login(ctx context.Context, email, password string) (LoginOutcome, error) {
	res, err := s.auth.Login(ctx, strings.TrimSpace(email), password)
	if err != nil {
		return LoginOutcome{}, err
	}

	claims, err := session.ParseToken(res.Token, s.jwtSecret, s.nowFn())
	if err != nil {
		return LoginOutcome{}, fmt.Errorf("login token: %w", err)
	}

	sess := domain.Session{
		Token:     res.Token,
		Email:     claims.Email,
		Role:      res.Role,
		WalletID:  res.WalletID,
		ExpiresAt: claims.ExpiresAt,
	}
	if sess.Email == "" {
		sess.Email = strings.TrimSpace(email)
	}
	if err := s.sessions.Save(ctx, sess); err != nil {
		return LoginOutcome{}, fmt.Errorf("save session: %w", err)
	}

	logging.FromContext(ctx).Info("session opened", "email", sess.Email, "role", sess.Role)
	return LoginOutcome{Session: sess, Landing: sess.Role.LandingRoute()}, nil
}

// RegisterInput is a self-registration request.
type RegisterInput struct {
	Email    string
	Password string
	Passport string
}

// Register creates a user account with the user role.
func (s *MonitorService) Register(ctx context.Context, in RegisterInput) (string, error) {
	return s.auth.Register(ctx, strings.TrimSpace(in.Email), in.Password, strings.TrimSpace(in.Passport))
}

// Authenticate resolves a bearer token to its live session.
func (s *MonitorService) Authenticate(ctx context.Context, token string) (domain.Session, error) {
	if token == "" {
		return domain.Session{}, session.ErrSessionNotFound
	}
	sess, err := s.sessions.Get(ctx, token)
	if err != nil {
		return domain.Session{}, err
	}
	if sess.Expired(s.nowFn()) {
		_ = s.sessions.Delete(ctx, token)
		return domain.Session{}, session.ErrSessionNotFound
	}
	return sess, nil
}

// Logout ends a session.
func (s *MonitorService) Logout(ctx context.Context, sess domain.Session) error {
	return s.sessions.Delete(ctx, sess.Token)
}

// TransferInput is a transaction submitted from the user portal.
type TransferInput struct {
	Receiver         string
	Amount           decimal.Decimal
	MerchantCategory string
	PaymentMethod    string
}

// SubmitTransaction sends a transfer from the session's wallet to the ledger.
func (s *MonitorService) SubmitTransaction(ctx context.Context, sess domain.Session, in TransferInput) (upstream.SubmitResult, error) {
	if sess.WalletID == "" {
		return upstream.SubmitResult{}, fmt.Errorf("%w: session has no wallet", ErrInvalidInput)
	}
	if !in.Amount.IsPositive() {
		return upstream.SubmitResult{}, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}

	res, err := s.ledger.SubmitTransaction(ctx, sess, upstream.Transfer{
		Receiver:         strings.TrimSpace(in.Receiver),
		Amount:           in.Amount,
		MerchantCategory: in.MerchantCategory,
		PaymentMethod:    in.PaymentMethod,
	})
	if err != nil {
		return upstream.SubmitResult{}, s.upstreamErr(ctx, sess, err)
	}

	s.InvalidateChain()
	logging.FromContext(ctx).Info("transaction submitted",
		"wallet", sess.WalletID, "status", res.Status, "block_index", res.BlockIndex, "rules", len(res.TriggeredRules))
	return res, nil
}

// Balance returns the session wallet's balance.
func (s *MonitorService) Balance(ctx context.Context, sess domain.Session) (decimal.Decimal, error) {
	if sess.WalletID == "" {
		return decimal.Zero, fmt.Errorf("%w: session has no wallet", ErrInvalidInput)
	}
	bal, err := s.auth.Balance(ctx, sess)
	if err != nil {
		return decimal.Zero, s.upstreamErr(ctx, sess, err)
	}
	return bal, nil
}

// Deposit credits a wallet. Admin only.
func (s *MonitorService) Deposit(ctx context.Context, sess domain.Session, walletID string, amount decimal.Decimal) (string, error) {
	if !sess.HasRole(domain.RoleAdmin) {
		return "", ErrForbidden
	}
	walletID = strings.TrimSpace(walletID)
	if walletID == "" {
		return "", fmt.Errorf("%w: wallet id is required", ErrInvalidInput)
	}
	if !amount.IsPositive() {
		return "", fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}

	msg, err := s.auth.Deposit(ctx, sess, walletID, amount)
	if err != nil {
		return "", s.upstreamErr(ctx, sess, err)
	}
	logging.FromContext(ctx).Info("deposit applied", "admin", sess.Email, "wallet", walletID, "amount", amount.String())
	return msg, nil
}

// upstreamErr ends the local session when an upstream service no longer
// accepts its token.
func (s *MonitorService) upstreamErr(ctx context.Context, sess domain.Session, err error) error {
	if errors.Is(err, upstream.ErrUnauthorized) && sess.Token != "" {
		if delErr := s.sessions.Delete(ctx, sess.Token); delErr != nil {
			logging.FromContext(ctx).Warn("failed to end rejected session", "error", delErr)
		}
	}
	return err
}
