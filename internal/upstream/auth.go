package upstream

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/vanshika/amlwatch/internal/domain"
)

// AuthClient talks to the authentication and wallet service.
type AuthClient struct {
	c *client
}

// NewAuthClient constructs an AuthClient.
func NewAuthClient(opts Options) *AuthClient {
	return &AuthClient{c: newClient("auth", opts)}
}

// LoginResult is the auth service's answer to a successful login.
type LoginResult struct {
	Token    string
	Role     domain.Role
	WalletID string
	Message  string
}

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Login exchanges credentials for a bearer token.
func (a *AuthClient) Login(ctx context.Context, email, password string) (LoginResult, error) {
	var resp struct {
		envelope
		Token  string `json:"token"`
		Role   string `json:"role"`
		Wallet string `json:"wallet"`
	}
	err := a.c.do(ctx, call{
		op:     "login",
		method: http.MethodPost,
		path:   "/login",
		body:   map[string]string{"email": email, "password": password},
		out:    &resp,
	})
	if err != nil {
		return LoginResult{}, err
	}
	if !resp.Success || resp.Token == "" {
		return LoginResult{}, rejected("auth", "login", resp.Message)
	}
	return LoginResult{
		Token:    resp.Token,
		Role:     domain.ParseRole(resp.Role),
		WalletID: resp.Wallet,
		Message:  resp.Message,
	}, nil
}

// Register creates a user account. Self-registration always requests the user role.
func (a *AuthClient) Register(ctx context.Context, email, password, passport string) (string, error) {
	var resp envelope
	err := a.c.do(ctx, call{
		op:     "register",
		method: http.MethodPost,
		path:   "/register",
		body: map[string]string{
			"email":           email,
			"password":        password,
			"passport_number": passport,
			"role":            string(domain.RoleUser),
		},
		out: &resp,
	})
	if err != nil {
		return "", err
	}
	if !resp.Success {
		return "", rejected("auth", "register", resp.Message)
	}
	return resp.Message, nil
}

// Balance returns the balance of the session's wallet.
func (a *AuthClient) Balance(ctx context.Context, s domain.Session) (decimal.Decimal, error) {
	var resp struct {
		envelope
		Balance decimal.Decimal `json:"balance"`
	}
	err := a.c.do(ctx, call{
		op:      "balance",
		method:  http.MethodGet,
		path:    "/wallet/balance",
		session: &s,
		out:     &resp,
	})
	if err != nil {
		return decimal.Zero, err
	}
	if !resp.Success {
		return decimal.Zero, rejected("auth", "balance", resp.Message)
	}
	return resp.Balance, nil
}

// Deposit credits a wallet. The auth service only honours it for admin tokens.
func (a *AuthClient) Deposit(ctx context.Context, s domain.Session, walletID string, amount decimal.Decimal) (string, error) {
	var resp envelope
	err := a.c.do(ctx, call{
		op:      "deposit",
		method:  http.MethodPost,
		path:    "/admin/deposit",
		session: &s,
		body: map[string]any{
			"wallet_id": walletID,
			"amount":    amount.String(),
		},
		out: &resp,
	})
	if err != nil {
		return "", err
	}
	if !resp.Success {
		return "", rejected("auth", "deposit", resp.Message)
	}
	return resp.Message, nil
}
