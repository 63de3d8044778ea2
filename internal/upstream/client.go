// Package upstream holds typed HTTP clients for the auth, ledger and auditor
// services. Every call that acts on behalf of a caller takes the caller's
// session explicitly.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/vanshika/amlwatch/internal/domain"
	"github.com/vanshika/amlwatch/internal/metrics"
)

const maxResponseBytes = 8 << 20

// Options configures a service client.
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	RateLimit  float64 // requests per second; zero disables limiting
	Burst      int
	HTTPClient *http.Client
}

type client struct {
	service string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

func newClient(service string, opts Options) *client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}

	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}

	return &client{
		service: service,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		http:    hc,
		limiter: rate.NewLimiter(limit, burst),
	}
}

type call struct {
	op      string
	method  string
	path    string
	session *domain.Session
	body    any
	out     any
}

func (c *client) do(ctx context.Context, cl call) error {
	start := time.Now()
	err := c.send(ctx, cl)
	metrics.ObserveUpstream(c.service, cl.op, outcome(err), time.Since(start))
	return err
}

func (c *client) send(ctx context.Context, cl call) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s %s: rate limit: %w", c.service, cl.op, err)
	}

	var body io.Reader
	if cl.body != nil {
		payload, err := json.Marshal(cl.body)
		if err != nil {
			return fmt.Errorf("%s %s: encode request: %w", c.service, cl.op, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, cl.method, c.baseURL+cl.path, body)
	if err != nil {
		return fmt.Errorf("%s %s: build request: %w", c.service, cl.op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cl.session != nil {
		applySession(req, *cl.session)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", c.service, cl.op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%s %s: read response: %w", c.service, cl.op, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return &StatusError{
			Service:    c.service,
			Operation:  cl.op,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(data),
		}
	}

	if cl.out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, cl.out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", c.service, cl.op, err)
	}
	return nil
}

func applySession(req *http.Request, s domain.Session) {
	if s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}
	if s.WalletID != "" {
		req.Header.Set("X-Wallet-ID", s.WalletID)
	}
	if s.Email != "" {
		req.Header.Set("X-User-Email", s.Email)
	}
}

func errorMessage(data []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	msg := strings.TrimSpace(string(data))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	default:
		return "error"
	}
}
