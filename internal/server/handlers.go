package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/vanshika/amlwatch/internal/logging"
	"github.com/vanshika/amlwatch/internal/service"
	"github.com/vanshika/amlwatch/internal/session"
	"github.com/vanshika/amlwatch/internal/upstream"
)

const maxGraphBodyBytes = 1 << 20

// APIHandlers exposes HTTP handlers for the REST API.
type APIHandlers struct {
	logger   *slog.Logger
	service  *service.MonitorService
	validate *validator.Validate
}

// NewAPIHandlers constructs an APIHandlers instance.
func NewAPIHandlers(logger *slog.Logger, svc *service.MonitorService) *APIHandlers {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(jsonFieldName)
	return &APIHandlers{
		logger:   logger,
		service:  svc,
		validate: validate,
	}
}

func (h *APIHandlers) login(w http.ResponseWriter, r *http.Request) {
	var payload loginRequest
	if !h.decodeAndValidate(w, r, &payload) {
		return
	}

	out, err := h.service.Login(r.Context(), payload.Email, payload.Password)
	if err != nil {
		h.writeServiceError(w, r, err, "login failed")
		return
	}

	respondJSON(w, http.StatusOK, loginResponse{
		Token:     out.Session.Token,
		Email:     out.Session.Email,
		Role:      string(out.Session.Role),
		WalletID:  out.Session.WalletID,
		ExpiresAt: formatTime(out.Session.ExpiresAt),
		Landing:   out.Landing,
	})
}

func (h *APIHandlers) register(w http.ResponseWriter, r *http.Request) {
	var payload registerRequest
	if !h.decodeAndValidate(w, r, &payload) {
		return
	}

	msg, err := h.service.Register(r.Context(), service.RegisterInput{
		Email:    payload.Email,
		Password: payload.Password,
		Passport: payload.Passport,
	})
	if err != nil {
		h.writeServiceError(w, r, err, "registration failed")
		return
	}
	respondJSON(w, http.StatusCreated, messageResponse{Message: msg})
}

func (h *APIHandlers) logout(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFrom(r.Context())
	if err := h.service.Logout(r.Context(), sess); err != nil {
		h.writeServiceError(w, r, err, "logout failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandlers) currentSession(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFrom(r.Context())
	respondJSON(w, http.StatusOK, sessionResponse{
		Email:     sess.Email,
		Role:      string(sess.Role),
		WalletID:  sess.WalletID,
		ExpiresAt: formatTime(sess.ExpiresAt),
		Landing:   sess.Role.LandingRoute(),
	})
}

// buildGraph accepts any record shape the ledger or auditor emits. Malformed
// records render as an empty graph rather than an error.
func (h *APIHandlers) buildGraph(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxGraphBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "record too large")
		return
	}
	respondJSON(w, http.StatusOK, toGraphResponse(h.service.BuildGraph(raw)))
}

func (h *APIHandlers) submitTransaction(w http.ResponseWriter, r *http.Request) {
	var payload transferRequest
	if !h.decodeAndValidate(w, r, &payload) {
		return
	}

	sess, _ := sessionFrom(r.Context())
	res, err := h.service.SubmitTransaction(r.Context(), sess, service.TransferInput{
		Receiver:         payload.Receiver,
		Amount:           payload.Amount,
		MerchantCategory: payload.MerchantCategory,
		PaymentMethod:    payload.PaymentMethod,
	})
	if err != nil {
		h.writeServiceError(w, r, err, "failed to submit transaction")
		return
	}

	rules := res.TriggeredRules
	if rules == nil {
		rules = []string{}
	}
	respondJSON(w, http.StatusCreated, transferResponse{
		Status:         res.Status,
		BlockIndex:     res.BlockIndex,
		Flagged:        res.Flagged(),
		TriggeredRules: rules,
	})
}

func (h *APIHandlers) balance(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFrom(r.Context())
	bal, err := h.service.Balance(r.Context(), sess)
	if err != nil {
		h.writeServiceError(w, r, err, "failed to fetch balance")
		return
	}
	respondJSON(w, http.StatusOK, balanceResponse{WalletID: sess.WalletID, Balance: bal})
}

func (h *APIHandlers) deposit(w http.ResponseWriter, r *http.Request) {
	var payload depositRequest
	if !h.decodeAndValidate(w, r, &payload) {
		return
	}

	sess, _ := sessionFrom(r.Context())
	msg, err := h.service.Deposit(r.Context(), sess, payload.WalletID, payload.Amount)
	if err != nil {
		h.writeServiceError(w, r, err, "deposit failed")
		return
	}
	respondJSON(w, http.StatusOK, messageResponse{Message: msg})
}

func (h *APIHandlers) syncFlagged(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFrom(r.Context())
	report, err := h.service.SyncFlagged(r.Context(), sess)
	if err != nil {
		var taskErr *service.TaskError
		if errors.As(err, &taskErr) {
			logging.FromContext(r.Context()).Warn("flagged sync partially failed", "failures", len(taskErr.Errors), "error", err)
			respondJSON(w, http.StatusMultiStatus, toSyncResponse(report, taskErr))
			return
		}
		h.writeServiceError(w, r, err, "flagged sync failed")
		return
	}
	respondJSON(w, http.StatusOK, toSyncResponse(report, nil))
}

func (h *APIHandlers) mine(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFrom(r.Context())
	block, err := h.service.Mine(r.Context(), sess)
	if err != nil {
		h.writeServiceError(w, r, err, "mining failed")
		return
	}
	respondJSON(w, http.StatusOK, toBlockResponse(block))
}

func (h *APIHandlers) overview(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFrom(r.Context())
	ov, err := h.service.Overview(r.Context(), sess)
	if err != nil {
		h.writeServiceError(w, r, err, "failed to load overview")
		return
	}

	resp := overviewResponse{
		Blocks:        ov.Blocks,
		AuditedBlocks: ov.AuditedBlocks,
		FlaggedCount:  ov.FlaggedCount,
	}
	if ov.LatestBlock != nil {
		latest := toBlockResponse(*ov.LatestBlock)
		resp.LatestBlock = &latest
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *APIHandlers) auditTransactions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	page := parseInt(query.Get("page"), 1)
	pageSize := parseInt(query.Get("pageSize"), 50)

	sess, _ := sessionFrom(r.Context())
	result, err := h.service.AuditLog(r.Context(), sess, page, pageSize)
	if err != nil {
		h.writeServiceError(w, r, err, "failed to load audit log")
		return
	}

	resp := auditTransactionsResponse{
		Items:      make([]transactionResponse, 0, len(result.Items)),
		Pagination: toPaginationResponse(result.Pagination),
	}
	for _, tx := range result.Items {
		resp.Items = append(resp.Items, toTransactionResponse(tx))
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *APIHandlers) auditBlocks(w http.ResponseWriter, r *http.Request) {
	limit := parseInt(r.URL.Query().Get("limit"), 0)

	sess, _ := sessionFrom(r.Context())
	blocks, err := h.service.RecentBlocks(r.Context(), sess, limit)
	if err != nil {
		h.writeServiceError(w, r, err, "failed to load blocks")
		return
	}

	resp := make([]blockResponse, 0, len(blocks))
	for _, b := range blocks {
		resp = append(resp, toBlockResponse(b))
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *APIHandlers) listFlagged(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFrom(r.Context())
	logs, err := h.service.Flagged(r.Context(), sess)
	if err != nil {
		h.writeServiceError(w, r, err, "failed to load flagged transactions")
		return
	}

	resp := flaggedLogResponse{
		OnChainCount: logs.OnChainCount,
		Items:        make([]flaggedResponse, 0, len(logs.Items)),
	}
	for _, f := range logs.Items {
		resp.Items = append(resp.Items, toFlaggedResponse(f))
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *APIHandlers) listStoredFlagged(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	result, err := h.service.StoredFlagged(r.Context(), service.ListFlaggedParams{
		Page:      parseInt(query.Get("page"), 1),
		PageSize:  parseInt(query.Get("pageSize"), 50),
		Rule:      query.Get("rule"),
		Account:   query.Get("account"),
		SortField: query.Get("sortField"),
		SortOrder: query.Get("sortOrder"),
	})
	if err != nil {
		h.writeServiceError(w, r, err, "failed to list stored flagged transactions")
		return
	}

	resp := storedFlaggedResponse{
		Items:      make([]flaggedSummaryResponse, 0, len(result.Items)),
		Pagination: toPaginationResponse(result.Pagination),
	}
	for _, item := range result.Items {
		resp.Items = append(resp.Items, toFlaggedSummaryResponse(item))
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *APIHandlers) flaggedGraph(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "flagged ID is required")
		return
	}

	sess, _ := sessionFrom(r.Context())
	g, err := h.service.FlaggedGraph(r.Context(), sess, id)
	if err != nil {
		h.writeServiceError(w, r, err, "failed to build flagged graph")
		return
	}
	respondJSON(w, http.StatusOK, toGraphResponse(g))
}

func (h *APIHandlers) accountFlagged(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "account ID is required")
		return
	}

	flags, err := h.service.AccountFlags(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err, "failed to load account flags")
		return
	}

	resp := accountFlagsResponse{AccountID: id, Items: make([]accountFlagResponse, 0, len(flags))}
	for _, f := range flags {
		resp.Items = append(resp.Items, accountFlagResponse{
			flaggedSummaryResponse: toFlaggedSummaryResponse(f.Flagged),
			Color:                  string(f.Color),
		})
	}
	respondJSON(w, http.StatusOK, resp)
}

// --- Helpers ---

func (h *APIHandlers) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSON(r, dst); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

// writeServiceError maps service and upstream errors onto HTTP statuses.
// Upstream 4xx messages are passed through so the UI can show them.
func (h *APIHandlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	var statusErr *upstream.StatusError
	switch {
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, session.ErrTokenExpired),
		errors.Is(err, session.ErrInvalidToken), errors.Is(err, upstream.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, upstreamMessage(err, "unauthorized"))
	case errors.Is(err, service.ErrForbidden), errors.Is(err, upstream.ErrForbidden):
		writeError(w, http.StatusForbidden, upstreamMessage(err, "forbidden"))
	case errors.Is(err, service.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, upstream.ErrRejected):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, "flagged transaction not found")
	case errors.Is(err, service.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &statusErr) && statusErr.StatusCode < http.StatusInternalServerError:
		writeError(w, http.StatusBadRequest, upstreamMessage(err, msg))
	default:
		logging.FromContext(r.Context()).Error(msg, "error", err)
		writeError(w, http.StatusBadGateway, msg)
	}
}

func upstreamMessage(err error, fallback string) string {
	var statusErr *upstream.StatusError
	if errors.As(err, &statusErr) && statusErr.Message != "" {
		return statusErr.Message
	}
	return fallback
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fe.Field()+" failed "+fe.Tag())
	}
	return strings.Join(parts, "; ")
}

// jsonFieldName reports fields by their JSON name in validation errors.
func jsonFieldName(field reflect.StructField) string {
	name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
	if name == "" || name == "-" {
		return field.Name
	}
	return name
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	return nil
}

func parseInt(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	if v, err := strconv.Atoi(value); err == nil {
		return v
	}
	return fallback
}

func writeError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{
		"error": msg,
	})
}
