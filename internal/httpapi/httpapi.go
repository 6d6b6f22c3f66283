package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"possales/internal/campaign"
	"possales/internal/domain"
	"possales/internal/inventory"
	"possales/internal/service"
	"possales/internal/store"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string) *API {
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
	}
}

// errorBody is the shared error envelope for every failure response.
type errorBody struct {
	Timestamp string     `json:"timestamp"`
	Status    int        `json:"status"`
	Error     string     `json:"error"`
	Message   string     `json:"message"`
	Path      string     `json:"path"`
	SubErrors []subError `json:"subErrors,omitempty"`
}

type subError struct {
	Object        string `json:"object"`
	Field         string `json:"field"`
	RejectedValue any    `json:"rejectedValue"`
	Message       string `json:"message"`
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)

	mux.HandleFunc("/api/v1/sales", a.requireAuth(a.handleSales, "cashier", "admin"))
	mux.HandleFunc("/api/v1/sales/", a.requireAuth(a.handleSaleActions, "cashier", "admin"))
	mux.HandleFunc("/api/v1/returns", a.requireAuth(a.handleReturns, "cashier", "admin"))

	mux.HandleFunc("/api/v1/campaigns", a.requireAuth(a.handleCampaigns, "cashier", "admin"))
	mux.HandleFunc("/api/v1/campaigns/", a.requireAuth(a.handleCampaignActions, "cashier", "admin"))

	mux.HandleFunc("/api/v1/reports/daily", a.requireAuth(a.handleDailyReport, "admin"))
	mux.HandleFunc("/api/v1/audit-logs", a.requireAuth(a.handleAuditLogs, "admin"))
	mux.HandleFunc("/api/v1/users/cashiers", a.requireAuth(a.handleCashiers, "admin"))
	mux.HandleFunc("/api/v1/inventory/reconciliation", a.requireAuth(a.handleReconciliation, "admin"))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, r, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, r, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, r, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(req)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleSales(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req domain.SaleCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err)
			return
		}
		if subs := validateSaleRequest(req); len(subs) > 0 {
			writeValidationError(w, r, subs)
			return
		}

		sale, err := a.service.CreateSale(r.Context(), req)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"sale": sale})
	case http.MethodGet:
		filter := domain.SaleFilter{
			SalesNumber: strings.TrimSpace(r.URL.Query().Get("sales_number")),
			CreatedBy:   strings.TrimSpace(r.URL.Query().Get("created_by")),
			PaymentType: strings.TrimSpace(r.URL.Query().Get("payment_type")),
			Page:        parsePositiveInt(r.URL.Query().Get("page"), 1),
			Size:        parsePositiveInt(r.URL.Query().Get("size"), 20),
			Sort:        strings.TrimSpace(r.URL.Query().Get("sort")),
		}
		if from := strings.TrimSpace(r.URL.Query().Get("from")); from != "" {
			parsed, err := time.Parse("2006-01-02", from)
			if err != nil {
				writeError(w, r, http.StatusBadRequest, errors.New("from must be YYYY-MM-DD"))
				return
			}
			filter.From = parsed.UTC()
		}
		if to := strings.TrimSpace(r.URL.Query().Get("to")); to != "" {
			parsed, err := time.Parse("2006-01-02", to)
			if err != nil {
				writeError(w, r, http.StatusBadRequest, errors.New("to must be YYYY-MM-DD"))
				return
			}
			filter.To = parsed.UTC().Add(24 * time.Hour)
		}

		resp, err := a.service.ListSales(r.Context(), filter)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	default:
		writeMethodNotAllowed(w, r)
	}
}

func (a *API) handleSaleActions(w http.ResponseWriter, r *http.Request) {
	prefix := "/api/v1/sales/"
	salesNumber := strings.TrimSpace(strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/"))
	if salesNumber == "" {
		writeError(w, r, http.StatusBadRequest, errors.New("sales number required"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		sale, err := a.service.GetSale(r.Context(), salesNumber)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
	case http.MethodDelete:
		if err := a.service.DeleteSale(r.Context(), salesNumber); err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeMethodNotAllowed(w, r)
	}
}

func (a *API) handleReturns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r)
		return
	}

	var reqs []domain.ReturnRequest
	if err := decodeJSON(r, &reqs); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if len(reqs) == 0 {
		writeError(w, r, http.StatusBadRequest, errors.New("at least one return is required"))
		return
	}

	// Processed sequentially; the first failure stops the batch and earlier
	// returns stay applied.
	results := make([]domain.ReturnResult, 0, len(reqs))
	for _, req := range reqs {
		result, err := a.service.ProcessReturn(r.Context(), req)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		results = append(results, result)
	}
	writeJSON(w, http.StatusOK, map[string]any{"returns": results})
}

func (a *API) handleCampaigns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		filter := domain.CampaignFilter{
			ID:        strings.TrimSpace(r.URL.Query().Get("id")),
			Name:      strings.TrimSpace(r.URL.Query().Get("name")),
			Category:  strings.TrimSpace(r.URL.Query().Get("category")),
			CreatedBy: strings.TrimSpace(r.URL.Query().Get("created_by")),
			Page:      parsePositiveInt(r.URL.Query().Get("page"), 1),
			Size:      parsePositiveInt(r.URL.Query().Get("size"), 20),
			Sort:      strings.TrimSpace(r.URL.Query().Get("sort")),
		}
		if active := strings.TrimSpace(r.URL.Query().Get("active")); active != "" {
			parsed, err := strconv.ParseBool(active)
			if err != nil {
				writeError(w, r, http.StatusBadRequest, errors.New("active must be true or false"))
				return
			}
			filter.Active = &parsed
		}

		resp, err := a.service.ListCampaigns(r.Context(), filter)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	case http.MethodPost:
		var req domain.CampaignCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err)
			return
		}

		created, err := a.service.CreateCampaign(r.Context(), req)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"campaign": created})
	default:
		writeMethodNotAllowed(w, r)
	}
}

func (a *API) handleCampaignActions(w http.ResponseWriter, r *http.Request) {
	prefix := "/api/v1/campaigns/"
	id := strings.TrimSpace(strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/"))
	if id == "" {
		writeError(w, r, http.StatusBadRequest, errors.New("campaign id required"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		c, err := a.service.GetCampaign(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"campaign": c})
	case http.MethodPatch:
		var req domain.CampaignUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err)
			return
		}
		updated, err := a.service.UpdateCampaign(r.Context(), id, req)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"campaign": updated})
	case http.MethodDelete:
		if err := a.service.DeleteCampaign(r.Context(), id); err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeMethodNotAllowed(w, r)
	}
}

func (a *API) handleDailyReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r)
		return
	}

	report, err := a.service.DailyReport(r.Context(), r.URL.Query().Get("date"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r)
		return
	}

	date := r.URL.Query().Get("date")
	limit := parsePositiveInt(r.URL.Query().Get("limit"), 100)
	if limit > 500 {
		limit = 500
	}

	logs, err := a.service.ListAuditLogs(r.Context(), date, limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (a *API) handleCashiers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cashiers := a.auth.ListCashiers()
		writeJSON(w, http.StatusOK, map[string]any{"cashiers": cashiers})
	case http.MethodPost:
		var req domain.CashierCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err)
			return
		}

		cashier, err := a.auth.CreateCashier(req)
		if err != nil {
			status := http.StatusBadRequest
			if strings.Contains(err.Error(), "already exists") {
				status = http.StatusConflict
			}
			writeError(w, r, status, err)
			return
		}

		writeJSON(w, http.StatusCreated, map[string]any{"cashier": cashier})
	default:
		writeMethodNotAllowed(w, r)
	}
}

// handleReconciliation surfaces inventory notifications that could not be
// delivered, for manual stock reconciliation.
func (a *API) handleReconciliation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r)
		return
	}

	failed := a.service.FailedInventoryNotifications()
	if failed == nil {
		failed = []inventory.FailedNotification{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"failed": failed})
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(startedAt))
	})
}

func validateSaleRequest(req domain.SaleCreateRequest) []subError {
	var subs []subError
	if len(req.Items) == 0 {
		subs = append(subs, subError{
			Object:        "SaleCreateRequest",
			Field:         "items",
			RejectedValue: req.Items,
			Message:       "at least one item is required",
		})
		return subs
	}
	for i, item := range req.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			subs = append(subs, subError{
				Object:        "SaleItemRequest",
				Field:         fmt.Sprintf("items[%d].product_id", i),
				RejectedValue: item.ProductID,
				Message:       "product id is required",
			})
		}
		if item.Quantity < 1 {
			subs = append(subs, subError{
				Object:        "SaleItemRequest",
				Field:         fmt.Sprintf("items[%d].quantity", i),
				RejectedValue: item.Quantity,
				Message:       "quantity must be at least 1",
			})
		}
	}
	return subs
}

// writeServiceError maps service and store failures onto HTTP statuses. The
// three inventory outcomes (product missing, remote unavailable, business
// out-of-stock) deliberately map to three different statuses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, inventory.ErrProductNotFound):
		writeError(w, r, http.StatusNotFound, err)
	case errors.Is(err, store.ErrConflict):
		writeError(w, r, http.StatusConflict, err)
	case errors.Is(err, store.ErrInvalid), errors.Is(err, campaign.ErrBadKey), errors.Is(err, campaign.ErrUnsupportedCategory):
		writeError(w, r, http.StatusBadRequest, err)
	case errors.Is(err, inventory.ErrUnavailable):
		writeError(w, r, http.StatusInternalServerError, err)
	case strings.Contains(strings.ToLower(err.Error()), "admin role required"):
		writeError(w, r, http.StatusForbidden, err)
	default:
		writeError(w, r, http.StatusInternalServerError, err)
	}
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveInt(raw string, fallback int) int {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil || parsed < 1 {
		return fallback
	}
	return parsed
}

func writeMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeValidationError(w http.ResponseWriter, r *http.Request, subs []subError) {
	writeJSON(w, http.StatusBadRequest, errorBody{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Status:    http.StatusBadRequest,
		Error:     http.StatusText(http.StatusBadRequest),
		Message:   "validation failed",
		Path:      r.URL.Path,
		SubErrors: subs,
	})
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	// 5xx messages are sanitized so internal details never reach the client.
	msg := err.Error()
	if status >= 500 {
		log.Printf("internal error (status %d): %v", status, err)
		msg = "internal server error"
	}
	writeJSON(w, status, errorBody{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Status:    status,
		Error:     http.StatusText(status),
		Message:   msg,
		Path:      r.URL.Path,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
