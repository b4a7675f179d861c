package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"invenpos/backend/internal/domain"
	"invenpos/backend/internal/service"
	"invenpos/backend/internal/store"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	metrics       *Metrics
	registry      *prometheus.Registry
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string) *API {
	registry := prometheus.NewRegistry()
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		metrics:       NewMetrics(registry),
		registry:      registry,
	}
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("/api/v1/auth/logout", a.requireAuth(a.handleLogout))

	mux.HandleFunc("/api/v1/inventory", a.requireAuth(a.handleInventory))
	mux.HandleFunc("/api/v1/inventory/", a.requireAuth(a.handleInventoryActions))

	mux.HandleFunc("/api/v1/invoices", a.requireAuth(a.handleInvoices))
	mux.HandleFunc("/api/v1/invoices/", a.requireAuth(a.handleInvoiceActions))

	mux.HandleFunc("/api/v1/pos/sales", a.requireAuth(a.handleSales))
	mux.HandleFunc("/api/v1/pos/reports", a.requireAuth(a.handleSalesReport))
	mux.HandleFunc("/api/v1/pos/transactions", a.requireAuth(a.handleInventoryTransactions))

	mux.HandleFunc("/api/v1/analytics/enhanced", a.requireAuth(a.handleEnhancedAnalytics))

	mux.HandleFunc("/api/v1/notifications", a.requireAuth(a.handleNotifications))
	mux.HandleFunc("/api/v1/notifications/", a.requireAuth(a.handleNotificationActions))
	mux.HandleFunc("/api/v1/notifications/sweep", a.requireAuth(a.handleNotificationSweep, domain.RoleAdmin))

	mux.HandleFunc("/api/v1/admin/users", a.requireAuth(a.handleAdminUsers, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/admin/users/", a.requireAuth(a.handleAdminUserActions, domain.RoleAdmin))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.Authenticate(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
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
		writeMethodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req, clientKey(r))
	if err != nil {
		if errors.Is(err, errTooManyAttempts) {
			writeError(w, http.StatusTooManyRequests, err)
			return
		}
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	authorization := strings.TrimSpace(r.Header.Get("Authorization"))
	token := strings.TrimSpace(authorization[len("Bearer "):])
	if err := a.auth.Logout(r.Context(), token); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "logged out"})
}

// ---- inventory ----

func (a *API) handleInventory(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		items, err := a.service.ListItems(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	case http.MethodPost:
		var req domain.ItemCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		item, err := a.service.CreateItem(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"item": item})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleInventoryActions(w http.ResponseWriter, r *http.Request) {
	itemID, action, ok := splitResourcePath(r.URL.Path, "/api/v1/inventory/")
	if !ok {
		writeError(w, http.StatusBadRequest, errors.New("item id required"))
		return
	}

	switch action {
	case "":
		switch r.Method {
		case http.MethodGet:
			item, err := a.service.GetItem(r.Context(), itemID)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"item": item})
		case http.MethodPatch:
			var req domain.ItemUpdateRequest
			if err := decodeJSON(r, &req); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			item, err := a.service.UpdateItem(r.Context(), itemID, req)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"item": item})
		default:
			writeMethodNotAllowed(w)
		}
	case "restock":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		var req domain.RestockRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		record, err := a.service.Restock(r.Context(), itemID, req.Quantity)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"message": "restocked", "restock": record})
	case "restocks":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		records, err := a.service.ListRestocks(r.Context(), itemID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"restocks": records})
	default:
		writeError(w, http.StatusBadRequest, errors.New("unknown inventory action"))
	}
}

// ---- invoices ----

func (a *API) handleInvoices(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		includeDeleted := strings.EqualFold(r.URL.Query().Get("deleted"), "true")
		invoices, err := a.service.ListInvoices(r.Context(), includeDeleted)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"invoices": invoices})
	case http.MethodPost:
		var req domain.InvoiceCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		invoice, err := a.service.CreateInvoice(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"message":   "invoice created",
			"invoiceId": invoice.ID,
		})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleInvoiceActions(w http.ResponseWriter, r *http.Request) {
	invoiceID, action, ok := splitResourcePath(r.URL.Path, "/api/v1/invoices/")
	if !ok {
		writeError(w, http.StatusBadRequest, errors.New("invoice id required"))
		return
	}

	switch action {
	case "":
		switch r.Method {
		case http.MethodGet:
			detail, err := a.service.GetInvoice(r.Context(), invoiceID)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, detail)
		case http.MethodPatch:
			var req domain.InvoiceUpdateRequest
			if err := decodeJSON(r, &req); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			invoice, err := a.service.UpdateInvoice(r.Context(), invoiceID, req)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"invoice": invoice})
		default:
			writeMethodNotAllowed(w)
		}
	case "status":
		if r.Method != http.MethodPatch && r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		var req domain.InvoiceStatusRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if _, err := a.service.UpdateInvoiceStatus(r.Context(), invoiceID, req.Action); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"message": "invoice updated"})
	case "payments":
		switch r.Method {
		case http.MethodGet:
			payments, err := a.service.ListPayments(r.Context(), invoiceID)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"payments": payments})
		case http.MethodPost:
			var req domain.PaymentRequest
			if err := decodeJSON(r, &req); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			result, err := a.service.RecordPayment(r.Context(), invoiceID, req)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{
				"message":       "payment recorded",
				"paymentId":     result.Payment.ID,
				"invoiceStatus": result.InvoiceStatus,
			})
		default:
			writeMethodNotAllowed(w)
		}
	default:
		writeError(w, http.StatusBadRequest, errors.New("unknown invoice action"))
	}
}

// ---- point of sale ----

func (a *API) handleSales(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		query := r.URL.Query()
		from := parseQueryTime(query.Get("startDate"))
		to := parseQueryTime(query.Get("endDate"))
		if !to.IsZero() {
			to = to.AddDate(0, 0, 1)
		}
		page := parsePositiveInt(query.Get("page"), 1)
		limit := parsePositiveInt(query.Get("limit"), 20)

		resp, err := a.service.ListSales(r.Context(), from, to, page, limit)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	case http.MethodPost:
		var req domain.SaleRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		sale, err := a.service.ProcessSale(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"message": "sale completed",
			"salesId": sale.ID,
		})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleSalesReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	report, err := a.service.SalesReport(r.Context(), r.URL.Query().Get("startDate"), r.URL.Query().Get("endDate"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleInventoryTransactions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	limit := parsePositiveInt(r.URL.Query().Get("limit"), 100)
	transactions, err := a.service.ListInventoryTransactions(r.Context(), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": transactions})
}

// ---- analytics ----

func (a *API) handleEnhancedAnalytics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	report, err := a.service.EnhancedAnalytics(r.Context(), r.URL.Query().Get("period"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ---- notifications ----

func (a *API) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	notifications, err := a.service.ListNotifications(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": notifications})
}

func (a *API) handleNotificationActions(w http.ResponseWriter, r *http.Request) {
	notificationID, action, ok := splitResourcePath(r.URL.Path, "/api/v1/notifications/")
	if !ok || action != "read" {
		writeError(w, http.StatusBadRequest, errors.New("unknown notification action"))
		return
	}
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	notification, err := a.service.MarkNotificationRead(r.Context(), notificationID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notification": notification})
}

// handleNotificationSweep triggers both sweeps on demand; the scheduler runs
// the same service methods nightly.
func (a *API) handleNotificationSweep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	lowStock, err := a.service.RunLowStockSweep(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	expiring, err := a.service.RunSubscriptionSweep(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"lowStockCreated":     lowStock,
		"subscriptionCreated": expiring,
	})
}

// ---- admin ----

type userCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

func (a *API) handleAdminUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		users, err := a.service.ListUsers(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"users": users})
	case http.MethodPost:
		var req userCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if req.Role == "" {
			req.Role = domain.RoleUser
		}
		hash, err := HashPassword(req.Password)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		user, err := a.service.CreateUser(r.Context(), req.Username, hash, req.Role)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"user": user})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleAdminUserActions(w http.ResponseWriter, r *http.Request) {
	userID, action, ok := splitResourcePath(r.URL.Path, "/api/v1/admin/users/")
	if !ok {
		writeError(w, http.StatusBadRequest, errors.New("user id required"))
		return
	}

	switch action {
	case "active":
		if r.Method != http.MethodPatch && r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		var req domain.SetActiveRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		user, err := a.service.SetUserActive(r.Context(), userID, req.Active)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"user": user})
	case "subscription":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		var req domain.ExtendSubscriptionRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		user, err := a.service.ExtendSubscription(r.Context(), userID, req.Days)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"user": user})
	default:
		writeError(w, http.StatusBadRequest, errors.New("unknown user action"))
	}
}

// ---- plumbing ----

func (a *API) withMiddleware(next http.Handler) http.Handler {
	instrumented := a.metrics.instrument(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		instrumented.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(startedAt))
	})
}

// splitResourcePath extracts "{id}" and an optional "{id}/{action}" suffix
// from paths under the given prefix.
func splitResourcePath(path string, prefix string) (id string, action string, ok bool) {
	if !strings.HasPrefix(path, prefix) {
		return "", "", false
	}
	tail := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if tail == "" {
		return "", "", false
	}
	parts := strings.SplitN(tail, "/", 2)
	id = strings.TrimSpace(parts[0])
	if len(parts) == 2 {
		action = strings.TrimSpace(parts[1])
	}
	return id, action, id != ""
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

func parseQueryTime(raw string) time.Time {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}
	}
	if parsed, err := time.Parse("2006-01-02", trimmed); err == nil {
		return parsed.UTC()
	}
	if parsed, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return parsed.UTC()
	}
	return time.Time{}
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

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

// writeServiceError maps the service error taxonomy onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrValidation):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, store.ErrForbidden):
		writeError(w, http.StatusForbidden, err)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, store.ErrStorageUnavailable):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		// ErrTransactionFailed and anything unexpected.
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx responses return a generic message; the original error is logged,
	// not exposed.
	msg := err.Error()
	if status >= 500 {
		log.Printf("internal error (status %d): %v", status, err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
