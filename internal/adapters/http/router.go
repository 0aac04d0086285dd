package httpadapter

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/EvertonViniciusav/Invoice-signature-system/internal/config"
	"github.com/EvertonViniciusav/Invoice-signature-system/internal/core/ports"
	"github.com/EvertonViniciusav/Invoice-signature-system/internal/observability/metrics"
)

const (
	serviceName      = "api"
	maxInFlight      = 64
	backpressureWait = 250 * time.Millisecond
	maxBodyBytes     = 1 << 20
)

type Router struct {
	invoices ports.InvoiceService
	users    ports.UserService
	tokens   ports.TokenVerifier

	rateLimitRPS   int
	rateLimitBurst int
	allowedOrigins []string

	logger  *slog.Logger
	metrics *metrics.HTTPServerMetrics
}

type RouterOption func(*Router)

func WithLogger(logger *slog.Logger) RouterOption {
	return func(rt *Router) {
		if logger != nil {
			rt.logger = logger
		}
	}
}

func WithMetrics(m *metrics.HTTPServerMetrics) RouterOption {
	return func(rt *Router) {
		rt.metrics = m
	}
}

func NewRouter(
	cfg config.Config,
	invoices ports.InvoiceService,
	users ports.UserService,
	tokens ports.TokenVerifier,
	opts ...RouterOption,
) *Router {
	rt := &Router{
		invoices:       invoices,
		users:          users,
		tokens:         tokens,
		rateLimitRPS:   cfg.APIRateLimitRPS,
		rateLimitBurst: cfg.APIRateLimitBurst,
		allowedOrigins: cfg.AllowedOrigins(),
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", rt.home)
	mux.HandleFunc("GET /healthz", rt.healthz)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}

	mux.HandleFunc("POST /v1/users", rt.registerUser)
	mux.HandleFunc("POST /v1/login", rt.login)
	mux.HandleFunc("GET /v1/users", requireAuth(rt.tokens, rt.listUsers))

	mux.HandleFunc("GET /v1/invoices", requireAuth(rt.tokens, rt.listInvoices))
	mux.HandleFunc("POST /v1/invoices", requireAuth(rt.tokens, rt.createInvoice))
	mux.HandleFunc("GET /v1/invoices/export.xlsx", requireAuth(rt.tokens, rt.exportInvoices))
	mux.HandleFunc("GET /v1/invoices/{id}", requireAuth(rt.tokens, rt.getInvoice))
	mux.HandleFunc("PATCH /v1/invoices/{id}/status", requireAuth(rt.tokens, rt.updateInvoiceStatus))
	mux.HandleFunc("GET /v1/dashboard", requireAuth(rt.tokens, rt.dashboard))

	var handler http.Handler = mux
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = backpressureMiddleware(handler, maxInFlight, backpressureWait)
	handler = rateLimitMiddleware(rt.rateLimitRPS, rt.rateLimitBurst, rt.recordRateLimited, handler)
	handler = corsMiddleware(rt.allowedOrigins, handler)
	handler = accessLogMiddleware(rt.logger, handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) home(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "invoice API is running"})
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) recordRateLimited() {
	if rt.metrics != nil {
		rt.metrics.RecordRateLimited(serviceName)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
