package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"PayLedger/internal/observability"
	"PayLedger/internal/query"
)

// Queries is the read surface the HTTP API depends on. Satisfied by
// *query.Service; narrowed to an interface so handler tests can stub it.
type Queries interface {
	GetAccount(ctx context.Context, client uint16) (*query.AccountResponse, error)
	ListAccounts(ctx context.Context, limit int, afterClient *uint16) ([]query.AccountResponse, error)
	GetTransaction(ctx context.Context, tx uint32) (*query.TransactionResponse, error)
	ListTransactions(ctx context.Context, client uint16, limit int, beforeSequence *int64) ([]query.TransactionResponse, error)
	ListRejections(ctx context.Context, client *uint16, limit int) ([]query.RejectionResponse, error)
	VerifyIntegrity(ctx context.Context) (*query.IntegrityReport, error)
}

var _ Queries = (*query.Service)(nil)

// HTTPServer serves the read-only query API plus health probes.
type HTTPServer struct {
	router  *mux.Router
	server  *http.Server
	queries Queries
	logger  zerolog.Logger
	metrics *observability.Metrics
}

const defaultPageLimit = 100

func NewHTTPServer(addr string, queries Queries, health *observability.HealthChecker, logger zerolog.Logger, metrics *observability.Metrics) *HTTPServer {
	s := &HTTPServer{
		queries: queries,
		logger:  logger,
		metrics: metrics,
	}

	router := mux.NewRouter()
	router.Use(s.loggingMiddleware)

	router.HandleFunc("/v1/accounts", s.listAccounts).Methods("GET")
	router.HandleFunc("/v1/accounts/{client}", s.getAccount).Methods("GET")
	router.HandleFunc("/v1/accounts/{client}/transactions", s.listTransactions).Methods("GET")
	router.HandleFunc("/v1/transactions/{tx}", s.getTransaction).Methods("GET")
	router.HandleFunc("/v1/rejections", s.listRejections).Methods("GET")
	router.HandleFunc("/v1/integrity", s.verifyIntegrity).Methods("GET")

	router.HandleFunc("/healthz", health.LivenessHandler).Methods("GET")
	router.HandleFunc("/readyz", health.ReadinessHandler).Methods("GET")

	s.router = router
	s.server = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Router exposes the mux for handler tests.
func (s *HTTPServer) Router() *mux.Router {
	return s.router
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *HTTPServer) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutCtx)
	}()

	s.logger.Info().Str("addr", s.server.Addr).Msg("http server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// --- handlers ---

func (s *HTTPServer) getAccount(w http.ResponseWriter, r *http.Request) {
	client, ok := parseClient(w, mux.Vars(r)["client"])
	if !ok {
		return
	}

	account, err := s.queries.GetAccount(r.Context(), client)
	if err != nil {
		s.queryError(w, err, "account not found")
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (s *HTTPServer) listAccounts(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r)

	var afterClient *uint16
	if v := r.URL.Query().Get("after"); v != "" {
		c64, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_cursor", "after must be a client id")
			return
		}
		c := uint16(c64)
		afterClient = &c
	}

	accounts, err := s.queries.ListAccounts(r.Context(), limit, afterClient)
	if err != nil {
		s.queryError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

func (s *HTTPServer) getTransaction(w http.ResponseWriter, r *http.Request) {
	tx64, err := strconv.ParseUint(mux.Vars(r)["tx"], 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_tx", "tx must be an unsigned 32-bit integer")
		return
	}

	txn, err := s.queries.GetTransaction(r.Context(), uint32(tx64))
	if err != nil {
		s.queryError(w, err, "transaction not found")
		return
	}
	writeJSON(w, http.StatusOK, txn)
}

func (s *HTTPServer) listTransactions(w http.ResponseWriter, r *http.Request) {
	client, ok := parseClient(w, mux.Vars(r)["client"])
	if !ok {
		return
	}
	limit := parseLimit(r)

	var beforeSeq *int64
	if v := r.URL.Query().Get("before"); v != "" {
		seq, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_cursor", "before must be a sequence number")
			return
		}
		beforeSeq = &seq
	}

	transactions, err := s.queries.ListTransactions(r.Context(), client, limit, beforeSeq)
	if err != nil {
		s.queryError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, transactions)
}

func (s *HTTPServer) listRejections(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r)

	var client *uint16
	if v := r.URL.Query().Get("client"); v != "" {
		c64, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_client", "client must be an unsigned 16-bit integer")
			return
		}
		c := uint16(c64)
		client = &c
	}

	rejections, err := s.queries.ListRejections(r.Context(), client, limit)
	if err != nil {
		s.queryError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, rejections)
}

func (s *HTTPServer) verifyIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := s.queries.VerifyIntegrity(r.Context())
	if err != nil {
		s.queryError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// --- helpers ---

type response struct {
	Data  interface{} `json:"data,omitempty"`
	Error *apiError   `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(response{Data: data})
}

func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(response{Error: &apiError{Code: code, Message: message}})
}

func (s *HTTPServer) queryError(w http.ResponseWriter, err error, notFoundMsg string) {
	if errors.Is(err, query.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", notFoundMsg)
		return
	}
	s.logger.Error().Err(err).Msg("query failed")
	writeError(w, http.StatusInternalServerError, "internal_error", "an unexpected error occurred")
}

func parseClient(w http.ResponseWriter, raw string) (uint16, bool) {
	c64, err := strconv.ParseUint(raw, 10, 16)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_client", "client must be an unsigned 16-bit integer")
		return 0, false
	}
	return uint16(c64), true
}

func parseLimit(r *http.Request) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultPageLimit
	}
	limit, err := strconv.Atoi(v)
	if err != nil || limit <= 0 || limit > 1000 {
		return defaultPageLimit
	}
	return limit
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(ww, r)

		elapsed := time.Since(start)

		if s.metrics != nil {
			endpoint := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if tmpl, err := route.GetPathTemplate(); err == nil {
					endpoint = tmpl
				}
			}
			status := strconv.Itoa(ww.statusCode)
			s.metrics.QueryRequests.WithLabelValues(endpoint, status).Inc()
			s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
			if ww.statusCode >= http.StatusBadRequest {
				s.metrics.QueryErrors.WithLabelValues(endpoint, status).Inc()
			}
		}

		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.statusCode).
			Dur("duration", elapsed).
			Msg("request completed")
	})
}

type statusWriter struct {
	http.ResponseWriter
	statusCode int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.statusCode = code
	sw.ResponseWriter.WriteHeader(code)
}
