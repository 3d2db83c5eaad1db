// Package ingest is a reference collector for flushed batches. It accepts
// batches over HTTP and WebSocket, stores them through storage.EntryRepo and
// serves them back for inspection.
package ingest

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Pharos-AI/utils/correlation"
	"github.com/Pharos-AI/utils/entry"
	"github.com/Pharos-AI/utils/logging"
	"github.com/Pharos-AI/utils/metrics"
	"github.com/Pharos-AI/utils/sink"
	"github.com/Pharos-AI/utils/storage"
	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/gzip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultMaxBodyBytes = 5 << 20

type Server struct {
	addr         string
	apiKey       string
	maxBodyBytes int64

	repo     storage.EntryRepo
	scrubber *storage.Scrubber
	limiter  *RateLimiter
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	logger   logging.Logger
	upgrader websocket.Upgrader

	httpServer    *http.Server
	listener      net.Listener
	readyCallback func()
}

type ServerConfig struct {
	Addr         string
	APIKey       string
	MaxBodyBytes int64
	Repo         storage.EntryRepo
	// Scrubber is optional; when set every record is scrubbed before it is
	// stored.
	Scrubber       *storage.Scrubber
	RequestsPerMin int
	MaxConns       int
	Metrics        *metrics.Metrics
	// Gatherer backs /metrics. The route is not registered when nil.
	Gatherer prometheus.Gatherer
	Logger   logging.Logger
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Repo == nil {
		return nil, fmt.Errorf("ingest server: repo is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.NopLogger{}
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.New(prometheus.NewRegistry())
	}

	return &Server{
		addr:         cfg.Addr,
		apiKey:       cfg.APIKey,
		maxBodyBytes: maxBody,
		repo:         cfg.Repo,
		scrubber:     cfg.Scrubber,
		limiter:      NewRateLimiter(cfg.RequestsPerMin, cfg.MaxConns),
		metrics:      m,
		gatherer:     cfg.Gatherer,
		logger:       logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}, nil
}

func (s *Server) SetReadyCallback(fn func()) {
	s.readyCallback = fn
}

func (s *Server) buildMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/entries", s.handleEntries)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// Handler is the full route set with transaction tagging, for embedding
// the collector in another server.
func (s *Server) Handler() http.Handler {
	return s.withTransaction(s.buildMux())
}

func (s *Server) testHandler() http.Handler {
	return s.Handler()
}

func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("server listen: %w", err)
	}
	s.listener = ln

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	requestsPerMin, maxConns := s.limiter.GetLimits()
	s.logger.WithFields(logging.Fields{
		"addr":             ln.Addr().String(),
		"requests_per_min": requestsPerMin,
		"max_conns":        maxConns,
	}).Info("ingest", "start", "Ingest server started")
	if s.readyCallback != nil {
		s.readyCallback()
	}

	go s.sweepLimiter(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info("ingest", "stop", "Ingest server shutting down")
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("server serve: %w", err)
	}
}

func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) sweepLimiter(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.limiter.Sweep()
		}
	}
}

// withTransaction tags each request with the caller's transaction id, or a
// fresh one, and logs it.
func (s *Server) withTransaction(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		txID := r.Header.Get(correlation.HeaderTransactionID)
		if txID == "" {
			txID = correlation.New()
		}
		ctx := correlation.WithTransactionID(r.Context(), txID)

		s.logger.WithTransactionID(txID).
			WithFields(logging.Fields{"method": r.Method, "path": r.URL.Path}).
			Debug("ingest", "api", "Request received")

		w.Header().Set(correlation.HeaderTransactionID, txID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleIngest(w, r)
	case http.MethodGet:
		s.handleList(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeJSONError(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if ok, retryAfter := s.limiter.AllowRequest(clientKey(r)); !ok {
		WriteRateLimitExceeded(w, retryAfter)
		return
	}

	records, err := s.readBatch(w, r)
	if err != nil {
		s.metrics.ObserveIngest(metrics.TransportHTTP, 0, err)
		s.logger.WithTransactionID(correlation.FromContext(r.Context())).WithError(err).
			Warn("ingest", "store", "Batch rejected")
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	n, err := s.store(r.Context(), metrics.TransportHTTP, records)
	if err != nil {
		writeJSONError(w, "store batch failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sink.Ack{Accepted: n})
}

func (s *Server) readBatch(w http.ResponseWriter, r *http.Request) ([]entry.Record, error) {
	body, err := s.readBody(w, r)
	if err != nil {
		return nil, err
	}
	return decodeBatch(body)
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	var reader io.Reader = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	if strings.EqualFold(r.Header.Get("Content-Encoding"), "gzip") {
		zr, err := gzip.NewReader(reader)
		if err != nil {
			return nil, fmt.Errorf("invalid gzip body: %w", err)
		}
		defer zr.Close()
		reader = io.LimitReader(zr, s.maxBodyBytes+1)
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > s.maxBodyBytes {
		return nil, fmt.Errorf("body exceeds %d bytes", s.maxBodyBytes)
	}
	return body, nil
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := storage.ListOptions{
		TransactionID: q.Get("transaction_id"),
	}
	if c := q.Get("category"); c != "" {
		category, ok := entry.ParseCategory(c)
		if !ok {
			writeJSONError(w, fmt.Sprintf("unknown category %q", c), http.StatusBadRequest)
			return
		}
		opts.Category = category
	}
	if l := q.Get("limit"); l != "" {
		limit, err := strconv.Atoi(l)
		if err != nil || limit < 0 {
			writeJSONError(w, "invalid limit", http.StatusBadRequest)
			return
		}
		opts.Limit = limit
	}

	records, err := s.repo.List(opts)
	if err != nil {
		s.logger.WithTransactionID(correlation.FromContext(r.Context())).WithError(err).
			Error("ingest", "list", "List entries failed")
		writeJSONError(w, "list entries failed", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []*entry.Record{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(records)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeJSONError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	client := clientKey(r)
	if !s.limiter.AcquireConnection(client) {
		WriteConnectionLimitExceeded(w)
		return
	}
	defer s.limiter.ReleaseConnection(client)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("ingest", "websocket", "Upgrade failed")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(s.maxBodyBytes)

	s.metrics.ConnectionOpened()
	defer s.metrics.ConnectionClosed()

	ctx := r.Context()
	log := s.logger.WithTransactionID(correlation.FromContext(ctx)).WithFields(logging.Fields{"client": client})
	log.Info("ingest", "websocket", "Collector connection opened")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.WithError(err).Warn("ingest", "websocket", "Connection closed unexpectedly")
			}
			log.Info("ingest", "websocket", "Collector connection closed")
			return
		}

		if err := conn.WriteJSON(s.ingestMessage(ctx, client, data)); err != nil {
			log.WithError(err).Warn("ingest", "websocket", "Write ack failed")
			return
		}
	}
}

func (s *Server) ingestMessage(ctx context.Context, client string, data []byte) sink.Ack {
	if ok, _ := s.limiter.AllowRequest(client); !ok {
		return sink.Ack{Error: "rate limit exceeded"}
	}
	records, err := decodeBatch(data)
	if err != nil {
		s.metrics.ObserveIngest(metrics.TransportWebSocket, 0, err)
		return sink.Ack{Error: err.Error()}
	}
	n, err := s.store(ctx, metrics.TransportWebSocket, records)
	if err != nil {
		return sink.Ack{Error: "store batch failed"}
	}
	return sink.Ack{Accepted: n}
}

// store fills a missing transaction id from the request, scrubs and saves
// the batch.
func (s *Server) store(ctx context.Context, transport metrics.Transport, records []entry.Record) (int, error) {
	txID := correlation.FromContext(ctx)
	for i := range records {
		if records[i].TransactionID == "" {
			records[i].TransactionID = txID
		}
	}
	if s.scrubber != nil {
		records = s.scrubber.ScrubRecords(records)
	}

	start := time.Now()
	err := s.repo.SaveBatch(ctx, records)
	s.metrics.ObserveIngest(transport, len(records), err)

	log := s.logger.WithTransactionID(txID).WithFields(logging.Fields{
		"transport":   string(transport),
		"entries":     len(records),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	if err != nil {
		log.WithError(err).Error("ingest", "store", "Store batch failed")
		return 0, err
	}
	log.Info("ingest", "store", "Batch stored")
	return len(records), nil
}

func decodeBatch(data []byte) ([]entry.Record, error) {
	var records []entry.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("invalid batch: %w", err)
	}
	for i, r := range records {
		if _, ok := entry.ParseCategory(string(r.Category)); !ok {
			return nil, fmt.Errorf("invalid batch: record %d has unknown category %q", i, r.Category)
		}
		if r.Level != "" {
			if _, ok := entry.ParseLevel(string(r.Level)); !ok {
				return nil, fmt.Errorf("invalid batch: record %d has unknown level %q", i, r.Level)
			}
		}
	}
	return records, nil
}

func (s *Server) authorized(r *http.Request) bool {
	if s.apiKey == "" {
		return true
	}
	got := r.Header.Get("Authorization")
	want := "Bearer " + s.apiKey
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
