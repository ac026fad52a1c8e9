// Package server exposes the anxun service over an HTTP JSON API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/Zerofisher/anxun/agent"
	"github.com/Zerofisher/anxun/internal/app"
	"github.com/Zerofisher/anxun/internal/logging"
	"github.com/Zerofisher/anxun/pkg/model"
)

// Backend is the service surface the API serves. *app.Service implements it.
type Backend interface {
	ProcessPcapFile(ctx context.Context, path string, opts app.ProcessOptions) (*model.FileAnalysis, error)
	CaptureTraffic(ctx context.Context, req model.CaptureRequest) ([]model.CapturedPacketSummary, error)
	Interfaces(ctx context.Context) []model.Interface
	History(limit int) ([]model.HistoryEntry, error)
	Chat(ctx context.Context, message string, opts app.ChatOptions) (string, error)
	ChatStream(ctx context.Context, message string, opts app.ChatOptions) (<-chan agent.ChatChunk, context.CancelFunc, error)
	ChatHistory(sessionID string) []model.ChatTurn
	ClearChat(sessionID string)
	Status(ctx context.Context) app.SystemStatus
}

var _ Backend = (*app.Service)(nil)

// Server holds the dependencies for API handlers.
type Server struct {
	backend   Backend
	logger    logging.Logger
	router    *mux.Router
	maxUpload int64
	tempDir   string
	slow      time.Duration
	verySlow  time.Duration
	now       func() time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Server) { s.logger = logging.OrNop(l) }
}

// WithMaxUpload bounds the size of uploaded capture files in bytes.
func WithMaxUpload(n int64) Option {
	return func(s *Server) { s.maxUpload = n }
}

// WithTempDir sets where uploads are staged. Empty means os.TempDir.
func WithTempDir(dir string) Option {
	return func(s *Server) { s.tempDir = dir }
}

// WithSlowThresholds sets the durations above which a request is logged as
// slow (info) and very slow (warning).
func WithSlowThresholds(slow, verySlow time.Duration) Option {
	return func(s *Server) { s.slow, s.verySlow = slow, verySlow }
}

// New creates a Server and registers its routes.
func New(backend Backend, opts ...Option) *Server {
	s := &Server{
		backend:   backend,
		logger:    logging.Nop(),
		maxUpload: 100 << 20,
		slow:      time.Second,
		verySlow:  2 * time.Second,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := mux.NewRouter()
	r.Use(s.requestID, s.cors, s.timing)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/chat", s.handleChat).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/chat/stream", s.handleChatStream).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/analyze_pcap", s.handleAnalyzePcap).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/capture_traffic", s.handleCaptureTraffic).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/get_network_interfaces", s.handleInterfaces).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/get_analysis_history", s.handleAnalysisHistory).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/get_chat_history", s.handleChatHistory).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/clear_chat_history", s.handleClearChat).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/system_status", s.handleSystemStatus).Methods(http.MethodGet, http.MethodOptions)

	s.router = r
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.LogWarn("server forced to shutdown", map[string]string{"error": err.Error()})
		}
	}()

	s.logger.LogInfo("API server starting", map[string]string{"addr": addr})
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.LogInfo("API server exited", nil)
	return nil
}

// ────────────────────────────────────────────────────────────────────────────────
// Response helpers
// ────────────────────────────────────────────────────────────────────────────────

func (s *Server) timestamp() string {
	return s.now().Format(time.RFC3339)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

// statusFor maps validation errors to 400 and everything else to 500.
func statusFor(err error) int {
	if errors.Is(err, model.ErrInvalidInput) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// decodeBody reads an optional JSON body into v. An empty body leaves v
// unchanged.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return model.Invalidf("请求体不是有效的JSON: %v", err)
	}
	return nil
}
