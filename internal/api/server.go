// Package api provides the HTTP and WebSocket server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/atlas-desktop/forecasting-studio/internal/backtester"
	"github.com/atlas-desktop/forecasting-studio/internal/data"
	"github.com/atlas-desktop/forecasting-studio/internal/strategy"
	"github.com/atlas-desktop/forecasting-studio/pkg/types"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// ServerDeps are the collaborators the server routes requests to.
type ServerDeps struct {
	Store    *data.Store
	Engine   *backtester.Engine
	Analyzer *backtester.WalkForwardAnalyzer
	// Hub receives walk-forward progress. Optional.
	Hub *Hub
	// Gatherer backs /metrics. Optional.
	Gatherer prometheus.Gatherer
	// WalkForward supplies window sizes omitted by a request.
	WalkForward types.WalkForwardConfig
}

// Server is the HTTP/WebSocket API server
type Server struct {
	logger     *zap.Logger
	config     *types.ServerConfig
	router     *mux.Router
	httpServer *http.Server
	deps       ServerDeps
	page       string
}

// BacktestRequest is the body of POST /backtest.
type BacktestRequest struct {
	CSVPath      string       `json:"csv_path"`
	StrategyName string       `json:"strategy_name"`
	Params       types.Params `json:"params"`
}

// WalkForwardRequest is the body of POST /walkforward. Window sizes fall
// back to the configured defaults when omitted.
type WalkForwardRequest struct {
	CSVPath       string           `json:"csv_path"`
	StrategyName  string           `json:"strategy_name"`
	ParamSpace    types.ParamSpace `json:"param_space"`
	InSampleDays  *int             `json:"insample_days"`
	OutSampleDays *int             `json:"outsample_days"`
}

// UploadResponse is returned by POST /upload.
type UploadResponse struct {
	Columns []string            `json:"columns"`
	Rows    int                 `json:"rows"`
	Head    []map[string]any    `json:"head"`
	SavedTo string              `json:"saved_to"`
	Quality *data.QualityReport `json:"quality"`
}

// NewServer creates a new API server
func NewServer(logger *zap.Logger, config *types.ServerConfig, deps ServerDeps) *Server {
	wsPath := config.WebSocketPath
	if wsPath == "" {
		wsPath = "/ws"
	}

	server := &Server{
		logger: logger,
		config: config,
		router: mux.NewRouter(),
		deps:   deps,
		page:   strings.ReplaceAll(indexHTML, "{{WS_PATH}}", wsPath),
	}

	server.setupRoutes(wsPath)
	return server
}

// setupRoutes configures HTTP routes
func (s *Server) setupRoutes(wsPath string) {
	s.router.HandleFunc("/", s.handleIndex).Methods("GET")
	s.router.HandleFunc("/upload", s.handleUpload).Methods("POST")
	s.router.HandleFunc("/backtest", s.handleBacktest).Methods("POST")
	s.router.HandleFunc("/walkforward", s.handleWalkForward).Methods("POST")

	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/api/v1/strategies", s.handleStrategies).Methods("GET")

	if s.config.EnableMetrics && s.deps.Gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}
	if s.deps.Hub != nil {
		s.router.HandleFunc(wsPath, s.deps.Hub.ServeWS)
	}
}

// Router returns the bare router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Handler returns the router wrapped in the CORS middleware.
func (s *Server) Handler() http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)
}

// Start starts the HTTP server. It returns http.ErrServerClosed after Stop.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting API server", zap.String("addr", addr))

	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	io.WriteString(w, s.page)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

func (s *Server) handleStrategies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"strategies": s.deps.Engine.Registry().Describe(),
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.config.MaxUploadSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadSize)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing form field 'file'")
		return
	}
	defer file.Close()

	if !strings.EqualFold(filepath.Ext(header.Filename), ".csv") {
		writeError(w, http.StatusBadRequest, "Please upload a CSV file")
		return
	}

	content, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	path, table, err := s.deps.Store.SaveUpload(content)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	s.logger.Info("CSV uploaded",
		zap.String("filename", header.Filename),
		zap.Int("rows", len(table.Series)),
		zap.String("savedTo", path))

	head := table.Head
	if head == nil {
		head = []map[string]any{}
	}

	writeJSON(w, http.StatusOK, UploadResponse{
		Columns: table.Columns,
		Rows:    len(head),
		Head:    head,
		SavedTo: path,
		Quality: s.deps.Store.Validate(table.Series),
	})
}

func (s *Server) handleBacktest(w http.ResponseWriter, r *http.Request) {
	var req BacktestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	series, err := s.deps.Store.LoadSeries(r.Context(), req.CSVPath)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.deps.Engine.Run(r.Context(), series, req.StrategyName, req.Params)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	result.ID = uuid.New().String()

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleWalkForward(w http.ResponseWriter, r *http.Request) {
	var req WalkForwardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	series, err := s.deps.Store.LoadSeries(r.Context(), req.CSVPath)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	wfReq := backtester.WalkForwardRequest{
		RunID:         uuid.New().String(),
		Series:        series,
		StrategyName:  req.StrategyName,
		ParamSpace:    req.ParamSpace,
		InSampleDays:  s.deps.WalkForward.InSampleDays,
		OutSampleDays: s.deps.WalkForward.OutSampleDays,
	}
	if req.InSampleDays != nil {
		wfReq.InSampleDays = *req.InSampleDays
	}
	if req.OutSampleDays != nil {
		wfReq.OutSampleDays = *req.OutSampleDays
	}
	if s.deps.Hub != nil {
		wfReq.OnProgress = s.deps.Hub.PublishWindow
	}

	result, err := s.deps.Analyzer.Run(r.Context(), wfReq)
	if result != nil && s.deps.Hub != nil {
		s.deps.Hub.PublishComplete(result)
	}
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// statusFor maps domain errors to 400 and everything else to 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, strategy.ErrUnknownStrategy),
		errors.Is(err, strategy.ErrInvalidParameters),
		errors.Is(err, backtester.ErrMalformedSeries),
		errors.Is(err, backtester.ErrEmptyParameterSpace),
		errors.Is(err, backtester.ErrInvalidWindow),
		errors.Is(err, data.ErrUnsupportedFormat),
		errors.Is(err, data.ErrMissingColumn),
		errors.Is(err, data.ErrInvalidRow),
		errors.Is(err, fs.ErrNotExist):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
