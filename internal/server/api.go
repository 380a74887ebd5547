// Package server exposes the analysis pipeline over HTTP.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/rsclarke/flowtriage/internal/api"
	"github.com/rsclarke/flowtriage/internal/auth"
	"github.com/rsclarke/flowtriage/internal/capture"
	"github.com/rsclarke/flowtriage/internal/db"
	"github.com/rsclarke/flowtriage/internal/logging"
	"github.com/rsclarke/flowtriage/internal/model"
	"github.com/rsclarke/flowtriage/internal/pipeline"
)

type Analyzer interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

type HistoryStore interface {
	History(ctx context.Context, r db.Range) ([]db.HistoryEntry, error)
	Status(ctx context.Context) (*db.Status, error)
}

type ArtifactProvider interface {
	Current() (*model.Artifacts, error)
	Rebuild(ctx context.Context) (*model.Artifacts, error)
	Options() model.Options
}

// APIServer handles the REST API for analysis runs, history and
// artifacts.
type APIServer struct {
	Analyzer  Analyzer
	History   HistoryStore // nil when history is disabled
	Artifacts ArtifactProvider
	Lister    capture.Lister
	Keys      *auth.Keyring
	Metrics   http.Handler
	Logger    *zap.Logger

	runs    *semaphore.Weighted
	tracker *runTracker
}

// NewAPIServer creates an APIServer admitting at most maxRuns concurrent
// analysis runs.
func NewAPIServer(maxRuns int64, logger *zap.Logger) *APIServer {
	if maxRuns < 1 {
		maxRuns = 1
	}
	return &APIServer{Logger: logger, runs: semaphore.NewWeighted(maxRuns), tracker: newRunTracker()}
}

// Drain rejects new analysis runs with 503 and waits for running ones.
// Runs still going when ctx ends are cancelled.
func (s *APIServer) Drain(ctx context.Context) error {
	if n := s.tracker.running(); n > 0 {
		s.Logger.Info("waiting for analysis runs", zap.Int("runs", n))
	}
	return s.tracker.drain(ctx)
}

// AuthMiddleware requires a valid API key when keys are configured.
func (s *APIServer) AuthMiddleware(next http.Handler) http.Handler {
	if !s.Keys.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || !s.Keys.Verify(key) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Handler returns the HTTP handler for the API server.
func (s *APIServer) Handler() http.Handler {
	protected := http.NewServeMux()
	protected.HandleFunc("POST /api/analyze", s.handleAnalyze)
	protected.HandleFunc("GET /api/history", s.handleHistory)
	protected.HandleFunc("GET /api/status", s.handleStatus)
	protected.HandleFunc("GET /api/interfaces", s.handleInterfaces)
	protected.HandleFunc("GET /api/artifacts", s.handleArtifacts)
	protected.HandleFunc("POST /api/artifacts/rebuild", s.handleRebuild)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/ping", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.Metrics != nil {
		mux.Handle("GET /metrics", s.Metrics)
	}
	mux.Handle("/", s.AuthMiddleware(protected))
	return s.logRequests(mux)
}

func (s *APIServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.Logger.Debug("request",
			logging.Method(r.Method),
			logging.Path(r.URL.Path),
			logging.Addr(r.RemoteAddr),
			zap.Duration("elapsed", time.Since(start)))
	})
}

func (s *APIServer) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req api.AnalyzeRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if dec.Decode(&struct{}{}) != io.EOF {
		writeError(w, http.StatusBadRequest, "unexpected trailing data")
		return
	}

	if !s.runs.TryAcquire(1) {
		writeError(w, http.StatusTooManyRequests, "analysis already in progress")
		return
	}
	defer s.runs.Release(1)

	ctx, done, ok := s.tracker.begin(r.Context())
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}
	defer done()

	res, err := s.Analyzer.Run(ctx, pipeline.Request{
		Duration:       time.Duration(req.Duration) * time.Second,
		ConnectionType: req.ConnectionType,
		Interface:      req.Interface,
	})
	if err != nil {
		s.writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AnalyzeDTO(res))
}

// AnalyzeDTO converts a pipeline result into its wire form.
func AnalyzeDTO(res *pipeline.Result) api.AnalyzeResponse {
	resp := api.AnalyzeResponse{
		Success:     true,
		Predictions: make([]api.Prediction, len(res.Predictions)),
		FullData:    res.FullData(),
		Summary:     summaryDTO(res.Summary),
	}
	for i, p := range res.Predictions {
		resp.Predictions[i] = api.Prediction{
			Label:         p.Label,
			Class:         p.Class,
			Confidence:    p.Confidence,
			Probabilities: p.Probabilities,
		}
	}
	for _, st := range res.States {
		resp.States = append(resp.States, string(st))
	}
	for _, w := range res.Warnings {
		resp.Warnings = append(resp.Warnings, w.Error())
	}
	return resp
}

func summaryDTO(s pipeline.Summary) api.Summary {
	out := api.Summary{
		RunID:          s.RunID,
		TotalFlows:     s.TotalFlows,
		Duration:       s.Duration,
		ConnectionType: s.ConnectionType,
		Interface:      s.Interface,
		ColumnsCount:   s.ColumnsCount,
		LabelCounts:    s.LabelCounts,
		Packets:        s.Packets,
		CaptureBytes:   s.CaptureBytes,
		ImputedCells:   s.Imputed,
		Persisted:      s.Persisted,
	}
	if !s.StartedAt.IsZero() {
		out.StartedAt = s.StartedAt.UTC().Format(time.RFC3339)
	}
	if !s.FinishedAt.IsZero() {
		out.FinishedAt = s.FinishedAt.UTC().Format(time.RFC3339)
	}
	return out
}

func (s *APIServer) writeRunError(w http.ResponseWriter, err error) {
	if errors.Is(err, pipeline.ErrInvalidRequest) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var pe *pipeline.Error
	if !errors.As(err, &pe) {
		s.Logger.Error("unexpected run error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	status := http.StatusInternalServerError
	switch pe.Kind {
	case pipeline.KindToolTimeout, pipeline.KindExtractionTimeout:
		status = http.StatusGatewayTimeout
	case pipeline.KindArtifactFatal:
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, api.ErrorResponse{
		Error: err.Error(),
		Kind:  string(pe.Kind),
		Stage: string(pe.Stage),
	})
}

// ParseTime accepts RFC3339 or unix seconds. Empty means unset.
func ParseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Unix(secs, 0), nil
	}
	return time.Parse(time.RFC3339, v)
}

func (s *APIServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.History == nil {
		writeError(w, http.StatusServiceUnavailable, "history store disabled")
		return
	}

	start, err := ParseTime(r.URL.Query().Get("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid start time")
		return
	}
	end, err := ParseTime(r.URL.Query().Get("end"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid end time")
		return
	}

	entries, err := s.History.History(r.Context(), db.Range{Start: start, End: end})
	if err != nil {
		s.Logger.Error("history query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}

	writeJSON(w, http.StatusOK, HistoryDTO(entries))
}

func HistoryDTO(entries []db.HistoryEntry) api.HistoryResponse {
	resp := api.HistoryResponse{History: make([]api.HistoryEntry, 0, len(entries))}
	for _, e := range entries {
		resp.History = append(resp.History, api.HistoryEntry{
			RunID:          e.RunID,
			Timestamp:      e.CreatedAt.UTC().Format(time.RFC3339),
			ConnectionType: e.ConnectionType,
			Duration:       e.Duration,
			Prediction:     e.Prediction,
			Count:          e.Count,
		})
	}
	return resp
}

func (s *APIServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.History == nil {
		writeJSON(w, http.StatusOK, api.StatusResponse{Status: "disabled", RecentRecords: []api.RecentRecord{}})
		return
	}

	st, err := s.History.Status(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, api.StatusResponse{
			Status:        "error",
			Error:         err.Error(),
			RecentRecords: []api.RecentRecord{},
		})
		return
	}

	writeJSON(w, http.StatusOK, StatusDTO(st))
}

func StatusDTO(st *db.Status) api.StatusResponse {
	resp := api.StatusResponse{
		Status:        "connected",
		Database:      string(st.Dialect),
		TotalRecords:  st.TotalRecords,
		Distribution:  st.Distribution,
		RecentRecords: make([]api.RecentRecord, 0, len(st.Recent)),
	}
	for _, rec := range st.Recent {
		resp.RecentRecords = append(resp.RecentRecords, api.RecentRecord{
			RunID:          rec.RunID,
			Timestamp:      rec.CreatedAt.UTC().Format(time.RFC3339),
			ConnectionType: rec.ConnectionType,
			Duration:       rec.Duration,
			Prediction:     rec.Prediction,
			Confidence:     rec.Confidence,
		})
	}
	return resp
}

func (s *APIServer) handleInterfaces(w http.ResponseWriter, r *http.Request) {
	if s.Lister == nil {
		writeError(w, http.StatusNotImplemented, "interface listing unavailable")
		return
	}
	ifaces, err := s.Lister.Interfaces()
	if err != nil {
		s.Logger.Error("list interfaces failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list interfaces")
		return
	}
	writeJSON(w, http.StatusOK, InterfacesDTO(ifaces))
}

func InterfacesDTO(ifaces []capture.Interface) api.InterfacesResponse {
	resp := api.InterfacesResponse{Interfaces: make([]api.Interface, 0, len(ifaces))}
	for _, i := range ifaces {
		resp.Interfaces = append(resp.Interfaces, api.Interface{
			Name:         i.Name,
			Up:           i.Up,
			MTU:          i.MTU,
			HardwareAddr: i.HardwareAddr,
			Addrs:        i.Addrs,
		})
	}
	return resp
}

func (s *APIServer) handleArtifacts(w http.ResponseWriter, r *http.Request) {
	a, err := s.Artifacts.Current()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ArtifactsDTO(a, s.Artifacts.Options()))
}

func (s *APIServer) handleRebuild(w http.ResponseWriter, r *http.Request) {
	a, err := s.Artifacts.Rebuild(r.Context())
	if err != nil {
		s.Logger.Error("artifact rebuild failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "artifact rebuild failed")
		return
	}
	s.Logger.Info("artifacts rebuilt", zap.String("origin", string(a.Origin)))
	writeJSON(w, http.StatusOK, ArtifactsDTO(a, s.Artifacts.Options()))
}

// ArtifactsDTO describes a trio for API and CLI output.
func ArtifactsDTO(a *model.Artifacts, opts model.Options) api.ArtifactsResponse {
	resp := api.ArtifactsResponse{
		Origin:       string(a.Origin),
		FeatureWidth: opts.FeatureWidth,
		Categorical:  opts.Categorical,
		Labels:       opts.Labels,
	}
	roles := []struct {
		role string
		in   int
		out  int
	}{
		{model.RoleScaler, a.Scaler.InputWidth(), a.Scaler.OutputWidth()},
		{model.RoleReducer, a.Reducer.InputWidth(), a.Reducer.OutputWidth()},
		{model.RoleClassifier, a.Classifier.InputWidth(), a.Classifier.Classes()},
	}
	for _, r := range roles {
		e := api.ArtifactEntry{Role: r.role, InputWidth: r.in, OutputWidth: r.out}
		if a.Manifest != nil {
			if m, ok := a.Manifest.Entries[r.role]; ok {
				e.File = m.File
				e.Digest = m.Digest
			}
		}
		resp.Artifacts = append(resp.Artifacts, e)
	}
	if a.Manifest != nil && !a.Manifest.CreatedAt.IsZero() {
		resp.CreatedAt = a.Manifest.CreatedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, api.ErrorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(data); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}
