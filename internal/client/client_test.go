package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rsclarke/flowtriage/internal/api"
)

func TestAnalyzeSendsRequest(t *testing.T) {
	var got api.AnalyzeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/analyze" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if h := r.Header.Get("Authorization"); h != "Bearer secret-key" {
			t.Errorf("Authorization = %q", h)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(api.AnalyzeResponse{
			Success: true,
			Summary: api.Summary{RunID: "run-1", TotalFlows: 2},
			Predictions: []api.Prediction{
				{Label: "BENIGN", Confidence: 0.9},
				{Label: "DDoS", Confidence: 0.8},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "secret-key")
	resp, err := c.Analyze(context.Background(), api.AnalyzeRequest{Duration: 10, ConnectionType: "wifi"})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if got.Duration != 10 || got.ConnectionType != "wifi" {
		t.Errorf("server received %+v", got)
	}
	if !resp.Success || resp.Summary.RunID != "run-1" || len(resp.Predictions) != 2 {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestNoAuthorizationWithoutKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h := r.Header.Get("Authorization"); h != "" {
			t.Errorf("Authorization sent without key: %q", h)
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	if err := NewClient(srv.URL, "").Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestErrorResponseParsed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusGatewayTimeout)
		_ = json.NewEncoder(w).Encode(api.ErrorResponse{
			Error: "extraction timed out",
			Kind:  "ExtractionTimeout",
			Stage: "AWAITING_EXTRACTION",
		})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "").Analyze(context.Background(), api.AnalyzeRequest{Duration: 1, ConnectionType: "wifi"})
	var ce *Error
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if ce.Status != http.StatusGatewayTimeout || ce.Kind != "ExtractionTimeout" || ce.Stage != "AWAITING_EXTRACTION" {
		t.Errorf("unexpected error %+v", ce)
	}
}

func TestPlainErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "").Interfaces(context.Background())
	var ce *Error
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if ce.Status != http.StatusBadGateway || ce.Msg != "bad gateway" {
		t.Errorf("unexpected error %+v", ce)
	}
}

func TestHistoryQuery(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		start     time.Time
		end       time.Time
		wantQuery string
	}{
		{"open", time.Time{}, time.Time{}, ""},
		{"start only", start, time.Time{}, "start=2024-01-01T00%3A00%3A00Z"},
		{"both", start, end, "end=2024-01-02T00%3A00%3A00Z&start=2024-01-01T00%3A00%3A00Z"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.RawQuery != tt.wantQuery {
					t.Errorf("query = %q, want %q", r.URL.RawQuery, tt.wantQuery)
				}
				_ = json.NewEncoder(w).Encode(api.HistoryResponse{History: []api.HistoryEntry{{RunID: "r", Count: 3}}})
			}))
			defer srv.Close()

			resp, err := NewClient(srv.URL, "").History(context.Background(), tt.start, tt.end)
			if err != nil {
				t.Fatalf("History: %v", err)
			}
			if len(resp.History) != 1 || resp.History[0].Count != 3 {
				t.Errorf("unexpected history %+v", resp.History)
			}
		})
	}
}

func TestStatusUnavailableKeepsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(api.StatusResponse{Status: "error", Error: "connection refused"})
	}))
	defer srv.Close()

	st, err := NewClient(srv.URL, "").Status(context.Background())
	if err == nil {
		t.Fatal("expected error for 503")
	}
	if st == nil || st.Status != "error" || st.Error != "connection refused" {
		t.Errorf("unexpected status %+v", st)
	}
}

func TestRebuildArtifacts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/artifacts/rebuild" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(api.ArtifactsResponse{Origin: "synthesized", FeatureWidth: 78})
	}))
	defer srv.Close()

	resp, err := NewClient(srv.URL, "").RebuildArtifacts(context.Background())
	if err != nil {
		t.Fatalf("RebuildArtifacts: %v", err)
	}
	if resp.Origin != "synthesized" || resp.FeatureWidth != 78 {
		t.Errorf("unexpected response %+v", resp)
	}
}
