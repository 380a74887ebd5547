package server

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestRunLimitsWriteTimeout(t *testing.T) {
	tests := []struct {
		name   string
		limits RunLimits
		want   time.Duration
	}{
		{
			name: "tools and polling",
			limits: RunLimits{
				MaxCapture:   5 * time.Minute,
				CaptureGrace: 15 * time.Second,
				Extraction:   5 * time.Minute,
				PollAttempts: 10,
				PollInterval: 2 * time.Second,
			},
			want: 10*time.Minute + 35*time.Second + responseSlack,
		},
		{
			name: "run timeout caps budget",
			limits: RunLimits{
				MaxCapture: 5 * time.Minute,
				Extraction: 5 * time.Minute,
				RunTimeout: 2 * time.Minute,
			},
			want: 2*time.Minute + responseSlack,
		},
		{
			name: "run timeout above budget",
			limits: RunLimits{
				MaxCapture: time.Minute,
				RunTimeout: time.Hour,
			},
			want: time.Minute + responseSlack,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.limits.WriteTimeout(); got != tt.want {
				t.Errorf("WriteTimeout() = %v, want %v", got, tt.want)
			}
		})
	}

	cfg := DefaultServerConfig(":0", http.NotFoundHandler(), tests[0].limits, zap.NewNop())
	if cfg.WriteTimeout != tests[0].want {
		t.Errorf("DefaultServerConfig write timeout = %v", cfg.WriteTimeout)
	}
}

func newDrainServer() (*APIServer, *fakeAnalyzer) {
	an := &fakeAnalyzer{block: make(chan struct{}), started: make(chan struct{})}
	srv := NewAPIServer(2, zap.NewNop())
	srv.Analyzer = an
	return srv, an
}

func TestDrainWaitsForRunningAnalysis(t *testing.T) {
	srv, an := newDrainServer()
	h := srv.Handler()

	code := make(chan int)
	go func() {
		code <- postJSON(t, h, "/api/analyze", `{"duration": 5, "connection_type": "wifi"}`).Code
	}()
	<-an.started

	drained := make(chan error)
	go func() { drained <- srv.Drain(context.Background()) }()

	select {
	case err := <-drained:
		t.Fatalf("Drain returned %v with a run in flight", err)
	case <-time.After(50 * time.Millisecond):
	}

	if w := postJSON(t, h, "/api/analyze", `{"duration": 5, "connection_type": "wifi"}`); w.Code != http.StatusServiceUnavailable {
		t.Errorf("run during drain status = %d, want 503", w.Code)
	}

	close(an.block)
	if c := <-code; c != http.StatusOK {
		t.Errorf("in-flight run status = %d, want 200", c)
	}
	if err := <-drained; err != nil {
		t.Errorf("Drain() = %v", err)
	}
	if len(an.reqs) != 1 {
		t.Errorf("analyzer ran %d times, want 1", len(an.reqs))
	}
}

func TestDrainCancelsRunsAtDeadline(t *testing.T) {
	srv, an := newDrainServer()
	h := srv.Handler()

	code := make(chan int)
	go func() {
		code <- postJSON(t, h, "/api/analyze", `{"duration": 5, "connection_type": "wifi"}`).Code
	}()
	<-an.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := srv.Drain(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Drain() = %v, want deadline exceeded", err)
	}
	if c := <-code; c != http.StatusInternalServerError {
		t.Errorf("cancelled run status = %d, want 500", c)
	}
	if n := srv.tracker.running(); n != 0 {
		t.Errorf("%d runs still tracked", n)
	}
}

type recordingDrainer struct{ calls int }

func (d *recordingDrainer) Drain(ctx context.Context) error {
	d.calls++
	return nil
}

func TestManagedServerShutdownDrains(t *testing.T) {
	d := &recordingDrainer{}
	cfg := DefaultServerConfig("127.0.0.1:0", http.NotFoundHandler(), RunLimits{MaxCapture: time.Second}, zap.NewNop())
	cfg.Drainer = d

	m := NewManagedServer("test", cfg)
	m.Start()
	if err := m.WaitForStartup(50 * time.Millisecond); err != nil {
		t.Fatalf("WaitForStartup: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	m.Shutdown(ctx)

	if d.calls != 1 {
		t.Errorf("Drain called %d times, want 1", d.calls)
	}
	if err, ok := <-m.Errors(); ok || err != nil {
		t.Errorf("server stopped with %v", err)
	}
}
