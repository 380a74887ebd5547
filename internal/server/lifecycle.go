package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// responseSlack covers normalization, inference, persistence and writing
// the analyze response once the tools have finished.
const responseSlack = time.Minute

// RunLimits are the configured bounds on a single analysis run.
type RunLimits struct {
	MaxCapture   time.Duration
	CaptureGrace time.Duration
	Extraction   time.Duration
	PollAttempts int
	PollInterval time.Duration
	// RunTimeout caps the whole run when positive.
	RunTimeout time.Duration
}

// Budget is the longest an analysis run can take before its response
// is written.
func (l RunLimits) Budget() time.Duration {
	b := l.MaxCapture + l.CaptureGrace + l.Extraction + time.Duration(l.PollAttempts)*l.PollInterval
	if l.RunTimeout > 0 && l.RunTimeout < b {
		b = l.RunTimeout
	}
	return b
}

// WriteTimeout is the smallest write timeout that lets the slowest
// permitted run answer.
func (l RunLimits) WriteTimeout() time.Duration {
	return l.Budget() + responseSlack
}

// Drainer finishes in-flight work before the listener closes.
type Drainer interface {
	Drain(ctx context.Context) error
}

type ServerConfig struct {
	Addr              string
	Handler           http.Handler
	Logger            *zap.Logger
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	// Drainer, when set, runs at the start of Shutdown.
	Drainer Drainer
}

// DefaultServerConfig sizes the write timeout for the given run limits.
func DefaultServerConfig(addr string, handler http.Handler, limits RunLimits, logger *zap.Logger) ServerConfig {
	return ServerConfig{
		Addr:              addr,
		Handler:           handler,
		Logger:            logger,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      limits.WriteTimeout(),
	}
}

// ManagedServer runs the API listener in the background. Shutdown drains
// analysis runs before the listener stops.
type ManagedServer struct {
	server   *http.Server
	drainer  Drainer
	logger   *zap.Logger
	name     string
	errCh    chan error
	startErr error
}

func NewManagedServer(name string, cfg ServerConfig) *ManagedServer {
	errLog, _ := zap.NewStdLogAt(cfg.Logger, zapcore.ErrorLevel)

	return &ManagedServer{
		server: &http.Server{
			Addr:              cfg.Addr,
			Handler:           cfg.Handler,
			ErrorLog:          errLog,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			ReadTimeout:       cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
		},
		drainer: cfg.Drainer,
		logger:  cfg.Logger,
		name:    name,
		errCh:   make(chan error, 1),
	}
}

func (m *ManagedServer) Start() {
	m.logger.Info("starting server",
		zap.String("server", m.name),
		zap.String("addr", m.server.Addr),
		zap.Duration("write_timeout", m.server.WriteTimeout))
	go func() {
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.errCh <- err
		}
		close(m.errCh)
	}()
}

// WaitForStartup returns the listen error if the server fails within
// timeout, and nil otherwise.
func (m *ManagedServer) WaitForStartup(timeout time.Duration) error {
	select {
	case err := <-m.errCh:
		if err != nil {
			m.startErr = err
			return fmt.Errorf("%s failed to start: %w", m.name, err)
		}
		return nil
	case <-time.After(timeout):
		return nil
	}
}

// Errors is closed when the server stops and carries any serve error.
func (m *ManagedServer) Errors() <-chan error { return m.errCh }

// Shutdown drains in-flight runs, then stops the listener. Runs still
// active when ctx expires are cancelled, which stops their tools and
// removes their files. Connections left open after that are closed.
func (m *ManagedServer) Shutdown(ctx context.Context) {
	if m.startErr != nil {
		return
	}
	if m.drainer != nil {
		if err := m.drainer.Drain(ctx); err != nil {
			m.logger.Warn("analysis runs cancelled at shutdown", zap.String("server", m.name), zap.Error(err))
		}
	}
	if err := m.server.Shutdown(ctx); err != nil {
		m.logger.Warn("shutdown error", zap.String("server", m.name), zap.Error(err))
		_ = m.server.Close()
	}
}

// runTracker admits analysis runs until draining starts and can cancel
// the ones still running.
type runTracker struct {
	mu       sync.Mutex
	draining bool
	inFlight int
	active   sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

func newRunTracker() *runTracker {
	ctx, cancel := context.WithCancel(context.Background())
	return &runTracker{ctx: ctx, cancel: cancel}
}

// begin registers a run. The returned context is cancelled with parent
// or when the tracker gives up draining. ok is false once draining.
func (t *runTracker) begin(parent context.Context) (ctx context.Context, done func(), ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.draining {
		return nil, nil, false
	}
	t.active.Add(1)
	t.inFlight++

	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(t.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
		t.mu.Lock()
		t.inFlight--
		t.mu.Unlock()
		t.active.Done()
	}, true
}

func (t *runTracker) running() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inFlight
}

// drain stops admitting runs and waits for active ones. When ctx ends
// first the remaining runs are cancelled and awaited, and ctx's error is
// returned.
func (t *runTracker) drain(ctx context.Context) error {
	t.mu.Lock()
	t.draining = true
	t.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		t.active.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		t.cancel()
		<-finished
		return ctx.Err()
	}
}
