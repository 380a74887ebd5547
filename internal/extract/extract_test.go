package extract

import (
	"context"
	"errors"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

func TestOutputPath(t *testing.T) {
	tests := []struct {
		pcap, want string
	}{
		{"/work/capture.pcap", "capture_Flow.csv"},
		{"/work/run 1.v2.pcap", "run_1_v2_Flow.csv"},
		{"/work/trace.pcapng", "trace_pcapng_Flow.csv"},
		{"capture-3f2a.pcap", "capture-3f2a_Flow.csv"},
	}
	for _, tt := range tests {
		got := OutputPath(tt.pcap, "/out")
		if got != filepath.Join("/out", tt.want) {
			t.Errorf("OutputPath(%q) = %q, want /out/%s", tt.pcap, got, tt.want)
		}
	}
}

type scriptedRunner struct {
	err    error
	stderr string
	block  bool
	args   []string
}

func (r *scriptedRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	r.args = args
	if r.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return []byte(r.stderr), r.err
}

func TestExtractPassesArguments(t *testing.T) {
	r := &scriptedRunner{}
	c := &CICFlowMeter{Path: "cfm", Args: []string{"--quiet"}, Runner: r, Logger: zap.NewNop()}
	if err := c.Extract(context.Background(), "/w/c.pcap", "/w/out"); err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	want := []string{"--quiet", "/w/c.pcap", "/w/out"}
	if len(r.args) != len(want) {
		t.Fatalf("args = %v, want %v", r.args, want)
	}
	for i := range want {
		if r.args[i] != want[i] {
			t.Errorf("args[%d] = %q, want %q", i, r.args[i], want[i])
		}
	}
}

func TestExtractFailures(t *testing.T) {
	tests := []struct {
		name        string
		runner      *scriptedRunner
		wantTimeout bool
	}{
		{"non-zero exit", &scriptedRunner{err: errors.New("exit status 1"), stderr: "jnetpcap missing"}, false},
		{"missing binary", &scriptedRunner{err: &exec.Error{Name: "cfm", Err: exec.ErrNotFound}}, false},
		{"timeout", &scriptedRunner{block: true}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &CICFlowMeter{Path: "cfm", Runner: tt.runner, Timeout: 20 * time.Millisecond, Logger: zap.NewNop()}
			err := c.Extract(context.Background(), "/w/c.pcap", "/w")
			var terr *ToolError
			if !errors.As(err, &terr) {
				t.Fatalf("expected ToolError, got %v", err)
			}
			if terr.Timeout != tt.wantTimeout {
				t.Errorf("Timeout = %v, want %v", terr.Timeout, tt.wantTimeout)
			}
		})
	}
}

type countingSleeper struct {
	calls int
	total time.Duration
	// onCall runs after each sleep with the call number.
	onCall func(n int)
}

func (s *countingSleeper) sleep(_ context.Context, d time.Duration) error {
	s.calls++
	s.total += d
	if s.onCall != nil {
		s.onCall(s.calls)
	}
	return nil
}

func TestPollerExhaustsBudget(t *testing.T) {
	s := &countingSleeper{}
	p := &Poller{FS: afero.NewMemMapFs(), Attempts: 10, Interval: 2 * time.Second, Sleep: s.sleep}

	err := p.Wait(context.Background(), "/w/missing_Flow.csv")
	if !errors.Is(err, ErrNotProduced) {
		t.Fatalf("expected ErrNotProduced, got %v", err)
	}
	if s.calls != 10 {
		t.Errorf("slept %d times, want 10", s.calls)
	}
	if s.total != 20*time.Second {
		t.Errorf("waited %v, want 20s", s.total)
	}
}

func TestPollerSeesLateFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := &countingSleeper{onCall: func(n int) {
		if n == 3 {
			_ = afero.WriteFile(fs, "/w/c_Flow.csv", []byte("x"), 0o644)
		}
	}}
	p := &Poller{FS: fs, Attempts: 10, Interval: 2 * time.Second, Sleep: s.sleep}

	if err := p.Wait(context.Background(), "/w/c_Flow.csv"); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if s.calls != 3 {
		t.Errorf("slept %d times, want 3", s.calls)
	}
}

func TestPollerImmediateHit(t *testing.T) {
	fs := afero.NewMemMapFs()
	_ = afero.WriteFile(fs, "/w/c_Flow.csv", []byte("x"), 0o644)
	s := &countingSleeper{}
	p := &Poller{FS: fs, Attempts: 10, Interval: time.Second, Sleep: s.sleep}

	if err := p.Wait(context.Background(), "/w/c_Flow.csv"); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if s.calls != 0 {
		t.Errorf("slept %d times for an existing file", s.calls)
	}
}

func TestPollerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &Poller{FS: afero.NewMemMapFs(), Attempts: 10, Interval: time.Hour}

	if err := p.Wait(ctx, "/w/never"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
