// Package extract runs the flow extractor and waits for its output.
package extract

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Runner runs external commands.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stderr []byte, err error)
}

// ToolError reports a failed extractor invocation.
type ToolError struct {
	Tool    string
	Reason  string
	Stderr  string
	Timeout bool
	Err     error
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Tool, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Stderr != "" {
		msg += " (" + e.Stderr + ")"
	}
	return msg
}

func (e *ToolError) Unwrap() error { return e.Err }

// ErrNotProduced is returned when the output file never appeared.
var ErrNotProduced = errors.New("extractor output not produced")

var unsafeName = regexp.MustCompile(`[.\s/\\]`)

// OutputPath returns where the extractor writes flows for pcapPath: the
// capture's base name without its .pcap suffix, with dots, whitespace
// and slashes replaced by underscores, plus "_Flow.csv", inside outDir.
func OutputPath(pcapPath, outDir string) string {
	base := filepath.Base(pcapPath)
	base = strings.TrimSuffix(base, ".pcap")
	base = unsafeName.ReplaceAllString(base, "_")
	return filepath.Join(outDir, base+"_Flow.csv")
}

// CICFlowMeter invokes a CICFlowMeter-compatible command as
// "<Path> <Args...> <pcap> <outDir>".
type CICFlowMeter struct {
	Path    string
	Args    []string
	Runner  Runner
	Timeout time.Duration
	Logger  *zap.Logger
}

// Extract runs the extractor on pcapPath. The output may appear after
// the process exits; use Wait to observe it.
func (c *CICFlowMeter) Extract(ctx context.Context, pcapPath, outDir string) error {
	runCtx := ctx
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	args := append(append([]string(nil), c.Args...), pcapPath, outDir)
	c.Logger.Debug("starting extractor", zap.String("tool", c.Path), zap.Strings("args", args))

	stderr, err := c.Runner.Run(runCtx, c.Path, args...)
	msg := strings.TrimSpace(string(stderr))

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return &ToolError{Tool: c.Path, Reason: "timed out", Stderr: msg, Timeout: true, Err: runCtx.Err()}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return &ToolError{Tool: c.Path, Reason: "cannot start", Err: err}
		}
		return &ToolError{Tool: c.Path, Reason: "failed", Stderr: msg, Err: err}
	}
	return nil
}

// Poller waits for a file to appear with a fixed number of fixed-interval
// checks.
type Poller struct {
	FS       afero.Fs
	Attempts int
	Interval time.Duration
	// Sleep waits for d or until ctx is done. Defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Wait checks for path once, then up to Attempts more times, sleeping
// Interval before each check. It returns ErrNotProduced when the budget
// runs out.
func (p *Poller) Wait(ctx context.Context, path string) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	for attempt := 0; ; attempt++ {
		ok, err := afero.Exists(p.FS, path)
		if err != nil {
			return fmt.Errorf("check %s: %w", path, err)
		}
		if ok {
			return nil
		}
		if attempt >= p.Attempts {
			return fmt.Errorf("%w: %s after %d checks", ErrNotProduced, path, attempt+1)
		}
		if err := sleep(ctx, p.Interval); err != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
