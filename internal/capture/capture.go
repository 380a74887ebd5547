// Package capture drives the external packet capture tool.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Runner runs external commands.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stderr []byte, err error)
	LookPath(file string) (string, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stderr.Bytes(), err
}

func (ExecRunner) LookPath(file string) (string, error) { return exec.LookPath(file) }

// ToolError reports a failed capture tool invocation.
type ToolError struct {
	Tool    string
	Reason  string
	Stderr  string
	Timeout bool
	Err     error
}

func (e *ToolError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Tool, e.Reason)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if e.Stderr != "" {
		fmt.Fprintf(&b, " (%s)", e.Stderr)
	}
	return b.String()
}

func (e *ToolError) Unwrap() error { return e.Err }

// Request describes one capture.
type Request struct {
	Interface  string
	Duration   time.Duration
	OutputPath string
}

// Result describes a finished capture.
type Result struct {
	Path string
	// Soft is set when the tool exited with an error but still left a
	// capture file behind.
	Soft  bool
	Stats *Stats
}

// Tshark captures with tshark's autostop duration condition.
type Tshark struct {
	Path   string
	Runner Runner
	FS     afero.Fs
	// Grace is added to the capture duration to form the process deadline.
	Grace  time.Duration
	Logger *zap.Logger
}

// Args returns the tshark arguments for req.
func (t *Tshark) Args(req Request) []string {
	secs := int(math.Ceil(req.Duration.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return []string{"-i", req.Interface, "-a", "duration:" + strconv.Itoa(secs), "-w", req.OutputPath}
}

// Available reports whether the tool can be found.
func (t *Tshark) Available() error {
	if _, err := t.Runner.LookPath(t.Path); err != nil {
		return &ToolError{Tool: t.Path, Reason: "not found", Err: err}
	}
	return nil
}

// Capture records traffic on req.Interface for req.Duration into
// req.OutputPath. A non-zero exit is tolerated when the capture file
// exists; exceeding the deadline never is.
func (t *Tshark) Capture(ctx context.Context, req Request) (*Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, req.Duration+t.Grace)
	defer cancel()

	t.Logger.Debug("starting capture",
		zap.String("interface", req.Interface),
		zap.Duration("duration", req.Duration),
		zap.String("path", req.OutputPath))

	stderr, runErr := t.Runner.Run(runCtx, t.Path, t.Args(req)...)
	msg := strings.TrimSpace(string(stderr))

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, &ToolError{Tool: t.Path, Reason: "timed out", Stderr: msg, Timeout: true, Err: runCtx.Err()}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	exists, err := afero.Exists(t.FS, req.OutputPath)
	if err != nil {
		return nil, &ToolError{Tool: t.Path, Reason: "check capture file", Err: err}
	}

	var execErr *exec.Error
	switch {
	case errors.As(runErr, &execErr):
		return nil, &ToolError{Tool: t.Path, Reason: "cannot start", Err: runErr}
	case runErr != nil && !exists:
		return nil, &ToolError{Tool: t.Path, Reason: "exited without capture file", Stderr: msg, Err: runErr}
	case runErr == nil && !exists:
		return nil, &ToolError{Tool: t.Path, Reason: "no capture file produced", Stderr: msg}
	}

	res := &Result{Path: req.OutputPath, Soft: runErr != nil}
	if res.Soft {
		t.Logger.Warn("capture tool exited with error but produced a file",
			zap.String("path", req.OutputPath),
			zap.String("stderr", msg),
			zap.Error(runErr))
	}

	stats, err := Inspect(t.FS, req.OutputPath)
	if err != nil {
		t.Logger.Warn("capture file not readable as pcap", zap.String("path", req.OutputPath), zap.Error(err))
	} else {
		res.Stats = stats
	}
	return res, nil
}
