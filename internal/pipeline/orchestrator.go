// Package pipeline runs capture windows through extraction, normalization,
// imputation, inference and persistence.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/rsclarke/flowtriage/internal/capture"
	"github.com/rsclarke/flowtriage/internal/db"
	"github.com/rsclarke/flowtriage/internal/extract"
	"github.com/rsclarke/flowtriage/internal/flow"
	"github.com/rsclarke/flowtriage/internal/impute"
	"github.com/rsclarke/flowtriage/internal/inference"
	"github.com/rsclarke/flowtriage/internal/logging"
	"github.com/rsclarke/flowtriage/internal/metrics"
	"github.com/rsclarke/flowtriage/internal/model"
	"github.com/rsclarke/flowtriage/internal/schema"
)

type Capturer interface {
	Capture(ctx context.Context, req capture.Request) (*capture.Result, error)
}

type Extractor interface {
	Extract(ctx context.Context, pcapPath, outDir string) error
}

// Waiter blocks until the extractor output exists or the poll budget is
// spent.
type Waiter interface {
	Wait(ctx context.Context, path string) error
}

type ArtifactSource interface {
	Get(ctx context.Context) (*model.Artifacts, error)
}

type Store interface {
	SaveRun(ctx context.Context, run *db.Run) error
}

// Notifier is told about every successful run after persistence. Errors
// are logged and never fail the run.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, s *Summary) error
}

// Config holds orchestrator settings.
type Config struct {
	WorkDir          string
	KeepFiles        bool
	DefaultInterface string
	Interfaces       map[string]string
	MaxDuration      time.Duration
	RunTimeout       time.Duration
}

// Deps are the collaborators of an Orchestrator. Capturer, Extractor and
// Waiter are only needed by Run; Store, Lister, Metrics and Notifiers are
// optional.
type Deps struct {
	Capturer  Capturer
	Extractor Extractor
	Waiter    Waiter
	Artifacts ArtifactSource
	Engine    *inference.Engine
	Store     Store
	Lister    capture.Lister
	Notifiers []Notifier
	FS        afero.Fs
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
}

// Request asks for one capture window to be classified.
type Request struct {
	Duration       time.Duration
	ConnectionType string
	// Interface overrides the interface mapped from ConnectionType.
	Interface string
}

// ClassifyRequest describes an offline classification of an existing
// extractor file.
type ClassifyRequest struct {
	ConnectionType string
	Persist        bool
}

// Summary describes a finished run.
type Summary struct {
	RunID          string         `json:"run_id"`
	TotalFlows     int            `json:"total_flows"`
	Duration       int            `json:"duration"`
	ConnectionType string         `json:"connection_type"`
	Interface      string         `json:"interface,omitempty"`
	ColumnsCount   int            `json:"columns_count"`
	LabelCounts    map[string]int `json:"label_counts"`
	Packets        int            `json:"packets,omitempty"`
	CaptureBytes   int64          `json:"capture_bytes,omitempty"`
	Imputed        int            `json:"imputed_cells"`
	Persisted      bool           `json:"persisted"`
	StartedAt      time.Time      `json:"started_at"`
	FinishedAt     time.Time      `json:"finished_at"`
}

// Result is the payload of a successful run.
type Result struct {
	Predictions []inference.Prediction
	Flows       *flow.Table
	Summary     Summary
	States      []State
	Warnings    []*Error
}

// FullData returns every flow as a row keyed by canonical name, with the
// predicted label and confidence appended.
func (r *Result) FullData() []map[string]any {
	rows := make([]map[string]any, len(r.Predictions))
	for i, p := range r.Predictions {
		row := r.Flows.Row(i)
		row["Prediction"] = p.Label
		row["Confidence"] = p.Confidence
		rows[i] = row
	}
	return rows
}

// Orchestrator sequences the stages of a run. It holds no per-run state
// and is safe for concurrent use.
type Orchestrator struct {
	deps  Deps
	cfg   Config
	newID func() string
	now   func() time.Time
}

// New creates an Orchestrator.
func New(deps Deps, cfg Config) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.FS == nil {
		deps.FS = afero.NewOsFs()
	}
	return &Orchestrator{
		deps:  deps,
		cfg:   cfg,
		newID: uuid.NewString,
		now:   time.Now,
	}
}

func (o *Orchestrator) validate(req Request) error {
	if req.Duration <= 0 {
		return fmt.Errorf("%w: duration must be positive", ErrInvalidRequest)
	}
	if o.cfg.MaxDuration > 0 && req.Duration > o.cfg.MaxDuration {
		return fmt.Errorf("%w: duration %s exceeds maximum %s", ErrInvalidRequest, req.Duration, o.cfg.MaxDuration)
	}
	if req.ConnectionType == "" {
		return fmt.Errorf("%w: connection_type is required", ErrInvalidRequest)
	}
	return nil
}

// Run captures traffic for req.Duration and classifies the resulting
// flows. It returns either a complete Result or a single *Error naming
// the failed stage.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	if err := o.validate(req); err != nil {
		return nil, err
	}
	if o.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.RunTimeout)
		defer cancel()
	}

	runID := o.newID()
	logger := o.deps.Logger.With(logging.RunID(runID), logging.ConnectionType(req.ConnectionType))
	t := newTracker(runID, o.now, logger, o.deps.Metrics)
	started := o.now()
	o.deps.Metrics.RunStarted()
	defer o.deps.Metrics.RunEnded()

	res, err := o.run(ctx, t, logger, runID, req)
	o.finish(logger, t, err)
	if err != nil {
		return nil, err
	}
	res.Summary.StartedAt = started
	res.Summary.FinishedAt = o.now()
	res.States = t.states()
	return res, nil
}

func (o *Orchestrator) run(ctx context.Context, t *tracker, logger *zap.Logger, runID string, req Request) (*Result, error) {
	// Artifacts are resolved before capturing so an unusable model fails
	// fast instead of after the capture window.
	artifacts, err := o.deps.Artifacts.Get(ctx)
	if err != nil {
		logger.Error("artifacts unavailable", zap.Error(err))
		return nil, t.fail(KindArtifactFatal, err)
	}

	dir := filepath.Join(o.cfg.WorkDir, runID)
	if err := o.deps.FS.MkdirAll(dir, 0o755); err != nil {
		return nil, t.fail(KindCaptureFailure, fmt.Errorf("create work dir: %w", err))
	}
	pcapPath := filepath.Join(dir, "capture_"+runID+".pcap")
	csvPath := extract.OutputPath(pcapPath, dir)
	cleaned := o.cfg.KeepFiles
	defer func() {
		if !cleaned {
			o.cleanup(logger, dir, pcapPath, csvPath)
		}
	}()

	iface := capture.ResolveInterface(req.Interface, req.ConnectionType, o.cfg.Interfaces, o.cfg.DefaultInterface)
	logger = logger.With(logging.Interface(iface))

	t.enter(StateCapturing)
	if o.deps.Lister != nil {
		if err := capture.Validate(o.deps.Lister, iface); err != nil {
			return nil, t.fail(KindCaptureFailure, err)
		}
	}
	captured, err := o.deps.Capturer.Capture(ctx, capture.Request{
		Interface:  iface,
		Duration:   req.Duration,
		OutputPath: pcapPath,
	})
	if err != nil {
		var te *capture.ToolError
		if errors.As(err, &te) && te.Timeout {
			return nil, t.fail(KindToolTimeout, err)
		}
		return nil, t.fail(KindCaptureFailure, err)
	}

	t.enter(StateAwaitingExtraction)
	if err := o.deps.Extractor.Extract(ctx, captured.Path, dir); err != nil {
		var te *extract.ToolError
		if errors.As(err, &te) && te.Timeout {
			return nil, t.fail(KindToolTimeout, err)
		}
		return nil, t.fail(KindExtractionToolFailure, err)
	}
	if err := o.deps.Waiter.Wait(ctx, csvPath); err != nil {
		if errors.Is(err, extract.ErrNotProduced) {
			return nil, t.fail(KindExtractionTimeout, err)
		}
		return nil, t.fail(KindExtractionToolFailure, err)
	}

	base := Summary{
		RunID:          runID,
		Duration:       int(req.Duration / time.Second),
		ConnectionType: req.ConnectionType,
		Interface:      iface,
	}
	if captured.Stats != nil {
		base.Packets = captured.Stats.Packets
		base.CaptureBytes = captured.Stats.Bytes
	}

	f, err := o.deps.FS.Open(csvPath)
	if err != nil {
		t.enter(StateNormalizing)
		return nil, t.fail(KindNormalizationError, err)
	}
	res, err := o.classify(ctx, t, logger, artifacts, f, base, true)
	_ = f.Close()
	if err != nil {
		return nil, err
	}

	if !o.cfg.KeepFiles {
		t.enter(StateCleanup)
		o.cleanup(logger, dir, pcapPath, csvPath)
		cleaned = true
	}
	t.enter(StateDone)
	o.notify(ctx, logger, &res.Summary)
	return res, nil
}

// Classify runs normalization, imputation and inference on an existing
// extractor file. With req.Persist the flows are stored as a run.
func (o *Orchestrator) Classify(ctx context.Context, r io.Reader, req ClassifyRequest) (*Result, error) {
	runID := o.newID()
	logger := o.deps.Logger.With(logging.RunID(runID), logging.ConnectionType(req.ConnectionType))
	t := newTracker(runID, o.now, logger, o.deps.Metrics)
	started := o.now()

	artifacts, err := o.deps.Artifacts.Get(ctx)
	if err != nil {
		logger.Error("artifacts unavailable", zap.Error(err))
		err = t.fail(KindArtifactFatal, err)
		o.finish(logger, t, err)
		return nil, err
	}

	base := Summary{RunID: runID, ConnectionType: req.ConnectionType}
	res, err := o.classify(ctx, t, logger, artifacts, r, base, req.Persist)
	if err == nil {
		t.enter(StateDone)
	}
	o.finish(logger, t, err)
	if err != nil {
		return nil, err
	}
	res.Summary.StartedAt = started
	res.Summary.FinishedAt = o.now()
	res.States = t.states()
	if req.Persist {
		o.notify(ctx, logger, &res.Summary)
	}
	return res, nil
}

// classify covers NORMALIZING through PERSISTING.
func (o *Orchestrator) classify(ctx context.Context, t *tracker, logger *zap.Logger, artifacts *model.Artifacts,
	r io.Reader, base Summary, persist bool) (*Result, error) {
	t.enter(StateNormalizing)
	table, err := schema.Read(r)
	if err != nil {
		return nil, t.fail(KindNormalizationError, err)
	}
	logger.Info("flows normalized", logging.Rows(table.Len()))

	t.enter(StateImputing)
	table, report := impute.Impute(table)
	if n := report.Total(); n > 0 {
		logger.Debug("imputed missing values", zap.Int("cells", n))
	}

	t.enter(StateInferring)
	preds, err := o.deps.Engine.Predict(ctx, artifacts, table)
	if err != nil {
		return nil, t.fail(KindInferenceError, err)
	}
	counts := inference.Counts(preds)
	o.deps.Metrics.FlowsClassified(counts)

	base.TotalFlows = len(preds)
	base.ColumnsCount = table.Width() + 1
	base.LabelCounts = counts
	base.Imputed = report.Total()
	res := &Result{Predictions: preds, Flows: table, Summary: base}

	if persist && o.deps.Store != nil {
		t.enter(StatePersisting)
		if w := o.persist(ctx, logger, res); w != nil {
			res.Warnings = append(res.Warnings, w)
		} else {
			res.Summary.Persisted = true
		}
	}
	return res, nil
}

func (o *Orchestrator) persist(ctx context.Context, logger *zap.Logger, res *Result) *Error {
	run := &db.Run{
		ID:             res.Summary.RunID,
		CreatedAt:      o.now(),
		ConnectionType: res.Summary.ConnectionType,
		Duration:       res.Summary.Duration,
		Flows:          res.Flows,
		Predictions:    make([]db.Prediction, len(res.Predictions)),
	}
	for i, p := range res.Predictions {
		run.Predictions[i] = db.Prediction{Label: p.Label, Confidence: p.Confidence}
	}
	if err := o.deps.Store.SaveRun(ctx, run); err != nil {
		o.deps.Metrics.PersistenceFailed()
		logger.Warn("persisting flows failed, returning results anyway",
			zap.String("kind", string(KindPersistenceWarning)),
			zap.Error(err))
		return &Error{Kind: KindPersistenceWarning, Stage: StatePersisting, Err: err}
	}
	return nil
}

func (o *Orchestrator) notify(ctx context.Context, logger *zap.Logger, s *Summary) {
	for _, n := range o.deps.Notifiers {
		if err := n.Notify(ctx, s); err != nil {
			logger.Warn("notifier error", zap.String("notifier", n.Name()), zap.Error(err))
		}
	}
}

func (o *Orchestrator) cleanup(logger *zap.Logger, dir string, paths ...string) {
	var err error
	for _, p := range paths {
		if rmErr := o.deps.FS.Remove(p); rmErr != nil && !errors.Is(rmErr, iofs.ErrNotExist) {
			err = multierr.Append(err, rmErr)
		}
	}
	err = multierr.Append(err, o.deps.FS.RemoveAll(dir))
	if err != nil {
		logger.Warn("cleanup failed", zap.Strings("paths", paths), zap.Error(err))
	}
}

func (o *Orchestrator) finish(logger *zap.Logger, t *tracker, err error) {
	if err != nil {
		o.deps.Metrics.RunFinished("failed")
		logger.Warn("run failed", zap.Error(err))
		return
	}
	o.deps.Metrics.RunFinished("done")
	logger.Info("run finished", logging.Stage(string(t.current)))
}
