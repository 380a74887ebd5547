package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/rsclarke/flowtriage/internal/capture"
	"github.com/rsclarke/flowtriage/internal/db"
	"github.com/rsclarke/flowtriage/internal/extract"
	"github.com/rsclarke/flowtriage/internal/inference"
	"github.com/rsclarke/flowtriage/internal/model"
	"github.com/rsclarke/flowtriage/internal/schema"
)

const flowsCSV = `Dst Port,Flow Duration,Tot Fwd Pkts,Label
80,100,1,BENIGN
443,200,2,BENIGN
53,Infinity,3,BENIGN
8080,400,4,BENIGN
22,500,5,BENIGN
`

var (
	artifactsOnce sync.Once
	sharedTrio    *model.Artifacts
	sharedErr     error
)

// testArtifacts synthesizes one small trio for the whole package.
func testArtifacts(t *testing.T) *model.Artifacts {
	t.Helper()
	artifactsOnce.Do(func() {
		opts := model.DefaultOptions(schema.FeatureWidth(), len(schema.Categorical), inference.DefaultLabels())
		opts.Components = 8
		opts.Samples = 150
		opts.Train = model.TrainOptions{Epochs: 10, LearningRate: 0.5, L2: 1e-4}
		l := model.NewLoader(model.NewStore(afero.NewMemMapFs(), "/models"), opts, zap.NewNop())
		sharedTrio, sharedErr = l.Synthesize()
	})
	if sharedErr != nil {
		t.Fatalf("synthesize artifacts: %v", sharedErr)
	}
	return sharedTrio
}

type staticArtifacts struct {
	a   *model.Artifacts
	err error
}

func (s staticArtifacts) Get(context.Context) (*model.Artifacts, error) { return s.a, s.err }

type fakeCapturer struct {
	fs    afero.Fs
	err   error
	calls int
}

func (c *fakeCapturer) Capture(_ context.Context, req capture.Request) (*capture.Result, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	if err := afero.WriteFile(c.fs, req.OutputPath, []byte("pcap"), 0o644); err != nil {
		return nil, err
	}
	return &capture.Result{Path: req.OutputPath, Stats: &capture.Stats{Packets: 42, Bytes: 4096}}, nil
}

type fakeExtractor struct {
	fs      afero.Fs
	csv     string
	produce bool
	err     error
}

func (e *fakeExtractor) Extract(_ context.Context, pcapPath, outDir string) error {
	if e.err != nil {
		return e.err
	}
	if e.produce {
		return afero.WriteFile(e.fs, extract.OutputPath(pcapPath, outDir), []byte(e.csv), 0o644)
	}
	return nil
}

type countingSleeper struct {
	calls int
	total time.Duration
}

func (s *countingSleeper) sleep(_ context.Context, d time.Duration) error {
	s.calls++
	s.total += d
	return nil
}

type fakeStore struct {
	runs []*db.Run
	err  error
}

func (s *fakeStore) SaveRun(_ context.Context, run *db.Run) error {
	if s.err != nil {
		return s.err
	}
	s.runs = append(s.runs, run)
	return nil
}

type fakeNotifier struct {
	summaries []*Summary
	err       error
}

func (n *fakeNotifier) Name() string { return "fake" }

func (n *fakeNotifier) Notify(_ context.Context, s *Summary) error {
	n.summaries = append(n.summaries, s)
	return n.err
}

type harness struct {
	fs        afero.Fs
	capturer  *fakeCapturer
	extractor *fakeExtractor
	sleeper   *countingSleeper
	store     *fakeStore
	notifier  *fakeNotifier
	logs      *observer.ObservedLogs
	orch      *Orchestrator
}

func newHarness(t *testing.T, mutate func(*harness, *Deps, *Config)) *harness {
	t.Helper()
	fs := afero.NewMemMapFs()
	core, logs := observer.New(zapcore.DebugLevel)
	h := &harness{
		fs:        fs,
		capturer:  &fakeCapturer{fs: fs},
		extractor: &fakeExtractor{fs: fs, csv: flowsCSV, produce: true},
		sleeper:   &countingSleeper{},
		store:     &fakeStore{},
		notifier:  &fakeNotifier{},
		logs:      logs,
	}
	deps := Deps{
		Capturer:  h.capturer,
		Extractor: h.extractor,
		Waiter:    &extract.Poller{FS: fs, Attempts: 10, Interval: 2 * time.Second, Sleep: h.sleeper.sleep},
		Artifacts: staticArtifacts{a: testArtifacts(t)},
		Engine:    inference.NewEngine(inference.DefaultLabels()),
		Store:     h.store,
		Notifiers: []Notifier{h.notifier},
		FS:        fs,
		Logger:    zap.New(core),
	}
	cfg := Config{
		WorkDir:          "/work",
		DefaultInterface: "any",
		Interfaces:       map[string]string{"wifi": "wlan0"},
		MaxDuration:      5 * time.Minute,
	}
	if mutate != nil {
		mutate(h, &deps, &cfg)
	}
	h.orch = New(deps, cfg)
	h.orch.newID = func() string { return "run-1" }
	return h
}

func TestRunSuccess(t *testing.T) {
	h := newHarness(t, nil)

	res, err := h.orch.Run(context.Background(), Request{Duration: 10 * time.Second, ConnectionType: "WiFi"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(res.Predictions) != 5 {
		t.Fatalf("predictions = %d, want 5", len(res.Predictions))
	}
	s := res.Summary
	if s.TotalFlows != 5 || s.Duration != 10 || s.ConnectionType != "WiFi" || s.RunID != "run-1" {
		t.Errorf("summary = %+v", s)
	}
	if s.ColumnsCount != len(schema.Names())+1 {
		t.Errorf("columns_count = %d, want %d", s.ColumnsCount, len(schema.Names())+1)
	}
	if s.Interface != "wlan0" {
		t.Errorf("interface = %q, want wlan0 from connection type mapping", s.Interface)
	}
	if s.Packets != 42 || !s.Persisted {
		t.Errorf("packets = %d persisted = %v", s.Packets, s.Persisted)
	}

	want := []State{StateIdle, StateCapturing, StateAwaitingExtraction, StateNormalizing,
		StateImputing, StateInferring, StatePersisting, StateCleanup, StateDone}
	if len(res.States) != len(want) {
		t.Fatalf("states = %v, want %v", res.States, want)
	}
	for i := range want {
		if res.States[i] != want[i] {
			t.Errorf("state[%d] = %s, want %s", i, res.States[i], want[i])
		}
	}

	if len(h.store.runs) != 1 || len(h.store.runs[0].Predictions) != 5 || h.store.runs[0].Duration != 10 {
		t.Errorf("stored runs = %+v", h.store.runs)
	}
	if len(h.notifier.summaries) != 1 {
		t.Errorf("notifier called %d times, want 1", len(h.notifier.summaries))
	}

	rows := res.FullData()
	if _, ok := rows[0]["Prediction"]; !ok {
		t.Error("full data row missing Prediction")
	}
	if _, ok := rows[0]["Confidence"]; !ok {
		t.Error("full data row missing Confidence")
	}
	if len(rows[0]) != len(schema.Names())+2 {
		t.Errorf("full data row has %d keys", len(rows[0]))
	}

	if ok, _ := afero.DirExists(h.fs, "/work/run-1"); ok {
		t.Error("work dir not cleaned up")
	}
}

func TestRunKeepFiles(t *testing.T) {
	h := newHarness(t, func(_ *harness, _ *Deps, cfg *Config) { cfg.KeepFiles = true })

	res, err := h.orch.Run(context.Background(), Request{Duration: time.Second, ConnectionType: "ethernet"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	for _, s := range res.States {
		if s == StateCleanup {
			t.Error("CLEANUP entered with keep_files")
		}
	}
	if ok, _ := afero.Exists(h.fs, "/work/run-1/capture_run-1_Flow.csv"); !ok {
		t.Error("extractor output removed despite keep_files")
	}
}

func TestRunExtractionTimeout(t *testing.T) {
	h := newHarness(t, func(h *harness, _ *Deps, _ *Config) { h.extractor.produce = false })

	_, err := h.orch.Run(context.Background(), Request{Duration: 5 * time.Second, ConnectionType: "wifi"})
	if !errors.Is(err, ErrExtractionTimeout) {
		t.Fatalf("expected ExtractionTimeout, got %v", err)
	}
	var pe *Error
	if !errors.As(err, &pe) || pe.Stage != StateAwaitingExtraction {
		t.Errorf("error stage = %v, want AWAITING_EXTRACTION", err)
	}
	if h.sleeper.calls != 10 || h.sleeper.total != 20*time.Second {
		t.Errorf("poll budget used %d sleeps / %v, want 10 / 20s", h.sleeper.calls, h.sleeper.total)
	}
	if len(h.store.runs) != 0 || len(h.notifier.summaries) != 0 {
		t.Error("failed run must not persist or notify")
	}
	if ok, _ := afero.DirExists(h.fs, "/work/run-1"); ok {
		t.Error("work dir not cleaned up after failure")
	}
}

func TestRunPersistenceWarning(t *testing.T) {
	h := newHarness(t, func(h *harness, _ *Deps, _ *Config) { h.store.err = errors.New("connection refused") })

	res, err := h.orch.Run(context.Background(), Request{Duration: 5 * time.Second, ConnectionType: "wifi"})
	if err != nil {
		t.Fatalf("persistence failure must not fail the run: %v", err)
	}
	if len(res.Predictions) != 5 {
		t.Errorf("predictions = %d, want 5", len(res.Predictions))
	}
	if res.Summary.Persisted {
		t.Error("summary claims persisted")
	}
	if len(res.Warnings) != 1 || !errors.Is(res.Warnings[0], ErrPersistenceWarning) {
		t.Errorf("warnings = %v", res.Warnings)
	}
	if res.States[len(res.States)-1] != StateDone {
		t.Errorf("final state = %s", res.States[len(res.States)-1])
	}

	warned := h.logs.FilterLevelExact(zapcore.WarnLevel).FilterField(zap.String("kind", "PersistenceWarning"))
	if warned.Len() != 1 {
		t.Errorf("expected one PersistenceWarning log, got %d", warned.Len())
	}
}

func TestRunErrorKinds(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*harness, *Deps, *Config)
		want   error
		stage  State
	}{
		{
			name: "capture tool failure",
			mutate: func(h *harness, _ *Deps, _ *Config) {
				h.capturer.err = &capture.ToolError{Tool: "tshark", Reason: "exited without capture file"}
			},
			want:  ErrCaptureFailure,
			stage: StateCapturing,
		},
		{
			name: "capture timeout",
			mutate: func(h *harness, _ *Deps, _ *Config) {
				h.capturer.err = &capture.ToolError{Tool: "tshark", Reason: "timed out", Timeout: true}
			},
			want:  ErrToolTimeout,
			stage: StateCapturing,
		},
		{
			name: "extractor failure",
			mutate: func(h *harness, _ *Deps, _ *Config) {
				h.extractor.err = &extract.ToolError{Tool: "cfm", Reason: "failed", Stderr: "bad pcap"}
			},
			want:  ErrExtractionToolFailure,
			stage: StateAwaitingExtraction,
		},
		{
			name: "extractor timeout",
			mutate: func(h *harness, _ *Deps, _ *Config) {
				h.extractor.err = &extract.ToolError{Tool: "cfm", Reason: "timed out", Timeout: true}
			},
			want:  ErrToolTimeout,
			stage: StateAwaitingExtraction,
		},
		{
			name:   "unparsable output",
			mutate: func(h *harness, _ *Deps, _ *Config) { h.extractor.csv = "" },
			want:   ErrNormalization,
			stage:  StateNormalizing,
		},
		{
			name: "artifacts unavailable",
			mutate: func(_ *harness, d *Deps, _ *Config) {
				d.Artifacts = staticArtifacts{err: model.ErrSynthesis}
			},
			want:  ErrArtifactFatal,
			stage: StateIdle,
		},
		{
			name: "interface missing",
			mutate: func(_ *harness, d *Deps, _ *Config) {
				d.Lister = staticLister{"eth0"}
			},
			want:  ErrCaptureFailure,
			stage: StateCapturing,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.mutate)
			res, err := h.orch.Run(context.Background(), Request{Duration: 5 * time.Second, ConnectionType: "wifi"})
			if res != nil {
				t.Error("failed run returned a partial result")
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
			var pe *Error
			if !errors.As(err, &pe) || pe.Stage != tt.stage {
				t.Errorf("stage = %v, want %s", err, tt.stage)
			}
		})
	}
}

func TestRunInferenceWidthMismatch(t *testing.T) {
	h := newHarness(t, func(_ *harness, d *Deps, _ *Config) {
		opts := model.DefaultOptions(12, 2, inference.DefaultLabels())
		opts.Components = 4
		opts.Samples = 60
		opts.Train = model.TrainOptions{Epochs: 5, LearningRate: 0.5}
		a, err := model.NewLoader(model.NewStore(afero.NewMemMapFs(), "/m"), opts, zap.NewNop()).Synthesize()
		if err != nil {
			t.Fatal(err)
		}
		d.Artifacts = staticArtifacts{a: a}
	})

	_, err := h.orch.Run(context.Background(), Request{Duration: time.Second, ConnectionType: "wifi"})
	if !errors.Is(err, ErrInference) {
		t.Fatalf("expected InferenceError, got %v", err)
	}
	var we *inference.WidthError
	if !errors.As(err, &we) || we.Expected != 12 {
		t.Errorf("expected wrapped WidthError, got %v", err)
	}
}

func TestRunRejectsInvalidRequest(t *testing.T) {
	h := newHarness(t, nil)
	for _, req := range []Request{
		{Duration: 0, ConnectionType: "wifi"},
		{Duration: time.Hour, ConnectionType: "wifi"},
		{Duration: time.Second},
	} {
		if _, err := h.orch.Run(context.Background(), req); !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("Run(%+v) error = %v, want ErrInvalidRequest", req, err)
		}
	}
	if h.capturer.calls != 0 {
		t.Error("capture started for an invalid request")
	}
}

func TestRunNotifierErrorIsIgnored(t *testing.T) {
	h := newHarness(t, func(h *harness, _ *Deps, _ *Config) { h.notifier.err = errors.New("broker down") })
	if _, err := h.orch.Run(context.Background(), Request{Duration: time.Second, ConnectionType: "wifi"}); err != nil {
		t.Fatalf("notifier error failed the run: %v", err)
	}
}

func TestClassifyImputesAndPredicts(t *testing.T) {
	h := newHarness(t, nil)

	res, err := h.orch.Classify(context.Background(), strings.NewReader(flowsCSV), ClassifyRequest{ConnectionType: "offline"})
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if res.Flows.Width() != len(schema.Names()) {
		t.Errorf("width = %d, want %d", res.Flows.Width(), len(schema.Names()))
	}
	col, _ := res.Flows.Column("Flow Duration")
	// median of 100, 200, 400, 500
	if col.Numbers[2] != 300 {
		t.Errorf("infinite value imputed to %v, want 300", col.Numbers[2])
	}
	if res.Summary.Imputed != 1 {
		t.Errorf("imputed cells = %d, want 1", res.Summary.Imputed)
	}
	if len(h.store.runs) != 0 {
		t.Error("classify without persist stored flows")
	}
	want := []State{StateIdle, StateNormalizing, StateImputing, StateInferring, StateDone}
	if len(res.States) != len(want) {
		t.Errorf("states = %v, want %v", res.States, want)
	}
}

func TestClassifyPersist(t *testing.T) {
	h := newHarness(t, nil)
	res, err := h.orch.Classify(context.Background(), strings.NewReader(flowsCSV), ClassifyRequest{ConnectionType: "offline", Persist: true})
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if !res.Summary.Persisted || len(h.store.runs) != 1 {
		t.Errorf("persisted = %v, runs = %d", res.Summary.Persisted, len(h.store.runs))
	}
}

func TestClassifyDeterministic(t *testing.T) {
	h := newHarness(t, nil)
	first, err := h.orch.Classify(context.Background(), strings.NewReader(flowsCSV), ClassifyRequest{})
	if err != nil {
		t.Fatal(err)
	}
	second, err := h.orch.Classify(context.Background(), strings.NewReader(flowsCSV), ClassifyRequest{})
	if err != nil {
		t.Fatal(err)
	}
	for i := range first.Predictions {
		a, b := first.Predictions[i], second.Predictions[i]
		if a.Label != b.Label || a.Confidence != b.Confidence {
			t.Errorf("row %d: %s/%v then %s/%v", i, a.Label, a.Confidence, b.Label, b.Confidence)
		}
	}
}

func TestErrorMessageNamesStage(t *testing.T) {
	err := &Error{Kind: KindExtractionTimeout, Stage: StateAwaitingExtraction, Err: extract.ErrNotProduced}
	msg := err.Error()
	if !strings.Contains(msg, "AWAITING_EXTRACTION") || !strings.Contains(msg, "ExtractionTimeout") {
		t.Errorf("message %q lacks stage or kind", msg)
	}
	if errors.Is(err, ErrCaptureFailure) {
		t.Error("ExtractionTimeout matched CaptureFailure sentinel")
	}
	if k, ok := KindOf(err); !ok || k != KindExtractionTimeout {
		t.Errorf("KindOf = %v %v", k, ok)
	}
}

type staticLister []string

func (l staticLister) Interfaces() ([]capture.Interface, error) {
	out := make([]capture.Interface, len(l))
	for i, n := range l {
		out[i] = capture.Interface{Name: n}
	}
	return out, nil
}
