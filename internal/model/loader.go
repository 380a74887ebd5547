package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/rsclarke/flowtriage/internal/logging"
)

// Artifact roles, used as manifest keys and in errors.
const (
	RoleScaler     = "scaler"
	RoleReducer    = "reducer"
	RoleClassifier = "classifier"
)

// Candidate file names per role, tried in order. The first one that reads
// and decodes wins. Newly synthesized artifacts are written to the first
// name of each list.
var (
	ScalerFiles     = []string{"scaler.json.zst", "scaler.json", "preprocessor_model.json.zst", "preprocessor_model.json"}
	ReducerFiles    = []string{"pca_model.json.zst", "pca_model.json"}
	ClassifierFiles = []string{"traffic_classifier.json.zst", "traffic_classifier.json"}
)

// ErrSynthesis reports that no usable artifacts could be produced.
var ErrSynthesis = errors.New("artifact synthesis failed")

// CompatibilityError reports artifacts that could not be loaded or did
// not pass validation.
type CompatibilityError struct {
	Role string
	Err  error
}

func (e *CompatibilityError) Error() string {
	return fmt.Sprintf("incompatible %s artifact: %v", e.Role, e.Err)
}

func (e *CompatibilityError) Unwrap() error { return e.Err }

// Options configures loading and synthesis.
type Options struct {
	FeatureWidth int
	Categorical  int
	Components   int
	Samples      int
	Seed         uint64
	Labels       []string
	Compress     bool
	Train        TrainOptions
}

// DefaultOptions returns the synthesis defaults for the given model input
// layout and label table.
func DefaultOptions(featureWidth, categorical int, labels []string) Options {
	return Options{
		FeatureWidth: featureWidth,
		Categorical:  categorical,
		Components:   50,
		Samples:      1000,
		Seed:         42,
		Labels:       labels,
		Compress:     true,
		Train:        DefaultTrainOptions(),
	}
}

// Loader loads artifacts from a Store and synthesizes replacements.
type Loader struct {
	store  *Store
	opts   Options
	logger *zap.Logger
	now    func() time.Time

	// OnSynthesized is called after a replacement trio was built.
	OnSynthesized func()
}

// NewLoader creates a Loader.
func NewLoader(store *Store, opts Options, logger *zap.Logger) *Loader {
	return &Loader{store: store, opts: opts, logger: logger, now: time.Now}
}

// Options returns the loader options.
func (l *Loader) Options() Options { return l.opts }

// LoadOrSynthesize loads the stored trio. When loading, validation or the
// smoke test fails, a synthetic trio is built, persisted over the stored
// files and returned. An error wrapping ErrSynthesis means no trio is
// available.
func (l *Loader) LoadOrSynthesize(ctx context.Context) (*Artifacts, error) {
	a, err := l.Load()
	if err == nil {
		l.logger.Info("artifacts loaded",
			zap.String("dir", l.store.Dir()),
			zap.Int("reducer_in", a.Reducer.InputWidth()),
			zap.Int("reducer_out", a.Reducer.OutputWidth()),
			zap.Int("classes", a.Classifier.Classes()))
		return a, nil
	}
	l.logger.Warn("stored artifacts unusable, synthesizing replacements", zap.Error(err))

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSynthesis, err)
	}
	return l.Rebuild()
}

// Rebuild synthesizes and persists a new trio regardless of what is
// stored. A persistence failure is logged and the trio is still returned.
func (l *Loader) Rebuild() (*Artifacts, error) {
	a, err := l.Synthesize()
	if err != nil {
		return nil, err
	}
	if err := l.Persist(a); err != nil {
		l.logger.Warn("failed to persist synthesized artifacts", zap.Error(err))
	}
	if l.OnSynthesized != nil {
		l.OnSynthesized()
	}
	l.logger.Info("artifacts synthesized",
		zap.Int("samples", l.opts.Samples),
		zap.Uint64("seed", l.opts.Seed),
		zap.Int("components", a.Reducer.OutputWidth()),
		zap.Int("classes", a.Classifier.Classes()))
	return a, nil
}

// Load reads, validates and smoke-tests the stored trio.
func (l *Loader) Load() (*Artifacts, error) {
	manifest, err := l.readManifest()
	if err != nil {
		return nil, &CompatibilityError{Role: "manifest", Err: err}
	}

	sv, err := l.loadRole(RoleScaler, ScalerFiles, manifest)
	if err != nil {
		return nil, err
	}
	rv, err := l.loadRole(RoleReducer, ReducerFiles, manifest)
	if err != nil {
		return nil, err
	}
	cv, err := l.loadRole(RoleClassifier, ClassifierFiles, manifest)
	if err != nil {
		return nil, err
	}

	scaler, ok := sv.(Transformer)
	if !ok {
		return nil, &CompatibilityError{Role: RoleScaler, Err: fmt.Errorf("%T is not a transformer", sv)}
	}
	reducer, ok := rv.(Transformer)
	if !ok {
		return nil, &CompatibilityError{Role: RoleReducer, Err: fmt.Errorf("%T is not a transformer", rv)}
	}
	classifier, ok := cv.(Classifier)
	if !ok {
		return nil, &CompatibilityError{Role: RoleClassifier, Err: fmt.Errorf("%T is not a classifier", cv)}
	}

	a := &Artifacts{
		Scaler:     scaler,
		Reducer:    reducer,
		Classifier: classifier,
		Origin:     Loaded,
		Manifest:   manifest,
	}
	if err := a.Validate(l.opts.FeatureWidth, l.opts.Categorical); err != nil {
		return nil, &CompatibilityError{Role: "trio", Err: err}
	}
	if err := l.checkLabels(a); err != nil {
		return nil, &CompatibilityError{Role: "labels", Err: err}
	}
	if err := l.smoke(a); err != nil {
		return nil, &CompatibilityError{Role: "smoke test", Err: err}
	}
	return a, nil
}

// checkLabels rejects a trio trained against a different label table.
// Trios without recorded labels are accepted; indices past the table
// are reported as unknown classes at prediction time.
func (l *Loader) checkLabels(a *Artifacts) error {
	m := a.Manifest
	if m == nil || len(m.Labels) == 0 {
		return nil
	}
	if !slices.Equal(m.Labels, l.opts.Labels) {
		return fmt.Errorf("trained with labels %v, configured %v", m.Labels, l.opts.Labels)
	}
	if n := a.Classifier.Classes(); n != len(l.opts.Labels) {
		return fmt.Errorf("classifier has %d classes for %d labels", n, len(l.opts.Labels))
	}
	return nil
}

func (l *Loader) readManifest() (*Manifest, error) {
	ok, err := l.store.Exists(ManifestFile)
	if err != nil || !ok {
		return nil, err
	}
	data, err := l.store.Read(ManifestFile)
	if err != nil {
		return nil, err
	}
	return decodeManifest(data)
}

func (l *Loader) loadRole(role string, candidates []string, m *Manifest) (any, error) {
	var lastErr error
	for _, name := range candidates {
		ok, err := l.store.Exists(name)
		if err != nil {
			lastErr = err
			continue
		}
		if !ok {
			continue
		}
		data, err := l.store.Read(name)
		if err != nil {
			lastErr = err
			continue
		}
		if err := m.Verify(role, name, data); err != nil {
			lastErr = err
			continue
		}
		v, err := Unmarshal(data)
		if err != nil {
			lastErr = fmt.Errorf("%s: %w", name, err)
			continue
		}
		l.logger.Debug("artifact read", zap.String("role", role), logging.Artifact(name))
		return v, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("none of %v present", candidates)
	}
	return nil, &CompatibilityError{Role: role, Err: lastErr}
}

// smoke pushes one random row through the full forward pass.
func (l *Loader) smoke(a *Artifacts) error {
	rng := rand.New(rand.NewPCG(l.opts.Seed, l.opts.Seed+1))
	row := make([]float64, l.opts.FeatureWidth)
	for i := range row {
		row[i] = rng.Float64()
	}
	pred, proba, err := a.Forward([][]float64{row}, l.opts.Categorical)
	if err != nil {
		return err
	}
	if len(pred) != 1 || len(proba) != 1 {
		return fmt.Errorf("expected 1 prediction, got %d", len(pred))
	}
	if len(proba[0]) != a.Classifier.Classes() {
		return fmt.Errorf("probability vector has %d entries for %d classes", len(proba[0]), a.Classifier.Classes())
	}
	return nil
}

// Synthesize builds a trio from uniform random data with labels spanning
// every entry of the label table. The result depends only on the options.
func (l *Loader) Synthesize() (*Artifacts, error) {
	a, err := synthesize(l.opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSynthesis, err)
	}
	if err := a.Validate(l.opts.FeatureWidth, l.opts.Categorical); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSynthesis, err)
	}
	if err := l.smoke(a); err != nil {
		return nil, fmt.Errorf("%w: smoke test: %v", ErrSynthesis, err)
	}
	a.Manifest = l.manifest(a)
	return a, nil
}

func synthesize(opts Options) (a *Artifacts, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	classes := len(opts.Labels)
	if classes < 2 {
		return nil, fmt.Errorf("need at least 2 labels, got %d", classes)
	}
	if opts.Samples < classes {
		return nil, fmt.Errorf("%d samples cannot cover %d classes", opts.Samples, classes)
	}
	split := opts.FeatureWidth - opts.Categorical
	if split <= 0 {
		return nil, fmt.Errorf("feature width %d leaves nothing to reduce", opts.FeatureWidth)
	}

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed))
	x := make([][]float64, opts.Samples)
	for i := range x {
		row := make([]float64, opts.FeatureWidth)
		for j := range row {
			row[j] = rng.Float64()
		}
		x[i] = row
	}
	y := make([]int, opts.Samples)
	for i := range y {
		if i < classes {
			y[i] = i
		} else {
			y[i] = rng.IntN(classes)
		}
	}

	scaler, err := FitScaler(x)
	if err != nil {
		return nil, err
	}
	scaled, err := scaler.Transform(x)
	if err != nil {
		return nil, err
	}

	left := make([][]float64, len(scaled))
	for i, row := range scaled {
		left[i] = row[:split]
	}
	pca, err := FitPCA(left, min(opts.Components, split))
	if err != nil {
		return nil, err
	}
	reduced, err := pca.Transform(left)
	if err != nil {
		return nil, err
	}

	combined := make([][]float64, len(scaled))
	for i := range scaled {
		combined[i] = append(reduced[i], scaled[i][split:]...)
	}
	clf, err := TrainSoftmax(combined, y, classes, opts.Train)
	if err != nil {
		return nil, err
	}

	return &Artifacts{Scaler: scaler, Reducer: pca, Classifier: clf, Origin: Synthesized}, nil
}

func (l *Loader) manifest(a *Artifacts) *Manifest {
	return &Manifest{
		CreatedAt:    l.now().UTC(),
		Origin:       a.Origin,
		FeatureWidth: l.opts.FeatureWidth,
		Labels:       append([]string(nil), l.opts.Labels...),
		Entries:      map[string]ManifestEntry{},
	}
}

// Persist writes the trio under the preferred file names and records
// their digests in the manifest. The manifest and every candidate file
// are removed first, so a failed write leaves an incomplete trio that
// Load rejects rather than a mix of old and new files.
func (l *Loader) Persist(a *Artifacts) error {
	if a.Manifest == nil {
		a.Manifest = l.manifest(a)
	}
	if err := l.clear(); err != nil {
		return fmt.Errorf("persist: %w", err)
	}
	items := []struct {
		role string
		file string
		v    any
		in   int
		out  int
	}{
		{RoleScaler, ScalerFiles[0], a.Scaler, a.Scaler.InputWidth(), a.Scaler.OutputWidth()},
		{RoleReducer, ReducerFiles[0], a.Reducer, a.Reducer.InputWidth(), a.Reducer.OutputWidth()},
		{RoleClassifier, ClassifierFiles[0], a.Classifier, a.Classifier.InputWidth(), a.Classifier.Classes()},
	}
	for _, it := range items {
		data, err := Marshal(it.v, l.opts.Compress)
		if err != nil {
			return fmt.Errorf("persist %s: %w", it.role, err)
		}
		if err := l.store.Write(it.file, data); err != nil {
			return fmt.Errorf("persist %s: %w", it.role, err)
		}
		a.Manifest.Entries[it.role] = ManifestEntry{
			File:        it.file,
			Digest:      Digest(data),
			InputWidth:  it.in,
			OutputWidth: it.out,
		}
	}

	data, err := json.MarshalIndent(a.Manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("persist manifest: %w", err)
	}
	if err := l.store.Write(ManifestFile, data); err != nil {
		return fmt.Errorf("persist manifest: %w", err)
	}
	return nil
}

func (l *Loader) clear() error {
	if err := l.store.Remove(ManifestFile); err != nil {
		return fmt.Errorf("remove %s: %w", ManifestFile, err)
	}
	for _, names := range [][]string{ScalerFiles, ReducerFiles, ClassifierFiles} {
		for _, name := range names {
			if err := l.store.Remove(name); err != nil {
				return fmt.Errorf("remove %s: %w", name, err)
			}
		}
	}
	return nil
}
