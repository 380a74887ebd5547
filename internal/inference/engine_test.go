package inference

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rsclarke/flowtriage/internal/flow"
	"github.com/rsclarke/flowtriage/internal/model"
	"github.com/rsclarke/flowtriage/internal/schema"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// recordingScaler is an identity transformer that remembers its input.
type recordingScaler struct {
	width int
	calls int
	seen  [][]float64
}

func (s *recordingScaler) InputWidth() int  { return s.width }
func (s *recordingScaler) OutputWidth() int { return s.width }
func (s *recordingScaler) Transform(x [][]float64) ([][]float64, error) {
	s.calls++
	s.seen = x
	return x, nil
}

// sumReducer collapses its input to a single column.
type sumReducer struct{ width int }

func (r sumReducer) InputWidth() int  { return r.width }
func (r sumReducer) OutputWidth() int { return 1 }
func (r sumReducer) Transform(x [][]float64) ([][]float64, error) {
	out := make([][]float64, len(x))
	for i, row := range x {
		var s float64
		for _, v := range row {
			s += v
		}
		out[i] = []float64{s}
	}
	return out, nil
}

// fixedClassifier always answers with the same class and probabilities.
type fixedClassifier struct {
	class int
	proba []float64
}

func (c fixedClassifier) InputWidth() int { return 3 }
func (c fixedClassifier) Classes() int    { return len(c.proba) }
func (c fixedClassifier) Predict(x [][]float64) ([]int, error) {
	out := make([]int, len(x))
	for i := range out {
		out[i] = c.class
	}
	return out, nil
}
func (c fixedClassifier) PredictProba(x [][]float64) ([][]float64, error) {
	out := make([][]float64, len(x))
	for i := range out {
		out[i] = c.proba
	}
	return out, nil
}

func readTable(t *testing.T, csv string) *flow.Table {
	t.Helper()
	tbl, err := schema.Read(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("schema.Read failed: %v", err)
	}
	return tbl
}

func TestPredictUnknownClassIsSafe(t *testing.T) {
	proba := make([]float64, 13)
	for i := range proba {
		proba[i] = 0.05
	}
	proba[12] = 0.4

	a := &model.Artifacts{
		Scaler:     &recordingScaler{width: 78},
		Reducer:    sumReducer{width: 76},
		Classifier: fixedClassifier{class: 12, proba: proba},
	}
	tbl := readTable(t, "Dst Port,Label\n80,BENIGN\n")

	preds, err := NewEngine(DefaultLabels()).Predict(context.Background(), a, tbl)
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	p := preds[0]
	if p.Label != "Unknown_Class_12" {
		t.Errorf("label = %q, want Unknown_Class_12", p.Label)
	}
	if p.Confidence != 0.4 {
		t.Errorf("confidence = %v, want 0.4", p.Confidence)
	}
	if len(p.Probabilities) != 10 {
		t.Errorf("expected 10 known-label probabilities, got %d", len(p.Probabilities))
	}
	if _, ok := p.Probabilities["Unknown_Class_12"]; ok {
		t.Error("unknown class must not appear in probabilities")
	}
}

func TestPredictChecksWidthBeforeRunningArtifacts(t *testing.T) {
	scaler := &recordingScaler{width: 77}
	a := &model.Artifacts{
		Scaler:     scaler,
		Reducer:    sumReducer{width: 75},
		Classifier: fixedClassifier{class: 0, proba: []float64{1, 0}},
	}
	tbl := readTable(t, "Dst Port\n80\n")

	_, err := NewEngine(DefaultLabels()).Predict(context.Background(), a, tbl)
	var werr *WidthError
	if !errors.As(err, &werr) {
		t.Fatalf("expected WidthError, got %v", err)
	}
	if werr.Expected != 77 || werr.Actual != 78 {
		t.Errorf("unexpected widths %+v", werr)
	}
	if scaler.calls != 0 {
		t.Errorf("scaler invoked %d times before width check", scaler.calls)
	}
}

func TestPredictPutsCategoricalFeaturesLast(t *testing.T) {
	scaler := &recordingScaler{width: 78}
	a := &model.Artifacts{
		Scaler:     scaler,
		Reducer:    sumReducer{width: 76},
		Classifier: fixedClassifier{class: 0, proba: []float64{0.9, 0.1}},
	}
	tbl := readTable(t, "FIN Flag Cnt,Dst Port,PSH Flag Cnt\n7,443,9\n")

	preds, err := NewEngine(DefaultLabels()).Predict(context.Background(), a, tbl)
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	row := scaler.seen[0]
	if row[0] != 443 {
		t.Errorf("first feature = %v, want destination port 443", row[0])
	}
	if row[76] != 7 || row[77] != 9 {
		t.Errorf("categorical tail = %v, want [7 9]", row[76:])
	}
	if preds[0].Label != "BENIGN" || preds[0].Probabilities["Bot"] != 0.1 {
		t.Errorf("unexpected prediction %+v", preds[0])
	}
}

func TestPredictIsDeterministic(t *testing.T) {
	opts := model.DefaultOptions(schema.FeatureWidth(), len(schema.Categorical), DefaultLabels())
	opts.Samples = 200
	opts.Train.Epochs = 5
	a, err := model.NewLoader(model.NewStore(afero.NewMemMapFs(), "/a"), opts, zap.NewNop()).Synthesize()
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}

	tbl := readTable(t, "Dst Port,Flow Duration,FIN Flag Cnt\n80,100,1\n443,2000,0\n53,5,1\n")
	e := NewEngine(DefaultLabels())

	first, err := e.Predict(context.Background(), a, tbl)
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	second, _ := e.Predict(context.Background(), a, tbl)
	for i := range first {
		if first[i].Label != second[i].Label || first[i].Confidence != second[i].Confidence {
			t.Errorf("row %d differs: %+v vs %+v", i, first[i], second[i])
		}
	}

	counts := Counts(first)
	total := 0
	for _, n := range counts {
		total += n
	}
	if total != 3 {
		t.Errorf("Counts total %d, want 3", total)
	}
}

func TestLabelsFor(t *testing.T) {
	tests := []struct {
		preset  string
		custom  []string
		want    int
		wantErr bool
	}{
		{"", nil, 10, false},
		{PresetDefault, nil, 10, false},
		{PresetLegacy, nil, 8, false},
		{PresetLegacy, []string{"a", "b"}, 2, false},
		{"bogus", nil, 0, true},
	}
	for _, tt := range tests {
		got, err := LabelsFor(tt.preset, tt.custom)
		if (err != nil) != tt.wantErr {
			t.Errorf("LabelsFor(%q) error = %v", tt.preset, err)
			continue
		}
		if len(got) != tt.want {
			t.Errorf("LabelsFor(%q) has %d labels, want %d", tt.preset, len(got), tt.want)
		}
	}

	if LegacyLabels().Name(8) != "Unknown_Class_8" {
		t.Errorf("legacy table should not name class 8")
	}
	if DefaultLabels().Name(-1) != "Unknown_Class_-1" {
		t.Errorf("negative class not treated as unknown")
	}
}
