package pipeline

import (
	"time"

	"go.uber.org/zap"

	"github.com/rsclarke/flowtriage/internal/logging"
	"github.com/rsclarke/flowtriage/internal/metrics"
)

// State is a stage of a run.
type State string

const (
	StateIdle               State = "IDLE"
	StateCapturing          State = "CAPTURING"
	StateAwaitingExtraction State = "AWAITING_EXTRACTION"
	StateNormalizing        State = "NORMALIZING"
	StateImputing           State = "IMPUTING"
	StateInferring          State = "INFERRING"
	StatePersisting         State = "PERSISTING"
	StateCleanup            State = "CLEANUP"
	StateDone               State = "DONE"
	StateFailed             State = "FAILED"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool { return s == StateDone || s == StateFailed }

// Transition records entry into a state.
type Transition struct {
	State State     `json:"state"`
	At    time.Time `json:"at"`
}

// tracker follows one run through its states, timing each stage.
type tracker struct {
	runID   string
	current State
	entered time.Time
	history []Transition
	now     func() time.Time
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func newTracker(runID string, now func() time.Time, logger *zap.Logger, m *metrics.Metrics) *tracker {
	t := &tracker{runID: runID, now: now, logger: logger, metrics: m}
	t.current = StateIdle
	t.entered = now()
	t.history = []Transition{{State: StateIdle, At: t.entered}}
	return t
}

func (t *tracker) enter(s State) {
	if t.current.Terminal() {
		return
	}
	at := t.now()
	if t.current != StateIdle {
		t.metrics.ObserveStage(string(t.current), at.Sub(t.entered))
	}
	t.logger.Debug("stage transition",
		logging.RunID(t.runID),
		zap.String("from", string(t.current)),
		logging.Stage(string(s)))
	t.current = s
	t.entered = at
	t.history = append(t.history, Transition{State: s, At: at})
}

// fail moves the run to FAILED and returns the stage-tagged error.
func (t *tracker) fail(kind Kind, err error) *Error {
	pe := &Error{Kind: kind, Stage: t.current, Err: err}
	t.enter(StateFailed)
	return pe
}

func (t *tracker) states() []State {
	out := make([]State, len(t.history))
	for i, tr := range t.history {
		out[i] = tr.State
	}
	return out
}
