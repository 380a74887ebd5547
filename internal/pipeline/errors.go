package pipeline

import (
	"errors"
	"fmt"
)

// Kind classifies why a run failed.
type Kind string

const (
	KindCaptureFailure        Kind = "CaptureFailure"
	KindToolTimeout           Kind = "ToolTimeout"
	KindExtractionTimeout     Kind = "ExtractionTimeout"
	KindExtractionToolFailure Kind = "ExtractionToolFailure"
	KindNormalizationError    Kind = "NormalizationError"
	KindInferenceError        Kind = "InferenceError"
	KindArtifactFatal         Kind = "ArtifactFatal"
	KindPersistenceWarning    Kind = "PersistenceWarning"
)

// Sentinels for errors.Is matching against an *Error of the same kind.
var (
	ErrCaptureFailure        = errors.New("capture failure")
	ErrToolTimeout           = errors.New("tool timeout")
	ErrExtractionTimeout     = errors.New("extraction timeout")
	ErrExtractionToolFailure = errors.New("extraction tool failure")
	ErrNormalization         = errors.New("normalization error")
	ErrInference             = errors.New("inference error")
	ErrArtifactFatal         = errors.New("artifacts unavailable")
	ErrPersistenceWarning    = errors.New("persistence warning")

	// ErrInvalidRequest is returned before a run starts.
	ErrInvalidRequest = errors.New("invalid request")
)

var sentinels = map[Kind]error{
	KindCaptureFailure:        ErrCaptureFailure,
	KindToolTimeout:           ErrToolTimeout,
	KindExtractionTimeout:     ErrExtractionTimeout,
	KindExtractionToolFailure: ErrExtractionToolFailure,
	KindNormalizationError:    ErrNormalization,
	KindInferenceError:        ErrInference,
	KindArtifactFatal:         ErrArtifactFatal,
	KindPersistenceWarning:    ErrPersistenceWarning,
}

// Error is the single terminal error of a failed run, or a warning
// attached to a successful one.
type Error struct {
	Kind  Kind
	Stage State
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return "", false
}
