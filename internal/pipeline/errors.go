package pipeline

import "github.com/rotisserie/eris"

// Sentinel errors checked by callers with eris.Is. Missing-entity errors
// abort the current product; data-quality findings never surface as
// errors, they become cleansing issue or validation rows instead.
var (
	ErrNoObservations  = eris.New("pipeline: no observations for product")
	ErrPublishNotReady = eris.New("pipeline: golden record not ready for publish")
	ErrStageAborted    = eris.New("pipeline: stage aborted")
)
