// Package image adapts external image-synthesis services to a single
// Finished | Pending | Failed result shape.
package image

import (
	"context"

	"stickerpack/internal/domain"
)

// Outcome discriminates a provider Result.
type Outcome int

const (
	OutcomeFailed Outcome = iota
	OutcomePending
	OutcomeFinished
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFinished:
		return "finished"
	case OutcomePending:
		return "pending"
	default:
		return "failed"
	}
}

// Asset is a finished image. URL may be remote or a data URL; Data is set
// when the provider returned raw bytes.
type Asset struct {
	URL  string
	Data []byte
	MIME string
}

// Result is what every adapter returns. Only the fields matching Outcome are
// meaningful.
type Result struct {
	Outcome Outcome
	Asset   Asset
	Handle  string
	Reason  string
}

func Finished(asset Asset) Result  { return Result{Outcome: OutcomeFinished, Asset: asset} }
func Pending(handle string) Result { return Result{Outcome: OutcomePending, Handle: handle} }
func Failed(reason string) Result  { return Result{Outcome: OutcomeFailed, Reason: reason} }
func (r Result) Finished() bool    { return r.Outcome == OutcomeFinished }
func (r Result) Pending() bool     { return r.Outcome == OutcomePending }
func (r Result) Failed() bool      { return r.Outcome == OutcomeFailed }

// Request describes one sticker to synthesise.
type Request struct {
	JobID          string
	Emotion        domain.Emotion
	StyleKey       string
	Prompt         string
	SourceImageURL string
}

// Generator synthesises one sticker. Synchronous providers return Finished
// from Start; asynchronous ones return Pending and are polled by handle.
// A returned error is a transport problem worth retrying; Failed is a
// provider verdict.
type Generator interface {
	Name() string
	Start(ctx context.Context, req Request) (Result, error)
	Poll(ctx context.Context, handle string) (Result, error)
}

// BackgroundRemover is the optional post-processing step.
type BackgroundRemover interface {
	StartRemoval(ctx context.Context, imageURL string) (Result, error)
	Poll(ctx context.Context, handle string) (Result, error)
}
