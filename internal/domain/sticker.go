package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// StickerStatus tracks where a single emotion is in its pipeline.
type StickerStatus string

const (
	StickerStatusGenerating StickerStatus = "generating"
	StickerStatusReady      StickerStatus = "ready"
	StickerStatusSkipped    StickerStatus = "skipped"
)

// PipelineStep names a provider stage for one emotion. Steps run strictly in
// this order.
type PipelineStep string

const (
	StepGenerate         PipelineStep = "generate"
	StepRemoveBackground PipelineStep = "remove_background"
)

// Pipeline is the structured in-progress state of a sticker. It is persisted
// in its own column; image_url never carries it.
type Pipeline struct {
	Handle          string       `json:"handle,omitempty"`
	Step            PipelineStep `json:"step"`
	IntermediateURL string       `json:"intermediateUrl,omitempty"`
	LastError       string       `json:"lastError,omitempty"`
	// StartedAt is when the outstanding prediction was created.
	StartedAt time.Time `json:"startedAt,omitzero"`
	// PollErrors counts consecutive failed polls of Handle.
	PollErrors int `json:"pollErrors,omitempty"`
}

// Awaiting reports whether a provider prediction is outstanding.
func (p Pipeline) Awaiting() bool {
	return p.Handle != ""
}

// Sticker is the row for one emotion of one job.
type Sticker struct {
	ID           string
	JobID        string
	Emotion      Emotion
	Status       StickerStatus
	ImageURL     string
	ThumbnailURL string
	Pipeline     Pipeline
	Attempts     int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Ready reports whether the sticker holds a finished asset.
func (s *Sticker) Ready() bool {
	if s == nil || s.Status != StickerStatusReady {
		return false
	}
	return s.ImageURL != "" && !IsProgressMarker(s.ImageURL)
}

// Settled reports whether the emotion needs no further provider work.
func (s *Sticker) Settled() bool {
	return s.Ready() || (s != nil && s.Status == StickerStatusSkipped)
}

// IsProgressMarker detects a JSON object stored where an asset URL belongs.
// Older rows encoded pipeline state this way. Anything starting with "{" is
// rejected even when it does not parse, since it cannot be an asset URL.
func IsProgressMarker(value string) bool {
	return strings.HasPrefix(strings.TrimSpace(value), "{")
}

// DecodeLegacyMarker extracts pipeline state from an older JSON marker row.
func DecodeLegacyMarker(value string) (Pipeline, bool) {
	if !IsProgressMarker(value) {
		return Pipeline{}, false
	}
	var raw struct {
		Handle       string `json:"handle"`
		PredictionID string `json:"predictionId"`
		Step         string `json:"step"`
		RawURL       string `json:"rawUrl"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(value)), &raw); err != nil {
		return Pipeline{}, false
	}
	p := Pipeline{Handle: raw.Handle, Step: StepGenerate, IntermediateURL: raw.RawURL}
	if p.Handle == "" {
		p.Handle = raw.PredictionID
	}
	if PipelineStep(raw.Step) == StepRemoveBackground {
		p.Step = StepRemoveBackground
	}
	return p, p.Handle != ""
}

// ReadyStickers filters to finished stickers in generation order.
func ReadyStickers(stickers []Sticker) []Sticker {
	byEmotion := make(map[Emotion]Sticker, len(stickers))
	for _, s := range stickers {
		if s.Ready() {
			byEmotion[s.Emotion] = s
		}
	}
	out := make([]Sticker, 0, len(byEmotion))
	for _, e := range Emotions {
		if s, ok := byEmotion[e]; ok {
			out = append(out, s)
		}
	}
	return out
}
