package domain

import "testing"

func TestIsProgressMarker(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{`{"handle":"abc","step":"generate"}`, true},
		{`  {"predictionId":"x"}`, true},
		{`{broken`, true},
		{"https://cdn.example.com/a.png", false},
		{"data:image/png;base64,AAAA", false},
		{"", false},
	}
	for _, tc := range tests {
		if got := IsProgressMarker(tc.value); got != tc.want {
			t.Fatalf("IsProgressMarker(%q) = %v, want %v", tc.value, got, tc.want)
		}
	}
}

func TestStickerReadyExcludesMarkers(t *testing.T) {
	s := Sticker{Status: StickerStatusReady, ImageURL: `{"handle":"h"}`}
	if s.Ready() {
		t.Fatalf("marker row must not be ready")
	}
	s.ImageURL = "https://cdn.example.com/a.png"
	if !s.Ready() {
		t.Fatalf("expected ready")
	}
	s.Status = StickerStatusGenerating
	if s.Ready() {
		t.Fatalf("generating row must not be ready")
	}
}

func TestReadyStickersKeepsGenerationOrder(t *testing.T) {
	rows := []Sticker{
		{Emotion: EmotionCrying, Status: StickerStatusReady, ImageURL: "c"},
		{Emotion: EmotionThinking, Status: StickerStatusGenerating, Pipeline: Pipeline{Handle: "h"}},
		{Emotion: EmotionLaughing, Status: StickerStatusReady, ImageURL: "l"},
		{Emotion: EmotionWinking, Status: StickerStatusSkipped},
	}
	got := ReadyStickers(rows)
	if len(got) != 2 || got[0].Emotion != EmotionLaughing || got[1].Emotion != EmotionCrying {
		t.Fatalf("unexpected ready stickers: %+v", got)
	}
}

func TestDecodeLegacyMarker(t *testing.T) {
	p, ok := DecodeLegacyMarker(`{"predictionId":"pred-1","step":"remove_background","rawUrl":"https://x/raw.png"}`)
	if !ok {
		t.Fatalf("expected legacy marker to decode")
	}
	if p.Handle != "pred-1" || p.Step != StepRemoveBackground || p.IntermediateURL != "https://x/raw.png" {
		t.Fatalf("unexpected pipeline: %+v", p)
	}
	if _, ok := DecodeLegacyMarker("https://x/a.png"); ok {
		t.Fatalf("plain url must not decode")
	}
}

func TestJobNextEmotion(t *testing.T) {
	j := &Job{Progress: 2}
	if e, ok := j.NextEmotion(); !ok || e != EmotionAffectionate {
		t.Fatalf("NextEmotion() = %q, %v", e, ok)
	}
	j.Progress = EmotionCount
	if _, ok := j.NextEmotion(); ok {
		t.Fatalf("expected no emotion after the last one")
	}
}
