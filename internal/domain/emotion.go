package domain

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Emotion names one of the nine expressions every sticker pack contains.
type Emotion string

const (
	EmotionLaughing     Emotion = "laughing"
	EmotionRollingLaugh Emotion = "rolling_laugh"
	EmotionAffectionate Emotion = "affectionate"
	EmotionLoveStruck   Emotion = "love_struck"
	EmotionThinking     Emotion = "thinking"
	EmotionWinking      Emotion = "winking"
	EmotionPleading     Emotion = "pleading"
	EmotionBlowingKiss  Emotion = "blowing_kiss"
	EmotionCrying       Emotion = "crying"
)

// Emotions lists every emotion in generation order. A job's progress indexes
// into this slice.
var Emotions = []Emotion{
	EmotionLaughing,
	EmotionRollingLaugh,
	EmotionAffectionate,
	EmotionLoveStruck,
	EmotionThinking,
	EmotionWinking,
	EmotionPleading,
	EmotionBlowingKiss,
	EmotionCrying,
}

// EmotionCount is the number of stickers in a complete pack.
const EmotionCount = 9

type emotionInfo struct {
	emoji      string
	expression string
	color      string
}

var emotionCatalog = map[Emotion]emotionInfo{
	EmotionLaughing:     {"😂", "head slightly tilted back, tightly closed smiling eyes, wide open laughing mouth, energetic comic body movement", "#FFD93D"},
	EmotionRollingLaugh: {"🤣", "leaning back dramatically, eyes squeezed shut, very wide open mouth, exaggerated laughing pose", "#FF9F1C"},
	EmotionAffectionate: {"🥰", "soft smile, glowing eyes, slight head tilt, hands gently close to chest", "#FF8FAB"},
	EmotionLoveStruck:   {"😍", "big sparkling eyes, wide dreamy smile, forward-leaning excited posture", "#FF4D6D"},
	EmotionThinking:     {"🤔", "slight frown, eyes looking up or sideways, hand under chin, thoughtful head tilt", "#A0C4FF"},
	EmotionWinking:      {"😉", "one eye closed, playful smirk, confident relaxed posture", "#B9FBC0"},
	EmotionPleading:     {"🥺", "large glossy eyes, slightly raised inner eyebrows, small pout, hands close together near chest", "#CDB4DB"},
	EmotionBlowingKiss:  {"😘", "puckered lips, soft closed eyes or gentle wink, hand near mouth in kiss gesture", "#FFC8DD"},
	EmotionCrying:       {"😢", "teary eyes, slightly downturned mouth, subtle slouched posture, emotional expression", "#8ECAE6"},
}

var titleCaser = cases.Title(language.English)

// ParseEmotion validates a raw emotion key.
func ParseEmotion(raw string) (Emotion, bool) {
	e := Emotion(strings.ToLower(strings.TrimSpace(raw)))
	_, ok := emotionCatalog[e]
	return e, ok
}

// EmotionAt returns the emotion processed at the given progress index.
func EmotionAt(index int) (Emotion, bool) {
	if index < 0 || index >= len(Emotions) {
		return "", false
	}
	return Emotions[index], true
}

// Index returns the position of e in generation order, or -1.
func (e Emotion) Index() int {
	for i, candidate := range Emotions {
		if candidate == e {
			return i
		}
	}
	return -1
}

func (e Emotion) Emoji() string      { return emotionCatalog[e].emoji }
func (e Emotion) Expression() string { return emotionCatalog[e].expression }
func (e Emotion) Color() string      { return emotionCatalog[e].color }

// Label renders the key for humans, e.g. "rolling_laugh" becomes "Rolling Laugh".
func (e Emotion) Label() string {
	return titleCaser.String(strings.ReplaceAll(string(e), "_", " "))
}
