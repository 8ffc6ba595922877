package image

import (
	"context"
	"fmt"
	"html"

	"stickerpack/internal/domain"
	"stickerpack/pkg/dataurl"
)

// PlaceholderGenerator renders a coloured SVG badge per emotion. It keeps the
// whole pipeline usable when no image provider is configured.
type PlaceholderGenerator struct{}

func NewPlaceholderGenerator() *PlaceholderGenerator { return &PlaceholderGenerator{} }

func (PlaceholderGenerator) Name() string { return "placeholder" }

func (PlaceholderGenerator) Start(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return Finished(Asset{URL: PlaceholderSVG(req.Emotion), MIME: "image/svg+xml"}), nil
}

func (PlaceholderGenerator) Poll(ctx context.Context, handle string) (Result, error) {
	return Failed("placeholder predictions complete synchronously"), nil
}

// PlaceholderSVG returns a data URL for the emotion's placeholder artwork.
func PlaceholderSVG(emotion domain.Emotion) string {
	color := emotion.Color()
	if color == "" {
		color = "#CCCCCC"
	}
	svg := fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" width="512" height="512" viewBox="0 0 512 512">`+
		`<circle cx="256" cy="256" r="240" fill="%s"/>`+
		`<text x="256" y="290" font-size="200" text-anchor="middle">%s</text>`+
		`<text x="256" y="430" font-size="40" font-family="sans-serif" text-anchor="middle" fill="#333">%s</text>`+
		`</svg>`, color, emotion.Emoji(), html.EscapeString(emotion.Label()))
	return dataurl.Encode("image/svg+xml", []byte(svg))
}
