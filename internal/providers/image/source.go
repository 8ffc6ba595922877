package image

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"stickerpack/pkg/dataurl"
)

const maxImageBytes = 20 << 20

// Fetch returns the bytes and media type of an image referenced by URL or
// data URL.
func Fetch(ctx context.Context, client *http.Client, ref string) ([]byte, string, error) {
	if dataurl.Is(ref) {
		mime, data, err := dataurl.Decode(ref)
		if err != nil {
			return nil, "", fmt.Errorf("decode image: %w", err)
		}
		return data, mime, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSpace(ref), nil)
	if err != nil {
		return nil, "", fmt.Errorf("build image request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("fetch image: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, "", fmt.Errorf("read image: %w", err)
	}
	mime, _, _ := strings.Cut(resp.Header.Get("Content-Type"), ";")
	mime = strings.TrimSpace(mime)
	if mime == "" || mime == "application/octet-stream" {
		mime = http.DetectContentType(data)
	}
	return data, mime, nil
}
