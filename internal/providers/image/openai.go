package image

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"stickerpack/internal/domain"
	"stickerpack/internal/infra"
)

// ErrMissingAPIKey indicates that a client was configured without credentials.
var ErrMissingAPIKey = errors.New("image: api key is required")

// OpenAIOptions configures the OpenAI image edit client.
type OpenAIOptions struct {
	APIKey         string
	BaseURL        string
	Model          string
	Size           string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// OpenAIGenerator edits the source photo into a sticker in one synchronous
// call, so Start always returns Finished or Failed.
type OpenAIGenerator struct {
	apiKey     string
	baseURL    string
	model      string
	size       string
	httpClient *http.Client
	logger     *infra.Logger
}

type openAIImageResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
		URL     string `json:"url"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// NewOpenAIGenerator constructs a generator with sane defaults.
func NewOpenAIGenerator(opts OpenAIOptions) (*OpenAIGenerator, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 120 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "gpt-image-1"
	}
	size := strings.TrimSpace(opts.Size)
	if size == "" {
		size = "1024x1024"
	}
	logger := opts.Logger
	if logger == nil {
		l := infra.Logger(zerolog.New(io.Discard))
		logger = &l
	}
	return &OpenAIGenerator{
		apiKey:     apiKey,
		baseURL:    baseURL,
		model:      model,
		size:       size,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

func (g *OpenAIGenerator) Name() string { return "openai" }

// Start sends the source photo and prompt to the image edit endpoint.
func (g *OpenAIGenerator) Start(ctx context.Context, req Request) (Result, error) {
	source, mime, err := Fetch(ctx, g.httpClient, req.SourceImageURL)
	if err != nil {
		return Result{}, err
	}
	body, contentType, err := g.encodeEdit(req.Prompt, source, mime)
	if err != nil {
		return Result{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/images/edits", body)
	if err != nil {
		return Result{}, fmt.Errorf("openai: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)

	start := time.Now()
	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("openai: http request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("openai: read response: %w", err)
	}

	var decoded openAIImageResponse
	_ = json.Unmarshal(raw, &decoded)
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return Result{}, fmt.Errorf("openai: %w", domain.ErrRateLimited)
	case resp.StatusCode >= 500:
		return Result{}, fmt.Errorf("openai: status %d: %w", resp.StatusCode, domain.ErrProviderFailure)
	case resp.StatusCode >= 300:
		reason := fmt.Sprintf("status %d", resp.StatusCode)
		if decoded.Error != nil && decoded.Error.Message != "" {
			reason = decoded.Error.Message
		}
		return Failed(reason), nil
	}
	if len(decoded.Data) == 0 {
		return Failed("no image data returned"), nil
	}
	item := decoded.Data[0]
	g.logger.Debug().
		Str("model", g.model).
		Str("job_id", req.JobID).
		Str("emotion", string(req.Emotion)).
		Dur("took", time.Since(start)).
		Msg("openai: generated sticker")
	if item.B64JSON != "" {
		data, err := base64.StdEncoding.DecodeString(item.B64JSON)
		if err != nil {
			return Failed("invalid base64 image payload"), nil
		}
		return Finished(Asset{Data: data, MIME: "image/png"}), nil
	}
	if item.URL != "" {
		return Finished(Asset{URL: item.URL, MIME: "image/png"}), nil
	}
	return Failed("no image data returned"), nil
}

// Poll is never reached for a synchronous provider.
func (g *OpenAIGenerator) Poll(ctx context.Context, handle string) (Result, error) {
	return Failed("openai predictions complete synchronously"), nil
}

func (g *OpenAIGenerator) encodeEdit(prompt string, source []byte, mime string) (io.Reader, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	fields := map[string]string{
		"model":         g.model,
		"prompt":        prompt,
		"size":          g.size,
		"background":    "transparent",
		"output_format": "png",
		"quality":       "high",
		"n":             "1",
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("openai: encode field %s: %w", k, err)
		}
	}
	if mime == "" {
		mime = "image/png"
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="image"; filename="source`+ExtensionFor(mime)+`"`)
	header.Set("Content-Type", mime)
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("openai: create image part: %w", err)
	}
	if _, err := part.Write(source); err != nil {
		return nil, "", fmt.Errorf("openai: write image part: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("openai: close multipart: %w", err)
	}
	return buf, w.FormDataContentType(), nil
}

// ExtensionFor maps an image media type to a file extension, defaulting to .png.
func ExtensionFor(mime string) string {
	switch strings.ToLower(mime) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/svg+xml":
		return ".svg"
	case "image/gif":
		return ".gif"
	default:
		return ".png"
	}
}
