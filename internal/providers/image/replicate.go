package image

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"stickerpack/internal/domain"
	"stickerpack/internal/infra"
)

// ReplicateOptions configures the predictions client.
type ReplicateOptions struct {
	APIToken       string
	BaseURL        string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// ReplicateClient creates and polls asynchronous predictions.
type ReplicateClient struct {
	token      string
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
}

type prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  json.RawMessage `json:"error"`
}

// NewReplicateClient constructs a client with sane defaults.
func NewReplicateClient(opts ReplicateOptions) (*ReplicateClient, error) {
	token := strings.TrimSpace(opts.APIToken)
	if token == "" {
		return nil, ErrMissingAPIKey
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.replicate.com/v1"
	}
	logger := opts.Logger
	if logger == nil {
		l := infra.Logger(zerolog.New(io.Discard))
		logger = &l
	}
	return &ReplicateClient{token: token, baseURL: baseURL, httpClient: httpClient, logger: logger}, nil
}

// Create starts a prediction. model is either "owner/name" for official
// models or "owner/name:version" for a pinned version.
func (c *ReplicateClient) Create(ctx context.Context, model string, input map[string]any) (Result, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return Result{}, errors.New("replicate: model is required")
	}
	endpoint := c.baseURL + "/models/" + model + "/predictions"
	payload := map[string]any{"input": input}
	if _, version, ok := strings.Cut(model, ":"); ok {
		endpoint = c.baseURL + "/predictions"
		payload["version"] = version
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("replicate: encode request: %w", err)
	}
	p, err := c.do(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return Result{}, err
	}
	c.logger.Debug().Str("model", model).Str("prediction", p.ID).Str("status", p.Status).Msg("replicate: prediction created")
	return p.result(), nil
}

// Get polls a prediction by id.
func (c *ReplicateClient) Get(ctx context.Context, id string) (Result, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Failed("missing prediction handle"), nil
	}
	p, err := c.do(ctx, http.MethodGet, c.baseURL+"/predictions/"+id, nil)
	if err != nil {
		return Result{}, err
	}
	return p.result(), nil
}

func (c *ReplicateClient) do(ctx context.Context, method, endpoint string, body []byte) (*prediction, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("replicate: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("replicate: http request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("replicate: read response: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("replicate: %w", domain.ErrRateLimited)
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("replicate: status %d: %s: %w", resp.StatusCode, strings.TrimSpace(string(raw)), domain.ErrProviderFailure)
	}
	var p prediction
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("replicate: decode response: %w", err)
	}
	return &p, nil
}

func (p *prediction) result() Result {
	switch p.Status {
	case "succeeded":
		url := normalizeOutput(p.Output)
		if url == "" {
			return Failed("prediction succeeded without output")
		}
		return Finished(Asset{URL: url, MIME: "image/png"})
	case "failed", "canceled", "aborted":
		reason := p.Status
		var msg string
		if json.Unmarshal(p.Error, &msg) == nil && msg != "" {
			reason = msg
		}
		return Failed(reason)
	default:
		if p.ID == "" {
			return Failed("prediction has no id")
		}
		return Pending(p.ID)
	}
}

// normalizeOutput accepts the output shapes models return: a URL string, a
// list of URLs, or an object carrying a url field.
func normalizeOutput(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return strings.TrimSpace(single)
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		for _, item := range list {
			if url := normalizeOutput(item); url != "" {
				return url
			}
		}
		return ""
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err == nil {
		for _, key := range []string{"url", "image", "output"} {
			if v, ok := obj[key]; ok {
				if url := normalizeOutput(v); url != "" {
					return url
				}
			}
		}
	}
	return ""
}

// ReplicateGenerator runs an image-conditioned model asynchronously.
type ReplicateGenerator struct {
	client *ReplicateClient
	model  string
}

func NewReplicateGenerator(client *ReplicateClient, model string) *ReplicateGenerator {
	return &ReplicateGenerator{client: client, model: model}
}

func (g *ReplicateGenerator) Name() string { return "replicate" }

func (g *ReplicateGenerator) Start(ctx context.Context, req Request) (Result, error) {
	return g.client.Create(ctx, g.model, map[string]any{
		"prompt":           req.Prompt,
		"input_image":      req.SourceImageURL,
		"aspect_ratio":     "1:1",
		"output_format":    "png",
		"safety_tolerance": 2,
	})
}

func (g *ReplicateGenerator) Poll(ctx context.Context, handle string) (Result, error) {
	return g.client.Get(ctx, handle)
}

// ReplicateRemover strips the background from a finished image.
type ReplicateRemover struct {
	client *ReplicateClient
	model  string
}

func NewReplicateRemover(client *ReplicateClient, model string) *ReplicateRemover {
	return &ReplicateRemover{client: client, model: model}
}

func (r *ReplicateRemover) StartRemoval(ctx context.Context, imageURL string) (Result, error) {
	return r.client.Create(ctx, r.model, map[string]any{"image": imageURL})
}

func (r *ReplicateRemover) Poll(ctx context.Context, handle string) (Result, error) {
	return r.client.Get(ctx, handle)
}
