// Package payment talks to Lemon Squeezy: it opens checkout sessions for a
// job and authenticates the order webhooks that mark the job paid.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"stickerpack/internal/domain"
	"stickerpack/internal/infra"
)

// Options configures the checkout client.
type Options struct {
	APIKey        string
	StoreID       string
	VariantID     string
	BaseURL       string
	PublicBaseURL string
	HTTPClient    *http.Client
	Logger        *infra.Logger
}

// Client creates hosted checkout sessions.
type Client struct {
	apiKey        string
	storeID       string
	variantID     string
	baseURL       string
	publicBaseURL string
	httpClient    *http.Client
	logger        *infra.Logger
}

// CheckoutRequest describes the session to open.
type CheckoutRequest struct {
	JobID       string
	PackName    string
	AmountCents int
}

// Checkout is an opened session.
type Checkout struct {
	ID  string
	URL string
}

// NewClient returns a client. Missing credentials are reported by
// CreateCheckout, not here, so the API can start without payment keys.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		l := zerolog.Nop()
		logger = &l
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.lemonsqueezy.com"
	}
	return &Client{
		apiKey:        strings.TrimSpace(opts.APIKey),
		storeID:       strings.TrimSpace(opts.StoreID),
		variantID:     strings.TrimSpace(opts.VariantID),
		baseURL:       baseURL,
		publicBaseURL: strings.TrimRight(opts.PublicBaseURL, "/"),
		httpClient:    httpClient,
		logger:        logger,
	}
}

// Configured reports whether checkouts can be created.
func (c *Client) Configured() bool {
	return c.apiKey != "" && c.storeID != "" && c.variantID != ""
}

type jsonAPIRelation struct {
	Data struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	} `json:"data"`
}

type checkoutPayload struct {
	Data struct {
		Type       string `json:"type"`
		Attributes struct {
			CustomPrice    *int `json:"custom_price,omitempty"`
			ProductOptions struct {
				Name        string `json:"name,omitempty"`
				RedirectURL string `json:"redirect_url"`
			} `json:"product_options"`
			CheckoutData struct {
				Custom map[string]string `json:"custom"`
			} `json:"checkout_data"`
		} `json:"attributes"`
		Relationships struct {
			Store   jsonAPIRelation `json:"store"`
			Variant jsonAPIRelation `json:"variant"`
		} `json:"relationships"`
	} `json:"data"`
}

type checkoutResponse struct {
	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			URL string `json:"url"`
		} `json:"attributes"`
	} `json:"data"`
	Errors []struct {
		Status string `json:"status"`
		Title  string `json:"title"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

// CreateCheckout opens a hosted checkout carrying the job id in its custom
// data, redirecting back to the job's generation page.
func (c *Client) CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("payment: lemon squeezy credentials missing: %w", domain.ErrNotConfigured)
	}
	if strings.TrimSpace(req.JobID) == "" {
		return nil, fmt.Errorf("payment: job id required: %w", domain.ErrInvalidInput)
	}

	var payload checkoutPayload
	payload.Data.Type = "checkouts"
	attrs := &payload.Data.Attributes
	if req.AmountCents > 0 {
		price := req.AmountCents
		attrs.CustomPrice = &price
	}
	attrs.ProductOptions.Name = req.PackName
	attrs.ProductOptions.RedirectURL = fmt.Sprintf("%s/generate/%s", c.publicBaseURL, req.JobID)
	attrs.CheckoutData.Custom = map[string]string{"jobId": req.JobID, "job_id": req.JobID}
	payload.Data.Relationships.Store.Data.Type = "stores"
	payload.Data.Relationships.Store.Data.ID = c.storeID
	payload.Data.Relationships.Variant.Data.Type = "variants"
	payload.Data.Relationships.Variant.Data.ID = c.variantID

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("payment: encode checkout: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/checkouts", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("payment: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Accept", "application/vnd.api+json")
	httpReq.Header.Set("Content-Type", "application/vnd.api+json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("payment: create checkout: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("payment: read response: %w", err)
	}

	var parsed checkoutResponse
	_ = json.Unmarshal(raw, &parsed)
	if resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(raw))
		if len(parsed.Errors) > 0 {
			msg = parsed.Errors[0].Detail
			if msg == "" {
				msg = parsed.Errors[0].Title
			}
		}
		c.logger.Error().Int("status", resp.StatusCode).Str("job_id", req.JobID).Str("error", msg).Msg("payment: checkout rejected")
		return nil, fmt.Errorf("payment: checkout status %d: %s", resp.StatusCode, msg)
	}
	if parsed.Data.Attributes.URL == "" {
		return nil, fmt.Errorf("payment: checkout response missing url")
	}
	c.logger.Info().Str("job_id", req.JobID).Str("checkout_id", parsed.Data.ID).Dur("took", time.Since(start)).Msg("payment: checkout created")
	return &Checkout{ID: parsed.Data.ID, URL: parsed.Data.Attributes.URL}, nil
}
