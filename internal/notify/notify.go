// Package notify delivers download links to customers.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"stickerpack/internal/infra"
)

// Download is a finished pack ready to be sent.
type Download struct {
	To     string
	JobID  string
	URL    string
	Expiry time.Duration
}

// Notifier sends download links.
type Notifier interface {
	SendDownload(ctx context.Context, d Download) error
}

var downloadTemplate = template.Must(template.New("download").Parse(`<div style="font-family: sans-serif; max-width: 600px; margin: 0 auto;">
  <h2>Your stickers are here!</h2>
  <p>Thank you for your purchase. You can download your sticker pack using the button below:</p>
  <div style="margin: 30px 0;">
    <a href="{{.URL}}" style="background-color: #8b5cf6; color: white; padding: 12px 24px; text-decoration: none; border-radius: 8px; font-weight: bold;">Download Sticker Pack</a>
  </div>
  <p style="color: #666; font-size: 14px;">This link will expire in {{.Hours}} hours.</p>
  <p style="color: #666; font-size: 14px;">If you have any issues, please contact support with your Job ID: {{.JobID}}</p>
</div>`))

// RenderDownload renders the HTML body for d.
func RenderDownload(d Download) (string, error) {
	hours := int(d.Expiry.Hours())
	if hours <= 0 {
		hours = 48
	}
	var buf bytes.Buffer
	err := downloadTemplate.Execute(&buf, struct {
		URL   string
		JobID string
		Hours int
	}{URL: d.URL, JobID: d.JobID, Hours: hours})
	if err != nil {
		return "", fmt.Errorf("notify: render email: %w", err)
	}
	return buf.String(), nil
}

// ResendOptions configures the Resend client.
type ResendOptions struct {
	APIKey     string
	BaseURL    string
	From       string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// ResendNotifier sends mail through the Resend HTTP API.
type ResendNotifier struct {
	apiKey     string
	baseURL    string
	from       string
	httpClient *http.Client
	logger     *infra.Logger
}

func NewResendNotifier(opts ResendOptions) *ResendNotifier {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.resend.com"
	}
	from := opts.From
	if from == "" {
		from = "AI Stickers <noreply@stickers.local>"
	}
	return &ResendNotifier{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		from:       from,
		httpClient: httpClient,
		logger:     loggerOrNop(opts.Logger),
	}
}

func (n *ResendNotifier) SendDownload(ctx context.Context, d Download) error {
	html, err := RenderDownload(d)
	if err != nil {
		return err
	}
	body, err := json.Marshal(map[string]any{
		"from":    n.from,
		"to":      []string{d.To},
		"subject": "Your Sticker Pack is Ready!",
		"html":    html,
	})
	if err != nil {
		return fmt.Errorf("notify: encode email: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+n.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify: send email: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("notify: resend status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	n.logger.Info().Str("job_id", d.JobID).Msg("notify: download email sent")
	return nil
}

// LogNotifier only logs the link. Used when no mail provider is configured.
type LogNotifier struct {
	logger *infra.Logger
}

func NewLogNotifier(logger *infra.Logger) *LogNotifier {
	return &LogNotifier{logger: loggerOrNop(logger)}
}

func (n *LogNotifier) SendDownload(ctx context.Context, d Download) error {
	n.logger.Info().Str("job_id", d.JobID).Str("to", d.To).Str("url", d.URL).Msg("notify: email provider not configured, download link logged")
	return nil
}

// FromConfig picks Resend when an API key is present.
func FromConfig(cfg *infra.Config, logger *infra.Logger) Notifier {
	if cfg == nil || strings.TrimSpace(cfg.ResendAPIKey) == "" {
		return NewLogNotifier(logger)
	}
	return NewResendNotifier(ResendOptions{
		APIKey:  cfg.ResendAPIKey,
		BaseURL: cfg.ResendBaseURL,
		From:    cfg.EmailFrom,
		Logger:  logger,
	})
}

func loggerOrNop(logger *infra.Logger) *infra.Logger {
	if logger != nil {
		return logger
	}
	l := zerolog.Nop()
	return &l
}

var (
	_ Notifier = (*ResendNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
)
