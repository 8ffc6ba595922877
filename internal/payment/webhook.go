package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"stickerpack/internal/domain"
)

// SignatureHeader carries the hex HMAC of the raw webhook body.
const SignatureHeader = "X-Signature"

// EventOrderCreated is the only event that changes state.
const EventOrderCreated = "order_created"

// Verifier authenticates webhook bodies. An empty secret accepts any
// non-empty signature; callers should warn about that at startup.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(strings.TrimSpace(secret))}
}

// Insecure reports whether signatures are not checked.
func (v *Verifier) Insecure() bool {
	return len(v.secret) == 0
}

// Verify checks signature against body.
func (v *Verifier) Verify(body []byte, signature string) error {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return fmt.Errorf("payment: missing signature: %w", domain.ErrInvalidSignature)
	}
	if v.Insecure() {
		return nil
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("payment: malformed signature: %w", domain.ErrInvalidSignature)
	}
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), got) {
		return fmt.Errorf("payment: signature mismatch: %w", domain.ErrInvalidSignature)
	}
	return nil
}

// Sign returns the signature Lemon Squeezy would send for body.
func (v *Verifier) Sign(body []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Event is the part of a webhook the service acts on.
type Event struct {
	Name            string
	JobID           string
	ProviderOrderID string
	AmountCents     int
	Currency        string
	Status          string
}

// OrderCreated reports whether the event confirms a purchase.
func (e Event) OrderCreated() bool {
	return e.Name == EventOrderCreated
}

type webhookPayload struct {
	Meta struct {
		EventName  string          `json:"event_name"`
		CustomData json.RawMessage `json:"custom_data"`
	} `json:"meta"`
	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			Total        json.Number     `json:"total"`
			Currency     string          `json:"currency"`
			Status       string          `json:"status"`
			CustomData   json.RawMessage `json:"custom_data"`
			CheckoutData struct {
				Custom json.RawMessage `json:"custom"`
			} `json:"checkout_data"`
		} `json:"attributes"`
	} `json:"data"`
}

// ParseEvent decodes a webhook body. For order events the job id is taken
// from the first metadata location that carries one; a missing id is
// ErrInvalidInput.
func ParseEvent(body []byte) (Event, error) {
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return Event{}, fmt.Errorf("payment: decode webhook: %w", domain.ErrInvalidInput)
	}
	ev := Event{
		Name:            p.Meta.EventName,
		ProviderOrderID: p.Data.ID,
		Currency:        strings.ToUpper(p.Data.Attributes.Currency),
		Status:          p.Data.Attributes.Status,
	}
	if ev.Name == "" {
		return Event{}, fmt.Errorf("payment: webhook has no event name: %w", domain.ErrInvalidInput)
	}
	if total, err := p.Data.Attributes.Total.Float64(); err == nil && total > 0 {
		ev.AmountCents = int(math.Round(total))
	}
	for _, raw := range []json.RawMessage{p.Meta.CustomData, p.Data.Attributes.CustomData, p.Data.Attributes.CheckoutData.Custom} {
		if id := jobIDFrom(raw); id != "" {
			ev.JobID = id
			break
		}
	}
	if ev.OrderCreated() && ev.JobID == "" {
		return ev, fmt.Errorf("payment: webhook missing job id: %w", domain.ErrInvalidInput)
	}
	return ev, nil
}

func jobIDFrom(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return ""
	}
	for _, key := range []string{"jobId", "job_id"} {
		switch v := fields[key].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}
