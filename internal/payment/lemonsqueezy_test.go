package payment

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"stickerpack/internal/domain"
)

func TestCreateCheckoutRequiresCredentials(t *testing.T) {
	c := NewClient(Options{APIKey: "key", StoreID: "1"})
	if c.Configured() {
		t.Fatalf("expected client without variant to be unconfigured")
	}
	_, err := c.CreateCheckout(context.Background(), CheckoutRequest{JobID: "job-1"})
	if !errors.Is(err, domain.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestCreateCheckoutSendsJobMetadata(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/checkouts" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Fatalf("authorization header = %q", got)
		}
		if got := r.Header.Get("Content-Type"); got != "application/vnd.api+json" {
			t.Fatalf("content type = %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &captured); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/vnd.api+json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"id":"chk_1","attributes":{"url":"https://shop.lemonsqueezy.com/checkout/abc"}}}`))
	}))
	defer srv.Close()

	c := NewClient(Options{
		APIKey:        "test-key",
		StoreID:       "111",
		VariantID:     "222",
		BaseURL:       srv.URL,
		PublicBaseURL: "https://stickers.example.com/",
		HTTPClient:    srv.Client(),
	})
	checkout, err := c.CreateCheckout(context.Background(), CheckoutRequest{JobID: "job-42", PackName: "Pixar 3D", AmountCents: 499})
	if err != nil {
		t.Fatalf("CreateCheckout: %v", err)
	}
	if checkout.URL != "https://shop.lemonsqueezy.com/checkout/abc" || checkout.ID != "chk_1" {
		t.Fatalf("unexpected checkout %+v", checkout)
	}

	data := captured["data"].(map[string]any)
	attrs := data["attributes"].(map[string]any)
	custom := attrs["checkout_data"].(map[string]any)["custom"].(map[string]any)
	if custom["jobId"] != "job-42" || custom["job_id"] != "job-42" {
		t.Fatalf("custom data = %#v", custom)
	}
	redirect := attrs["product_options"].(map[string]any)["redirect_url"]
	if redirect != "https://stickers.example.com/generate/job-42" {
		t.Fatalf("redirect_url = %v", redirect)
	}
	if attrs["custom_price"] != float64(499) {
		t.Fatalf("custom_price = %v", attrs["custom_price"])
	}
	rel := data["relationships"].(map[string]any)
	store := rel["store"].(map[string]any)["data"].(map[string]any)
	variant := rel["variant"].(map[string]any)["data"].(map[string]any)
	if store["id"] != "111" || variant["id"] != "222" {
		t.Fatalf("relationships = %#v", rel)
	}
}

func TestCreateCheckoutSurfacesProviderErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"errors":[{"status":"422","title":"Unprocessable","detail":"The variant does not exist."}]}`))
	}))
	defer srv.Close()

	c := NewClient(Options{APIKey: "k", StoreID: "1", VariantID: "2", BaseURL: srv.URL, HTTPClient: srv.Client()})
	_, err := c.CreateCheckout(context.Background(), CheckoutRequest{JobID: "job-1"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if got := err.Error(); got != "payment: checkout status 422: The variant does not exist." {
		t.Fatalf("unexpected error %q", got)
	}
}
