package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCreatePaymentLink(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "key" || pass != "secret" || r.URL.Path != "/v1/payment_links" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req createLinkRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Amount != 29900 || req.ReferenceID != "OD123" || req.Currency != "INR" {
			t.Errorf("req = %+v", req)
		}
		_, _ = w.Write([]byte(`{"id":"plink_1","short_url":"https://rzp.io/i/abc"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", "secret", time.Second)
	link, err := c.CreatePaymentLink(context.Background(), "t1", "OD123", 29900)
	if err != nil {
		t.Fatal(err)
	}
	if link.ID != "plink_1" || link.URL != "https://rzp.io/i/abc" {
		t.Fatalf("link = %+v", link)
	}
}

func TestCreatePaymentLinkFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"description":"bad"}}`))
	}))
	defer srv.Close()

	if _, err := NewClient("", "", "", time.Second).CreatePaymentLink(context.Background(), "t", "OD1", 100); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err = %v", err)
	}
	if _, err := NewClient(srv.URL, "k", "s", time.Second).CreatePaymentLink(context.Background(), "t", "OD1", 100); err == nil {
		t.Fatal("expected provider error")
	}
	if _, err := NewClient(srv.URL, "k", "s", time.Second).CreatePaymentLink(context.Background(), "t", "OD1", 0); err == nil {
		t.Fatal("expected amount error")
	}
}
