package payout

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/lendpool/internal/model"
)

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c := NewClient(url, zap.NewNop())
	c.httpClient.RetryWaitMin = time.Millisecond
	c.httpClient.RetryWaitMax = 5 * time.Millisecond
	return c
}

func testTransfer() model.Transfer {
	return model.Transfer{
		ID:     "6c1f2a9e-4d1b-4a51-9d1e-0a3c5d7b9e11",
		To:     "lender.near",
		Amount: model.NewAmount(1500),
		Reason: "withdraw",
	}
}

func TestPay_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/api/transfers" {
			t.Errorf("path = %s, want /api/transfers", r.URL.Path)
		}
		if got := r.Header.Get("Idempotency-Key"); got != testTransfer().ID {
			t.Errorf("Idempotency-Key = %q", got)
		}

		var body model.Transfer
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if body.To != "lender.near" || body.Amount.String() != "1500" {
			t.Errorf("unexpected body: %+v", body)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer ts.Close()

	client := newTestClient(t, ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := client.Pay(ctx, testTransfer()); err != nil {
		t.Fatalf("Pay error: %v", err)
	}
}

func TestPay_DuplicateIsSuccess(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer ts.Close()

	if err := newTestClient(t, ts.URL).Pay(context.Background(), testTransfer()); err != nil {
		t.Fatalf("Pay error: %v", err)
	}
}

func TestPay_Rejected(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer ts.Close()

	err := newTestClient(t, ts.URL).Pay(context.Background(), testTransfer())
	if err == nil {
		t.Fatalf("expected error for rejected transfer")
	}
}

func TestPay_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	if err := newTestClient(t, ts.URL).Pay(context.Background(), testTransfer()); err != nil {
		t.Fatalf("Pay error: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("calls = %d, want 3", got)
	}
}

func TestPay_GivesUp(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	if err := newTestClient(t, ts.URL).Pay(context.Background(), testTransfer()); err == nil {
		t.Fatalf("expected error after retries")
	}
	if got := calls.Load(); got != 4 {
		t.Fatalf("calls = %d, want 4", got)
	}
}

func TestNewClient_AddsScheme(t *testing.T) {
	c := NewClient("payouts:8081/", zap.NewNop())
	if c.baseURL != "http://payouts:8081" {
		t.Fatalf("baseURL = %q", c.baseURL)
	}
}

func TestLogPayer(t *testing.T) {
	if err := NewLogPayer(zap.NewNop()).Pay(context.Background(), testTransfer()); err != nil {
		t.Fatalf("LogPayer error: %v", err)
	}
}
