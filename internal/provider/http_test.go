package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/reminder-dispatch/internal/domain"
	"github.com/sony/gobreaker/v2"
)

var testSender = Sender{Address: "billing@example.com", Name: "Billing"}

func sendOnce(t *testing.T, transport Transport, msg Message) (*Receipt, error) {
	t.Helper()

	session, err := transport.Open(context.Background())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = session.Close() }()

	return session.Send(context.Background(), msg)
}

func TestHTTPTransportSendSuccess(t *testing.T) {
	t.Parallel()

	var gotBody mailAPIRequest
	var gotAuth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		gotAuth = r.Header.Get("Authorization")

		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"messageId":"api-msg-1"}`))
	}))
	defer server.Close()

	transport, err := NewHTTPTransport(server.URL, "secret-key", testSender)
	if err != nil {
		t.Fatalf("NewHTTPTransport() error = %v", err)
	}

	receipt, err := sendOnce(t, transport, Message{
		To:      "ana@example.com",
		ToName:  "Ana",
		Subject: "Reminder",
		HTML:    "<p>hi</p>",
		Attachments: []Attachment{
			{Filename: "invoice.txt", ContentType: "text/plain", Data: []byte("hello")},
		},
	})
	if err != nil {
		t.Fatalf("Send() unexpected error: %v", err)
	}

	if receipt.StatusCode != http.StatusAccepted {
		t.Fatalf("StatusCode = %d, want %d", receipt.StatusCode, http.StatusAccepted)
	}
	if receipt.MessageID != "api-msg-1" {
		t.Fatalf("MessageID = %q, want api-msg-1", receipt.MessageID)
	}
	if gotAuth != "Bearer secret-key" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	if gotBody.To != "ana@example.com" || gotBody.Subject != "Reminder" || gotBody.HTML != "<p>hi</p>" {
		t.Fatalf("request body = %+v", gotBody)
	}
	if len(gotBody.Attachments) != 1 || gotBody.Attachments[0].Content != "aGVsbG8=" {
		t.Fatalf("attachments = %+v", gotBody.Attachments)
	}
}

func TestHTTPTransportMessageIDFromHeader(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Request-ID", "header-msg-1")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	transport, err := NewHTTPTransport(server.URL, "", testSender)
	if err != nil {
		t.Fatalf("NewHTTPTransport() error = %v", err)
	}

	receipt, err := sendOnce(t, transport, Message{To: "ana@example.com", Subject: "s", HTML: "b"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if receipt.MessageID != "header-msg-1" {
		t.Fatalf("MessageID = %q, want header-msg-1", receipt.MessageID)
	}
}

func TestHTTPTransportStatusClassification(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name          string
		statusCode    int
		wantTransient bool
	}{
		{name: "too many requests is transient", statusCode: http.StatusTooManyRequests, wantTransient: true},
		{name: "bad request is permanent", statusCode: http.StatusBadRequest, wantTransient: false},
		{name: "internal server error is transient", statusCode: http.StatusInternalServerError, wantTransient: true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.statusCode)
				_, _ = w.Write([]byte("api failed"))
			}))
			defer server.Close()

			transport, err := NewHTTPTransport(server.URL, "", testSender)
			if err != nil {
				t.Fatalf("NewHTTPTransport() error = %v", err)
			}

			_, err = sendOnce(t, transport, Message{To: "ana@example.com", Subject: "s", HTML: "b"})
			if err == nil {
				t.Fatal("expected error")
			}

			if got := IsTransient(err); got != tc.wantTransient {
				t.Fatalf("IsTransient() = %v, want %v", got, tc.wantTransient)
			}
			if !errors.Is(err, domain.ErrTransportFailure) {
				t.Fatalf("error should match ErrTransportFailure: %v", err)
			}

			var providerErr *ProviderError
			if !errors.As(err, &providerErr) {
				t.Fatalf("expected ProviderError, got %T", err)
			}
			if providerErr.StatusCode != tc.statusCode {
				t.Fatalf("ProviderError.StatusCode = %d, want %d", providerErr.StatusCode, tc.statusCode)
			}
		})
	}
}

func TestHTTPTransportTimeoutIsTransient(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := resty.New()
	client.SetTimeout(30 * time.Millisecond)

	transport, err := NewHTTPTransportWithClient(server.URL, "", testSender, client)
	if err != nil {
		t.Fatalf("NewHTTPTransportWithClient() error = %v", err)
	}

	_, err = sendOnce(t, transport, Message{To: "ana@example.com", Subject: "s", HTML: "b"})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !IsTransient(err) {
		t.Fatalf("IsTransient() = false, want true (err=%v)", err)
	}
}

func TestHTTPTransportBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	transport, err := NewHTTPTransport(server.URL, "", testSender)
	if err != nil {
		t.Fatalf("NewHTTPTransport() error = %v", err)
	}

	msg := Message{To: "ana@example.com", Subject: "s", HTML: "b"}
	for i := 0; i < 6; i++ {
		if _, err := sendOnce(t, transport, msg); err == nil {
			t.Fatalf("call %d: expected error", i)
		}
	}

	_, err = sendOnce(t, transport, msg)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("Send() error = %v, want open breaker", err)
	}
	if calls.Load() != 6 {
		t.Fatalf("server calls = %d, want 6", calls.Load())
	}
}

func TestHTTPTransportBadRequestDoesNotTripBreaker(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	transport, err := NewHTTPTransport(server.URL, "", testSender)
	if err != nil {
		t.Fatalf("NewHTTPTransport() error = %v", err)
	}

	msg := Message{To: "ana@example.com", Subject: "s", HTML: "b"}
	for i := 0; i < 10; i++ {
		_, err := sendOnce(t, transport, msg)
		if errors.Is(err, gobreaker.ErrOpenState) {
			t.Fatalf("call %d: breaker opened on client errors", i)
		}
	}
}

func TestNewHTTPTransportValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewHTTPTransport("", "", testSender); err == nil {
		t.Fatal("expected error for empty endpoint")
	}
	if _, err := NewHTTPTransport("not a url", "", testSender); err == nil {
		t.Fatal("expected error for invalid endpoint")
	}
	if _, err := NewHTTPTransport("http://localhost", "", Sender{}); err == nil {
		t.Fatal("expected error for missing sender")
	}
}
