package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker/v2"
)

const defaultHTTPTimeout = 10 * time.Second

type mailAPIRequest struct {
	From        string              `json:"from"`
	To          string              `json:"to"`
	ToName      string              `json:"toName,omitempty"`
	Subject     string              `json:"subject"`
	HTML        string              `json:"html"`
	Attachments []mailAPIAttachment `json:"attachments,omitempty"`
}

type mailAPIAttachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type mailAPIResponse struct {
	MessageID string `json:"messageId"`
	ID        string `json:"id"`
}

// HTTPTransport posts messages to a JSON mail API. Calls go through a circuit
// breaker shared by all sessions.
type HTTPTransport struct {
	client   *resty.Client
	endpoint string
	apiKey   string
	sender   Sender
	breaker  *gobreaker.CircuitBreaker[*resty.Response]
}

func NewHTTPTransport(endpoint, apiKey string, sender Sender) (*HTTPTransport, error) {
	client := resty.New()
	client.SetTimeout(defaultHTTPTimeout)
	client.SetRetryCount(0)

	return NewHTTPTransportWithClient(endpoint, apiKey, sender, client)
}

func NewHTTPTransportWithClient(endpoint, apiKey string, sender Sender, client *resty.Client) (*HTTPTransport, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("mail api endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid mail api endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}
	if err := sender.Validate(); err != nil {
		return nil, err
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultHTTPTimeout)
	}
	client.SetRetryCount(0)

	breaker := gobreaker.NewCircuitBreaker[*resty.Response](gobreaker.Settings{
		Name:        "mail-api",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	return &HTTPTransport{
		client:   client,
		endpoint: trimmedEndpoint,
		apiKey:   strings.TrimSpace(apiKey),
		sender:   sender,
		breaker:  breaker,
	}, nil
}

// Open returns a request-scoped session. The underlying resty client pools
// connections; the session itself holds no state worth releasing.
func (t *HTTPTransport) Open(ctx context.Context) (Session, error) {
	if t == nil || t.client == nil {
		return nil, fmt.Errorf("transport is not initialized")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &httpSession{transport: t}, nil
}

type httpSession struct {
	transport *HTTPTransport
	closed    bool
}

func (s *httpSession) Send(ctx context.Context, msg Message) (*Receipt, error) {
	if s.closed {
		return nil, fmt.Errorf("http session is closed")
	}
	if err := msg.validate(); err != nil {
		return nil, &ProviderError{Message: "invalid message", Cause: err}
	}

	t := s.transport
	reqBody := mailAPIRequest{
		From:    t.sender.String(),
		To:      msg.To,
		ToName:  msg.ToName,
		Subject: msg.Subject,
		HTML:    msg.HTML,
	}
	for _, att := range msg.Attachments {
		reqBody.Attachments = append(reqBody.Attachments, mailAPIAttachment{
			Filename:    att.Filename,
			ContentType: att.ContentType,
			Content:     base64.StdEncoding.EncodeToString(att.Data),
		})
	}

	response, err := t.breaker.Execute(func() (*resty.Response, error) {
		request := t.client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(reqBody).
			SetResult(&mailAPIResponse{})
		if t.apiKey != "" {
			request.SetAuthToken(t.apiKey)
		}

		resp, err := request.Post(t.endpoint)
		if err != nil {
			return nil, err
		}
		if isTransientHTTPStatus(resp.StatusCode()) {
			return resp, fmt.Errorf("mail api returned status %d", resp.StatusCode())
		}
		return resp, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &ProviderError{
				Message:   "mail api circuit open",
				Transient: true,
				Cause:     err,
			}
		}
		if response == nil {
			return nil, &ProviderError{
				Message:   "mail api request failed",
				Transient: !errors.Is(err, context.Canceled),
				Cause:     err,
			}
		}
	}
	if response == nil {
		return nil, &ProviderError{
			Message:   "mail api returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &Receipt{
			StatusCode: statusCode,
			MessageID:  apiMessageID(response),
		}, nil
	}

	return nil, &ProviderError{
		StatusCode: statusCode,
		Message:    apiErrorMessage(statusCode, responseBody),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func (s *httpSession) Close() error {
	s.closed = true
	return nil
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func apiErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("mail api returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}

// apiMessageID prefers the id in the JSON body and falls back to request id
// headers.
func apiMessageID(response *resty.Response) string {
	if response == nil {
		return ""
	}

	if result, ok := response.Result().(*mailAPIResponse); ok && result != nil {
		if id := strings.TrimSpace(result.MessageID); id != "" {
			return id
		}
		if id := strings.TrimSpace(result.ID); id != "" {
			return id
		}
	}

	for _, key := range []string{"X-Message-ID", "X-Request-ID", "X-Request-Id", "X-Correlation-ID"} {
		if value := strings.TrimSpace(response.Header().Get(key)); value != "" {
			return value
		}
	}

	return ""
}
