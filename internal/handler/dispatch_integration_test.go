package handler

import (
	"bytes"
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/reminder-dispatch/internal/domain"
	"github.com/kursadbilgin/reminder-dispatch/internal/observability"
	"github.com/kursadbilgin/reminder-dispatch/internal/ratelimit"
	"github.com/kursadbilgin/reminder-dispatch/internal/service"
	"github.com/kursadbilgin/reminder-dispatch/internal/transport"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func TestDispatchIntegration_Bulk(t *testing.T) {
	t.Parallel()

	svc := &stubDispatchService{
		dispatchBatchFn: func(ctx context.Context, req domain.DispatchRequest) (*service.BatchOutcome, error) {
			if err := req.Validate(domain.DefaultMaxBatchSize); err != nil {
				return nil, err
			}
			if correlationID, _ := observability.CorrelationIDFromContext(ctx); correlationID != "req-1" {
				t.Fatalf("correlation id = %q, want req-1", correlationID)
			}
			if req.Recipients[1].DisplayName != "Bo" || req.Recipients[1].Billing == nil {
				t.Fatalf("recipient object not decoded: %+v", req.Recipients[1])
			}
			return &service.BatchOutcome{
				Success:    true,
				BatchID:    "batch-1",
				Statistics: domain.Statistics{Total: 2, Successful: 0, Failed: 2, SuccessRate: "0.00%"},
				Results: []domain.DispatchResult{
					{Address: "ana@example.com", Kind: domain.KindTransportFailure, Error: "transport error"},
					{Address: "bo@example.com", Kind: domain.KindTransportFailure, Error: "transport error"},
				},
			}, nil
		},
	}
	app := newDispatchTestApp(t, svc)

	body := `{"recipients":["ana@example.com",{"address":"bo@example.com","displayName":"Bo","billing":{"amountDue":10.5,"overdueInstallments":1}}],"subject":"Reminder","template":"first-notice"}`
	resp, raw := performRequest(t, app, http.MethodPost, "/v1/dispatch/bulk", body, "req-1")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200 even when every recipient failed, body=%s", resp.StatusCode, string(raw))
	}

	var parsed map[string]any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	stats, _ := parsed["statistics"].(map[string]any)
	if stats["successRate"] != "0.00%" {
		t.Fatalf("successRate = %v, want 0.00%%", stats["successRate"])
	}

	resp, raw = performRequest(t, app, http.MethodPost, "/v1/dispatch/bulk", `{"recipients":[],"subject":"x","template":"first-notice"}`, "req-1")
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body=%s", resp.StatusCode, string(raw))
	}
	assertKind(t, raw, domain.KindValidationFailure)

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/dispatch/bulk", `{`, "")
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for malformed body", resp.StatusCode)
	}
}

func TestDispatchIntegration_BulkErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		err            error
		wantStatus     int
		wantKind       domain.ErrorKind
		wantRetryAfter string
	}{
		{
			name:           "hourly limit",
			err:            &ratelimit.LimitError{Kind: domain.KindHourlyLimitExceeded, RetryAfter: 45 * time.Minute, Requested: 101},
			wantStatus:     fiber.StatusTooManyRequests,
			wantKind:       domain.KindHourlyLimitExceeded,
			wantRetryAfter: "2700",
		},
		{
			name:       "template missing",
			err:        fmt.Errorf("%w: %q", domain.ErrTemplateNotFound, "first-notice"),
			wantStatus: fiber.StatusNotFound,
			wantKind:   domain.KindTemplateNotFound,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			svc := &stubDispatchService{
				dispatchBatchFn: func(ctx context.Context, req domain.DispatchRequest) (*service.BatchOutcome, error) {
					return nil, tt.err
				},
			}
			app := newDispatchTestApp(t, svc)

			body := `{"recipients":["ana@example.com"],"subject":"Reminder","template":"first-notice"}`
			resp, raw := performRequest(t, app, http.MethodPost, "/v1/dispatch/bulk", body, "")
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d, body=%s", resp.StatusCode, tt.wantStatus, string(raw))
			}
			if got := resp.Header.Get(fiber.HeaderRetryAfter); got != tt.wantRetryAfter {
				t.Fatalf("Retry-After = %q, want %q", got, tt.wantRetryAfter)
			}
			assertKind(t, raw, tt.wantKind)
		})
	}
}

func TestDispatchIntegration_Single(t *testing.T) {
	t.Parallel()

	svc := &stubDispatchService{
		dispatchSingleFn: func(ctx context.Context, req service.SingleRequest) (*domain.DispatchResult, error) {
			switch req.Recipient.Address {
			case "ok@example.com":
				return &domain.DispatchResult{Address: req.Recipient.Address, Success: true, MessageID: "m-1"}, nil
			case "temp@yopmail.com":
				return nil, fmt.Errorf("%w: %q", domain.ErrDisposableAddress, req.Recipient.Address)
			default:
				result := &domain.DispatchResult{Address: req.Recipient.Address, Error: "smtp 554", Kind: domain.KindTransportFailure}
				return result, fmt.Errorf("%w: smtp 554", domain.ErrTransportFailure)
			}
		},
	}
	app := newDispatchTestApp(t, svc)

	resp, raw := performRequest(t, app, http.MethodPost, "/v1/dispatch/single", `{"recipient":"ok@example.com","subject":"Hi","template":"contact-request"}`, "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(raw))
	}
	var parsed domain.DispatchResult
	if err := json.Unmarshal(raw, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if !parsed.Success || parsed.MessageID != "m-1" {
		t.Fatalf("response = %+v", parsed)
	}

	resp, raw = performRequest(t, app, http.MethodPost, "/v1/dispatch/single", `{"recipient":"temp@yopmail.com","subject":"Hi","template":"contact-request"}`, "")
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body=%s", resp.StatusCode, string(raw))
	}
	assertKind(t, raw, domain.KindDisposableAddress)

	resp, raw = performRequest(t, app, http.MethodPost, "/v1/dispatch/single", `{"recipient":"down@example.com","subject":"Hi","template":"contact-request"}`, "")
	if resp.StatusCode != fiber.StatusBadGateway {
		t.Fatalf("status = %d, want 502, body=%s", resp.StatusCode, string(raw))
	}
	assertKind(t, raw, domain.KindTransportFailure)
	var failed domain.DispatchResult
	if err := json.Unmarshal(raw, &failed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if failed.Address != "down@example.com" || failed.Success || failed.Error != "smtp 554" {
		t.Fatalf("failed result = %+v, want address and error", failed)
	}
}

func TestDispatchIntegration_Async(t *testing.T) {
	t.Parallel()

	enabled := true
	svc := &stubDispatchService{
		enqueueBatchFn: func(ctx context.Context, req domain.DispatchRequest) (string, error) {
			if !enabled {
				return "", service.ErrAsyncDisabled
			}
			return "batch-async", nil
		},
	}
	app := newDispatchTestApp(t, svc)

	body := `{"recipients":["ana@example.com"],"subject":"Reminder","template":"7-day-notice"}`
	resp, raw := performRequest(t, app, http.MethodPost, "/v1/dispatch/bulk/async", body, "")
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", resp.StatusCode, string(raw))
	}
	var parsed map[string]any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed["batchId"] != "batch-async" || parsed["status"] != domain.BatchStatusQueued.String() {
		t.Fatalf("response = %v", parsed)
	}

	enabled = false
	resp, _ = performRequest(t, app, http.MethodPost, "/v1/dispatch/bulk/async", body, "")
	if resp.StatusCode != fiber.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 when async is disabled", resp.StatusCode)
	}
}

func TestDispatchIntegration_TemplatesAndCounters(t *testing.T) {
	t.Parallel()

	svc := &stubDispatchService{
		listTemplatesFn: func(ctx context.Context) ([]domain.TemplateInfo, error) {
			return []domain.TemplateInfo{{Name: domain.TemplateFirstNotice, DisplayName: domain.TemplateFirstNotice.DisplayName()}}, nil
		},
		countersFn: func() ratelimit.Counters {
			return ratelimit.Counters{SentThisHour: 3, SentToday: 7, RemainingThisHour: 97, RemainingToday: 493, MaxPerHour: 100, MaxPerDay: 500}
		},
	}
	app := newDispatchTestApp(t, svc)

	resp, raw := performRequest(t, app, http.MethodGet, "/v1/templates", "", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var templates struct {
		Data []domain.TemplateInfo `json:"data"`
	}
	if err := json.Unmarshal(raw, &templates); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if len(templates.Data) != 1 || templates.Data[0].Name != domain.TemplateFirstNotice {
		t.Fatalf("templates = %+v", templates.Data)
	}

	resp, raw = performRequest(t, app, http.MethodGet, "/v1/dispatch/counters", "", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var counters ratelimit.Counters
	if err := json.Unmarshal(raw, &counters); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if counters.SentToday != 7 || counters.RemainingThisHour != 97 {
		t.Fatalf("counters = %+v", counters)
	}
}

func TestDispatchIntegration_GetBatch(t *testing.T) {
	t.Parallel()

	kind := domain.KindDisposableAddress
	errText := "disposable email address"
	svc := &stubDispatchService{
		getBatchFn: func(ctx context.Context, id string) (*domain.Batch, error) {
			if id != "batch-42" {
				return nil, domain.ErrNotFound
			}
			return &domain.Batch{
				ID:           "batch-42",
				TemplateName: domain.Template30DayNotice,
				Status:       domain.BatchStatusPartialFailure,
				TotalCount:   2,
				SuccessCount: 1,
				FailedCount:  1,
				Results: []domain.BatchResult{
					{Address: "a@example.com", Success: true},
					{Address: "b@mailinator.com", Error: &errText, Kind: &kind},
				},
			}, nil
		},
	}
	app := newDispatchTestApp(t, svc)

	resp, raw := performRequest(t, app, http.MethodGet, "/v1/batches/batch-42", "", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(raw))
	}

	var parsed struct {
		BatchID  string `json:"batchId"`
		Template string `json:"template"`
		Status   string `json:"status"`
		Results  []struct {
			Address string `json:"address"`
			Kind    string `json:"kind"`
		} `json:"results"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed.Status != domain.BatchStatusPartialFailure.String() || parsed.Template != "30-day-notice" {
		t.Fatalf("batch = %+v", parsed)
	}
	if len(parsed.Results) != 2 || parsed.Results[1].Kind != "DisposableAddress" {
		t.Fatalf("results = %+v", parsed.Results)
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/batches/missing", "", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestHealthIntegration_LivezAndReadyz(t *testing.T) {
	t.Parallel()

	t.Run("livez returns 200", func(t *testing.T) {
		t.Parallel()

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
		RegisterHealthRoutes(app, sql.OpenDB(stubConnector{}), newStubRedisClient(nil))

		resp, body := performRequest(t, app, http.MethodGet, "/livez", "", "")
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("readyz returns 200 when dependencies healthy", func(t *testing.T) {
		t.Parallel()

		sqlDB := sql.OpenDB(stubConnector{})
		t.Cleanup(func() { _ = sqlDB.Close() })

		rdb := newStubRedisClient(nil)
		t.Cleanup(func() { _ = rdb.Close() })

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
		RegisterHealthRoutes(app, sqlDB, rdb)

		resp, body := performRequest(t, app, http.MethodGet, "/readyz", "", "")
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("readyz without redis reports disabled", func(t *testing.T) {
		t.Parallel()

		sqlDB := sql.OpenDB(stubConnector{})
		t.Cleanup(func() { _ = sqlDB.Close() })

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
		RegisterHealthRoutes(app, sqlDB, nil)

		resp, body := performRequest(t, app, http.MethodGet, "/readyz", "", "")
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
		}
		if !strings.Contains(string(body), `"redis":"disabled"`) {
			t.Fatalf("body = %s, want redis disabled", string(body))
		}
	})

	t.Run("readyz returns 503 when dependencies down", func(t *testing.T) {
		t.Parallel()

		sqlDB := sql.OpenDB(stubConnector{pingErr: errors.New("postgres down")})
		t.Cleanup(func() { _ = sqlDB.Close() })

		rdb := newStubRedisClient(errors.New("redis down"))
		t.Cleanup(func() { _ = rdb.Close() })

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
		RegisterHealthRoutes(app, sqlDB, rdb)

		resp, body := performRequest(t, app, http.MethodGet, "/readyz", "", "")
		if resp.StatusCode != fiber.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503, body=%s", resp.StatusCode, string(body))
		}
	})
}

type stubDispatchService struct {
	dispatchBatchFn  func(ctx context.Context, req domain.DispatchRequest) (*service.BatchOutcome, error)
	dispatchSingleFn func(ctx context.Context, req service.SingleRequest) (*domain.DispatchResult, error)
	enqueueBatchFn   func(ctx context.Context, req domain.DispatchRequest) (string, error)
	listTemplatesFn  func(ctx context.Context) ([]domain.TemplateInfo, error)
	countersFn       func() ratelimit.Counters
	getBatchFn       func(ctx context.Context, id string) (*domain.Batch, error)
}

func (s *stubDispatchService) DispatchBatch(ctx context.Context, req domain.DispatchRequest) (*service.BatchOutcome, error) {
	if s.dispatchBatchFn != nil {
		return s.dispatchBatchFn(ctx, req)
	}
	return nil, errors.New("not implemented")
}

func (s *stubDispatchService) DispatchSingle(ctx context.Context, req service.SingleRequest) (*domain.DispatchResult, error) {
	if s.dispatchSingleFn != nil {
		return s.dispatchSingleFn(ctx, req)
	}
	return nil, errors.New("not implemented")
}

func (s *stubDispatchService) EnqueueBatch(ctx context.Context, req domain.DispatchRequest) (string, error) {
	if s.enqueueBatchFn != nil {
		return s.enqueueBatchFn(ctx, req)
	}
	return "", service.ErrAsyncDisabled
}

func (s *stubDispatchService) ListTemplates(ctx context.Context) ([]domain.TemplateInfo, error) {
	if s.listTemplatesFn != nil {
		return s.listTemplatesFn(ctx)
	}
	return nil, nil
}

func (s *stubDispatchService) Counters() ratelimit.Counters {
	if s.countersFn != nil {
		return s.countersFn()
	}
	return ratelimit.Counters{}
}

func (s *stubDispatchService) GetBatch(ctx context.Context, id string) (*domain.Batch, error) {
	if s.getBatchFn != nil {
		return s.getBatchFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func newDispatchTestApp(t *testing.T, svc DispatchService) *fiber.App {
	t.Helper()

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(zap.NewNop()),
	})

	if err := RegisterDispatchRoutes(app, svc); err != nil {
		t.Fatalf("RegisterDispatchRoutes() error = %v", err)
	}

	return app
}

func assertKind(t *testing.T, raw []byte, want domain.ErrorKind) {
	t.Helper()

	var body struct {
		Error string `json:"error"`
		Kind  string `json:"kind"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if body.Kind != want.String() {
		t.Fatalf("kind = %q, want %q (error=%q)", body.Kind, want, body.Error)
	}
}

func performRequest(t *testing.T, app *fiber.App, method string, path string, body string, requestID string) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if requestID != "" {
		req.Header.Set(fiber.HeaderXRequestID, requestID)
	}

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	_ = resp.Body.Close()

	return resp, respBody
}

type stubConnector struct {
	pingErr error
}

func (c stubConnector) Connect(context.Context) (driver.Conn, error) {
	return stubConn(c), nil
}

func (c stubConnector) Driver() driver.Driver {
	return stubDriver(c)
}

type stubDriver struct {
	pingErr error
}

func (d stubDriver) Open(string) (driver.Conn, error) {
	return stubConn(d), nil
}

type stubConn struct {
	pingErr error
}

func (c stubConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not implemented") }
func (c stubConn) Close() error                        { return nil }
func (c stubConn) Begin() (driver.Tx, error)           { return nil, errors.New("not implemented") }
func (c stubConn) Ping(context.Context) error          { return c.pingErr }

type stubRedisHook struct {
	pingErr error
}

func (h stubRedisHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (h stubRedisHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if strings.EqualFold(cmd.Name(), "ping") {
			if h.pingErr != nil {
				cmd.SetErr(h.pingErr)
				return h.pingErr
			}
			cmd.SetErr(nil)
			return nil
		}
		cmd.SetErr(nil)
		return nil
	}
}

func (h stubRedisHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		for _, cmd := range cmds {
			cmd.SetErr(nil)
		}
		return nil
	}
}

func newStubRedisClient(pingErr error) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:         "127.0.0.1:6379",
		DialTimeout:  time.Millisecond,
		ReadTimeout:  time.Millisecond,
		WriteTimeout: time.Millisecond,
	})
	rdb.AddHook(stubRedisHook{pingErr: pingErr})
	return rdb
}
