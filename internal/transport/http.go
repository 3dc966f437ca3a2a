package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/iudanet/casesync/internal/models"
	"github.com/iudanet/casesync/pkg/api"
)

// HTTPClient является HTTP реализацией Transport
type HTTPClient struct {
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger
	baseURL    string
}

// NewHTTPClient создает новый HTTP transport
// attemptTimeout ограничивает каждую отдельную попытку запроса
func NewHTTPClient(baseURL string, attemptTimeout time.Duration, logger *slog.Logger) *HTTPClient {
	if attemptTimeout <= 0 {
		attemptTimeout = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "sync-transport",
		Interval: 30 * time.Second,
		Timeout:  60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.5
		},
		IsSuccessful: func(err error) bool {
			// Конфликты и ошибки валидации - ответы сервера, не сбои сети
			return err == nil || !IsTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})

	return &HTTPClient{
		baseURL: baseURL,
		logger:  logger,
		breaker: breaker,
		httpClient: &http.Client{
			Timeout: attemptTimeout,
		},
	}
}

// Send delivers one queued action to the server
func (c *HTTPClient) Send(ctx context.Context, req *api.PushRequest) (*api.PushResponse, error) {
	var resp api.PushResponse
	headers := map[string]string{"X-Idempotency-Key": req.IdempotencyKey}

	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/sync/push", headers, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Fetch reads one resource by its "type/id" key
func (c *HTTPClient) Fetch(ctx context.Context, resourceKey string) (*api.FetchResponse, error) {
	var resp api.FetchResponse
	path := "/api/v1/resources/" + resourceKey

	if err := c.doRequest(ctx, http.MethodGet, path, nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Ping probes server reachability
func (c *HTTPClient) Ping(ctx context.Context) error {
	return c.doRequest(ctx, http.MethodGet, "/api/v1/health", nil, nil, nil)
}

// doRequest выполняет HTTP запрос через circuit breaker
func (c *HTTPClient) doRequest(ctx context.Context, method, path string, headers map[string]string, body, result any) error {
	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.do(ctx, method, path, headers, body, result)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &TransientError{Err: err}
	}
	return err
}

func (c *HTTPClient) do(ctx context.Context, method, path string, headers map[string]string, body, result any) error {
	url := c.baseURL + path

	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Ошибки сети и таймауты - транзиентные
		return &TransientError{Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransientError{Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	if err := c.checkStatus(resp.StatusCode, respBody); err != nil {
		return err
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

// checkStatus маппит статус коды на таксономию ошибок движка
func (c *HTTPClient) checkStatus(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil

	case status == http.StatusConflict:
		var conflict api.ConflictResponse
		if err := json.Unmarshal(body, &conflict); err != nil {
			return fmt.Errorf("failed to decode conflict response: %w", err)
		}
		return &ConflictError{
			Remote:      SnapshotFromAPI(&conflict.Remote),
			BaseVersion: conflict.BaseVersion,
		}

	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity || status == http.StatusNotFound:
		var errResp api.ErrorResponse
		if err := json.Unmarshal(body, &errResp); err != nil {
			return &ValidationError{Message: fmt.Sprintf("server rejected request (%d)", status)}
		}
		return &ValidationError{Message: errResp.Message, Code: errResp.Code}

	default:
		// 5xx, 429 и прочее - повторяем с backoff
		var errResp api.ErrorResponse
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Message != "" {
			return &TransientError{Err: fmt.Errorf("server error (%d): %s", status, errResp.Message)}
		}
		return &TransientError{Err: fmt.Errorf("request failed with status %d", status)}
	}
}

// SnapshotFromAPI converts a wire snapshot into the engine model.
func SnapshotFromAPI(snap *api.Snapshot) *models.Snapshot {
	payload := make(json.RawMessage, len(snap.Payload))
	copy(payload, snap.Payload)

	return &models.Snapshot{
		EntityType: snap.EntityType,
		EntityID:   snap.EntityID,
		Payload:    payload,
		Version:    snap.Version,
		Deleted:    snap.Deleted,
		UpdatedAt:  snap.UpdatedAt,
	}
}
