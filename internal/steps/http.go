package steps

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/shaiso/Rollout/internal/domain"
)

const (
	defaultHTTPTimeout = 10 * time.Second
	maxResponseBody    = 1 << 20 // 1 MB
)

// endpointClient — HTTP клиент к endpoint'ам tenant'а.
//
// Все запросы проходят через общий rate.Limiter: один limiter на процесс
// ограничивает суммарную нагрузку всех задач.
type endpointClient struct {
	client  *http.Client
	limiter *rate.Limiter
	timeout time.Duration
}

func newEndpointClient(client *http.Client, limiter *rate.Limiter, timeout time.Duration) *endpointClient {
	if client == nil {
		client = &http.Client{}
	}
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &endpointClient{client: client, limiter: limiter, timeout: timeout}
}

// response — прочитанный ответ endpoint'а.
type response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// do выполняет запрос. body сериализуется в JSON, nil — без тела.
// Сетевые ошибки считаются временными.
func (c *endpointClient) do(ctx context.Context, method, target string, body any) (*response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("serialize body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, domain.Transient(fmt.Errorf("%s %s: %w", method, target, err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, domain.Transient(fmt.Errorf("read response body: %w", err))
	}
	return &response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// endpointURL склеивает базовый адрес endpoint'а и путь.
func endpointURL(endpoint string, elems ...string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", domain.NewValidationError("endpoints", fmt.Sprintf("invalid endpoint %q", endpoint))
	}
	return u.JoinPath(elems...).String(), nil
}

// validateEndpoints проверяет адреса endpoint'ов задачи.
func validateEndpoints(endpoints []string) error {
	for _, ep := range endpoints {
		if _, err := endpointURL(ep); err != nil {
			return err
		}
	}
	return nil
}

func trimBody(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 256 {
		s = s[:256]
	}
	return s
}
