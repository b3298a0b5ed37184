// Package workerclient is the outbound HTTP client used to call a worker
// agent's rustic API. It wraps each call in a hard per-call deadline and a
// per-endpoint circuit breaker, with bounded retry available for read-only
// calls.
package workerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"

	"github.com/irazvan2745/glare-control/internal/telemetry"
)

// CallTimeout is the hard per-call deadline applied to every outbound
// request to a worker endpoint.
const CallTimeout = 30 * time.Second

// Response is the decoded worker response envelope: callers check Success
// and Error, then consult Raw for the opaque result body.
type Response struct {
	Success bool
	Error   string
	Raw     map[string]any
}

// Client invokes a worker's rustic HTTP API.
type Client struct {
	httpClient *http.Client

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// New constructs a worker client.
func New() *Client {
	return &Client{
		httpClient: &http.Client{},
		breakers:   make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (c *Client) breakerFor(endpoint string) *gobreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()

	if b, ok := c.breakers[endpoint]; ok {
		return b
	}

	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        endpoint,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	c.breakers[endpoint] = b
	return b
}

// Call issues a bearer-authenticated POST to <endpoint><path> carrying body,
// bounded by CallTimeout and routed through the per-endpoint circuit
// breaker. It never retries — intended for mutating calls (backup, forget,
// restore) where blind retry on WorkerUnreachable is unsafe.
func (c *Client) Call(ctx context.Context, endpoint, path, syncToken string, body any) (*Response, error) {
	breaker := c.breakerFor(endpoint)

	result, err := breaker.Execute(func() (any, error) {
		return c.doCall(ctx, endpoint, path, syncToken, body)
	})
	if err != nil {
		return nil, fmt.Errorf("calling worker %s%s: %w", endpoint, path, err)
	}
	return result.(*Response), nil
}

// CallWithRetry is identical to Call but retries up to 2 attempts total,
// bounded by backoff. Reserved for read-only calls (e.g. the reconciliation
// sweeper's snapshot-list request) — never for backup/forget calls.
func (c *Client) CallWithRetry(ctx context.Context, endpoint, path, syncToken string, body any) (*Response, error) {
	return backoff.Retry(ctx, func() (*Response, error) {
		resp, err := c.Call(ctx, endpoint, path, syncToken, body)
		if err != nil {
			return nil, err
		}
		return resp, nil
	}, backoff.WithMaxTries(2))
}

func (c *Client) doCall(ctx context.Context, endpoint, path, syncToken string, body any) (out *Response, err error) {
	start := time.Now()
	defer func() {
		outcome := "success"
		if err != nil || (out != nil && !out.Success) {
			outcome = "failure"
		}
		telemetry.WorkerCallDuration.WithLabelValues(path, outcome).Observe(time.Since(start).Seconds())
	}()

	callCtx, cancel := context.WithTimeout(ctx, CallTimeout)
	defer cancel()

	b, marshalErr := json.Marshal(body)
	if marshalErr != nil {
		return nil, fmt.Errorf("marshalling request body: %w", marshalErr)
	}

	req, reqErr := http.NewRequestWithContext(callCtx, http.MethodPost, endpoint+path, bytes.NewReader(b))
	if reqErr != nil {
		return nil, fmt.Errorf("creating request: %w", reqErr)
	}
	req.Header.Set("Authorization", "Bearer "+syncToken)
	req.Header.Set("Content-Type", "application/json")

	resp, doErr := c.httpClient.Do(req)
	if doErr != nil {
		return nil, fmt.Errorf("executing request: %w", doErr)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, fmt.Errorf("reading response: %w", readErr)
	}

	var raw map[string]any
	if len(respBody) > 0 {
		if unmarshalErr := json.Unmarshal(respBody, &raw); unmarshalErr != nil {
			return nil, fmt.Errorf("decoding response: %w", unmarshalErr)
		}
	}

	out = &Response{Raw: raw}
	if rustic, ok := raw["rustic"].(map[string]any); ok {
		if success, ok := rustic["success"].(bool); ok {
			out.Success = success
		} else {
			out.Success = resp.StatusCode >= 200 && resp.StatusCode < 300
		}
	} else {
		out.Success = resp.StatusCode >= 200 && resp.StatusCode < 300
	}

	if !out.Success {
		if errMsg, ok := raw["error"].(string); ok {
			out.Error = errMsg
		} else {
			out.Error = fmt.Sprintf("worker returned status %d", resp.StatusCode)
		}
	}

	return out, nil
}
