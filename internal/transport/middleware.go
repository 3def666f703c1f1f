package transport

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/kubeadapt/kubeadapt-dvfs/pkg/model"
)

// backoffBase is the first retry delay; later attempts double it.
var backoffBase = time.Second

// authTransport adds an Authorization: Bearer header to every request.
type authTransport struct {
	token string
	next  http.RoundTripper
}

// WithAuth wraps a RoundTripper with bearer-token authorization. An empty
// token leaves requests untouched.
func WithAuth(token string, next http.RoundTripper) http.RoundTripper {
	return &authTransport{token: token, next: next}
}

func (a *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if a.token == "" {
		return a.next.RoundTrip(req)
	}
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+a.token)
	return a.next.RoundTrip(req)
}

// loggingTransport logs request method/URL and response status.
type loggingTransport struct {
	logger *slog.Logger
	next   http.RoundTripper
}

// WithLogging wraps a RoundTripper with request/response logging.
func WithLogging(logger *slog.Logger, next http.RoundTripper) http.RoundTripper {
	return &loggingTransport{logger: logger, next: next}
}

func (l *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := l.next.RoundTrip(req)
	elapsed := time.Since(start)

	if err != nil {
		l.logger.Error("HTTP request failed",
			"method", req.Method,
			"url", req.URL.String(),
			"duration_ms", elapsed.Milliseconds(),
			"error", err,
		)
		return resp, err
	}

	l.logger.Debug("HTTP request completed",
		"method", req.Method,
		"url", req.URL.String(),
		"status", resp.StatusCode,
		"duration_ms", elapsed.Milliseconds(),
	)
	return resp, nil
}

// retryTransport retries on 5xx and 429 errors with exponential backoff.
// It does NOT retry on 401/403 or on 4xx validation failures. Control
// requests carry no body, so a request can be replayed as is.
type retryTransport struct {
	maxRetries int
	next       http.RoundTripper
}

// WithRetry wraps a RoundTripper with retry logic for transient errors.
func WithRetry(maxRetries int, next http.RoundTripper) http.RoundTripper {
	return &retryTransport{maxRetries: maxRetries, next: next}
}

func (r *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	var err error

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		resp, err = r.next.RoundTrip(req)
		if err != nil {
			// Network error: retry.
			if attempt < r.maxRetries {
				sleepWithBackoff(attempt)
				continue
			}
			return nil, err
		}

		// Success or client error that shouldn't be retried.
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}

		// 429 Too Many Requests: respect Retry-After.
		if resp.StatusCode == http.StatusTooManyRequests {
			delay := retryAfterDelay(resp)
			if attempt < r.maxRetries {
				drainAndClose(resp.Body)
				time.Sleep(delay)
				continue
			}
			return resp, nil
		}

		// 5xx: retry with backoff.
		if attempt < r.maxRetries {
			drainAndClose(resp.Body)
			sleepWithBackoff(attempt)
			continue
		}
	}

	return resp, err
}

// sleepWithBackoff sleeps for exponential backoff: backoffBase * 2^attempt.
func sleepWithBackoff(attempt int) {
	d := time.Duration(math.Pow(2, float64(attempt))) * backoffBase
	time.Sleep(d)
}

// retryAfterDelay extracts the delay from a 429 response's Retry-After
// header, falling back to backoffBase.
func retryAfterDelay(resp *http.Response) time.Duration {
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return backoffBase
}

// drainAndClose reads remaining body bytes and closes, preventing connection leaks.
func drainAndClose(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, body)
	body.Close()
}

// APIError is a non-2xx control API response.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("transport: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("transport: %s (HTTP %d): %s", e.Code, e.StatusCode, e.Message)
}

// ParseResponse decodes a control API response into out. Non-200 responses
// become an *APIError carrying the server's error code when present.
func ParseResponse(resp *http.Response, out any) error {
	defer drainAndClose(resp.Body)

	if resp.StatusCode == http.StatusOK {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("transport: failed to decode 200 response: %w", err)
		}
		return nil
	}

	apiErr := &APIError{StatusCode: resp.StatusCode}
	var body model.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
		apiErr.Code = body.Code
		apiErr.Message = body.Message
	}
	return apiErr
}
