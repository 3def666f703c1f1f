package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kubeadapt/kubeadapt-dvfs/pkg/model"
)

// Config configures a control API Client.
type Config struct {
	BaseURL        string
	Token          string
	RequestTimeout time.Duration
	MaxRetries     int
	// Logger, when set, logs every request.
	Logger *slog.Logger
}

// Client talks to the dvfsd control API.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a Client with middleware applied.
func NewClient(cfg Config) *Client {
	// Use an explicit transport instead of http.DefaultTransport to avoid
	// sharing mutable state with other code in the process.
	var rt http.RoundTripper = &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}
	if cfg.Logger != nil {
		rt = WithLogging(cfg.Logger, rt)
	}
	rt = WithRetry(cfg.MaxRetries, rt)
	rt = WithAuth(cfg.Token, rt)

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout, Transport: rt},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
	}
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return fmt.Errorf("transport: failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("transport: HTTP request failed: %w", err)
	}
	return ParseResponse(resp, out)
}

func (c *Client) action(ctx context.Context, method, path string, q url.Values) (*model.ActionResponse, error) {
	var out model.ActionResponse
	if err := c.do(ctx, method, path, q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status fetches the device status.
func (c *Client) Status(ctx context.Context) (*model.Status, error) {
	var out model.Status
	if err := c.do(ctx, http.MethodGet, "/dvfs/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Table fetches the operating-point table.
func (c *Client) Table(ctx context.Context) (*model.Table, error) {
	var out model.Table
	if err := c.do(ctx, http.MethodGet, "/dvfs/table", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AssertLock asserts a min or max lock for source.
func (c *Client) AssertLock(ctx context.Context, bound, source string, clock int) (*model.ActionResponse, error) {
	q := url.Values{"source": {source}, "clock": {strconv.Itoa(clock)}}
	return c.action(ctx, http.MethodPut, "/dvfs/lock/"+bound, q)
}

// ReleaseLock releases source's min or max lock.
func (c *Client) ReleaseLock(ctx context.Context, bound, source string) (*model.ActionResponse, error) {
	return c.action(ctx, http.MethodDelete, "/dvfs/lock/"+bound, url.Values{"source": {source}})
}

// SetUserLock sets the sysfs-style lock. Zero releases it.
func (c *Client) SetUserLock(ctx context.Context, bound string, clock int) (*model.ActionResponse, error) {
	return c.action(ctx, http.MethodPut, "/dvfs/user-lock/"+bound, url.Values{"clock": {strconv.Itoa(clock)}})
}

// SetGovernor switches the governor.
func (c *Client) SetGovernor(ctx context.Context, kind string) (*model.ActionResponse, error) {
	return c.action(ctx, http.MethodPut, "/dvfs/governor", url.Values{"type": {kind}})
}

// SetPolling changes the polling interval.
func (c *Client) SetPolling(ctx context.Context, d time.Duration) (*model.ActionResponse, error) {
	return c.action(ctx, http.MethodPut, "/dvfs/polling", url.Values{"interval": {d.String()}})
}

// SetEnabled enables or disables the governor loop.
func (c *Client) SetEnabled(ctx context.Context, enabled bool) (*model.ActionResponse, error) {
	if enabled {
		return c.action(ctx, http.MethodPut, "/dvfs/enable", nil)
	}
	return c.action(ctx, http.MethodPut, "/dvfs/disable", nil)
}

// Boost raises the min lock to clock for d.
func (c *Client) Boost(ctx context.Context, clock int, d time.Duration) (*model.ActionResponse, error) {
	q := url.Values{"clock": {strconv.Itoa(clock)}, "duration": {d.String()}}
	return c.action(ctx, http.MethodPut, "/dvfs/boost", q)
}

// CancelBoost ends a running boost.
func (c *Client) CancelBoost(ctx context.Context) (*model.ActionResponse, error) {
	return c.action(ctx, http.MethodDelete, "/dvfs/boost", nil)
}

// SetThermal reports a thermal level.
func (c *Client) SetThermal(ctx context.Context, level string) (*model.ActionResponse, error) {
	return c.action(ctx, http.MethodPut, "/dvfs/thermal", url.Values{"level": {level}})
}

// SetComputeBoost toggles the compute-bound override.
func (c *Client) SetComputeBoost(ctx context.Context, enabled bool) (*model.ActionResponse, error) {
	return c.action(ctx, http.MethodPut, "/dvfs/compute-boost", url.Values{"enabled": {strconv.FormatBool(enabled)}})
}

// SetHighspeed replaces the interactive tunables.
func (c *Client) SetHighspeed(ctx context.Context, h model.Highspeed) (*model.ActionResponse, error) {
	q := url.Values{
		"clock": {strconv.Itoa(h.Clock)},
		"load":  {strconv.Itoa(h.Load)},
		"delay": {strconv.Itoa(h.Delay)},
	}
	return c.action(ctx, http.MethodPut, "/dvfs/highspeed", q)
}

// SetPower sends a power-on or power-off notification.
func (c *Client) SetPower(ctx context.Context, on bool) (*model.ActionResponse, error) {
	state := "off"
	if on {
		state = "on"
	}
	return c.action(ctx, http.MethodPut, "/dvfs/power", url.Values{"state": {state}})
}
