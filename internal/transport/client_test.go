package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/kubeadapt/kubeadapt-dvfs/internal/dvfs"
	dvfserrors "github.com/kubeadapt/kubeadapt-dvfs/internal/errors"
	"github.com/kubeadapt/kubeadapt-dvfs/internal/health"
	"github.com/kubeadapt/kubeadapt-dvfs/internal/observability"
	"github.com/kubeadapt/kubeadapt-dvfs/internal/sim"
	"github.com/kubeadapt/kubeadapt-dvfs/internal/table"
	"github.com/kubeadapt/kubeadapt-dvfs/pkg/model"
)

type alwaysReady struct{}

func (alwaysReady) IsReady() bool { return true }

// newControlServer serves the real control API over a simulated device.
func newControlServer(t *testing.T, token string) (*httptest.Server, *sim.GPU) {
	t.Helper()
	clk := testingclock.NewFakeClock(time.Unix(1700000000, 0))
	tbl, err := table.New([]table.OperatingPoint{
		{Clock: 702, Voltage: 900000, MinThreshold: 70, MaxThreshold: 90},
		{Clock: 572, Voltage: 800000, MinThreshold: 60, MaxThreshold: 90},
		{Clock: 433, Voltage: 700000, MinThreshold: 50, MaxThreshold: 90},
	}, table.Bounds{})
	require.NoError(t, err)

	gpu := sim.NewGPU(clk, 1, sim.Constant{})
	metrics := observability.NewMetrics()
	errs := dvfserrors.NewErrorCollector(clk)
	dev, err := dvfs.NewDevice(tbl, dvfs.Params{Name: "gpu0"}, dvfs.Deps{
		Clock: clk, Backend: gpu, QoS: gpu, Sampler: gpu, Metrics: metrics, Errors: errs,
	})
	require.NoError(t, err)
	require.NoError(t, dev.PowerOnNotify(context.Background()))
	require.NoError(t, dev.SetClock(context.Background(), 702))
	t.Cleanup(func() { _ = dev.Disable(context.Background()) })

	srv := health.NewServer(health.Options{Token: token}, metrics, alwaysReady{}, dev, errs)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, gpu
}

func TestClient_ContractWithControlAPI(t *testing.T) {
	ts, gpu := newControlServer(t, "tok")
	c := NewClient(Config{BaseURL: ts.URL + "/", Token: "tok"})
	ctx := context.Background()

	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 702, st.CurClock)

	tbl, err := c.Table(ctx)
	require.NoError(t, err)
	require.Len(t, tbl.Points, 3)
	assert.Equal(t, 433, tbl.MinClock)

	resp, err := c.AssertLock(ctx, "max", "thermal", 572)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, 572, resp.Status.MaxLock)
	assert.Equal(t, 572, gpu.Clock())

	resp, err = c.ReleaseLock(ctx, "max", "thermal")
	require.NoError(t, err)
	assert.Equal(t, 702, resp.Status.MaxLock)

	resp, err = c.SetUserLock(ctx, "min", 600)
	require.NoError(t, err)
	assert.Equal(t, 572, resp.Status.MinLock)

	resp, err = c.SetGovernor(ctx, "static")
	require.NoError(t, err)
	assert.Equal(t, "static", resp.Status.Governor)

	resp, err = c.SetPolling(ctx, 300*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(300), resp.Status.PollingIntervalMs)

	resp, err = c.SetComputeBoost(ctx, false)
	require.NoError(t, err)
	assert.False(t, resp.Status.ComputeBoost)

	resp, err = c.SetHighspeed(ctx, model.Highspeed{Clock: 572, Load: 85, Delay: 1})
	require.NoError(t, err)
	assert.Equal(t, 85, resp.Status.Highspeed.Load)

	resp, err = c.SetEnabled(ctx, true)
	require.NoError(t, err)
	assert.True(t, resp.Status.Enabled)

	resp, err = c.Boost(ctx, 702, time.Minute)
	require.NoError(t, err)
	assert.True(t, resp.Status.BoostActive)

	resp, err = c.CancelBoost(ctx)
	require.NoError(t, err)
	assert.False(t, resp.Status.BoostActive)

	resp, err = c.SetEnabled(ctx, false)
	require.NoError(t, err)
	assert.False(t, resp.Status.Enabled)

	resp, err = c.SetPower(ctx, false)
	require.NoError(t, err)
	assert.False(t, resp.Status.Powered)
}

func TestClient_ErrorsCarryServerCode(t *testing.T) {
	ts, _ := newControlServer(t, "")
	c := NewClient(Config{BaseURL: ts.URL})

	_, err := c.AssertLock(context.Background(), "max", "thermal", 500)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "INVALID_CLOCK", apiErr.Code)

	_, err = c.SetThermal(context.Background(), "lava")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "INVALID_CONFIG", apiErr.Code)
}

func TestClient_WrongTokenIsUnauthorized(t *testing.T) {
	ts, _ := newControlServer(t, "right")
	c := NewClient(Config{BaseURL: ts.URL, Token: "wrong", MaxRetries: 3})

	_, err := c.SetEnabled(context.Background(), true)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}

func TestClient_RetriesApplyFailure(t *testing.T) {
	fastBackoff(t)
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			json.NewEncoder(w).Encode(model.ErrorResponse{Code: "CLOCK_APPLY_FAILED"})
			return
		}
		json.NewEncoder(w).Encode(model.ActionResponse{Success: true, Status: &model.Status{MaxLock: 572}})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, MaxRetries: 2})
	resp, err := c.AssertLock(context.Background(), "max", "ipa", 572)
	require.NoError(t, err)
	assert.Equal(t, 572, resp.Status.MaxLock)
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}

func TestClient_ContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewClient(Config{BaseURL: srv.URL})
	_, err := c.Status(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}
