package health

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kubeadapt/kubeadapt-dvfs/internal/dvfs"
	dvfserrors "github.com/kubeadapt/kubeadapt-dvfs/internal/errors"
	"github.com/kubeadapt/kubeadapt-dvfs/internal/governor"
	"github.com/kubeadapt/kubeadapt-dvfs/internal/lock"
	"github.com/kubeadapt/kubeadapt-dvfs/pkg/model"
)

// Controller is the device surface driven by the control API.
// *dvfs.Device satisfies it.
type Controller interface {
	Status() model.Status
	TableModel() model.Table
	Enabled() bool

	AssertMax(ctx context.Context, src lock.Source, clock int) error
	ReleaseMax(src lock.Source) error
	AssertMin(ctx context.Context, src lock.Source, clock int) error
	ReleaseMin(src lock.Source) error
	SetUserMaxLock(ctx context.Context, clock int) error
	SetUserMinLock(ctx context.Context, clock int) error

	SetGovernor(ctx context.Context, k governor.Kind) error
	SetPollingInterval(v time.Duration) error
	SetHighspeed(h governor.Highspeed) error
	SetComputeBoost(enabled bool)
	Enable(ctx context.Context) error
	Disable(ctx context.Context) error

	Boost(ctx context.Context, clock int, dur time.Duration) error
	CancelBoost() error
	SetThermalLevel(ctx context.Context, level dvfs.ThermalLevel) error

	PowerOnNotify(ctx context.Context) error
	PowerOffNotify(ctx context.Context) error
}

type actionFunc func(r *http.Request) (string, error)

func (s *Server) registerControl(mux *http.ServeMux) {
	mux.Handle("GET /dvfs/status", s.read("status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, s.dev.Status())
	}))
	mux.Handle("GET /dvfs/table", s.read("table", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, s.dev.TableModel())
	}))

	mux.Handle("PUT /dvfs/lock/{bound}", s.write("lock", s.putLock))
	mux.Handle("DELETE /dvfs/lock/{bound}", s.write("lock", s.deleteLock))
	mux.Handle("PUT /dvfs/user-lock/{bound}", s.write("user_lock", s.putUserLock))
	mux.Handle("PUT /dvfs/governor", s.write("governor", s.putGovernor))
	mux.Handle("PUT /dvfs/polling", s.write("polling", s.putPolling))
	mux.Handle("PUT /dvfs/highspeed", s.write("highspeed", s.putHighspeed))
	mux.Handle("PUT /dvfs/compute-boost", s.write("compute_boost", s.putComputeBoost))
	mux.Handle("PUT /dvfs/enable", s.write("enable", func(r *http.Request) (string, error) {
		return "dvfs enabled", s.dev.Enable(r.Context())
	}))
	mux.Handle("PUT /dvfs/disable", s.write("disable", func(r *http.Request) (string, error) {
		return "dvfs disabled", s.dev.Disable(r.Context())
	}))
	mux.Handle("PUT /dvfs/boost", s.write("boost", s.putBoost))
	mux.Handle("DELETE /dvfs/boost", s.write("boost", func(*http.Request) (string, error) {
		return "boost cancelled", s.dev.CancelBoost()
	}))
	mux.Handle("PUT /dvfs/thermal", s.write("thermal", s.putThermal))
	mux.Handle("PUT /dvfs/power", s.write("power", s.putPower))
}

// read wraps a GET handler with request accounting.
func (s *Server) read(route string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		h(rec, r)
		s.count(route, rec.code)
	})
}

// write wraps a mutating action with auth, rate limiting and error mapping.
func (s *Server) write(route string, fn actionFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		code := s.serveAction(w, r, route, fn)
		s.count(route, code)
	})
}

func (s *Server) serveAction(w http.ResponseWriter, r *http.Request, route string, fn actionFunc) int {
	if !s.authorized(r) {
		return writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid bearer token")
	}
	if !s.limiter.Allow() {
		w.Header().Set("Retry-After", "1")
		return writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "control request rate exceeded")
	}

	msg, err := fn(r)
	if err != nil {
		code := statusFor(err)
		ec, ok := dvfserrors.CodeOf(err)
		if !ok {
			ec = "INTERNAL"
		}
		slog.Warn("control request failed", "route", route, "method", r.Method, "status", code, "error", err)
		return writeError(w, code, string(ec), err.Error())
	}

	st := s.dev.Status()
	slog.Info("control request applied", "route", route, "method", r.Method, "message", msg)
	writeJSON(w, http.StatusOK, model.ActionResponse{Success: true, Message: msg, Status: &st})
	return http.StatusOK
}

func (s *Server) authorized(r *http.Request) bool {
	if s.token == "" {
		return true
	}
	got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) == 1
}

func (s *Server) count(route string, code int) {
	if s.metrics == nil {
		return
	}
	s.metrics.ControlRequestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

// statusFor maps an error to an HTTP status code.
func statusFor(err error) int {
	code, ok := dvfserrors.CodeOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch code {
	case dvfserrors.CodeInvalidClock, dvfserrors.CodeInvalidConfig, dvfserrors.CodeInvalidSource:
		return http.StatusBadRequest
	case dvfserrors.CodePoweredOff, dvfserrors.CodeDisabled:
		return http.StatusConflict
	case dvfserrors.CodeClockApplyFailed, dvfserrors.CodeVoltageApplyFailed, dvfserrors.CodeQoSFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) int {
	writeJSON(w, status, model.ErrorResponse{Success: false, Code: code, Message: msg})
	return status
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func badParam(name, value string, err error) error {
	return dvfserrors.New(dvfserrors.CodeInvalidConfig, "control",
		fmt.Sprintf("control: invalid %s %q", name, value), err)
}

func intParam(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, badParam(name, v, err)
	}
	return n, nil
}

// durationParam accepts a Go duration or a bare number of milliseconds.
func durationParam(r *http.Request, name string) (time.Duration, error) {
	v := r.URL.Query().Get(name)
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, badParam(name, v, err)
	}
	return d, nil
}

func boundParam(r *http.Request) (string, error) {
	b := r.PathValue("bound")
	if b != "max" && b != "min" {
		return "", badParam("bound", b, nil)
	}
	return b, nil
}

func sourceParam(r *http.Request) (lock.Source, error) {
	return lock.ParseSource(r.URL.Query().Get("source"))
}

func (s *Server) putLock(r *http.Request) (string, error) {
	bound, err := boundParam(r)
	if err != nil {
		return "", err
	}
	src, err := sourceParam(r)
	if err != nil {
		return "", err
	}
	clock, err := intParam(r, "clock")
	if err != nil {
		return "", err
	}
	if bound == "max" {
		err = s.dev.AssertMax(r.Context(), src, clock)
	} else {
		err = s.dev.AssertMin(r.Context(), src, clock)
	}
	return fmt.Sprintf("%s lock %d asserted by %s", bound, clock, src), err
}

func (s *Server) deleteLock(r *http.Request) (string, error) {
	bound, err := boundParam(r)
	if err != nil {
		return "", err
	}
	src, err := sourceParam(r)
	if err != nil {
		return "", err
	}
	if bound == "max" {
		err = s.dev.ReleaseMax(src)
	} else {
		err = s.dev.ReleaseMin(src)
	}
	return fmt.Sprintf("%s lock released by %s", bound, src), err
}

func (s *Server) putUserLock(r *http.Request) (string, error) {
	bound, err := boundParam(r)
	if err != nil {
		return "", err
	}
	clock, err := intParam(r, "clock")
	if err != nil {
		return "", err
	}
	if bound == "max" {
		err = s.dev.SetUserMaxLock(r.Context(), clock)
	} else {
		err = s.dev.SetUserMinLock(r.Context(), clock)
	}
	return fmt.Sprintf("user %s lock set to %d", bound, clock), err
}

func (s *Server) putGovernor(r *http.Request) (string, error) {
	k, err := governor.ParseKind(r.URL.Query().Get("type"))
	if err != nil {
		return "", err
	}
	return "governor set to " + k.String(), s.dev.SetGovernor(r.Context(), k)
}

func (s *Server) putPolling(r *http.Request) (string, error) {
	d, err := durationParam(r, "interval")
	if err != nil {
		return "", err
	}
	return "polling interval set to " + d.String(), s.dev.SetPollingInterval(d)
}

func (s *Server) putHighspeed(r *http.Request) (string, error) {
	var h governor.Highspeed
	var err error
	if h.Clock, err = intParam(r, "clock"); err != nil {
		return "", err
	}
	if h.Load, err = intParam(r, "load"); err != nil {
		return "", err
	}
	if h.Delay, err = intParam(r, "delay"); err != nil {
		return "", err
	}
	return fmt.Sprintf("highspeed set to %d MHz at %d%%", h.Clock, h.Load), s.dev.SetHighspeed(h)
}

func (s *Server) putComputeBoost(r *http.Request) (string, error) {
	v := r.URL.Query().Get("enabled")
	enabled, err := strconv.ParseBool(v)
	if err != nil {
		return "", badParam("enabled", v, err)
	}
	s.dev.SetComputeBoost(enabled)
	return fmt.Sprintf("compute boost enabled=%t", enabled), nil
}

func (s *Server) putBoost(r *http.Request) (string, error) {
	if !s.dev.Enabled() {
		return "", dvfserrors.New(dvfserrors.CodeDisabled, "control", "control: boost requires dvfs to be enabled", nil)
	}
	clock, err := intParam(r, "clock")
	if err != nil {
		return "", err
	}
	dur, err := durationParam(r, "duration")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("boost to %d MHz for %s", clock, dur), s.dev.Boost(r.Context(), clock, dur)
}

func (s *Server) putThermal(r *http.Request) (string, error) {
	level, err := dvfs.ParseThermalLevel(r.URL.Query().Get("level"))
	if err != nil {
		return "", err
	}
	return "thermal level set to " + level.String(), s.dev.SetThermalLevel(r.Context(), level)
}

func (s *Server) putPower(r *http.Request) (string, error) {
	switch v := r.URL.Query().Get("state"); v {
	case "on":
		return "power on", s.dev.PowerOnNotify(r.Context())
	case "off":
		return "power off", s.dev.PowerOffNotify(r.Context())
	default:
		return "", badParam("state", v, nil)
	}
}

var _ Controller = (*dvfs.Device)(nil)
