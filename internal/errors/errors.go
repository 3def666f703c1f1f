package errors

import (
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// Code represents a typed DVFS error code.
type Code string

// DVFS error codes.
const (
	CodeInvalidClock       Code = "INVALID_CLOCK"
	CodePoweredOff         Code = "POWERED_OFF"
	CodeGovernorInvariant  Code = "GOVERNOR_INVARIANT"
	CodeLockConflict       Code = "LOCK_CONFLICT"
	CodeClockApplyFailed   Code = "CLOCK_APPLY_FAILED"
	CodeVoltageApplyFailed Code = "VOLTAGE_APPLY_FAILED"
	CodeQoSFailed          Code = "QOS_FAILED"
	CodeSampleFailed       Code = "SAMPLE_FAILED"
	CodeInvalidConfig      Code = "INVALID_CONFIG"
	CodeInvalidSource      Code = "INVALID_SOURCE"
	CodeDisabled           Code = "DISABLED"
)

// Sentinels for errors.Is matching. Any *DVFSError with the same Code matches.
var (
	ErrInvalidClock  = &DVFSError{Code: CodeInvalidClock, Message: "invalid clock"}
	ErrPoweredOff    = &DVFSError{Code: CodePoweredOff, Message: "device is powered off"}
	ErrInvalidConfig = &DVFSError{Code: CodeInvalidConfig, Message: "invalid configuration"}
	ErrInvalidSource = &DVFSError{Code: CodeInvalidSource, Message: "invalid lock source"}
	ErrClockApply    = &DVFSError{Code: CodeClockApplyFailed, Message: "clock apply failed"}
	ErrDisabled      = &DVFSError{Code: CodeDisabled, Message: "dvfs is disabled"}
)

// defaultTTL is the auto-expiry duration for errors not re-reported.
const defaultTTL = 5 * time.Minute

// DVFSError represents a typed DVFS error with code, component, and optional wrapped error.
type DVFSError struct {
	Code      Code   `json:"code"`
	Message   string `json:"message"`
	Component string `json:"component,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
	Err       error  `json:"-"`
}

// New builds a DVFSError for the given code.
func New(code Code, component, message string, err error) *DVFSError {
	return &DVFSError{
		Code:      code,
		Message:   message,
		Component: component,
		Timestamp: time.Now().UnixMilli(),
		Err:       err,
	}
}

// Error implements the error interface.
func (e *DVFSError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the wrapped error for errors.Is/As compatibility.
func (e *DVFSError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a DVFSError carrying the same code.
func (e *DVFSError) Is(target error) bool {
	t, ok := target.(*DVFSError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// CodeOf extracts the code of the first DVFSError in err's chain.
func CodeOf(err error) (Code, bool) {
	for err != nil {
		if de, ok := err.(*DVFSError); ok {
			return de.Code, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return "", false
		}
		err = u.Unwrap()
	}
	return "", false
}

// entry wraps a DVFSError with its last-reported time for expiry tracking.
type entry struct {
	err        DVFSError
	lastReport time.Time
}

// ErrorCollector is a thread-safe store for active DVFS errors.
// Errors are keyed by Code+Component and auto-expire after 5 minutes
// if not re-reported.
type ErrorCollector struct {
	mu      sync.Mutex
	clock   clock.PassiveClock
	entries map[string]entry
}

// NewErrorCollector creates an ErrorCollector with the given clock.
func NewErrorCollector(clk clock.PassiveClock) *ErrorCollector {
	return &ErrorCollector{
		clock:   clk,
		entries: make(map[string]entry),
	}
}

func key(code Code, component string) string {
	return string(code) + "|" + component
}

// Report stores or refreshes an error. The dedup key is Code+Component.
func (ec *ErrorCollector) Report(err DVFSError) {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	ec.entries[key(err.Code, err.Component)] = entry{
		err:        err,
		lastReport: ec.clock.Now(),
	}
}

// ReportErr records err when it carries a DVFS code. Plain errors are
// recorded under fallback.
func (ec *ErrorCollector) ReportErr(component string, fallback Code, err error) {
	if ec == nil || err == nil {
		return
	}
	code, ok := CodeOf(err)
	if !ok {
		code = fallback
	}
	ec.Report(DVFSError{
		Code:      code,
		Message:   err.Error(),
		Component: component,
		Timestamp: ec.clock.Now().UnixMilli(),
		Err:       err,
	})
}

// GetActiveErrors returns all errors that have been reported within the TTL window.
func (ec *ErrorCollector) GetActiveErrors() []DVFSError {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	now := ec.clock.Now()
	result := make([]DVFSError, 0, len(ec.entries))
	for k, e := range ec.entries {
		if now.Sub(e.lastReport) > defaultTTL {
			delete(ec.entries, k)
			continue
		}
		result = append(result, e.err)
	}
	return result
}

// GetActiveErrorCodes returns a deduplicated list of active error codes.
func (ec *ErrorCollector) GetActiveErrorCodes() []string {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	now := ec.clock.Now()
	seen := make(map[Code]struct{})
	codes := make([]string, 0)
	for k, e := range ec.entries {
		if now.Sub(e.lastReport) > defaultTTL {
			delete(ec.entries, k)
			continue
		}
		if _, ok := seen[e.err.Code]; !ok {
			seen[e.err.Code] = struct{}{}
			codes = append(codes, string(e.err.Code))
		}
	}
	return codes
}

// Clear removes all tracked errors.
func (ec *ErrorCollector) Clear() {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	ec.entries = make(map[string]entry)
}
