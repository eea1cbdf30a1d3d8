// Package bridgeerr defines the sentinel error kinds surfaced by the browser
// bridge's dispatch loop, distinguishable with errors.Is/errors.As so callers
// can decide retry and status-code behavior without string matching.
package bridgeerr

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Wrap with fmt.Errorf("...: %w", Kind) at the call
// site to attach context while keeping errors.Is matching intact.
var (
	// ErrBadRequest indicates the inbound request could not be parsed or
	// translated into an upstream request.
	ErrBadRequest = errors.New("bad request")
	// ErrAuthRejected indicates the configured API key check failed.
	ErrAuthRejected = errors.New("auth rejected")
	// ErrUpstreamStatus indicates Google AI Studio answered with a non-2xx status.
	ErrUpstreamStatus = errors.New("upstream status error")
	// ErrUpstreamTimeout indicates no byte arrived from upstream within the idle timeout.
	ErrUpstreamTimeout = errors.New("upstream timeout")
	// ErrBrowserUnavailable indicates the headless browser process is not running
	// and could not be started.
	ErrBrowserUnavailable = errors.New("browser unavailable")
	// ErrBrowserRestarting indicates a request arrived while the bridge is mid-restart.
	ErrBrowserRestarting = errors.New("browser restarting")
	// ErrDisconnected indicates the browser's duplex channel dropped mid-request.
	ErrDisconnected = errors.New("browser disconnected")
	// ErrCanceled indicates the inbound client disconnected before completion.
	ErrCanceled = errors.New("request canceled")
	// ErrFormatError indicates the Format Converter could not translate a message.
	ErrFormatError = errors.New("format error")
	// ErrBrowserClosed indicates the bridge was shut down; in-flight queues
	// are closed with this as their terminal frame message.
	ErrBrowserClosed = errors.New("browser closed")
	// ErrNoIdentityAvailable indicates the identity registry has no valid
	// entries to launch the browser with.
	ErrNoIdentityAvailable = errors.New("no identity available")
)

// UpstreamStatusError carries the upstream HTTP status code alongside the
// ErrUpstreamStatus sentinel so handlers can both errors.Is-match the kind
// and recover the original status with errors.As.
type UpstreamStatusError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("upstream status error: status=%d", e.StatusCode)
}

func (e *UpstreamStatusError) Unwrap() error { return ErrUpstreamStatus }

// NewUpstreamStatusError builds an UpstreamStatusError for a given response.
func NewUpstreamStatusError(statusCode int, body string) error {
	return &UpstreamStatusError{StatusCode: statusCode, Body: body}
}

// Wrap attaches a message to a sentinel kind while preserving errors.Is matching.
func Wrap(kind error, format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), kind)
}

// HTTPStatus maps a bridge error to the HTTP status code the client-facing
// handler should respond with. Unrecognized errors map to 500.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrBadRequest), errors.Is(err, ErrFormatError):
		return 400
	case errors.Is(err, ErrAuthRejected):
		return 401
	case errors.Is(err, ErrCanceled):
		return 499
	case errors.Is(err, ErrUpstreamTimeout):
		return 504
	case errors.Is(err, ErrBrowserUnavailable), errors.Is(err, ErrBrowserRestarting), errors.Is(err, ErrDisconnected), errors.Is(err, ErrNoIdentityAvailable):
		return 503
	case errors.Is(err, ErrUpstreamStatus):
		var statusErr *UpstreamStatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode != 0 {
			return statusErr.StatusCode
		}
		return 502
	default:
		return 500
	}
}
