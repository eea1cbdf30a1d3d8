package handler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/aistudio-bridge/bridge/internal/bridgeerr"
	"github.com/aistudio-bridge/bridge/internal/identity"
	"github.com/aistudio-bridge/bridge/internal/logging"
	"github.com/aistudio-bridge/bridge/internal/protocol"
	"github.com/aistudio-bridge/bridge/internal/queue"
)

// pipeFunc streams the body of one successfully-headered request to the
// HTTP client. It owns the queue for the remainder of the request: it must
// drain it until stream_close or error, or return promptly on ctx.Done().
type pipeFunc func(ctx context.Context, status int, headers map[string]string, q *queue.Queue) error

// dispatch drives the full retry loop described in the Request Handler's
// dispatch loop: ensure the browser is up, send the descriptor, await
// headers, hand off to pipe, and on failure retry with a fresh request id,
// switching identity first when a hard signal demands it.
func (h *Handler) dispatch(ctx context.Context, geminiBody []byte, model string, mode protocol.StreamingMode, stream bool, pipe pipeFunc) error {
	cfg := h.config()

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return bridgeerr.ErrCanceled
		default:
		}

		if isSystemBusy() {
			return bridgeerr.ErrBrowserRestarting
		}

		if err := h.ensureBrowser(); err != nil {
			if errors.Is(err, bridgeerr.ErrNoIdentityAvailable) {
				return err
			}
			lastErr = err
			if sleepErr := h.sleepOrCancel(ctx, cfg.RetryDelayMS); sleepErr != nil {
				return sleepErr
			}
			continue
		}

		requestID := uuid.NewString()
		q := queue.New()
		h.bridge.Dispatcher().Register(requestID, q)

		desc := buildDescriptor(requestID, geminiBody, model, mode, stream)
		reqLog := logging.ForRequest(requestID, h.cursor.ActiveIndex())

		if err := h.bridge.Send(desc); err != nil {
			h.bridge.Dispatcher().Unregister(requestID)
			q.Close()
			lastErr = err
			if recoverErr := h.onDispatchFailure(ctx, err); recoverErr != nil {
				return recoverErr
			}
			continue
		}

		status, headers, headerErr := awaitResponseHeaders(ctx, q, requestID)
		if headerErr != nil {
			h.bridge.Dispatcher().Unregister(requestID)
			q.Close()
			if errors.Is(headerErr, bridgeerr.ErrCanceled) {
				h.sendCancel(requestID)
				return headerErr
			}
			lastErr = headerErr
			reqLog.WithError(headerErr).Debug("dispatch: no response headers")
			if recoverErr := h.onDispatchFailure(ctx, headerErr); recoverErr != nil {
				return recoverErr
			}
			continue
		}

		if isImmediateSwitchStatus(cfg.ImmediateSwitchStatusCodes, status) {
			h.bridge.Dispatcher().Unregister(requestID)
			q.Close()
			lastErr = bridgeerr.NewUpstreamStatusError(status, "")
			reqLog.WithField("status", status).Debug("dispatch: immediate-switch status")
			if recoverErr := h.onImmediateSwitchStatus(ctx, status); recoverErr != nil {
				return recoverErr
			}
			continue
		}

		pipeErr := pipe(ctx, status, headers, q)
		h.bridge.Dispatcher().Unregister(requestID)

		if pipeErr == nil {
			if h.cursor.RecordSuccess() {
				go h.triggerAsyncSwitch()
			}
			return nil
		}

		if errors.Is(pipeErr, bridgeerr.ErrCanceled) {
			h.sendCancel(requestID)
			return pipeErr
		}

		lastErr = pipeErr
		reqLog.WithError(pipeErr).Debug("dispatch: pipe failed")
		if recoverErr := h.onDispatchFailure(ctx, pipeErr); recoverErr != nil {
			return recoverErr
		}
	}

	if lastErr == nil {
		lastErr = bridgeerr.ErrUpstreamStatus
	}
	return lastErr
}

// onDispatchFailure records the failure against the cursor, switches
// identity first when the failure threshold is reached, and sleeps
// retry_delay before the caller's next attempt. Returns non-nil only when
// the request should abort immediately (client disconnect during the wait).
func (h *Handler) onDispatchFailure(ctx context.Context, _ error) error {
	if h.cursor.RecordFailure() {
		if err := h.switchSync(); err != nil {
			log.WithError(err).Warn("dispatch: switch-before-retry failed")
		}
	}
	return h.sleepOrCancel(ctx, h.config().RetryDelayMS)
}

// onImmediateSwitchStatus handles a response whose status is in
// immediate_switch_status_codes. Unlike onDispatchFailure, the switch here
// is unconditional: an immediate-switch status is itself the trigger the
// dispatch loop's state machine wires independently of failureThreshold,
// not a generic failure that should wait for the failure counter to trip.
func (h *Handler) onImmediateSwitchStatus(ctx context.Context, _ int) error {
	h.cursor.RecordFailure()
	if err := h.switchSync(); err != nil {
		log.WithError(err).Warn("dispatch: switch-on-immediate-status failed")
	}
	return h.sleepOrCancel(ctx, h.config().RetryDelayMS)
}

func (h *Handler) sleepOrCancel(ctx context.Context, delayMS int) error {
	if delayMS <= 0 {
		return nil
	}
	timer := time.NewTimer(time.Duration(delayMS) * time.Millisecond)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return bridgeerr.ErrCanceled
	}
}

func (h *Handler) sendCancel(requestID string) {
	_ = h.bridge.Send(protocol.NewCancelFrame(requestID))
	h.bridge.Dispatcher().Unregister(requestID)
}

// awaitResponseHeaders blocks until the Client Agent's first response_headers
// frame, an error frame, ctx cancellation, or a fixed 30-second header
// timeout (independent of the configured upstream idle timeout).
func awaitResponseHeaders(ctx context.Context, q *queue.Queue, _ string) (status int, headers map[string]string, err error) {
	const headerTimeout = 30 * time.Second
	deadline := time.Now().Add(headerTimeout)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, nil, bridgeerr.ErrUpstreamTimeout
		}

		select {
		case <-ctx.Done():
			return 0, nil, bridgeerr.ErrCanceled
		default:
		}

		ev, derr := q.Dequeue(minDuration(remaining, 500*time.Millisecond))
		if derr != nil {
			if errors.Is(derr, queue.ErrTimeout) {
				continue
			}
			return 0, nil, bridgeerr.ErrDisconnected
		}

		switch ev.Kind {
		case protocol.EventResponseHeaders:
			return ev.Status, ev.Headers, nil
		case protocol.EventError:
			return ev.Status, nil, bridgeerr.NewUpstreamStatusError(ev.Status, ev.Message)
		default:
			// chunk/stream_close arriving before response_headers would be a
			// Client Agent protocol violation; ignore and keep waiting.
		}
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

func isImmediateSwitchStatus(codes []int, status int) bool {
	for _, c := range codes {
		if c == status {
			return true
		}
	}
	return false
}

func buildDescriptor(requestID string, geminiBody []byte, model string, mode protocol.StreamingMode, stream bool) *protocol.RequestDescriptor {
	action := "generateContent"
	query := map[string]string{}
	if stream {
		action = "streamGenerateContent"
		if mode == protocol.StreamingReal {
			query["alt"] = "sse"
		}
	}
	return &protocol.RequestDescriptor{
		RequestID:     requestID,
		EventType:     protocol.EventRequest,
		Method:        "POST",
		Path:          fmt.Sprintf("v1beta/models/%s:%s", model, action),
		QueryParams:   query,
		Headers:       map[string]string{"Content-Type": "application/json"},
		Body:          string(geminiBody),
		IsGenerative:  true,
		StreamingMode: mode,
	}
}

// ensureBrowser launches the bridge with the current (or first valid)
// identity if it isn't already connected.
func (h *Handler) ensureBrowser() error {
	if h.bridge.Connected() {
		return nil
	}

	snapshot, err := h.registry.Load()
	if err != nil {
		return bridgeerr.Wrap(bridgeerr.ErrBrowserUnavailable, "loading identity registry: %v", err)
	}
	if len(snapshot.Valid) == 0 {
		return bridgeerr.ErrNoIdentityAvailable
	}

	index := h.cursor.ActiveIndex()
	if h.cursor.State() == identity.StateIdle || snapshot.ByIndex(index) == nil {
		index = snapshot.FirstIndex()
	}
	id := snapshot.ByIndex(index)
	if id == nil {
		return bridgeerr.ErrNoIdentityAvailable
	}

	timeout := time.Duration(h.config().BrowserHandshakeTimeoutMS) * time.Millisecond
	if err := h.bridge.Startup(id, timeout); err != nil {
		return bridgeerr.Wrap(bridgeerr.ErrBrowserUnavailable, "launching browser: %v", err)
	}
	h.cursor.Activate(id.Index)
	return nil
}

// switchSync performs a synchronous identity switch: Switching(i->next(i)),
// restarting the browser up to one full cycle through the valid set before
// giving up and falling back to Idle.
func (h *Handler) switchSync() error {
	setSystemBusy(true)
	defer setSystemBusy(false)

	snapshot, err := h.registry.Load()
	if err != nil || len(snapshot.Valid) == 0 {
		h.cursor.ToIdle()
		return bridgeerr.ErrNoIdentityAvailable
	}

	next := identity.Next(h.cursor.ActiveIndex(), snapshot)
	if next == identity.NoActiveIndex {
		h.cursor.ToIdle()
		return bridgeerr.ErrNoIdentityAvailable
	}
	if !h.cursor.BeginSwitch(next) {
		return nil
	}

	timeout := time.Duration(h.config().BrowserHandshakeTimeoutMS) * time.Millisecond
	for {
		target := h.cursor.Snapshot().TargetIndex
		id := snapshot.ByIndex(target)

		var launchErr error
		if id != nil {
			launchErr = h.bridge.Restart(id, timeout)
		} else {
			launchErr = bridgeerr.ErrBrowserUnavailable
		}

		if launchErr == nil {
			h.cursor.CompleteSwitch()
			return nil
		}

		_, exhausted := h.cursor.FailSwitch(snapshot)
		if exhausted {
			log.WithError(launchErr).Error("identity rotation exhausted a full cycle without a successful switch")
			return bridgeerr.ErrBrowserUnavailable
		}
	}
}

// triggerAsyncSwitch is the switch-on-uses path: it must not delay the
// response that triggered it, so callers invoke it in its own goroutine.
func (h *Handler) triggerAsyncSwitch() {
	if err := h.switchSync(); err != nil {
		log.WithError(err).Warn("async switch-on-uses failed")
	}
}
