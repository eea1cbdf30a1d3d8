package handler

import (
	"time"

	"github.com/aistudio-bridge/bridge/internal/bridgeerr"
)

// SwitchToNext performs an explicit operator-requested switch to the
// successor of the currently active identity, used by the admin switch
// endpoint. It fails fast with ErrBrowserRestarting if a switch is already
// underway rather than queuing behind it.
func (h *Handler) SwitchToNext() error {
	if isSystemBusy() {
		return bridgeerr.ErrBrowserRestarting
	}
	return h.switchSync()
}

// SwitchTo performs an explicit switch to a specific identity index. Unlike
// the automatic rotation path it does not walk the successor cycle on
// failure: a requested index that cannot be launched falls the cursor back
// to Idle and reports the error directly to the caller.
func (h *Handler) SwitchTo(index int) error {
	if isSystemBusy() {
		return bridgeerr.ErrBrowserRestarting
	}
	setSystemBusy(true)
	defer setSystemBusy(false)

	snapshot, err := h.registry.Load()
	if err != nil || len(snapshot.Valid) == 0 {
		h.cursor.ToIdle()
		return bridgeerr.ErrNoIdentityAvailable
	}
	id := snapshot.ByIndex(index)
	if id == nil {
		return bridgeerr.ErrNoIdentityAvailable
	}
	if !h.cursor.BeginSwitch(index) {
		return bridgeerr.ErrBrowserRestarting
	}

	timeout := time.Duration(h.config().BrowserHandshakeTimeoutMS) * time.Millisecond
	if err := h.bridge.Restart(id, timeout); err != nil {
		h.cursor.ToIdle()
		return bridgeerr.Wrap(bridgeerr.ErrBrowserUnavailable, "switching to identity %d: %v", index, err)
	}
	h.cursor.CompleteSwitch()
	return nil
}

// Status reports the information the health and admin-status endpoints
// expose: whether the browser's duplex channel is connected and the current
// rotation cursor state.
type Status struct {
	BrowserConnected bool   `json:"browserConnected"`
	State            string `json:"identity_state"`
	ActiveIndex      int    `json:"active_identity_index"`
}

func (h *Handler) Status() Status {
	snap := h.cursor.Snapshot()
	return Status{
		BrowserConnected: h.bridge.Connected(),
		State:            snap.State.String(),
		ActiveIndex:      snap.ActiveIndex,
	}
}
