package handler

import (
	"errors"
	"testing"

	"github.com/aistudio-bridge/bridge/internal/bridgeerr"
	"github.com/aistudio-bridge/bridge/internal/browserbridge"
	"github.com/aistudio-bridge/bridge/internal/config"
	"github.com/aistudio-bridge/bridge/internal/identity"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	dir := t.TempDir()
	store := identity.OpenStore(dir)
	t.Cleanup(func() { store.Close() })

	policy := identity.NewPolicy(3, 2)
	cursor := identity.NewCursor(policy, store)
	registry := identity.NewRegistry(dir)
	bridge := browserbridge.New("http://127.0.0.1:0", "", dir)

	return New(bridge, registry, cursor, &config.Config{
		MaxRetries:                1,
		RetryDelayMS:              0,
		BrowserHandshakeTimeoutMS: 10,
		UpstreamIdleTimeoutMS:     1000,
	})
}

func TestStatusReportsDisconnectedAndIdleInitially(t *testing.T) {
	h := newTestHandler(t)
	status := h.Status()
	if status.BrowserConnected {
		t.Error("expected no browser connection before any dispatch")
	}
	if status.State != identity.StateIdle.String() {
		t.Errorf("state = %q, want %q", status.State, identity.StateIdle.String())
	}
}

func TestSwitchToNextWithNoIdentitiesFails(t *testing.T) {
	h := newTestHandler(t)
	err := h.SwitchToNext()
	if !errors.Is(err, bridgeerr.ErrNoIdentityAvailable) {
		t.Fatalf("expected ErrNoIdentityAvailable, got %v", err)
	}
}

func TestSwitchToUnknownIndexFails(t *testing.T) {
	h := newTestHandler(t)
	err := h.SwitchTo(7)
	if !errors.Is(err, bridgeerr.ErrNoIdentityAvailable) {
		t.Fatalf("expected ErrNoIdentityAvailable, got %v", err)
	}
}
