package handler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aistudio-bridge/bridge/internal/bridgeerr"
	"github.com/aistudio-bridge/bridge/internal/browserbridge"
	"github.com/aistudio-bridge/bridge/internal/config"
	"github.com/aistudio-bridge/bridge/internal/identity"
	"github.com/aistudio-bridge/bridge/internal/protocol"
	"github.com/aistudio-bridge/bridge/internal/queue"
)

func TestIsImmediateSwitchStatus(t *testing.T) {
	codes := []int{429, 503}
	cases := []struct {
		status int
		want   bool
	}{
		{429, true},
		{503, true},
		{500, false},
		{200, false},
	}
	for _, tc := range cases {
		if got := isImmediateSwitchStatus(codes, tc.status); got != tc.want {
			t.Errorf("isImmediateSwitchStatus(%d) = %v, want %v", tc.status, got, tc.want)
		}
	}
}

func TestMinDuration(t *testing.T) {
	if got := minDuration(3*time.Second, 5*time.Second); got != 3*time.Second {
		t.Errorf("got %v, want 3s", got)
	}
	if got := minDuration(5*time.Second, 3*time.Second); got != 3*time.Second {
		t.Errorf("got %v, want 3s", got)
	}
}

func TestBuildDescriptorNonStreaming(t *testing.T) {
	desc := buildDescriptor("req-1", []byte(`{"a":1}`), "gemini-2.5-pro", protocol.StreamingReal, false)
	if desc.Path != "v1beta/models/gemini-2.5-pro:generateContent" {
		t.Errorf("unexpected path %q", desc.Path)
	}
	if _, ok := desc.QueryParams["alt"]; ok {
		t.Error("non-streaming descriptor should not carry alt=sse")
	}
	if !desc.IsGenerative {
		t.Error("expected IsGenerative true")
	}
}

func TestBuildDescriptorRealStreaming(t *testing.T) {
	desc := buildDescriptor("req-2", []byte(`{}`), "gemini-2.5-flash", protocol.StreamingReal, true)
	if desc.Path != "v1beta/models/gemini-2.5-flash:streamGenerateContent" {
		t.Errorf("unexpected path %q", desc.Path)
	}
	if desc.QueryParams["alt"] != "sse" {
		t.Error("real streaming descriptor should request alt=sse")
	}
}

func TestBuildDescriptorFakeStreaming(t *testing.T) {
	desc := buildDescriptor("req-3", []byte(`{}`), "gemini-2.5-flash", protocol.StreamingFake, true)
	if desc.Path != "v1beta/models/gemini-2.5-flash:streamGenerateContent" {
		t.Errorf("unexpected path %q", desc.Path)
	}
	if _, ok := desc.QueryParams["alt"]; ok {
		t.Error("fake streaming descriptor should not request alt=sse since the upstream call isn't actually streamed")
	}
}

func TestAwaitResponseHeadersSuccess(t *testing.T) {
	q := queue.New()
	go q.Enqueue(&protocol.UpstreamEvent{Kind: protocol.EventResponseHeaders, Status: 200, Headers: map[string]string{"x": "y"}})

	status, headers, err := awaitResponseHeaders(context.Background(), q, "req")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != 200 {
		t.Errorf("status = %d, want 200", status)
	}
	if headers["x"] != "y" {
		t.Errorf("headers missing expected field: %v", headers)
	}
}

func TestAwaitResponseHeadersUpstreamError(t *testing.T) {
	q := queue.New()
	go q.Enqueue(&protocol.UpstreamEvent{Kind: protocol.EventError, Status: 429, Message: "rate limited"})

	_, _, err := awaitResponseHeaders(context.Background(), q, "req")
	if !errors.Is(err, bridgeerr.ErrUpstreamStatus) {
		t.Fatalf("expected an upstream status error, got %v", err)
	}
	if bridgeerr.HTTPStatus(err) != 429 {
		t.Errorf("HTTPStatus = %d, want 429", bridgeerr.HTTPStatus(err))
	}
}

func TestAwaitResponseHeadersCanceled(t *testing.T) {
	q := queue.New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := awaitResponseHeaders(ctx, q, "req")
	if !errors.Is(err, bridgeerr.ErrCanceled) {
		t.Fatalf("expected ErrCanceled, got %v", err)
	}
}

func TestAwaitResponseHeadersDisconnected(t *testing.T) {
	q := queue.New()
	q.Close()

	_, _, err := awaitResponseHeaders(context.Background(), q, "req")
	if !errors.Is(err, bridgeerr.ErrDisconnected) {
		t.Fatalf("expected ErrDisconnected, got %v", err)
	}
}

// TestOnImmediateSwitchStatusIgnoresFailureThreshold proves the
// immediate-switch branch attempts a switch even when failure_threshold is
// left at its default, disabled value (0) — the bug the maintainer flagged:
// routing a 429/503 through onDispatchFailure's threshold-gated counter
// silently never switched identity under default configuration.
//
// The registry here has exactly one valid identity, so the switch's retry
// cycle exhausts on its very first FailSwitch call (Next wraps straight back
// to the identity it just tried), keeping the test fast and deterministic
// without a real browser binary.
func TestOnImmediateSwitchStatusIgnoresFailureThreshold(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "auth-0.json"), []byte(`{"accountName":"a"}`), 0o600); err != nil {
		t.Fatalf("writing identity fixture: %v", err)
	}

	cursor := identity.NewCursor(identity.NewPolicy(0, 0), nil)
	cursor.Activate(0)

	registry := identity.NewRegistry(dir)
	bridge := browserbridge.New("http://127.0.0.1:0", filepath.Join(dir, "no-such-browser-binary"), dir)

	h := New(bridge, registry, cursor, &config.Config{
		RetryDelayMS:              0,
		BrowserHandshakeTimeoutMS: 10,
	})

	if err := h.onImmediateSwitchStatus(context.Background(), 429); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap := cursor.Snapshot()
	if snap.State != identity.StateIdle || snap.ActiveIndex != identity.NoActiveIndex {
		t.Fatalf("expected the switch to have been attempted (and exhausted down to Idle) despite failure_threshold=0, got state=%v activeIndex=%d", snap.State, snap.ActiveIndex)
	}
}

func TestAwaitResponseHeadersIgnoresOutOfOrderFrames(t *testing.T) {
	q := queue.New()
	go func() {
		q.Enqueue(&protocol.UpstreamEvent{Kind: protocol.EventChunk, Data: []byte("stray")})
		q.Enqueue(&protocol.UpstreamEvent{Kind: protocol.EventResponseHeaders, Status: 200})
	}()

	status, _, err := awaitResponseHeaders(context.Background(), q, "req")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != 200 {
		t.Errorf("status = %d, want 200", status)
	}
}
