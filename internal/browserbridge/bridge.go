// Package browserbridge owns the lifecycle of the single headless browser
// worker and its duplex channel to the page-resident Client Agent: launch,
// handshake, descriptor send, event receive and routing, and restart/close
// with the exclusivity and queue-closing invariants the design requires.
package browserbridge

import (
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/aistudio-bridge/bridge/internal/bridgeerr"
	"github.com/aistudio-bridge/bridge/internal/identity"
	"github.com/aistudio-bridge/bridge/internal/protocol"
)

// Bridge is the single owner of the headless browser process and its
// websocket duplex channel. All exported methods are safe for concurrent
// use by many request handlers.
type Bridge struct {
	mu            sync.Mutex
	conn          *duplexConn
	handshakeCh   chan struct{}
	handshakeOnce sync.Once

	restarting atomic.Bool
	closed     atomic.Bool

	dispatcher *Dispatcher
	launcher   *Launcher

	baseURL     string
	profileRoot string

	storageState atomic.Pointer[[]byte]

	disconnectHook atomic.Pointer[func()]
}

// New builds a bridge. baseURL is the bridge's own HTTP origin (e.g.
// "http://127.0.0.1:8317"), used to point the headless browser at the stub
// page that bootstraps the duplex channel back to this process.
func New(baseURL, browserBinary, profileRoot string) *Bridge {
	return &Bridge{
		dispatcher:  NewDispatcher(),
		launcher:    NewLauncher(browserBinary),
		baseURL:     baseURL,
		profileRoot: profileRoot,
	}
}

// Dispatcher exposes the id->queue table for handlers to register against.
func (b *Bridge) Dispatcher() *Dispatcher { return b.dispatcher }

// DiagnosticURL returns the stub page URL the headless worker itself loads,
// for an operator to open in a visible window alongside it.
func (b *Bridge) DiagnosticURL() string {
	return b.baseURL + "/__bridge/stub"
}

// SetDisconnectHook installs the callback invoked when the duplex channel
// drops outside of a deliberate restart or close; the identity cursor owner
// uses this to move to Idle per the Disconnected error policy.
func (b *Bridge) SetDisconnectHook(fn func()) {
	b.disconnectHook.Store(&fn)
}

// Connected reports whether a duplex channel is currently live, for the
// health endpoint's browserConnected field.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil && !b.conn.isClosed()
}

// Startup launches the browser with the given identity's storage state and
// waits for the first handshake frame, bounded by timeout. Used on the
// Idle -> Active(i0) transition.
func (b *Bridge) Startup(id *identity.Identity, timeout time.Duration) error {
	return b.launch(id, timeout)
}

// Restart tears down the current browser and channel, closes all in-flight
// queues with BrowserRestarting, then launches anew with id. Restart and
// Send are mutually exclusive with a concurrent restart: only one restart
// runs at a time, and Send fails fast while one is in progress.
func (b *Bridge) Restart(id *identity.Identity, timeout time.Duration) error {
	if !b.restarting.CompareAndSwap(false, true) {
		return bridgeerr.ErrBrowserRestarting
	}
	defer b.restarting.Store(false)

	b.dispatcher.CloseAll(bridgeerr.ErrBrowserRestarting.Error())
	return b.launch(id, timeout)
}

func (b *Bridge) launch(id *identity.Identity, timeout time.Duration) error {
	b.mu.Lock()
	if b.conn != nil {
		b.conn.close()
		b.conn = nil
	}
	handshakeCh := make(chan struct{})
	b.handshakeCh = handshakeCh
	b.handshakeOnce = sync.Once{}
	b.mu.Unlock()

	if id != nil {
		state := []byte(id.StorageState)
		b.storageState.Store(&state)
	}

	profileDir, err := os.MkdirTemp(b.profileRoot, "profile-")
	if err != nil {
		return bridgeerr.Wrap(bridgeerr.ErrBrowserUnavailable, "create profile dir: %v", err)
	}

	pageURL := b.baseURL + "/__bridge/stub"
	if err = b.launcher.Launch(pageURL, profileDir); err != nil {
		return bridgeerr.Wrap(bridgeerr.ErrBrowserUnavailable, "launch: %v", err)
	}

	select {
	case <-handshakeCh:
		log.Info("browserbridge: handshake received, duplex channel established")
		return nil
	case <-time.After(timeout):
		_ = b.launcher.Kill()
		return bridgeerr.Wrap(bridgeerr.ErrBrowserUnavailable, "handshake timeout after %s", timeout)
	}
}

// Send serializes and transmits a Request Descriptor over the duplex
// channel. Fails with ErrBrowserRestarting while a restart is in progress,
// or ErrDisconnected if the channel is down.
func (b *Bridge) Send(desc *protocol.RequestDescriptor) error {
	if b.restarting.Load() {
		return bridgeerr.ErrBrowserRestarting
	}

	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil || conn.isClosed() {
		return bridgeerr.ErrDisconnected
	}

	data, err := protocol.EncodeDescriptor(desc)
	if err != nil {
		return bridgeerr.Wrap(bridgeerr.ErrFormatError, "encode descriptor: %v", err)
	}
	if err = conn.writeText(data); err != nil {
		return bridgeerr.Wrap(bridgeerr.ErrDisconnected, "write: %v", err)
	}
	return nil
}

// Close idempotently tears the bridge down: closes all in-flight queues
// with BrowserClosed, closes the duplex channel, and kills the browser
// process.
func (b *Bridge) Close() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}
	b.dispatcher.CloseAll(bridgeerr.ErrBrowserClosed.Error())
	b.mu.Lock()
	if b.conn != nil {
		b.conn.close()
		b.conn = nil
	}
	b.mu.Unlock()
	_ = b.launcher.Kill()
}

func (b *Bridge) onConnect(dc *duplexConn) {
	b.mu.Lock()
	old := b.conn
	b.conn = dc
	handshakeCh := b.handshakeCh
	once := &b.handshakeOnce
	b.mu.Unlock()

	if old != nil && old != dc {
		old.close()
	}
	if handshakeCh != nil {
		once.Do(func() { close(handshakeCh) })
	}
}

func (b *Bridge) onDisconnect(dc *duplexConn) {
	b.mu.Lock()
	wasCurrent := b.conn == dc
	if wasCurrent {
		b.conn = nil
	}
	b.mu.Unlock()

	if !wasCurrent || b.closed.Load() || b.restarting.Load() {
		return
	}

	log.Warn("browserbridge: duplex channel dropped unexpectedly")
	b.dispatcher.CloseAll(bridgeerr.ErrDisconnected.Error())
	if hook := b.disconnectHook.Load(); hook != nil && *hook != nil {
		(*hook)()
	}
}

func (b *Bridge) onFrame(raw []byte) {
	ev, err := protocol.DecodeUpstreamEvent(raw)
	if err != nil {
		log.WithError(err).Warn("browserbridge: could not decode upstream event frame")
		return
	}
	b.dispatcher.Dispatch(ev)
}

// serveIdentity returns the active identity's storage state as the response
// body, for the stub page's bootstrap script to apply before connecting.
func (b *Bridge) serveIdentity(c *gin.Context) {
	state := b.storageState.Load()
	c.Header("Content-Type", "application/json")
	if state == nil {
		c.String(http.StatusOK, "{}")
		return
	}
	c.Data(http.StatusOK, "application/json", *state)
}

// RegisterRoutes mounts the bridge's internal endpoints: the websocket
// upgrade, and the identity bootstrap fetch the stub page issues before
// establishing the duplex channel. The stub HTML/JS itself is served by the
// clientagent package, mounted separately by the caller.
func (b *Bridge) RegisterRoutes(r gin.IRouter) {
	r.GET("/__bridge/ws", b.handleConnect)
	r.GET("/__bridge/identity", b.serveIdentity)
}

// ProfileDir returns where per-launch browser profiles are created, so
// callers can ensure the directory exists ahead of the first launch.
func (b *Bridge) ProfileDir(name string) string {
	return filepath.Join(b.profileRoot, name)
}
