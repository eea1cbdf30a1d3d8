package browserbridge

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The page-resident Client Agent is served by this same process, so the
	// handshake's Origin always matches; this is not a public-facing socket.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// duplexConn wraps one websocket connection to the in-browser Client Agent.
// Writes are serialized with a mutex because gorilla/websocket connections
// are not safe for concurrent writers; reads happen on a single goroutine,
// the one serving the websocket upgrade in handleConnect.
type duplexConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	closed  chan struct{}
	once    sync.Once
}

func newDuplexConn(conn *websocket.Conn) *duplexConn {
	return &duplexConn{conn: conn, closed: make(chan struct{})}
}

func (d *duplexConn) writeText(payload []byte) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	return d.conn.WriteMessage(websocket.TextMessage, payload)
}

func (d *duplexConn) close() {
	d.once.Do(func() {
		close(d.closed)
		_ = d.conn.Close()
	})
}

func (d *duplexConn) isClosed() bool {
	select {
	case <-d.closed:
		return true
	default:
		return false
	}
}

// handleConnect upgrades the inbound HTTP request to a websocket, hands the
// resulting connection to the bridge, and blocks reading frames until the
// socket closes or the bridge tears it down. One connection is accepted at
// a time; a second concurrent connect attempt replaces the first, since
// exactly one Client Agent page is expected to be live.
func (b *Bridge) handleConnect(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.WithError(err).Warn("browserbridge: websocket upgrade failed")
		return
	}

	dc := newDuplexConn(conn)
	b.onConnect(dc)
	defer b.onDisconnect(dc)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if dc.isClosed() {
				return
			}
			log.WithError(err).Debug("browserbridge: duplex channel read ended")
			return
		}
		b.onFrame(raw)
	}
}
