// Package clientagent embeds and serves the in-browser Client Agent: a
// small HTML stub plus a JavaScript bundle the headless browser page loads
// to bootstrap the duplex channel and execute request descriptors against
// the real upstream origin via fetch().
package clientagent

import (
	"embed"
	"net/http"

	"github.com/gin-gonic/gin"
)

//go:embed static/agent.js
var staticFS embed.FS

const stubPage = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>bridge</title></head>
<body>
<script src="/__bridge/agent.js"></script>
</body>
</html>
`

// RegisterRoutes mounts the stub page and its script under the bridge's
// own route table, alongside browserbridge.Bridge's websocket endpoint.
func RegisterRoutes(r gin.IRouter) {
	r.GET("/__bridge/stub", serveStub)
	r.GET("/__bridge/agent.js", serveScript)
}

func serveStub(c *gin.Context) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.String(http.StatusOK, stubPage)
}

func serveScript(c *gin.Context) {
	data, err := staticFS.ReadFile("static/agent.js")
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Data(http.StatusOK, "application/javascript", data)
}
