// Package handler implements the Request Handler: the single orchestrator
// that turns one inbound HTTP request into a dispatched Request Descriptor,
// pipes the Client Agent's Upstream Events back to the caller, and drives
// the identity rotation state machine on success and failure.
package handler

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/aistudio-bridge/bridge/internal/bridgeerr"
	"github.com/aistudio-bridge/bridge/internal/browserbridge"
	"github.com/aistudio-bridge/bridge/internal/config"
	"github.com/aistudio-bridge/bridge/internal/converter"
	"github.com/aistudio-bridge/bridge/internal/flags"
	"github.com/aistudio-bridge/bridge/internal/identity"
)

// Handler owns the Bridge, the identity registry and rotation cursor, and
// the live configuration; it is the only component that coordinates
// concurrency across an in-flight request's lifetime.
type Handler struct {
	bridge   *browserbridge.Bridge
	registry *identity.Registry
	cursor   *identity.Cursor
	cfg      atomic.Pointer[config.Config]
}

// New builds a Handler. The bridge's disconnect hook is wired here so a
// dropped duplex channel forces the cursor back to Idle, per the
// Disconnected error kind's policy.
func New(bridge *browserbridge.Bridge, registry *identity.Registry, cursor *identity.Cursor, cfg *config.Config) *Handler {
	h := &Handler{bridge: bridge, registry: registry, cursor: cursor}
	h.cfg.Store(cfg)
	bridge.SetDisconnectHook(cursor.ToIdle)
	return h
}

// UpdateConfig installs a freshly reloaded configuration; read by every
// subsequent dispatch.
func (h *Handler) UpdateConfig(cfg *config.Config) {
	h.cfg.Store(cfg)
}

func (h *Handler) config() *config.Config {
	return h.cfg.Load()
}

// ServeOpenAIChat implements serve_openai_chat: parses an OpenAI body,
// translates it to Gemini, dispatches, and converts the response back.
func (h *Handler) ServeOpenAIChat(c *gin.Context) {
	rawJSON, err := c.GetRawData()
	if err != nil {
		writeError(c, bridgeerr.Wrap(bridgeerr.ErrBadRequest, "reading request body: %v", err))
		return
	}

	geminiBody, model, err := converter.OpenAIToGemini(rawJSON)
	if err != nil {
		writeError(c, bridgeerr.Wrap(bridgeerr.ErrFormatError, "translating request: %v", err))
		return
	}
	if model == "" {
		writeError(c, bridgeerr.Wrap(bridgeerr.ErrBadRequest, "missing model"))
		return
	}

	wantsStream := json.Valid(rawJSON) && gjsonBool(rawJSON, "stream")
	mode := flags.StreamingMode()

	responseID := "chatcmpl-" + uuid.NewString()
	created := nowUnix()

	if wantsStream {
		h.serveStreaming(c, geminiBody, model, mode, responseID, created)
		return
	}
	h.serveNonStreaming(c, geminiBody, model, mode, responseID, created)
}

// ServeGeminiNative implements serve_gemini_native: sanitizes an inbound
// Gemini-shaped body, dispatches it untouched, and streams the upstream
// response back byte for byte.
func (h *Handler) ServeGeminiNative(c *gin.Context, model string, stream bool) {
	rawJSON, err := c.GetRawData()
	if err != nil {
		writeError(c, bridgeerr.Wrap(bridgeerr.ErrBadRequest, "reading request body: %v", err))
		return
	}

	sanitized, err := converter.SanitizeGeminiNative(rawJSON)
	if err != nil {
		writeError(c, bridgeerr.Wrap(bridgeerr.ErrFormatError, "sanitizing request: %v", err))
		return
	}

	mode := flags.StreamingMode()
	if stream {
		h.dispatchRaw(c, sanitized, model, mode, true)
		return
	}
	h.dispatchRaw(c, sanitized, model, mode, false)
}

func gjsonBool(rawJSON []byte, field string) bool {
	var probe map[string]interface{}
	if err := json.Unmarshal(rawJSON, &probe); err != nil {
		return false
	}
	v, _ := probe[field].(bool)
	return v
}

func nowUnix() int64 {
	return time.Now().Unix()
}
