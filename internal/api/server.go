// Package api wires the Gin HTTP engine: the OpenAI- and Gemini-compatible
// routes, the Browser Bridge's duplex endpoint, the in-browser Client Agent's
// static stub, and the authentication and CORS middleware shared by all of
// them.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/aistudio-bridge/bridge/internal/browserbridge"
	"github.com/aistudio-bridge/bridge/internal/clientagent"
	"github.com/aistudio-bridge/bridge/internal/config"
	"github.com/aistudio-bridge/bridge/internal/flags"
	"github.com/aistudio-bridge/bridge/internal/handler"
	"github.com/aistudio-bridge/bridge/internal/logging"
	"github.com/aistudio-bridge/bridge/internal/protocol"
	sdkaccess "github.com/aistudio-bridge/bridge/sdk/access"
)

// Server is the main API server: a Gin engine and the http.Server wrapping it.
type Server struct {
	engine        *gin.Engine
	server        *http.Server
	handler       *handler.Handler
	bridge        *browserbridge.Bridge
	cfg           *config.Config
	accessManager *sdkaccess.Manager
}

// NewServer builds the engine, registers every route, and wraps it in an
// http.Server bound to cfg.Host:cfg.Port.
func NewServer(cfg *config.Config, h *handler.Handler, bridge *browserbridge.Bridge, accessManager *sdkaccess.Manager) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(logging.GinLogrusLogger())
	engine.Use(logging.GinLogrusRecovery())
	engine.Use(corsMiddleware())

	s := &Server{
		engine:        engine,
		handler:       h,
		bridge:        bridge,
		cfg:           cfg,
		accessManager: accessManager,
	}
	s.applyAccessConfig(cfg)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: engine,
	}
	return s
}

func (s *Server) setupRoutes() {
	// Browser Bridge's duplex channel and identity bootstrap, and the
	// in-browser Client Agent's static stub page/script. Unauthenticated:
	// these are only ever called by the headless browser itself on loopback.
	s.bridge.RegisterRoutes(s.engine)
	clientagent.RegisterRoutes(s.engine)

	s.engine.GET("/health", s.handleHealth)

	openaiGroup := func(r gin.IRouter) {
		r.POST("/chat/completions", s.handler.ServeOpenAIChat)
		r.GET("/models", modelsHandler)
	}
	v1 := s.engine.Group("/v1")
	v1.Use(AuthMiddleware(s.accessManager))
	openaiGroup(v1)

	openaiAlias := s.engine.Group("/openai/v1")
	openaiAlias.Use(AuthMiddleware(s.accessManager))
	openaiGroup(openaiAlias)

	// Native Gemini routes, mounted under every API version segment Google's
	// own SDKs target. Gin's router can't mix a ":version" wildcard with the
	// literal "/v1" and "/openai" groups above, so each version is its own
	// literal group instead.
	for _, version := range []string{"v1beta", "v1alpha"} {
		gv := s.engine.Group("/" + version)
		gv.Use(AuthMiddleware(s.accessManager))
		gv.GET("/models", modelsHandler)
		gv.POST("/models/:modelAction", s.handleGeminiModelAction)
	}

	if s.cfg.RemoteManagementKey != "" {
		admin := s.engine.Group("/admin")
		admin.Use(AdminAuthMiddleware(s.cfg.RemoteManagementKey))
		{
			admin.GET("/status", s.handleAdminStatus)
			admin.POST("/switch", s.handleAdminSwitch)
			admin.POST("/diagnostic-window", s.handleAdminDiagnosticWindow)
			admin.GET("/flags", s.handleGetFlags)
			admin.PUT("/flags", s.handlePutFlags)
		}
	}
}

// handleGeminiModelAction splits "gemini-2.5-pro:streamGenerateContent" style
// path segments, the shape Google's own Gemini API uses, into a model name
// and an action verb.
func (s *Server) handleGeminiModelAction(c *gin.Context) {
	raw := c.Param("modelAction")
	model, action, found := strings.Cut(raw, ":")
	if !found {
		c.JSON(http.StatusBadRequest, handler.ErrorResponse{Error: handler.ErrorDetail{
			Message: "expected model:action path segment",
			Type:    "invalid_request_error",
		}})
		return
	}
	switch action {
	case "generateContent":
		s.handler.ServeGeminiNative(c, model, false)
	case "streamGenerateContent":
		s.handler.ServeGeminiNative(c, model, true)
	default:
		c.JSON(http.StatusNotFound, handler.ErrorResponse{Error: handler.ErrorDetail{
			Message: fmt.Sprintf("unsupported action %q", action),
			Type:    "invalid_request_error",
		}})
	}
}

func modelsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data": []gin.H{
			{"id": "gemini-2.5-pro", "object": "model", "owned_by": "google"},
			{"id": "gemini-2.5-flash", "object": "model", "owned_by": "google"},
		},
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	status := s.handler.Status()
	httpStatus := http.StatusOK
	if !status.BrowserConnected {
		httpStatus = http.StatusServiceUnavailable
	}
	c.JSON(httpStatus, status)
}

func (s *Server) handleAdminStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.handler.Status())
}

func (s *Server) handleAdminSwitch(c *gin.Context) {
	var body struct {
		Index *int `json:"index"`
	}
	_ = c.ShouldBindJSON(&body)

	var err error
	if body.Index != nil {
		err = s.handler.SwitchTo(*body.Index)
	} else {
		err = s.handler.SwitchToNext()
	}
	if err != nil {
		c.JSON(http.StatusConflict, handler.ErrorResponse{Error: handler.ErrorDetail{Message: err.Error(), Type: "switch_error"}})
		return
	}
	c.JSON(http.StatusOK, s.handler.Status())
}

// handleAdminDiagnosticWindow opens a visible browser window onto the stub
// page the headless worker is already running, for an operator to eyeball
// the live AI Studio session state. Best-effort: failures are only logged by
// browserbridge, never surfaced as a request error.
func (s *Server) handleAdminDiagnosticWindow(c *gin.Context) {
	browserbridge.OpenDiagnosticWindow(s.bridge.DiagnosticURL())
	c.JSON(http.StatusOK, gin.H{"opened": s.bridge.DiagnosticURL()})
}

type flagsPayload struct {
	StreamingMode   string `json:"streaming_mode,omitempty"`
	ForceThinking   *bool  `json:"force_thinking,omitempty"`
	ForceWebSearch  *bool  `json:"force_web_search,omitempty"`
	ForceURLContext *bool  `json:"force_url_context,omitempty"`
}

func (s *Server) handleGetFlags(c *gin.Context) {
	mode := string(flags.StreamingMode())
	c.JSON(http.StatusOK, flagsPayload{
		StreamingMode:   mode,
		ForceThinking:   boolPtr(flags.ForceThinking()),
		ForceWebSearch:  boolPtr(flags.ForceWebSearch()),
		ForceURLContext: boolPtr(flags.ForceURLContext()),
	})
}

func (s *Server) handlePutFlags(c *gin.Context) {
	var body flagsPayload
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, handler.ErrorResponse{Error: handler.ErrorDetail{Message: err.Error(), Type: "invalid_request_error"}})
		return
	}
	switch body.StreamingMode {
	case "real":
		flags.SetStreamingMode(protocol.StreamingReal)
	case "fake":
		flags.SetStreamingMode(protocol.StreamingFake)
	case "":
	default:
		c.JSON(http.StatusBadRequest, handler.ErrorResponse{Error: handler.ErrorDetail{Message: "streaming_mode must be real or fake", Type: "invalid_request_error"}})
		return
	}
	if body.ForceThinking != nil {
		flags.SetForceThinking(*body.ForceThinking)
	}
	if body.ForceWebSearch != nil {
		flags.SetForceWebSearch(*body.ForceWebSearch)
	}
	if body.ForceURLContext != nil {
		flags.SetForceURLContext(*body.ForceURLContext)
	}
	s.handleGetFlags(c)
}

func boolPtr(v bool) *bool { return &v }

// Start begins listening for and serving HTTP requests. Blocking.
func (s *Server) Start() error {
	log.Debugf("starting API server on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %v", err)
	}
	return nil
}

// Stop gracefully shuts down the API server without interrupting active connections.
func (s *Server) Stop(ctx context.Context) error {
	log.Debug("stopping API server...")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %v", err)
	}
	log.Debug("API server stopped")
	return nil
}

// UpdateConfig installs freshly reloaded configuration, propagating to the
// handler and to the access manager's provider list.
func (s *Server) UpdateConfig(cfg *config.Config) {
	s.cfg = cfg
	s.handler.UpdateConfig(cfg)
	s.applyAccessConfig(cfg)
}

func (s *Server) applyAccessConfig(cfg *config.Config) {
	if s.accessManager == nil {
		return
	}
	s.accessManager.SetProviders(sdkaccess.BuildProviders(cfg.APIKeys))
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "*")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// AuthMiddleware authenticates requests against the configured API key
// providers. With no providers configured, it allows every request through.
func AuthMiddleware(manager *sdkaccess.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if manager == nil {
			c.Next()
			return
		}
		result, err := manager.Authenticate(c.Request.Context(), c.Request)
		if err == nil {
			if result != nil {
				c.Set("apiKey", result.Principal)
				c.Set("accessProvider", result.Provider)
			}
			c.Next()
			return
		}
		switch {
		case errors.Is(err, sdkaccess.ErrNoCredentials):
			c.AbortWithStatusJSON(http.StatusUnauthorized, handler.ErrorResponse{Error: handler.ErrorDetail{Message: "missing API key", Type: "authentication_error"}})
		case errors.Is(err, sdkaccess.ErrInvalidCredential):
			c.AbortWithStatusJSON(http.StatusUnauthorized, handler.ErrorResponse{Error: handler.ErrorDetail{Message: "invalid API key", Type: "authentication_error"}})
		default:
			log.Errorf("authentication middleware error: %v", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, handler.ErrorResponse{Error: handler.ErrorDetail{Message: "authentication service error", Type: "server_error"}})
		}
	}
}

// AdminAuthMiddleware gates the admin flag/switch endpoints behind a static
// bearer key, distinct from the client-facing API keys.
func AdminAuthMiddleware(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		provided := strings.TrimSpace(c.GetHeader("Authorization"))
		if parts := strings.SplitN(provided, " ", 2); len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			provided = parts[1]
		}
		if provided == "" || provided != key {
			c.AbortWithStatusJSON(http.StatusUnauthorized, handler.ErrorResponse{Error: handler.ErrorDetail{Message: "invalid management key", Type: "authentication_error"}})
			return
		}
		c.Next()
	}
}
