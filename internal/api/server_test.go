package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	sdkaccess "github.com/aistudio-bridge/bridge/sdk/access"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestAuthMiddlewareAllowsWhenNoProvidersConfigured(t *testing.T) {
	manager := sdkaccess.NewManager()
	engine := gin.New()
	engine.Use(AuthMiddleware(manager))
	engine.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestAuthMiddlewareRejectsMissingKey(t *testing.T) {
	manager := sdkaccess.NewManager()
	manager.SetProviders(sdkaccess.BuildProviders([]string{"secret"}))
	engine := gin.New()
	engine.Use(AuthMiddleware(manager))
	engine.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAuthMiddlewareAcceptsValidBearerKey(t *testing.T) {
	manager := sdkaccess.NewManager()
	manager.SetProviders(sdkaccess.BuildProviders([]string{"secret"}))
	engine := gin.New()
	engine.Use(AuthMiddleware(manager))
	engine.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer secret")
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestAuthMiddlewareRejectsWrongKey(t *testing.T) {
	manager := sdkaccess.NewManager()
	manager.SetProviders(sdkaccess.BuildProviders([]string{"secret"}))
	engine := gin.New()
	engine.Use(AuthMiddleware(manager))
	engine.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer nope")
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAdminAuthMiddlewareRequiresExactKey(t *testing.T) {
	engine := gin.New()
	engine.Use(AdminAuthMiddleware("top-secret"))
	engine.GET("/admin/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "Bearer wrong", http.StatusUnauthorized},
		{"correct", "Bearer top-secret", http.StatusOK},
		{"bare token also accepted", "top-secret", http.StatusOK},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/admin/x", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			engine.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestCorsMiddlewareShortCircuitsPreflight(t *testing.T) {
	engine := gin.New()
	engine.Use(corsMiddleware())
	engine.POST("/x", func(c *gin.Context) { c.Status(http.StatusOK) })
	engine.OPTIONS("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header on preflight response")
	}
}

func TestHandleGeminiModelActionRejectsMissingColon(t *testing.T) {
	s := &Server{}
	engine := gin.New()
	engine.POST("/v1beta/models/:modelAction", s.handleGeminiModelAction)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1beta/models/gemini-2.5-pro", nil)
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleGeminiModelActionRejectsUnknownAction(t *testing.T) {
	s := &Server{}
	engine := gin.New()
	engine.POST("/v1beta/models/:modelAction", s.handleGeminiModelAction)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1beta/models/gemini-2.5-pro:countTokens", nil)
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
