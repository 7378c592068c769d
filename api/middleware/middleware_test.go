package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/wacul/ptr"

	"github.com/blnkfinance/repay/config"
)

func newTestRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(handlers...)
	router.GET("/settlements/:id", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"settlement_id": c.Param("id")})
	})
	return router
}

func serve(router *gin.Engine, header map[string]string) *httptest.ResponseRecorder {
	return serveID(router, "stl_1", header)
}

func serveID(router *gin.Engine, id string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/settlements/"+id, nil)
	req.RemoteAddr = "10.0.0.1:1234"
	for key, value := range header {
		req.Header.Set(key, value)
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestSecretKeyAuthMiddleware(t *testing.T) {
	config.MockConfig(&config.Configuration{
		Redis:  config.RedisConfig{Dns: "localhost:6379"},
		Server: config.ServerConfig{Secure: true, SecretKey: "repay-secret"},
	})
	router := newTestRouter(SecretKeyAuthMiddleware())

	tests := []struct {
		name       string
		header     map[string]string
		wantStatus int
	}{
		{name: "Valid key", header: map[string]string{SecretKeyHeader: "repay-secret"}, wantStatus: http.StatusOK},
		{name: "Missing key", header: nil, wantStatus: http.StatusUnauthorized},
		{name: "Wrong key", header: map[string]string{SecretKeyHeader: "guess"}, wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := serve(router, tt.header)
			assert.Equal(t, tt.wantStatus, resp.Code)
		})
	}
}

func TestSecretKeyAuthMiddleware_NoSecretConfigured(t *testing.T) {
	config.MockConfig(&config.Configuration{
		Redis:  config.RedisConfig{Dns: "localhost:6379"},
		Server: config.ServerConfig{Secure: true},
	})
	router := newTestRouter(SecretKeyAuthMiddleware())

	resp := serve(router, map[string]string{SecretKeyHeader: "anything"})
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	conf := &config.Configuration{
		RateLimit: config.RateLimitConfig{
			RequestsPerSecond:  ptr.Float64(1),
			Burst:              ptr.Int(2),
			CleanupIntervalSec: ptr.Int(60),
		},
	}
	router := newTestRouter(RateLimitMiddleware(conf))

	assert.Equal(t, http.StatusOK, serve(router, nil).Code)
	assert.Equal(t, http.StatusOK, serve(router, nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(router, nil).Code)
}

func TestRateLimitMiddleware_BucketPerRouteID(t *testing.T) {
	conf := &config.Configuration{
		RateLimit: config.RateLimitConfig{
			RequestsPerSecond: ptr.Float64(1),
			Burst:             ptr.Int(1),
		},
	}
	router := newTestRouter(RateLimitMiddleware(conf))

	assert.Equal(t, http.StatusOK, serveID(router, "bank_va", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, serveID(router, "bank_va", nil).Code)
	assert.Equal(t, http.StatusOK, serveID(router, "ewallet", nil).Code)
}

func TestRateLimitMiddleware_DisabledWithoutLimits(t *testing.T) {
	router := newTestRouter(RateLimitMiddleware(&config.Configuration{}))
	for i := 0; i < 10; i++ {
		assert.Equal(t, http.StatusOK, serve(router, nil).Code)
	}
}
