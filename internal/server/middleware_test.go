package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Nobledental/NOBLE-OS-sub002/internal/cliniccontext"
	"github.com/Nobledental/NOBLE-OS-sub002/internal/lock"
	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestClinicContext(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ClinicContext("main"))

	var clinic, actor, fromCtx string
	r.GET("/", func(c *gin.Context) {
		clinic = clinicFrom(c)
		actor = actorFrom(c)
		fromCtx, _ = cliniccontext.ClinicIDFromContext(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "main", clinic)
	assert.Equal(t, "main", fromCtx)
	assert.Empty(t, actor)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderClinic, " C7 ")
	req.Header.Set(HeaderActor, "dr-rao")
	r.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "C7", clinic)
	assert.Equal(t, "dr-rao", actor)
}

func TestWriteRateLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	r := gin.New()
	r.Use(ErrorHandlingMiddleware(), ClinicContext("main"))
	r.POST("/", WriteRateLimit(lock.NewTokenBucket(client), 0.01, 1, zap.NewNop()), func(c *gin.Context) {
		c.Status(http.StatusCreated)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "rate_limited")
}

func TestWriteRateLimit_DisabledWithoutRedis(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/", WriteRateLimit(nil, 1, 1, zap.NewNop()), func(c *gin.Context) {
		c.Status(http.StatusCreated)
	})

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
		assert.Equal(t, http.StatusCreated, rec.Code)
	}
}
