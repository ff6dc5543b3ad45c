package logger

import (
	"net/http"
	"strings"
	"time"

	"github.com/Nobledental/NOBLE-OS-sub002/internal/auditcontext"
	"github.com/Nobledental/NOBLE-OS-sub002/internal/cliniccontext"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	HeaderRequestID = "X-Request-Id"
	headerClinicID  = "X-Clinic-Id"
)

// MiddlewareConfig controls request logging behavior.
type MiddlewareConfig struct {
	Debug bool
	// DefaultClinicID is logged for requests that never reach the clinic
	// middleware, such as rejected routes and health checks.
	DefaultClinicID string
	ErrorClassifier func(err error) (string, string)
}

// GinMiddleware writes one http_request line per call, tagged with the
// clinic, the settlement date or subject id from the path, and the error
// classification of the last handler error.
func GinMiddleware(base *zap.Logger, cfg MiddlewareConfig) gin.HandlerFunc {
	if base == nil {
		base = zap.L()
	}
	return func(c *gin.Context) {
		start := time.Now()
		requestID := ensureRequestID(c)
		c.Request = c.Request.WithContext(auditcontext.WithRequestID(c.Request.Context(), requestID))

		c.Next()

		route := strings.TrimSpace(c.FullPath())
		if route == "" {
			route = "unknown"
		}
		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.Int64("bytes_in", max(c.Request.ContentLength, 0)),
			zap.Int("bytes_out", max(c.Writer.Size(), 0)),
		}
		if _, ok := cliniccontext.ClinicIDFromContext(c.Request.Context()); !ok {
			if clinic := requestClinic(c, cfg.DefaultClinicID); clinic != "" {
				fields = append(fields, zap.String("clinic_id", clinic))
			}
		}
		if date := c.Param("date"); date != "" {
			fields = append(fields, zap.String("settlement_date", date))
		}
		if id := c.Param("id"); id != "" {
			fields = append(fields, zap.String("subject_id", id))
		}

		if lastErr := c.Errors.Last(); lastErr != nil {
			var errorType, errorCode string
			if cfg.ErrorClassifier != nil {
				errorType, errorCode = cfg.ErrorClassifier(lastErr.Err)
			}
			fields = append(fields,
				zap.String("error_type", errorType),
				zap.String("error_code", errorCode),
			)
			if cfg.Debug {
				fields = append(fields, zap.Stack("stack"))
			}
		}

		log := WithContext(c.Request.Context(), base)
		switch {
		case isHealthRoute(route):
			log.Debug("http_request", fields...)
		case status >= http.StatusInternalServerError:
			log.Error("http_request", fields...)
		case status >= http.StatusBadRequest && status != http.StatusNotFound:
			log.Warn("http_request", fields...)
		default:
			log.Info("http_request", fields...)
		}
	}
}

func ensureRequestID(c *gin.Context) string {
	requestID := strings.TrimSpace(c.GetHeader(HeaderRequestID))
	if requestID == "" {
		requestID = strings.TrimSpace(c.GetString("request_id"))
	}
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set("request_id", requestID)
	c.Header(HeaderRequestID, requestID)
	return requestID
}

func requestClinic(c *gin.Context, def string) string {
	if clinic := strings.TrimSpace(c.GetHeader(headerClinicID)); clinic != "" {
		return clinic
	}
	return strings.TrimSpace(def)
}

func isHealthRoute(route string) bool {
	return strings.EqualFold(route, "/metrics") || strings.EqualFold(route, "/health")
}
