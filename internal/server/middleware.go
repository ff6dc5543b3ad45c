package server

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/Nobledental/NOBLE-OS-sub002/internal/auditcontext"
	"github.com/Nobledental/NOBLE-OS-sub002/internal/cliniccontext"
	"github.com/Nobledental/NOBLE-OS-sub002/internal/lock"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	HeaderClinic = "X-Clinic-Id"
	HeaderActor  = "X-Actor"

	contextClinicIDKey = "clinic_id"
)

// ClinicContext scopes every request to one clinic, falling back to the
// configured default, and carries the acting staff member for audit.
func ClinicContext(defaultClinicID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		clinicID := strings.TrimSpace(c.GetHeader(HeaderClinic))
		if clinicID == "" {
			clinicID = defaultClinicID
		}

		ctx := cliniccontext.WithClinicID(c.Request.Context(), clinicID)
		if actor := strings.TrimSpace(c.GetHeader(HeaderActor)); actor != "" {
			ctx = auditcontext.WithActor(ctx, actor)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Set(contextClinicIDKey, clinicID)
		c.Next()
	}
}

// WriteRateLimit throttles writes per clinic through the shared redis
// bucket. It is a no-op without redis and fails open when redis errors.
func WriteRateLimit(bucket *lock.TokenBucket, rate float64, burst int, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !bucket.Enabled() || rate <= 0 || burst <= 0 {
			c.Next()
			return
		}

		clinicID := clinicFrom(c)
		got, err := bucket.Allow(c.Request.Context(), fmt.Sprintf("ratelimit:ledger:%s", clinicID), rate, burst)
		if err != nil {
			log.Warn("rate limiter unavailable", zap.String("clinic_id", clinicID), zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(burst))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(got.Remaining))
		if !got.Allowed {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(got.RetryAfter.Seconds()))))
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}

func clinicFrom(c *gin.Context) string {
	return c.GetString(contextClinicIDKey)
}

func actorFrom(c *gin.Context) string {
	return auditcontext.ActorFromContext(c.Request.Context())
}
