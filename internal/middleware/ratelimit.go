package middleware

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/inkroom/inkroom-api/internal/service"
	"github.com/inkroom/inkroom-api/pkg/config"
	appErrors "github.com/inkroom/inkroom-api/pkg/errors"
	"github.com/inkroom/inkroom-api/pkg/response"
)

// RateLimit applies a fixed-window per-IP limit backed by Redis. The window
// key carries the route so limits on different endpoints stay independent.
// Redis being down fails open; blocking logins on cache availability is
// worse than briefly losing the limiter.
func RateLimit(client *redis.Client, cfg config.RateLimitConfig, metrics *service.MetricsService, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		if !cfg.Enabled || client == nil {
			c.Next()
			return
		}

		window := time.Now().Unix() / int64(cfg.Window.Seconds())
		key := fmt.Sprintf("%s:%s:%s:%d", cfg.Prefix, c.FullPath(), c.ClientIP(), window)

		count, err := client.Incr(c.Request.Context(), key).Result()
		if err != nil {
			logger.Warn("rate limiter unavailable", zap.Error(err))
			c.Next()
			return
		}
		if count == 1 {
			if err := client.Expire(c.Request.Context(), key, cfg.Window).Err(); err != nil {
				logger.Warn("failed to set rate limit expiry", zap.Error(err))
			}
		}

		if count > int64(cfg.Limit) {
			metrics.CountRateLimited()
			response.Error(c, appErrors.Clone(appErrors.ErrTooManyRequests, ""))
			c.Abort()
			return
		}
		c.Next()
	}
}
