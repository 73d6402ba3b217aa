package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type RedisConfig struct {
	// Addr empty disables rate limiting.
	Addr     string `envconfig:"ADDR"`
	Password string `envconfig:"PASSWORD"`
	DB       int    `envconfig:"DB" default:"0"`
}

func (c RedisConfig) Enabled() bool { return c.Addr != "" }

func (c RedisConfig) NewClient() *rd.Client {
	return rd.NewClient(&rd.Options{Addr: c.Addr, Password: c.Password, DB: c.DB})
}

// Evaler is the subset of the redis client the limiter needs.
type Evaler interface {
	Eval(ctx context.Context, script string, keys []string, args ...any) *rd.Cmd
}

// KEYS[1]=bucket, ARGV: now, window start, window seconds, member, limit.
// Returns the request count in the window, or -1 when the limit is reached.
const luaSlidingWindow = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local windowStart = tonumber(ARGV[2])
local windowSec = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '0', windowStart)
local count = redis.call('ZCARD', key)
if count < tonumber(ARGV[5]) then
  redis.call('ZADD', key, now, member)
  redis.call('EXPIRE', key, windowSec)
  return count + 1
end
return -1
`

// RateLimit limits chat requests per client IP with a redis sliding window.
// Redis failures let the request through.
func RateLimit(rdb Evaler, limit int, window time.Duration) gin.HandlerFunc {
	windowSec := int64(window.Seconds())
	if windowSec < 1 {
		windowSec = 1
	}
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		key := fmt.Sprintf("rate_limit:chat:ip:%s", c.ClientIP())

		now := time.Now()
		member := fmt.Sprintf("%d-%s", now.UnixNano(), c.GetString("request_id"))
		res, err := rdb.Eval(ctx, luaSlidingWindow, []string{key},
			now.Unix(), now.Unix()-windowSec, windowSec, member, limit).Int()
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("rate limit check failed; allowing request")
			c.Next()
			return
		}

		if res < 0 {
			c.Header("Retry-After", fmt.Sprint(windowSec))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"detail": "Too many chat requests. Please slow down and try again shortly.",
			})
			return
		}
		c.Next()
	}
}
