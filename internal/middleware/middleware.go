// Package middleware holds the gin middleware shared by the API server:
// request ids, access logging, panic recovery, CORS, security headers and
// per-IP rate limiting, plus the standard error response.
package middleware

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"botforge/internal/apperr"
	"botforge/internal/logging"
)

const requestIDKey = "request_id"

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error     string         `json:"error"`
	Code      string         `json:"code"`
	Kind      string         `json:"kind,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	RequestID string         `json:"request_id,omitempty"`
}

// AbortWithError writes err as an ErrorResponse with the status and code of
// its kind and aborts the chain.
func AbortWithError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	AbortWithStatus(c, apperr.HTTPStatus(kind), ErrorResponse{
		Error: err.Error(),
		Code:  apperr.ResponseCode(kind),
		Kind:  string(kind),
	})
}

// AbortWithStatus fills in the timestamp and request id and aborts
func AbortWithStatus(c *gin.Context, status int, resp ErrorResponse) {
	resp.Timestamp = time.Now().UTC()
	resp.RequestID = GetRequestID(c)
	c.AbortWithStatusJSON(status, resp)
}

// Recovery middleware with custom error handling
func Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.L().Error("panic recovered",
			zap.String("request_id", GetRequestID(c)),
			zap.String("path", c.Request.URL.Path),
			zap.Any("panic", recovered),
			zap.ByteString("stack", debug.Stack()))

		AbortWithStatus(c, http.StatusInternalServerError, ErrorResponse{
			Error: "Internal server error",
			Code:  apperr.ResponseCode(apperr.Internal),
		})
	})
}

// Logger writes one access log line per request through zap
func Logger(skipPaths ...string) gin.HandlerFunc {
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if skip[c.Request.URL.Path] {
			return
		}

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.String("request_id", GetRequestID(c)),
		}
		if errs := c.Errors.ByType(gin.ErrorTypePrivate).String(); errs != "" {
			fields = append(fields, zap.String("errors", errs))
		}

		switch status := c.Writer.Status(); {
		case status >= 500:
			logging.L().Error("request", fields...)
		case status >= 400:
			logging.L().Warn("request", fields...)
		default:
			logging.L().Info("request", fields...)
		}
	}
}

// RequestID middleware adds a unique request ID to each request
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		c.Header("X-Request-ID", requestID)
		c.Set(requestIDKey, requestID)
		c.Next()
	}
}

// GetRequestID returns the id set by RequestID, falling back to the header
func GetRequestID(c *gin.Context) string {
	if v, ok := c.Get(requestIDKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return c.GetHeader("X-Request-ID")
}

// CORS allows the listed origins. An empty list, or "*", allows any origin.
func CORS(allowedOrigins []string) gin.HandlerFunc {
	allowAll := len(allowedOrigins) == 0
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		o = strings.TrimSpace(o)
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (allowAll || allowed[origin]) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, X-Requested-With, X-Request-ID")
		c.Header("Access-Control-Expose-Headers", "X-Request-ID")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// SecurityHeaders adds the response headers every API reply carries
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Cache-Control", "no-store")
		c.Next()
	}
}

// BodyLimit caps request bodies at n bytes
func BodyLimit(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > n {
			AbortWithStatus(c, http.StatusRequestEntityTooLarge, ErrorResponse{
				Error:   "Request body too large",
				Code:    apperr.ResponseCode(apperr.BadRequest),
				Details: map[string]any{"max_bytes": n},
			})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		c.Next()
	}
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter manages rate limiters for different IP addresses
type IPRateLimiter struct {
	limiters map[string]*clientLimiter
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	perMin   int
	idle     time.Duration
	stop     chan struct{}
	once     sync.Once
}

// NewIPRateLimiter allows requestsPerMinute per client IP with the given
// burst. Limiters idle for an hour are dropped.
func NewIPRateLimiter(requestsPerMinute, burst int) *IPRateLimiter {
	l := &IPRateLimiter{
		limiters: make(map[string]*clientLimiter),
		rate:     rate.Limit(requestsPerMinute) / 60,
		burst:    burst,
		perMin:   requestsPerMinute,
		idle:     time.Hour,
		stop:     make(chan struct{}),
	}
	go l.cleanupRoutine(10 * time.Minute)
	return l
}

// GetLimiter returns the rate limiter for a given IP
func (l *IPRateLimiter) GetLimiter(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	cl, ok := l.limiters[ip]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[ip] = cl
	}
	cl.lastSeen = time.Now()
	return cl.limiter
}

func (l *IPRateLimiter) cleanupRoutine(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.evictIdle(time.Now().Add(-l.idle))
		}
	}
}

func (l *IPRateLimiter) evictIdle(cutoff time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, cl := range l.limiters {
		if cl.lastSeen.Before(cutoff) {
			delete(l.limiters, ip)
		}
	}
}

// Close stops the cleanup goroutine
func (l *IPRateLimiter) Close() {
	l.once.Do(func() { close(l.stop) })
}

// Middleware rejects requests over the client's limit with 429
func (l *IPRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.GetLimiter(c.ClientIP()).Allow() {
			logging.L().Warn("rate limit exceeded", zap.String("client_ip", c.ClientIP()), zap.String("path", c.Request.URL.Path))
			c.Header("Retry-After", "60")
			AbortWithStatus(c, http.StatusTooManyRequests, ErrorResponse{
				Error: "Rate limit exceeded",
				Code:  "rate-limited",
				Details: map[string]any{
					"retry_after": "60s",
					"limit":       fmt.Sprintf("%d requests per minute", l.perMin),
				},
			})
			return
		}
		c.Next()
	}
}

// generateRequestID generates a unique request ID using timestamp + random bytes
func generateRequestID() string {
	randomBytes := make([]byte, 4)
	rand.Read(randomBytes)
	return fmt.Sprintf("%d-%s", time.Now().UnixNano(), hex.EncodeToString(randomBytes))
}
