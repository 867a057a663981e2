package ingresshttp

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/nudge/internal/redis"
)

// SignatureConfig configures HMAC-SHA256 request verification for one
// channel. An empty Secret disables verification, which is explicitly
// documented dev-mode behavior.
type SignatureConfig struct {
	Secret     string
	HeaderName string
	Prefix     string // stripped from the header value before comparison, e.g. "sha256="
}

// VerifySignature returns middleware that checks an HMAC-SHA256
// signature over the raw request body against cfg.Secret, using
// cfg.HeaderName to locate it. The body is restored after reading so
// downstream handlers can still decode it.
func VerifySignature(cfg SignatureConfig, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Secret == "" {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			header := r.Header.Get(cfg.HeaderName)
			header = strings.TrimPrefix(header, cfg.Prefix)

			mac := hmac.New(sha256.New, []byte(cfg.Secret))
			mac.Write(body)
			expected := hex.EncodeToString(mac.Sum(nil))

			if !hmac.Equal([]byte(header), []byte(expected)) {
				logger.Warn("webhook signature mismatch",
					zap.String("path", r.URL.Path),
					zap.String("header", cfg.HeaderName),
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"status": "error", "detail": "signature mismatch"})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitMiddleware enforces a rate limit ahead of user resolution,
// so it keys by client IP rather than user ID. Once inside Handler.accept,
// after resolveUser succeeds, a second check against the same kind of
// limiter is applied keyed by user_id — see Handler.checkUserRateLimit.
func RateLimitMiddleware(limiter *redis.RateLimiter, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			key := IPKeyFunc(r)
			result, err := limiter.Allow(r.Context(), key)
			if err != nil {
				logger.Warn("rate limit check failed", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

			if !result.Allowed {
				retryAfter := time.Until(result.ResetAt).Seconds()
				w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter)))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{"status": "error", "detail": "rate limit exceeded"})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// IPKeyFunc extracts the client IP for rate limiting.
func IPKeyFunc(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return "ip:" + ip
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return "ip:" + ip
	}
	return "ip:" + r.RemoteAddr
}
