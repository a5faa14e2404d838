package http

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/bnema/clipper/internal/adapter/http/ratelimit"
	"github.com/bnema/clipper/internal/infrastructure/logger"
	"github.com/bnema/clipper/internal/service"
)

// TokenValidator resolves an owner bearer token to a user id.
type TokenValidator interface {
	ValidateToken(token string) (string, error)
}

type contextKey int

const userIDKey contextKey = iota

func AuthMiddleware(auth TokenValidator, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing bearer token", Code: "unauthorized"})
			return
		}

		userID, err := auth.ValidateToken(token)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: err.Error(), Code: "unauthorized"})
			return
		}

		next(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	}
}

func userFrom(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

// bearerToken reads the Authorization header. GET requests may pass the
// token as a query parameter since EventSource cannot set headers.
func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	if h := r.Header.Get("Authorization"); len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	if r.Method == http.MethodGet {
		return r.URL.Query().Get("token")
	}
	return ""
}

// webhookGuard checks the shared worker secret and throttles clients that
// keep presenting a wrong one.
type webhookGuard struct {
	secret      string
	limiter     *ratelimit.FailureLimiter
	behindProxy bool
}

// allow writes the rejection itself and returns false when the call must stop.
// The body secret wins over the X-Webhook-Secret header.
func (g *webhookGuard) allow(w http.ResponseWriter, r *http.Request, bodySecret string) bool {
	ip := clientIP(r, g.behindProxy)

	if ok, wait := g.limiter.Allowed(ip); !ok {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "too many failed attempts", Code: "rate_limited"})
		return false
	}

	supplied := bodySecret
	if supplied == "" {
		supplied = r.Header.Get("X-Webhook-Secret")
	}

	if !service.CheckWebhookSecret(g.secret, supplied) {
		if g.limiter.Fail(ip) {
			logger.Warn.Printf("webhook client %s blocked after repeated bad secrets", logger.SanitizeForLog(ip))
		}
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid webhook secret", Code: "unauthorized"})
		return false
	}

	g.limiter.Reset(ip)
	return true
}

func clientIP(r *http.Request, behindProxy bool) string {
	if behindProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			return strings.TrimSpace(first)
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
