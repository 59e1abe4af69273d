package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/djinilabs/helpmaton-sub006/internal/audit"
	apperrors "github.com/djinilabs/helpmaton-sub006/internal/errors"
	"github.com/djinilabs/helpmaton-sub006/internal/util"
)

// OperatorAuthMiddleware guards the operator API with a single bearer token,
// checked against its bcrypt hash.
type OperatorAuthMiddleware struct {
	tokenHash string
	limiter   *AuthFailureLimiter
}

func NewOperatorAuthMiddleware(tokenHash string, limiter *AuthFailureLimiter) *OperatorAuthMiddleware {
	if limiter == nil {
		limiter = NewAuthFailureLimiter()
	}
	return &OperatorAuthMiddleware{tokenHash: tokenHash, limiter: limiter}
}

func (m *OperatorAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if m.limiter.Blocked(ip) {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, apperrors.RateLimitExceeded("Too many failed attempts. Please try again later."))
			return
		}

		if m.tokenHash == "" {
			writeError(w, http.StatusServiceUnavailable, apperrors.Internal("Operator API is not configured"))
			return
		}

		token := extractToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, apperrors.Unauthorized("Missing authentication token"))
			return
		}

		if !util.CheckSecretHash(token, m.tokenHash) {
			m.limiter.RecordFailure(ip)
			log.Warn().Str("ip", ip).Str("fingerprint", util.Fingerprint(token)).Msg("operator auth: invalid token attempt")
			audit.LogFromRequest(r, audit.Event{Type: audit.EventOperatorAuthFailure})
			writeError(w, http.StatusUnauthorized, apperrors.InvalidToken("Invalid token"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return ""
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
