package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hivebot/hive/internal/crypto"
)

// ctxKeyOwner is the context key the auth middleware stores the
// authenticated caller's wallet address under (empty for the admin-token
// path, which is not scoped to one owner).
type ctxKey int

const ctxKeyOwner ctxKey = iota

// Owner extracts the authenticated caller's wallet address from ctx, or ""
// if the request authenticated via the admin bypass token.
func Owner(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyOwner).(string)
	return v
}

// AuthConfig parameterizes the dual auth scheme: an admin
// bypass token, or a wallet-signed request envelope.
type AuthConfig struct {
	AdminToken            string
	RequireFreshTimestamp bool
	MaxTimestampSkew      time.Duration
}

// Auth returns middleware enforcing dual authentication: either
// a matching x-admin-token, or the (x-wallet-address, x-auth-message,
// x-auth-signature) personal-sign envelope recovered and compared against
// x-wallet-address. If AdminToken is empty, the admin path is disabled.
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Liveness stays unauthenticated so orchestration probes work.
			if strings.HasSuffix(r.URL.Path, "/health") {
				next.ServeHTTP(w, r)
				return
			}

			if cfg.AdminToken != "" {
				if token := r.Header.Get("x-admin-token"); token != "" {
					if subtle.ConstantTimeCompare([]byte(token), []byte(cfg.AdminToken)) == 1 {
						next.ServeHTTP(w, r)
						return
					}
					writeUnauthorized(w, "invalid admin token")
					return
				}
			}

			address := r.Header.Get("x-wallet-address")
			messageB64 := r.Header.Get("x-auth-message")
			signature := r.Header.Get("x-auth-signature")
			if address == "" || messageB64 == "" || signature == "" {
				writeUnauthorized(w, "missing authentication: supply x-admin-token or the wallet signature envelope")
				return
			}

			message, err := base64.StdEncoding.DecodeString(messageB64)
			if err != nil {
				writeUnauthorized(w, "x-auth-message must be base64")
				return
			}

			if cfg.RequireFreshTimestamp {
				if !freshTimestamp(string(message), cfg.MaxTimestampSkew) {
					writeUnauthorized(w, "auth message timestamp outside the allowed skew window")
					return
				}
			}

			ok, err := crypto.VerifyPersonalSign(message, signature, address)
			if err != nil || !ok {
				writeUnauthorized(w, "signature does not match x-wallet-address")
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeyOwner, strings.ToLower(address))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// freshTimestamp parses a "Timestamp: <ms>" line out of the signed message
// and reports whether it falls within skew of now. A message with no
// Timestamp line, or one that fails to parse, is not fresh.
func freshTimestamp(message string, skew time.Duration) bool {
	for _, line := range strings.Split(message, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "Timestamp:") {
			continue
		}
		ms, err := strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(line, "Timestamp:")), 10, 64)
		if err != nil {
			return false
		}
		ts := time.UnixMilli(ms)
		delta := time.Since(ts)
		if delta < 0 {
			delta = -delta
		}
		return delta <= skew
	}
	return false
}

// writeUnauthorized sends a 401 response with a JSON error body.
func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
