// Package nostrauth verifies the signed-assertion header carried by mutating
// requests. The assertion is a Nostr event of kind 27235 transported as
// "Authorization: Nostr <base64(event-json)>"; a request that passes every
// check proceeds with the event's pubkey attached to its context.
//
// Verification is stateless and single-shot: no session, no token store.
package nostrauth

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/nbd-wtf/go-nostr"

	"walias/internal/platform/metrics"
	"walias/pkg/requestcontext"
)

// KindHTTPAuth is the reserved event kind for HTTP authorization events.
const KindHTTPAuth = 27235

// MaxClockSkew bounds the replay window around the event's created_at.
const MaxClockSkew = 60 // seconds

const headerPrefix = "Nostr "

// AuthenticatedPubkeyHeader is stripped from every inbound request so a
// client can never impersonate the middleware.
const AuthenticatedPubkeyHeader = "x-authenticated-pubkey"

// Middleware returns the verification middleware. Requests without the
// header pass through unauthenticated; the services decide per-route whether
// an identity is required.
func Middleware(logger *slog.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Header.Del(AuthenticatedPubkeyHeader)

			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, headerPrefix) {
				next.ServeHTTP(w, r)
				return
			}

			reject := func(status int, reason string) {
				if m != nil {
					m.AuthFailures.Inc()
				}
				logger.WarnContext(r.Context(), "rejected signed assertion",
					"reason", reason,
					"request_id", requestcontext.RequestID(r.Context()),
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(status)
				_ = json.NewEncoder(w).Encode(map[string]string{"reason": reason})
			}

			encoded := strings.TrimSpace(authHeader[len(headerPrefix):])
			raw, err := base64.StdEncoding.DecodeString(encoded)
			if err != nil {
				reject(http.StatusUnauthorized, "Unauthorized")
				return
			}

			var event nostr.Event
			if err := json.Unmarshal(raw, &event); err != nil {
				reject(http.StatusUnauthorized, "Unauthorized")
				return
			}

			if ok, err := event.CheckSignature(); err != nil || !ok {
				reject(http.StatusUnauthorized, "Invalid signature")
				return
			}

			if event.Kind != KindHTTPAuth {
				reject(http.StatusUnauthorized, "Invalid kind")
				return
			}

			now := requestcontext.Now(r.Context()).Unix()
			age := now - int64(event.CreatedAt)
			if age < 0 {
				age = -age
			}
			if age > MaxClockSkew {
				reject(http.StatusForbidden, "The event is more than 60 seconds old")
				return
			}

			if tagValue(event.Tags, "u") != requestURL(r) {
				reject(http.StatusForbidden, "URL doesnt match")
				return
			}

			if tagValue(event.Tags, "method") != r.Method {
				reject(http.StatusForbidden, "Method doesnt match")
				return
			}

			// Body integrity is optional: the payload tag is only enforced
			// when present.
			if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
				if want := tagValue(event.Tags, "payload"); want != "" {
					body, err := io.ReadAll(r.Body)
					if err != nil {
						reject(http.StatusUnauthorized, "Unauthorized")
						return
					}
					r.Body = io.NopCloser(bytes.NewReader(body))

					sum := sha256.Sum256(body)
					if hex.EncodeToString(sum[:]) != want {
						reject(http.StatusForbidden, "Body doesnt match")
						return
					}
				}
			}

			ctx := requestcontext.WithPubkey(r.Context(), event.PubKey)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// tagValue returns the second element of the first tag whose first element
// is name, or "" when absent.
func tagValue(tags nostr.Tags, name string) string {
	for _, tag := range tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1]
		}
	}
	return ""
}

// requestURL rebuilds the full URL the client signed over.
func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if forwarded := r.Header.Get("X-Forwarded-Proto"); forwarded != "" {
		scheme = forwarded
	}
	return scheme + "://" + r.Host + r.RequestURI
}
