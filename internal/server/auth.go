package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/KumarDevelopmentUS/DS5-sub001/internal/auth"
)

type ctxKey int

const ctxKeyIdentity ctxKey = iota

// bearerToken reads the Authorization header, falling back to the token
// query parameter for clients that cannot set headers (EventSource, browser
// WebSockets).
func bearerToken(r *http.Request) string {
	if token, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); found {
		return token
	}
	return r.URL.Query().Get("token")
}

func authMiddleware(v *auth.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := v.Verify(bearerToken(r))
			if err != nil {
				writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid or missing token")
				return
			}
			ctx := context.WithValue(r.Context(), ctxKeyIdentity, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func identityFrom(r *http.Request) auth.Identity {
	return r.Context().Value(ctxKeyIdentity).(auth.Identity)
}
