// Package authmw guards the remediation API with bearer-token auth.
package authmw

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// BearerToken returns middleware requiring "Authorization: Bearer <token>"
// on every request. An empty expected token denies everything; callers that
// want an open API skip installing the middleware instead. Token comparison
// is constant time.
func BearerToken(token string) func(http.Handler) http.Handler {
	expected := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")

			if !strings.HasPrefix(auth, "Bearer ") {
				deny(w, "missing or malformed authorization header")
				return
			}

			got := []byte(strings.TrimPrefix(auth, "Bearer "))

			if len(expected) == 0 || subtle.ConstantTimeCompare(got, expected) != 1 {
				deny(w, "invalid token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// deny writes a 401 using the same error envelope as the remediation API.
func deny(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="remedy"`)
	http.Error(w, `{"error":"`+msg+`"}`, http.StatusUnauthorized)
}
