// Package middleware provides HTTP middlewares for authentication and logging.
package middleware

import (
	"context"
	"net/http"
)

type ctxKey string

const operatorKey ctxKey = "operator"

// publicPaths are served without a client certificate.
var publicPaths = map[string]struct{}{
	"/healthz": {},
	"/metrics": {},
}

// CertAuth is a middleware that enforces mutual TLS authentication.
//
// Every request except the health and metrics probes must carry a verified
// client certificate. The certificate's Common Name is stored in the request
// context as the operator performing the admin call.
func CertAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := publicPaths[r.URL.Path]; ok {
			next.ServeHTTP(w, r)
			return
		}
		if r.TLS == nil || len(r.TLS.PeerCertificates) == 0 {
			http.Error(w, "no client certificate provided", http.StatusUnauthorized)
			return
		}
		cert := r.TLS.PeerCertificates[0]
		ctx := context.WithValue(r.Context(), operatorKey, cert.Subject.CommonName)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OperatorFromContext returns the Common Name of the client certificate
// that authenticated the request, or an empty string.
func OperatorFromContext(ctx context.Context) string {
	val := ctx.Value(operatorKey)
	if s, ok := val.(string); ok {
		return s
	}
	return ""
}
