package httpapi

import (
	"net/http"
	"strings"
)

// cors sets CORS headers and answers preflight requests. allowed holds exact
// origins or "*". Listed origins are echoed with credentials so portals can
// send cookies; the wildcard answers "*" and never allows credentials.
func cors(allowed []string) func(http.Handler) http.Handler {
	exact := map[string]bool{}
	wildcard := false
	for _, a := range allowed {
		switch a = strings.TrimSpace(a); a {
		case "":
		case "*":
			wildcard = true
		default:
			exact[a] = true
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			h := w.Header()
			switch {
			case origin == "":
				next.ServeHTTP(w, r)
				return
			case exact[origin]:
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Credentials", "true")
				h.Add("Vary", "Origin")
			case wildcard:
				h.Set("Access-Control-Allow-Origin", "*")
			default:
				next.ServeHTTP(w, r)
				return
			}
			h.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-Id")
			h.Set("Access-Control-Max-Age", "86400")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
