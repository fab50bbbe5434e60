package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"bosun/internal/identity"
	"bosun/pkg/middleware"
	"bosun/pkg/problems"
	"bosun/pkg/tenants"
)

const maxBody = 1 << 20

func writeJSON(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decode reads a JSON body into dst. An empty body leaves dst untouched.
func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return problems.Wrap(problems.KindInvalid, err, "malformed JSON body")
	}
	return nil
}

// fail renders err and logs the failures a client cannot act on.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch problems.KindOf(err) {
	case problems.KindInternal, problems.KindStoreUnavailable:
		a.log.Errorw("request failed", "method", r.Method, "path", r.URL.Path, "request_id", middleware.RequestIDFrom(r.Context()), "err", err)
	default:
		a.log.Debugw("request refused", "method", r.Method, "path", r.URL.Path, "err", err)
	}
	problems.Write(w, err, r.URL.Path)
}

// caller returns the authenticated user and tenant. Only call it behind the
// identity middleware.
func caller(r *http.Request) (identity.User, tenants.Tenant) {
	u, _ := middleware.UserFrom(r.Context())
	t, _ := middleware.TenantFrom(r.Context())
	return u, t
}
