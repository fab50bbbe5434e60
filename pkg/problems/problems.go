// Package problems defines the authorization error taxonomy and renders it
// as RFC 7807 problem documents.
package problems

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
)

type Kind string

const (
	KindUnauthenticated         Kind = "unauthenticated"
	KindInsufficientPermissions Kind = "forbidden.insufficient-permissions"
	KindPortalMismatch          Kind = "forbidden.portal-mismatch"
	KindTenantInactive          Kind = "forbidden.tenant-inactive"
	KindRoleInUse               Kind = "conflict.role-in-use"
	KindExists                  Kind = "conflict.exists"
	KindRoleNotFound            Kind = "not-found.role"
	KindUserNotFound            Kind = "not-found.user"
	KindTenantNotFound          Kind = "not-found.tenant"
	KindStoreUnavailable        Kind = "store-unavailable"
	KindTenantContextRequired   Kind = "tenant-context-required"
	KindInvalid                 Kind = "invalid-request"
	KindLocked                  Kind = "account-locked"
	KindRateLimited             Kind = "rate-limited"
	KindInternal                Kind = "internal"
)

var kinds = map[Kind]struct {
	status int
	title  string
}{
	KindUnauthenticated:         {http.StatusUnauthorized, "Authentication required"},
	KindInsufficientPermissions: {http.StatusForbidden, "Insufficient permissions"},
	KindPortalMismatch:          {http.StatusForbidden, "Portal not allowed"},
	KindTenantInactive:          {http.StatusForbidden, "Tenant is not active"},
	KindRoleInUse:               {http.StatusConflict, "Role is assigned to users"},
	KindExists:                  {http.StatusConflict, "Already exists"},
	KindRoleNotFound:            {http.StatusNotFound, "Role not found"},
	KindUserNotFound:            {http.StatusNotFound, "User not found"},
	KindTenantNotFound:          {http.StatusNotFound, "Tenant not found"},
	KindStoreUnavailable:        {http.StatusServiceUnavailable, "Store unavailable"},
	KindTenantContextRequired:   {http.StatusBadRequest, "Tenant context required"},
	KindInvalid:                 {http.StatusBadRequest, "Invalid request"},
	KindLocked:                  {http.StatusLocked, "Account temporarily locked"},
	KindRateLimited:             {http.StatusTooManyRequests, "Too many requests"},
	KindInternal:                {http.StatusInternalServerError, "Internal error"},
}

// Status maps a kind to its HTTP status code.
func (k Kind) Status() int {
	if v, ok := kinds[k]; ok {
		return v.status
	}
	return http.StatusInternalServerError
}

func (k Kind) Title() string {
	if v, ok := kinds[k]; ok {
		return v.title
	}
	return kinds[KindInternal].title
}

// Slug is the last path segment of the problem type URL.
func (k Kind) Slug() string { return strings.ReplaceAll(string(k), ".", "-") }

// Error is a classified failure. Two errors match under errors.Is when
// their kinds match, so the sentinels below work against wrapped values.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil && e.Err.Error() != e.Detail {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrUnauthenticated         = &Error{Kind: KindUnauthenticated}
	ErrInsufficientPermissions = &Error{Kind: KindInsufficientPermissions}
	ErrPortalMismatch          = &Error{Kind: KindPortalMismatch}
	ErrTenantInactive          = &Error{Kind: KindTenantInactive}
	ErrRoleInUse               = &Error{Kind: KindRoleInUse}
	ErrExists                  = &Error{Kind: KindExists}
	ErrRoleNotFound            = &Error{Kind: KindRoleNotFound}
	ErrUserNotFound            = &Error{Kind: KindUserNotFound}
	ErrTenantNotFound          = &Error{Kind: KindTenantNotFound}
	ErrStoreUnavailable        = &Error{Kind: KindStoreUnavailable}
	ErrTenantContextRequired   = &Error{Kind: KindTenantContextRequired}
	ErrInvalid                 = &Error{Kind: KindInvalid}
	ErrLocked                  = &Error{Kind: KindLocked}
)

// New builds a classified error with a formatted detail.
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. A nil err returns nil.
func Wrap(kind Kind, err error, detail string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Detail: detail, Err: err}
}

// KindOf reports the kind of the outermost classified error in the chain,
// or KindInternal when none is present.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}

// Base returns the base URL for problem type identifiers.
// Order of precedence:
// 1. PROBLEM_BASE_URL (exact base)
// 2. BASE_PUBLIC_URL + "/problems"
// 3. https://example.com/problems
func Base() string {
	if b := os.Getenv("PROBLEM_BASE_URL"); b != "" {
		return strings.TrimRight(b, "/")
	}
	if b := os.Getenv("BASE_PUBLIC_URL"); b != "" {
		return strings.TrimRight(b, "/") + "/problems"
	}
	return "https://example.com/problems"
}

// Type builds a full problem type URL for the given slug.
func Type(slug string) string { return Base() + "/" + slug }
