// Package session issues and validates the signed tokens that carry a
// user's identity between requests, and runs the login and registration
// flows that mint them.
package session

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"bosun/pkg/problems"
)

// Kind separates access, refresh and password reset tokens.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
	// KindReset tokens are signed with the access secret and are never
	// accepted as access tokens.
	KindReset Kind = "password-reset"
)

const (
	kindClaim        = "kind"
	fingerprintClaim = "pwd"
)

var (
	ErrExpired   = errors.New("token expired")
	ErrMalformed = errors.New("token malformed")
	ErrWrongKind = errors.New("token has the wrong kind")
)

type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn int64 `json:"expiresIn"`
}

type Manager struct {
	accessKey  []byte
	refreshKey []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	resetTTL   time.Duration
	now        func() time.Time
	cookies    CookieConfig
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }
func WithIssuer(iss string) Option { return func(m *Manager) { m.issuer = iss } }
func WithAccessTTL(d time.Duration) Option { return func(m *Manager) { m.accessTTL = d } }
func WithRefreshTTL(d time.Duration) Option { return func(m *Manager) { m.refreshTTL = d } }
func WithResetTTL(d time.Duration) Option { return func(m *Manager) { m.resetTTL = d } }
func WithCookies(c CookieConfig) Option { return func(m *Manager) { m.cookies = c } }

// NewManager signs access and refresh tokens with separate HS256 secrets.
func NewManager(accessSecret, refreshSecret string, opts ...Option) *Manager {
	m := &Manager{
		accessKey:  []byte(accessSecret),
		refreshKey: []byte(refreshSecret),
		issuer:     "bosun",
		accessTTL:  7 * 24 * time.Hour,
		refreshTTL: 30 * 24 * time.Hour,
		resetTTL:   time.Hour,
		now:        time.Now,
		cookies:    CookieConfig{SameSite: http.SameSiteStrictMode},
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Manager) AccessTTL() time.Duration  { return m.accessTTL }
func (m *Manager) RefreshTTL() time.Duration { return m.refreshTTL }

func (m *Manager) key(k Kind) []byte {
	if k == KindRefresh {
		return m.refreshKey
	}
	return m.accessKey
}

func (m *Manager) ttl(k Kind) time.Duration {
	switch k {
	case KindRefresh:
		return m.refreshTTL
	case KindReset:
		return m.resetTTL
	}
	return m.accessTTL
}

func (m *Manager) issue(userID string, k Kind, extra map[string]string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", errors.New("userID is required")
	}
	now := m.now().UTC()
	b := jwt.NewBuilder().
		Issuer(m.issuer).
		Subject(userID).
		IssuedAt(now).
		Expiration(now.Add(m.ttl(k))).
		JwtID(uuid.NewString()).
		Claim(kindClaim, string(k))
	for name, v := range extra {
		b = b.Claim(name, v)
	}
	tok, err := b.Build()
	if err != nil {
		return "", fmt.Errorf("build %s token: %w", k, err)
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, m.key(k)))
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", k, err)
	}
	return string(signed), nil
}

func (m *Manager) IssueAccessToken(userID string) (string, error) {
	return m.issue(userID, KindAccess, nil)
}

func (m *Manager) IssueRefreshToken(userID string) (string, error) {
	return m.issue(userID, KindRefresh, nil)
}

// IssueResetToken mints a password reset token bound to fingerprint, a
// digest of the password hash it may replace.
func (m *Manager) IssueResetToken(userID, fingerprint string) (string, error) {
	return m.issue(userID, KindReset, map[string]string{fingerprintClaim: fingerprint})
}

// IssuePair mints a fresh access and refresh token for userID.
func (m *Manager) IssuePair(userID string) (TokenPair, error) {
	access, err := m.IssueAccessToken(userID)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := m.IssueRefreshToken(userID)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresIn: int64(m.accessTTL / time.Second)}, nil
}

// Validate checks signature, issuer, expiry and kind, and returns the
// subject. Failures are Unauthenticated problems wrapping ErrExpired,
// ErrMalformed or ErrWrongKind.
func (m *Manager) Validate(raw string, want Kind) (string, error) {
	tok, err := m.validate(raw, want)
	if err != nil {
		return "", err
	}
	return tok.Subject(), nil
}

// ValidateReset validates a reset token and returns its subject and the
// password fingerprint it was issued against.
func (m *Manager) ValidateReset(raw string) (userID, fingerprint string, err error) {
	tok, err := m.validate(raw, KindReset)
	if err != nil {
		return "", "", err
	}
	v, _ := tok.Get(fingerprintClaim)
	fp, _ := v.(string)
	if fp == "" {
		return "", "", unauthenticated(ErrMalformed)
	}
	return tok.Subject(), fp, nil
}

func (m *Manager) validate(raw string, want Kind) (jwt.Token, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, unauthenticated(ErrMalformed)
	}
	tok, err := m.parse(raw, want)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired()) {
			return nil, unauthenticated(ErrExpired)
		}
		other := KindAccess
		if want == KindAccess {
			other = KindRefresh
		}
		if _, oerr := m.parse(raw, other); oerr == nil {
			return nil, unauthenticated(ErrWrongKind)
		}
		return nil, unauthenticated(ErrMalformed)
	}
	if v, _ := tok.Get(kindClaim); v != string(want) {
		return nil, unauthenticated(ErrWrongKind)
	}
	if tok.Subject() == "" {
		return nil, unauthenticated(ErrMalformed)
	}
	return tok, nil
}

func (m *Manager) parse(raw string, k Kind) (jwt.Token, error) {
	return jwt.Parse([]byte(raw),
		jwt.WithKey(jwa.HS256, m.key(k)),
		jwt.WithValidate(true),
		jwt.WithIssuer(m.issuer),
		jwt.WithClock(jwt.ClockFunc(m.now)),
	)
}

func unauthenticated(err error) error {
	return problems.Wrap(problems.KindUnauthenticated, err, err.Error())
}

// ValidateAccess is Validate for access tokens.
func (m *Manager) ValidateAccess(raw string) (string, error) { return m.Validate(raw, KindAccess) }
