package session

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bosun/pkg/problems"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newManager(clock *fakeClock) *Manager {
	return NewManager("access-secret", "refresh-secret",
		WithClock(clock.now),
		WithAccessTTL(time.Hour),
		WithRefreshTTL(24*time.Hour),
		WithIssuer("bosun-test"))
}

func TestIssueAndValidate(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)}
	m := newManager(clock)

	pair, err := m.IssuePair("u-1")
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}
	if pair.ExpiresIn != 3600 {
		t.Fatalf("ExpiresIn = %d", pair.ExpiresIn)
	}
	if sub, err := m.Validate(pair.AccessToken, KindAccess); err != nil || sub != "u-1" {
		t.Fatalf("access Validate = %q, %v", sub, err)
	}
	if sub, err := m.Validate(pair.RefreshToken, KindRefresh); err != nil || sub != "u-1" {
		t.Fatalf("refresh Validate = %q, %v", sub, err)
	}
}

func TestValidateFailures(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)}
	m := newManager(clock)
	access, _ := m.IssueAccessToken("u-1")
	refresh, _ := m.IssueRefreshToken("u-1")
	foreign, _ := NewManager("other", "other", WithClock(clock.now), WithIssuer("bosun-test")).IssueAccessToken("u-1")

	cases := []struct {
		name  string
		token string
		kind  Kind
		want  error
	}{
		{"refresh used as access", refresh, KindAccess, ErrWrongKind},
		{"access used as refresh", access, KindRefresh, ErrWrongKind},
		{"garbage", "not.a.jwt", KindAccess, ErrMalformed},
		{"empty", "", KindAccess, ErrMalformed},
		{"foreign signature", foreign, KindAccess, ErrMalformed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := m.Validate(tc.token, tc.kind)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
			if !errors.Is(err, problems.ErrUnauthenticated) {
				t.Fatalf("err %v is not unauthenticated", err)
			}
		})
	}
}

func TestValidateExpired(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)}
	m := newManager(clock)
	access, _ := m.IssueAccessToken("u-1")

	clock.t = clock.t.Add(2 * time.Hour)
	if _, err := m.Validate(access, KindAccess); !errors.Is(err, ErrExpired) {
		t.Fatalf("err = %v, want expired", err)
	}
}

func TestCookies(t *testing.T) {
	m := NewManager("a", "r", WithAccessTTL(time.Hour), WithRefreshTTL(2*time.Hour),
		WithCookies(CookieConfig{Secure: true, Domain: "fleet.example", SameSite: ParseSameSite("lax")}))

	rec := httptest.NewRecorder()
	m.SetCookies(rec, TokenPair{AccessToken: "acc", RefreshToken: "ref"})
	res := rec.Result()
	cookies := map[string]*http.Cookie{}
	for _, c := range res.Cookies() {
		cookies[c.Name] = c
	}
	acc := cookies[AccessCookie]
	if acc == nil || acc.Value != "acc" || !acc.HttpOnly || !acc.Secure || acc.MaxAge != 3600 || acc.SameSite != http.SameSiteLaxMode {
		t.Fatalf("access cookie = %+v", acc)
	}
	if ref := cookies[RefreshCookie]; ref == nil || ref.MaxAge != 7200 {
		t.Fatalf("refresh cookie = %+v", ref)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(acc)
	if got := AccessTokenFrom(req); got != "acc" {
		t.Fatalf("cookie fallback = %q", got)
	}
	req.Header.Set("Authorization", "Bearer hdr")
	if got := AccessTokenFrom(req); got != "hdr" {
		t.Fatalf("bearer header = %q", got)
	}

	rec = httptest.NewRecorder()
	m.ClearCookies(rec)
	for _, c := range rec.Result().Cookies() {
		if c.MaxAge >= 0 || c.Value != "" {
			t.Fatalf("cookie %s not cleared: %+v", c.Name, c)
		}
	}
}

func TestPasswords(t *testing.T) {
	if _, err := HashPassword("short", 4); !errors.Is(err, problems.ErrInvalid) {
		t.Fatalf("short password accepted: %v", err)
	}
	h, err := HashPassword("long enough", 4)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !CheckPassword(h, "long enough") || CheckPassword(h, "long enougH") || CheckPassword("", "x") {
		t.Fatalf("CheckPassword mismatch")
	}
	p1, _ := RandomPassword(18)
	p2, _ := RandomPassword(18)
	if len(p1) != 24 || p1 == p2 {
		t.Fatalf("RandomPassword = %q, %q", p1, p2)
	}
}

func TestResetTokens(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)}
	m := newManager(clock)

	reset, err := m.IssueResetToken("u-1", "abc123")
	if err != nil {
		t.Fatalf("IssueResetToken: %v", err)
	}
	sub, fp, err := m.ValidateReset(reset)
	if err != nil || sub != "u-1" || fp != "abc123" {
		t.Fatalf("ValidateReset = %q, %q, %v", sub, fp, err)
	}
	if _, err := m.ValidateAccess(reset); !errors.Is(err, ErrWrongKind) {
		t.Fatalf("reset token accepted as access: %v", err)
	}
	access, _ := m.IssueAccessToken("u-1")
	if _, _, err := m.ValidateReset(access); !errors.Is(err, ErrWrongKind) {
		t.Fatalf("access token accepted as reset: %v", err)
	}

	clock.t = clock.t.Add(time.Hour + time.Minute)
	if _, _, err := m.ValidateReset(reset); !errors.Is(err, ErrExpired) {
		t.Fatalf("reset token outlived its hour: %v", err)
	}
}
