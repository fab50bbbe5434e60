package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bosun/internal/identity"
	"bosun/pkg/lifecycle"
	"bosun/pkg/problems"
	"bosun/pkg/tenants"
)

var (
	// ErrInviteRequired is returned when a non-admin account tries to sign
	// up on its own.
	ErrInviteRequired = errors.New("registration requires an invitation")
	// ErrResetSpent is returned for a reset token whose password has
	// already been replaced.
	ErrResetSpent = errors.New("reset token already used")
)

// Operators reports global-domain operator assignments. The engine
// satisfies it.
type Operators interface {
	IsTopLevelOperator(userID string) bool
}

// Authenticator runs the credential flows against the identity store.
type Authenticator struct {
	dir        *identity.Directory
	tokens     *Manager
	log        *zap.SugaredLogger
	bcryptCost int
	operators  Operators
	now        func() time.Time
}

type AuthOption func(*Authenticator)

// WithOperators lets global operators sign in while their home tenant is
// suspended, matching the access-control chain.
func WithOperators(o Operators) AuthOption { return func(a *Authenticator) { a.operators = o } }

func NewAuthenticator(dir *identity.Directory, tokens *Manager, log *zap.SugaredLogger, bcryptCost int, opts ...AuthOption) *Authenticator {
	a := &Authenticator{dir: dir, tokens: tokens, log: log, bcryptCost: bcryptCost, now: time.Now}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *Authenticator) isOperator(userID string) bool {
	return a.operators != nil && a.operators.IsTopLevelOperator(userID)
}

// Result is what a successful login or registration hands back.
type Result struct {
	User   identity.User  `json:"user"`
	Tenant tenants.Tenant `json:"tenant"`
	Tokens TokenPair      `json:"tokens"`
}

var errBadCredentials = problems.New(problems.KindUnauthenticated, "invalid credentials")

// Login checks a password for the portal named by userType. The lock is
// checked before the password so a locked account leaks nothing about it.
func (a *Authenticator) Login(ctx context.Context, email, password string, userType identity.UserType) (Result, error) {
	u, err := a.dir.FindUserByCredential(ctx, email, identity.Scope{UserType: userType})
	if errors.Is(err, problems.ErrUserNotFound) {
		return Result{}, errBadCredentials
	}
	if err != nil {
		return Result{}, err
	}
	now := a.now()
	if u.IsLocked(now) {
		return Result{}, problems.New(problems.KindLocked, "account locked until %s", u.LockUntil.UTC().Format(time.RFC3339))
	}
	if !CheckPassword(u.PasswordHash, password) {
		after, err := a.dir.RecordFailedLogin(ctx, u.ID, now)
		if err != nil {
			a.log.Errorw("record failed login", "user_id", u.ID, "err", err)
			return Result{}, errBadCredentials
		}
		a.log.Infow("login failed", "user_id", u.ID, "attempts", after.LoginAttempts, "locked", after.IsLocked(now))
		return Result{}, errBadCredentials
	}
	if !u.State.IsActive() {
		return Result{}, problems.New(problems.KindUnauthenticated, "account is deactivated")
	}
	t, err := a.dir.FindTenantByID(ctx, u.TenantID)
	if err != nil {
		return Result{}, err
	}
	if !t.Operational(now) && !a.isOperator(u.ID) {
		return Result{}, problems.New(problems.KindTenantInactive, "tenant %s is not active", t.Slug)
	}
	u, err = a.dir.UpdateUser(ctx, u.ID, identity.SuccessfulLogin(now))
	if err != nil {
		return Result{}, err
	}
	pair, err := a.tokens.IssuePair(u.ID)
	if err != nil {
		return Result{}, err
	}
	a.log.Infow("login", "user_id", u.ID, "tenant_id", t.ID, "user_type", u.UserType)
	return Result{User: u, Tenant: t, Tokens: pair}, nil
}

// Registration is a self-service signup request.
type Registration struct {
	Email       string            `json:"email"`
	Password    string            `json:"password"`
	FirstName   string            `json:"firstName"`
	LastName    string            `json:"lastName"`
	CompanyName string            `json:"companyName"`
	UserType    identity.UserType `json:"userType"`
	TenantType  tenants.Type      `json:"tenantType"`
}

func (in Registration) validate() error {
	switch {
	case !strings.Contains(in.Email, "@"):
		return problems.New(problems.KindInvalid, "a valid email is required")
	case strings.TrimSpace(in.FirstName) == "" || strings.TrimSpace(in.LastName) == "":
		return problems.New(problems.KindInvalid, "first and last name are required")
	case len(in.Password) < MinPasswordLength:
		return problems.New(problems.KindInvalid, "password must be at least %d characters", MinPasswordLength)
	}
	return nil
}

// Register creates a tenant and its owning admin. Every other user type
// joins by invitation.
func (a *Authenticator) Register(ctx context.Context, in Registration) (Result, error) {
	in.Email = identity.NormalizeEmail(in.Email)
	if in.UserType == "" {
		in.UserType = identity.UserAdmin
	}
	if err := in.validate(); err != nil {
		return Result{}, err
	}
	if _, err := a.dir.FindUserByEmail(ctx, in.Email); err == nil {
		return Result{}, problems.New(problems.KindExists, "user with this email already exists")
	} else if !errors.Is(err, problems.ErrUserNotFound) {
		return Result{}, err
	}
	if in.UserType != identity.UserAdmin {
		return Result{}, problems.Wrap(problems.KindInsufficientPermissions, ErrInviteRequired, ErrInviteRequired.Error())
	}

	hash, err := HashPassword(in.Password, a.bcryptCost)
	if err != nil {
		return Result{}, err
	}
	t, err := a.createTenant(ctx, in)
	if err != nil {
		return Result{}, err
	}
	u, err := a.dir.CreateUser(ctx, identity.User{
		Email:           in.Email,
		PasswordHash:    hash,
		FirstName:       strings.TrimSpace(in.FirstName),
		LastName:        strings.TrimSpace(in.LastName),
		CompanyName:     strings.TrimSpace(in.CompanyName),
		TenantID:        t.ID,
		GlobalRole:      identity.GlobalAdmin,
		UserType:        in.UserType,
		State:           lifecycle.Active,
		IsVerified:      true,
		IsEmailVerified: true,
	})
	if err != nil {
		return Result{}, err
	}
	owner, admins := u.ID, []string{u.ID}
	if t, err = a.dir.UpdateTenant(ctx, t.ID, tenants.Patch{OwnerID: &owner, AdminIDs: &admins}); err != nil {
		return Result{}, err
	}
	pair, err := a.tokens.IssuePair(u.ID)
	if err != nil {
		return Result{}, err
	}
	a.log.Infow("registered", "user_id", u.ID, "tenant_id", t.ID, "slug", t.Slug)
	return Result{User: u, Tenant: t, Tokens: pair}, nil
}

// createTenant names the tenant after the company, or after the user when
// no company is given. A taken slug gets a short random suffix once.
func (a *Authenticator) createTenant(ctx context.Context, in Registration) (tenants.Tenant, error) {
	name := strings.TrimSpace(in.CompanyName)
	if name == "" {
		name = fmt.Sprintf("%s %s Company", strings.TrimSpace(in.FirstName), strings.TrimSpace(in.LastName))
	}
	typ := in.TenantType
	if typ != tenants.TypeVendor {
		typ = tenants.TypeCustomer
	}
	t := tenants.Tenant{Name: name, Slug: tenants.Slugify(name), Type: typ}
	out, err := a.dir.CreateTenant(ctx, t)
	if errors.Is(err, problems.ErrExists) {
		t.Slug += "-" + uuid.NewString()[:6]
		out, err = a.dir.CreateTenant(ctx, t)
	}
	if err != nil {
		return tenants.Tenant{}, fmt.Errorf("create tenant: %w", err)
	}
	return out, nil
}

// Refresh swaps a valid refresh token for a new pair. Refresh tokens are
// not single use.
func (a *Authenticator) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	userID, err := a.tokens.Validate(refreshToken, KindRefresh)
	if err != nil {
		return TokenPair{}, err
	}
	u, err := a.dir.FindUserByID(ctx, userID)
	if errors.Is(err, problems.ErrUserNotFound) {
		return TokenPair{}, problems.New(problems.KindUnauthenticated, "user no longer exists")
	}
	if err != nil {
		return TokenPair{}, err
	}
	if !u.State.IsActive() {
		return TokenPair{}, problems.New(problems.KindUnauthenticated, "account is deactivated")
	}
	return a.tokens.IssuePair(u.ID)
}

// ForgotPassword mints a reset token for the account behind email. Unknown
// and deactivated accounts get an empty token and no error so callers
// cannot tell them apart.
func (a *Authenticator) ForgotPassword(ctx context.Context, email string) (string, error) {
	u, err := a.dir.FindUserByEmail(ctx, identity.NormalizeEmail(email))
	if errors.Is(err, problems.ErrUserNotFound) {
		a.log.Infow("password reset requested for unknown email")
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if !u.State.IsActive() {
		a.log.Infow("password reset requested for deactivated account", "user_id", u.ID)
		return "", nil
	}
	tok, err := a.tokens.IssueResetToken(u.ID, passwordFingerprint(u.PasswordHash))
	if err != nil {
		return "", err
	}
	a.log.Infow("password reset issued", "user_id", u.ID)
	return tok, nil
}

// ResetPassword replaces the password of the token's subject and clears
// any lockout. A token stops working once the password it was issued
// against has changed.
func (a *Authenticator) ResetPassword(ctx context.Context, token, password string) error {
	userID, fp, err := a.tokens.ValidateReset(token)
	if err != nil {
		return err
	}
	if len(password) < MinPasswordLength {
		return problems.New(problems.KindInvalid, "password must be at least %d characters", MinPasswordLength)
	}
	u, err := a.dir.FindUserByID(ctx, userID)
	if errors.Is(err, problems.ErrUserNotFound) {
		return problems.New(problems.KindUnauthenticated, "user no longer exists")
	}
	if err != nil {
		return err
	}
	if !u.State.IsActive() {
		return problems.New(problems.KindUnauthenticated, "account is deactivated")
	}
	if passwordFingerprint(u.PasswordHash) != fp {
		return problems.Wrap(problems.KindUnauthenticated, ErrResetSpent, ErrResetSpent.Error())
	}
	hash, err := HashPassword(password, a.bcryptCost)
	if err != nil {
		return err
	}
	zeroN, zeroT := 0, time.Time{}
	if _, err := a.dir.UpdateUser(ctx, u.ID, identity.UserPatch{PasswordHash: &hash, LoginAttempts: &zeroN, LockUntil: &zeroT}); err != nil {
		return err
	}
	a.log.Infow("password reset", "user_id", u.ID)
	return nil
}

func passwordFingerprint(hash string) string {
	sum := sha256.Sum256([]byte(hash))
	return hex.EncodeToString(sum[:8])
}

// Tokens exposes the manager for cookie handling.
func (a *Authenticator) Tokens() *Manager { return a.tokens }
