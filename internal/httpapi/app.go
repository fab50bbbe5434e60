// Package httpapi mounts the authorization service's HTTP surface: the
// token endpoints, role and policy administration, the authz check used by
// business services, and the technical portal.
package httpapi

import (
	"context"
	"time"

	"go.uber.org/zap"

	"bosun/internal/enforcer"
	"bosun/internal/identity"
	"bosun/internal/roles"
	"bosun/internal/session"
	"bosun/pkg/openapi"
)

// Config holds HTTP specific configuration.
type Config struct {
	ServiceName  string
	Version      string
	CORSOrigins  []string
	LoginRPS     int
	LoginBurst   int
	DebugHeaders bool
	// ExposeResetToken returns password reset tokens in the response body.
	// Leave it off where a mail pipeline delivers them.
	ExposeResetToken bool
}

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Deps are the components the handlers drive.
type Deps struct {
	Directory *identity.Directory
	Engine    *enforcer.Engine
	Roles     *roles.Service
	Auth      *session.Authenticator
	// Notifier broadcasts manual reloads to other replicas. Optional.
	Notifier enforcer.Notifier
	// Health maps a dependency name to its pinger. Optional.
	Health map[string]Pinger
}

// App is the HTTP application container. Handlers and middleware have
// methods on this type; request-scoped state travels in the context.
type App struct {
	log     *zap.SugaredLogger
	cfg     Config
	dir     *identity.Directory
	engine  *enforcer.Engine
	roles   *roles.Service
	auth    *session.Authenticator
	tokens  *session.Manager
	notify  enforcer.Notifier
	health  map[string]Pinger
	catalog *openapi.Registry
	started time.Time
}

func New(log *zap.SugaredLogger, d Deps, cfg Config) *App {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "bosun-authz"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.LoginRPS <= 0 {
		cfg.LoginRPS = 5
	}
	if cfg.LoginBurst <= 0 {
		cfg.LoginBurst = 10
	}
	return &App{
		log:     log,
		cfg:     cfg,
		dir:     d.Directory,
		engine:  d.Engine,
		roles:   d.Roles,
		auth:    d.Auth,
		tokens:  d.Auth.Tokens(),
		notify:  d.Notifier,
		health:  d.Health,
		catalog: openapi.NewRegistry(),
		started: time.Now(),
	}
}

// Catalog lists every mounted operation with the permission it requires.
func (a *App) Catalog() *openapi.Registry { return a.catalog }
