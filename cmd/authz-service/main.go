package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bosun/internal/enforcer"
	"bosun/internal/httpapi"
	"bosun/internal/identity"
	"bosun/internal/roles"
	"bosun/internal/session"
	"bosun/pkg/config"
	"bosun/pkg/db"
	"bosun/pkg/logger"
	"bosun/pkg/middleware"
	"bosun/pkg/tenants"
)

var version = "dev"

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env, cfg.LogLevel)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool := db.MustConnect(cfg, log)
	conn := db.SQL(pool)
	rdb := db.MustRedis(cfg, log)

	var (
		prov      tenants.Provider
		users     identity.UserStore
		roleStore roles.Store
		polStore  enforcer.Store
	)
	if conn != nil {
		schemaCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		if err := tenants.EnsureSchema(schemaCtx, conn); err != nil {
			log.Fatalw("tenants schema", "err", err)
		}
		pu := identity.NewPostgresUsers(conn, log)
		if err := pu.EnsureSchema(schemaCtx); err != nil {
			log.Fatalw("users schema", "err", err)
		}
		pr := roles.NewPostgresStore(conn, log)
		if err := pr.EnsureSchema(schemaCtx); err != nil {
			log.Fatalw("roles schema", "err", err)
		}
		pp := enforcer.NewPostgresStore(conn, log)
		if err := pp.EnsureSchema(schemaCtx); err != nil {
			log.Fatalw("policy schema", "err", err)
		}
		cancel()
		prov, users, roleStore, polStore = tenants.NewPostgresProvider(conn, log), pu, pr, pp
	} else {
		prov = tenants.NewMemoryProviderFromEnv(log)
		users, roleStore, polStore = identity.NewMemoryUsers(), roles.NewMemoryStore(), enforcer.NewMemoryStore(enforcer.Snapshot{})
	}
	dir := identity.NewDirectory(users, tenants.NewCache(prov, cfg.TenantTTL))

	reloader := enforcer.NewReloader(rdb, log)
	engine := enforcer.New(polStore,
		enforcer.WithLogger(log),
		enforcer.WithFailMode(cfg.FailMode),
		enforcer.WithOperatorRole(cfg.OperatorRole),
		enforcer.WithNotifier(reloader),
		enforcer.WithDomainGate(dir),
	)
	log.Infow("authorization engine configured", "fail_mode", cfg.FailMode, "operator_role", cfg.OperatorRole, "default_domain", cfg.DefaultDomain)
	if err := engine.Load(ctx); err != nil {
		log.Fatalw("initial policy load", "err", err)
	}

	catalog := roles.NewService(roleStore, dir, engine,
		roles.WithLogger(log),
		roles.WithOperatorRole(cfg.OperatorRole),
		roles.WithDefaultDomain(cfg.DefaultDomain),
		roles.WithSeedFile(cfg.RoleSeedFile),
		roles.WithBootstrapTech(cfg.BootstrapTechEmail, cfg.BootstrapTechPassword),
		roles.WithBcryptCost(cfg.BcryptCost),
	)
	if n, err := catalog.SeedDefaultPolicies(ctx); err != nil {
		log.Fatalw("seed default policies", "err", err)
	} else if n > 0 {
		log.Infow("default policies seeded", "count", n)
	}
	if n, err := catalog.SeedDefaultRoles(ctx); err != nil {
		log.Fatalw("seed default roles", "err", err)
	} else if n > 0 {
		log.Infow("default roles seeded", "count", n)
	}
	if _, err := catalog.EnsureTechUser(ctx); err != nil {
		log.Fatalw("bootstrap tech user", "err", err)
	}

	go func() {
		if err := reloader.Run(ctx, engine); err != nil {
			log.Errorw("policy reload listener stopped", "err", err)
		}
	}()

	tokens := session.NewManager(cfg.JWTSecret, cfg.JWTRefreshSecret,
		session.WithIssuer(cfg.JWTIssuer),
		session.WithAccessTTL(cfg.AccessTTL),
		session.WithRefreshTTL(cfg.RefreshTTL),
		session.WithCookies(session.CookieConfig{
			Secure:   cfg.CookieSecure,
			Domain:   cfg.CookieDomain,
			SameSite: session.ParseSameSite(cfg.CookieSameSite),
		}),
	)

	health := map[string]httpapi.Pinger{}
	if conn != nil {
		health["database"] = httpapi.PingFunc(conn.PingContext)
	}
	if rdb != nil {
		health["redis"] = httpapi.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}

	app := httpapi.New(log, httpapi.Deps{
		Directory: dir,
		Engine:    engine,
		Roles:     catalog,
		Auth:      session.NewAuthenticator(dir, tokens, log, cfg.BcryptCost, session.WithOperators(engine)),
		Notifier:  reloader,
		Health:    health,
	}, httpapi.Config{
		ServiceName:      "bosun-authz",
		Version:          version,
		CORSOrigins:      cfg.CORSOrigins,
		LoginRPS:         cfg.LoginRPS,
		LoginBurst:       cfg.LoginBurst,
		DebugHeaders:     cfg.DebugHeaders,
		ExposeResetToken: !cfg.IsProd(),
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           app.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Infow("authz-service listening", "addr", cfg.HTTPAddr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("ListenAndServe", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	_ = middleware.ShutdownTracing(shutdownCtx)
	if rdb != nil {
		_ = rdb.Close()
	}
	if pool != nil {
		pool.Close()
	}
	log.Infow("authz-service stopped")
}
