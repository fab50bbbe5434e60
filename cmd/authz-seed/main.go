// Command authz-seed prepares a bosun database: it creates the schema, loads
// the default role catalog and policy tuples when they are absent, and
// bootstraps the first operator account.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"bosun/internal/enforcer"
	"bosun/internal/identity"
	"bosun/internal/roles"
	"bosun/pkg/config"
	"bosun/pkg/db"
	"bosun/pkg/logger"
	"bosun/pkg/tenants"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "authz-seed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		seedFile string
		check    bool
		skipTech bool
	)
	flagSet := pflag.NewFlagSet("authz-seed", pflag.ContinueOnError)
	flagSet.StringVar(&seedFile, "seed-file", "", "YAML seed to load instead of ROLE_SEED_FILE or the built-in defaults")
	flagSet.BoolVar(&check, "check", false, "parse the seed and print what it contains without touching any store")
	flagSet.BoolVar(&skipTech, "skip-tech", false, "do not bootstrap the operator account")
	flagSet.BoolP("help", "h", false, "show help")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		fmt.Fprintln(os.Stderr, "usage: authz-seed [flags]")
		flagSet.PrintDefaults()
		return nil
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	cfg := config.Load()
	if seedFile != "" {
		cfg.RoleSeedFile = seedFile
	}
	if check {
		seed, err := roles.LoadSeed(cfg.RoleSeedFile)
		if err != nil {
			return err
		}
		fmt.Printf("global roles:       %d\n", len(seed.GlobalRoles))
		fmt.Printf("internal templates: %d\n", len(seed.InternalTemplates))
		fmt.Printf("global tuples:      %d\n", len(seed.Policies.Global))
		fmt.Printf("default tuples:     %d\n", len(seed.Policies.Default))
		return nil
	}

	log := logger.New(cfg.Env, cfg.LogLevel)
	defer log.Sync()
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required: seeding in-memory stores has no lasting effect")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool := db.MustConnect(cfg, log)
	defer pool.Close()
	conn := db.SQL(pool)

	if err := tenants.EnsureSchema(ctx, conn); err != nil {
		return fmt.Errorf("tenants schema: %w", err)
	}
	users := identity.NewPostgresUsers(conn, log)
	if err := users.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("users schema: %w", err)
	}
	roleStore := roles.NewPostgresStore(conn, log)
	if err := roleStore.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("roles schema: %w", err)
	}
	polStore := enforcer.NewPostgresStore(conn, log)
	if err := polStore.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("policy schema: %w", err)
	}

	// Running services pick the new tuples up through the reload channel.
	engine := enforcer.New(polStore,
		enforcer.WithLogger(log),
		enforcer.WithOperatorRole(cfg.OperatorRole),
		enforcer.WithNotifier(enforcer.NewReloader(db.MustRedis(cfg, log), log)),
	)
	if err := engine.Load(ctx); err != nil {
		return err
	}

	dir := identity.NewDirectory(users, tenants.NewPostgresProvider(conn, log))
	svc := roles.NewService(roleStore, dir, engine,
		roles.WithLogger(log),
		roles.WithOperatorRole(cfg.OperatorRole),
		roles.WithDefaultDomain(cfg.DefaultDomain),
		roles.WithSeedFile(cfg.RoleSeedFile),
		roles.WithBootstrapTech(cfg.BootstrapTechEmail, cfg.BootstrapTechPassword),
		roles.WithBcryptCost(cfg.BcryptCost),
	)
	nPol, err := svc.SeedDefaultPolicies(ctx)
	if err != nil {
		return fmt.Errorf("seed policies: %w", err)
	}
	nRoles, err := svc.SeedDefaultRoles(ctx)
	if err != nil {
		return fmt.Errorf("seed roles: %w", err)
	}
	log.Infow("seed complete", "policies", nPol, "roles", nRoles)

	if skipTech {
		return nil
	}
	tech, err := svc.EnsureTechUser(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap tech user: %w", err)
	}
	log.Infow("operator account ready", "email", tech.Email, "user_id", tech.ID)
	return nil
}
