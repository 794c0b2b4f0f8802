package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"zashboard.app/internal/auth"
	"zashboard.app/internal/config"
	"zashboard.app/internal/migrate"
	"zashboard.app/internal/obs"
	"zashboard.app/internal/org"
	"zashboard.app/internal/store/pg"
)

const usage = "usage: migrate [-dsn DSN] [up|down|seed|status|legacy]"

func main() {
	dsn := flag.String("dsn", "", "PostgreSQL DSN (overrides ZASH_DATABASE_DSN)")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall command timeout")
	flag.Parse()

	log := obs.Logger("migrate")
	if flag.NArg() == 0 {
		log.Fatal().Msg(usage)
	}
	if *dsn != "" {
		_ = os.Setenv("ZASH_DATABASE_DSN", *dsn)
	}
	_ = os.Setenv("ZASH_STORE_DRIVER", "postgres")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	obs.SetupLogger(cfg.Log.Level, cfg.Log.Format)
	log = obs.Logger("migrate")

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	store, err := pg.Open(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	defer store.Close()

	cmd := flag.Arg(0)
	if err := run(ctx, cmd, store, cfg); err != nil {
		log.Fatal().Err(err).Str("command", cmd).Msg("migrate failed")
	}
}

func run(ctx context.Context, cmd string, store *pg.Store, cfg *config.Config) error {
	log := obs.Logger("migrate")
	mgr := migrate.NewEmbedded(store.DB())

	switch cmd {
	case "up":
		applied, err := mgr.Up(ctx)
		if err != nil {
			return err
		}
		log.Info().Strs("applied", applied).Msg("migrations up")
	case "down":
		name, err := mgr.Down(ctx)
		if errors.Is(err, migrate.ErrNothingApplied) {
			log.Info().Msg("nothing to roll back")
			return nil
		}
		if err != nil {
			return err
		}
		log.Info().Str("rolled_back", name).Msg("migration down")
	case "seed":
		applied, err := mgr.Seed(ctx)
		if err != nil {
			return err
		}
		log.Info().Strs("applied", applied).Msg("seeds applied")
	case "status":
		history, err := mgr.Status(ctx)
		if err != nil {
			return err
		}
		for _, item := range history {
			fmt.Println(item)
		}
	case "legacy":
		return adoptLegacyRoles(ctx, store, cfg)
	default:
		return fmt.Errorf("unknown command %q; %s", cmd, usage)
	}
	return nil
}

// adoptLegacyRoles grants every legacy membership its matching organization role.
func adoptLegacyRoles(ctx context.Context, store *pg.Store, cfg *config.Config) error {
	log := obs.Logger("migrate")
	resolver, err := auth.NewResolver(store,
		auth.WithLegacySource(store),
		auth.WithLegacyFallback(cfg.Auth.LegacyFallback),
	)
	if err != nil {
		return err
	}
	if err := resolver.EnsureBuiltins(ctx); err != nil {
		return err
	}

	orgs, err := store.ListOrganizations(ctx)
	if err != nil {
		return err
	}
	adopted := 0
	for _, o := range orgs {
		members, err := store.ListMembers(ctx, o.ID)
		if err != nil {
			return fmt.Errorf("list members of %s: %w", o.ID, err)
		}
		if err := ensureOrgRoles(ctx, resolver, o.ID, members); err != nil {
			return err
		}
		for _, m := range members {
			if err := resolver.AdoptLegacyRole(ctx, o.ID, m.UserID, m.Role); err != nil {
				return fmt.Errorf("adopt %s in %s: %w", m.UserID, o.ID, err)
			}
			adopted++
		}
	}
	log.Info().Int("organizations", len(orgs)).Int("memberships", adopted).Msg("legacy roles adopted")
	return nil
}

// ensureOrgRoles bootstraps the organization system roles for organizations
// created before RBAC, using the first legacy super_admin as owner.
func ensureOrgRoles(ctx context.Context, resolver *auth.Resolver, orgID string, members []org.Membership) error {
	roles, err := resolver.GetAllRoles(ctx, auth.ScopeOrganization, orgID)
	if err != nil {
		return err
	}
	for _, role := range roles {
		if role.IsSystem && role.OrganizationID == orgID {
			return nil
		}
	}
	for _, m := range members {
		if m.Role == auth.LegacySuperAdmin {
			return resolver.BootstrapOrganization(ctx, orgID, m.UserID)
		}
	}
	return fmt.Errorf("organization %s has no super_admin member to own its roles", orgID)
}
