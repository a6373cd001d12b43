package commands

import (
	"context"
	"errors"
	"fmt"

	zlog "github.com/rs/zerolog/log"
	"github.com/wolfeidau/tenantd/internal/logger"
	"github.com/wolfeidau/tenantd/internal/models"
	"github.com/wolfeidau/tenantd/internal/provider"
	"github.com/wolfeidau/tenantd/internal/store"
	postgresstore "github.com/wolfeidau/tenantd/internal/store/postgres"
)

// BackfillCmd pages through every provider organization and creates local
// records for the ones this system does not know yet. New records get an
// empty contract (base plan defaults apply); owners and memberships
// reconcile through the normal webhook sync.
type BackfillCmd struct {
	ProviderBaseURL string `help:"external provider API base URL" required:"" env:"TENANTD_PROVIDER_BASE_URL"`
	ProviderAPIKey  string `help:"external provider API key" env:"TENANTD_PROVIDER_API_KEY"`

	ConnString  string `help:"PostgreSQL connection string" required:"" env:"POSTGRES_CONNECTION_STRING"`
	AutoMigrate bool   `help:"run database migrations first" default:"false" env:"TENANTD_POSTGRES_AUTO_MIGRATE"`

	PageSize int  `help:"provider page size" default:"100"`
	DryRun   bool `help:"report what would be created without writing" default:"false"`
}

func (c *BackfillCmd) Run(ctx context.Context, globals *Globals) error {
	log := logger.Setup(globals.Debug)
	zlog.Logger = log

	client, err := provider.NewClient(provider.ClientConfig{
		BaseURL: c.ProviderBaseURL,
		APIKey:  c.ProviderAPIKey,
	})
	if err != nil {
		return err
	}

	pool, err := postgresstore.NewPool(ctx, &postgresstore.PoolConfig{
		ConnString:  c.ConnString,
		AutoMigrate: c.AutoMigrate,
	})
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}
	defer pool.Close()

	orgStore := postgresstore.NewOrganizationStore(pool)

	var created, skipped int
	offset := 0
	for {
		page, err := client.ListOrganizations(ctx, c.PageSize, offset)
		if err != nil {
			return fmt.Errorf("failed to list provider organizations: %w", err)
		}

		for _, remote := range page.Organizations {
			_, err := orgStore.GetOrganizationByExternalID(ctx, remote.ID)
			if err == nil {
				skipped++
				continue
			}
			if !errors.Is(err, store.ErrOrganizationNotFound) {
				return err
			}

			if c.DryRun {
				log.Info().
					Str("external_org_id", remote.ID).
					Str("slug", remote.Slug).
					Msg("Would create organization")
				created++
				continue
			}

			_, err = orgStore.CreateOrganization(ctx, store.CreateOrganizationParams{
				Organization: models.Organization{
					ExternalOrgID: remote.ID,
					Name:          remote.Name,
					Slug:          remote.Slug,
					Status:        models.OrganizationStatusActive,
				},
			})
			if errors.Is(err, store.ErrOrganizationAlreadyExists) {
				// Most likely a slug collision with an unrelated local
				// record; leave it for manual review.
				log.Warn().
					Str("external_org_id", remote.ID).
					Str("slug", remote.Slug).
					Msg("Skipping organization with conflicting slug or external ID")
				skipped++
				continue
			}
			if err != nil {
				return fmt.Errorf("failed to create organization %s: %w", remote.ID, err)
			}
			created++
		}

		if !page.HasMore {
			break
		}
		offset = page.NextOffset
	}

	log.Info().
		Int("created", created).
		Int("skipped", skipped).
		Bool("dry_run", c.DryRun).
		Msg("Backfill complete")

	return nil
}
