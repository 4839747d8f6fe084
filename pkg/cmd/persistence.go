// Package cmd provides shared construction helpers for the command line
// entrypoints.
package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/dukex/approvio/pkg/persistence"
	"github.com/dukex/approvio/pkg/persistence/memory"
	"github.com/dukex/approvio/pkg/persistence/postgresql"
	_ "github.com/lib/pq"
)

// NewPersistence creates the persistence layer from the database URL.
// postgres:// and postgresql:// URLs get the PostgreSQL backend; anything
// else falls back to the in-memory store for local development.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic("failed to initialize PostgreSQL persistence: " + err.Error())
		}

		return p
	}

	logger.WarnContext(ctx, "No PostgreSQL URL configured, using in-memory persistence", "database_url", databaseURL)

	return memory.NewPersistence()
}
