package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/lakeshore-data/cdr-pipeline/internal/db"
	"github.com/lakeshore-data/cdr-pipeline/internal/store"
)

// initPool connects to Postgres using the loaded config.
func initPool(ctx context.Context) (db.Pool, error) {
	if cfg.Store.DatabaseURL == "" {
		return nil, eris.New("store.database_url is not set (CDR_STORE_DATABASE_URL)")
	}
	pool, err := store.Connect(ctx, cfg.Store.DatabaseURL, cfg.Store.MaxConns, cfg.Store.MinConns)
	if err != nil {
		return nil, eris.Wrap(err, "connect postgres")
	}
	return pool, nil
}

// parseDate parses a --date flag value, defaulting to today.
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Now().UTC(), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "invalid date %q (want YYYY-MM-DD)", s)
	}
	return t, nil
}
