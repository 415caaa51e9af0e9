package store

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/lakeshore-data/cdr-pipeline/internal/db"
)

// migrationLockKey serializes concurrent migrate invocations.
const migrationLockKey = 7401523

// ddlStatements creates the bronze and raw schemas and every table the
// pipeline writes. Statements are idempotent and applied in order.
var ddlStatements = []string{
	`CREATE SCHEMA IF NOT EXISTS bronze`,
	`CREATE SCHEMA IF NOT EXISTS raw`,
	`CREATE TABLE IF NOT EXISTS bronze.pipeline_run (
		run_id uuid PRIMARY KEY,
		run_started_at timestamptz NOT NULL,
		run_date date NOT NULL,
		register_industry text NOT NULL,
		filter_industry text NOT NULL,
		fetch_product_details boolean NOT NULL,
		notes text
	)`,
	`CREATE TABLE IF NOT EXISTS bronze.data_holder_brand (
		run_id uuid NOT NULL REFERENCES bronze.pipeline_run(run_id),
		data_holder_brand_id text NOT NULL,
		brand_name text,
		brand_group text,
		industries jsonb,
		public_base_uri text,
		product_base_uri text,
		logo_uri text,
		last_updated text,
		extracted_at timestamptz NOT NULL,
		PRIMARY KEY (run_id, data_holder_brand_id)
	)`,
	`CREATE TABLE IF NOT EXISTS bronze.api_call_log (
		run_id uuid NOT NULL REFERENCES bronze.pipeline_run(run_id),
		provider_id text NOT NULL,
		endpoint text NOT NULL,
		url text NOT NULL,
		http_status int NOT NULL,
		responded_xv int,
		fetched_at timestamptz NOT NULL,
		etag text,
		payload_hash text,
		error text,
		PRIMARY KEY (run_id, provider_id, endpoint, url)
	)`,
	`CREATE TABLE IF NOT EXISTS bronze.schema_fingerprint (
		provider_id text NOT NULL,
		endpoint text NOT NULL,
		fingerprint_hash text NOT NULL,
		fingerprint_paths jsonb NOT NULL,
		observed_at timestamptz NOT NULL,
		run_id uuid NOT NULL REFERENCES bronze.pipeline_run(run_id),
		PRIMARY KEY (provider_id, endpoint, observed_at)
	)`,
	`CREATE TABLE IF NOT EXISTS bronze.schema_drift_event (
		provider_id text NOT NULL,
		endpoint text NOT NULL,
		old_fingerprint_hash text,
		new_fingerprint_hash text NOT NULL,
		observed_at timestamptz NOT NULL,
		run_id uuid NOT NULL REFERENCES bronze.pipeline_run(run_id),
		note text,
		PRIMARY KEY (provider_id, endpoint, observed_at)
	)`,
	`CREATE TABLE IF NOT EXISTS bronze.qa_gate_result (
		qa_run_id uuid NOT NULL,
		qa_date date NOT NULL,
		evaluated_at timestamptz NOT NULL,
		gate_name text NOT NULL,
		passed boolean NOT NULL,
		actual_value double precision,
		threshold_value double precision,
		details text,
		external_test_ran boolean NOT NULL DEFAULT false,
		external_test_passed boolean NOT NULL DEFAULT false,
		external_test_command text,
		PRIMARY KEY (qa_run_id, gate_name)
	)`,
	`CREATE TABLE IF NOT EXISTS raw.products_raw (
		run_id uuid NOT NULL REFERENCES bronze.pipeline_run(run_id),
		provider_id text NOT NULL,
		brand_name text,
		endpoint text NOT NULL,
		url text NOT NULL,
		page_num int NOT NULL,
		http_status int NOT NULL,
		responded_xv int,
		fetched_at timestamptz NOT NULL,
		etag text,
		payload jsonb,
		payload_hash text,
		PRIMARY KEY (run_id, provider_id, endpoint, page_num)
	)`,
	`CREATE TABLE IF NOT EXISTS raw.product_detail_raw (
		run_id uuid NOT NULL REFERENCES bronze.pipeline_run(run_id),
		provider_id text NOT NULL,
		brand_name text,
		product_id text NOT NULL,
		url text NOT NULL,
		http_status int NOT NULL,
		responded_xv int,
		fetched_at timestamptz NOT NULL,
		etag text,
		payload jsonb,
		payload_hash text,
		PRIMARY KEY (run_id, provider_id, product_id)
	)`,
}

// dropStatements removes every pipeline schema, downstream marts
// included. Only reachable through migrate --force.
var dropStatements = []string{
	`DROP SCHEMA IF EXISTS gold CASCADE`,
	`DROP SCHEMA IF EXISTS silver CASCADE`,
	`DROP SCHEMA IF EXISTS staging CASCADE`,
	`DROP SCHEMA IF EXISTS raw CASCADE`,
	`DROP SCHEMA IF EXISTS bronze CASCADE`,
}

// Migrate creates the bronze/raw schemas and tables. With force it
// first drops all pipeline schemas, deleting all data.
func Migrate(ctx context.Context, pool db.Pool, force bool) error {
	log := zap.L().With(zap.String("component", "store.migrate"))

	// Advisory lock prevents concurrent migration runs.
	if _, err := pool.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockKey); err != nil {
		return eris.Wrap(err, "store: acquire migration advisory lock")
	}
	defer func() {
		if _, err := pool.Exec(ctx, "SELECT pg_advisory_unlock($1)", migrationLockKey); err != nil {
			log.Warn("failed to release migration advisory lock", zap.Error(err))
		}
	}()

	if force {
		log.Warn("force migrate: dropping schemas, all data will be deleted")
		for _, stmt := range dropStatements {
			if _, err := pool.Exec(ctx, stmt); err != nil {
				return eris.Wrapf(err, "store: drop: %s", stmt)
			}
		}
	}

	for _, stmt := range ddlStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return eris.Wrap(err, "store: apply ddl")
		}
	}

	log.Info("schemas and tables are current")
	return nil
}
