// Package store persists runs, brands, provenance rows, fingerprints
// and QA gate results in Postgres.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/lakeshore-data/cdr-pipeline/internal/db"
	"github.com/lakeshore-data/cdr-pipeline/internal/model"
)

// Store executes row operations against a Querier, which may be a
// pool or an open transaction. Binding per unit of work is what gives
// each provider its own transaction boundary.
type Store struct {
	q db.Querier
}

// New creates a Store bound to the given Querier.
func New(q db.Querier) *Store {
	return &Store{q: q}
}

// Connect opens a pgx connection pool and verifies it with a ping.
func Connect(ctx context.Context, connString string, maxConns, minConns int32) (db.Pool, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "store: parse config")
	}
	if maxConns > 0 {
		pgxCfg.MaxConns = maxConns
	}
	if minConns > 0 {
		pgxCfg.MinConns = minConns
	}
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "store: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "store: ping")
	}
	return pool, nil
}

// InsertRun records the run row. Runs are insert-once and immutable.
func (s *Store) InsertRun(ctx context.Context, run model.Run) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO bronze.pipeline_run (run_id, run_started_at, run_date, register_industry, filter_industry, fetch_product_details, notes)
		 VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))`,
		run.ID, run.StartedAt, run.RunDate, run.RegisterIndustry, run.FilterIndustry, run.FetchProductDetails, run.Notes,
	)
	if err != nil {
		return eris.Wrapf(err, "store: insert run %s", run.ID)
	}
	return nil
}

// brandColumns is the column list shared by UpsertBrand and the bulk
// brand insert in ingest.
var brandColumns = []string{
	"run_id", "data_holder_brand_id", "brand_name", "brand_group", "industries",
	"public_base_uri", "product_base_uri", "logo_uri", "last_updated", "extracted_at",
}

// BrandUpsertConfig returns the bulk-upsert parameters for brand rows.
// Conflicts on (run_id, data_holder_brand_id) are ignored: a brand is
// recorded once per run.
func BrandUpsertConfig() db.UpsertConfig {
	return db.UpsertConfig{
		Table:        "bronze.data_holder_brand",
		Columns:      brandColumns,
		ConflictKeys: []string{"run_id", "data_holder_brand_id"},
		DoNothing:    true,
	}
}

// BrandRow renders a brand as a bulk-upsert row.
func BrandRow(b model.Brand, extractedAt time.Time) []any {
	return []any{
		b.RunID, b.ID, b.Name, b.Group, b.IndustriesJSON(),
		b.PublicBaseURI, b.ProductBase, b.LogoURI, b.LastUpdated, extractedAt,
	}
}

// LogAPICall upserts one API call record. A retried request for the
// same (run, provider, endpoint, url) overwrites its prior row.
func (s *Store) LogAPICall(ctx context.Context, call model.APICall) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO bronze.api_call_log (run_id, provider_id, endpoint, url, http_status, responded_xv, fetched_at, etag, payload_hash, error)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''))
		 ON CONFLICT (run_id, provider_id, endpoint, url) DO UPDATE SET
		   http_status = EXCLUDED.http_status,
		   responded_xv = EXCLUDED.responded_xv,
		   fetched_at = EXCLUDED.fetched_at,
		   etag = EXCLUDED.etag,
		   payload_hash = EXCLUDED.payload_hash,
		   error = EXCLUDED.error`,
		call.RunID, call.ProviderID, call.Endpoint, call.URL, call.HTTPStatus,
		call.RespondedXV, call.FetchedAt, call.ETag, call.PayloadHash, call.Error,
	)
	if err != nil {
		return eris.Wrapf(err, "store: log api call %s %s", call.ProviderID, call.URL)
	}
	return nil
}

// UpsertRawPage upserts one raw products page keyed by
// (run, provider, endpoint, page_num).
func (s *Store) UpsertRawPage(ctx context.Context, page model.RawPage) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO raw.products_raw (run_id, provider_id, brand_name, endpoint, url, page_num, http_status, responded_xv, fetched_at, etag, payload, payload_hash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), $11, NULLIF($12, ''))
		 ON CONFLICT (run_id, provider_id, endpoint, page_num) DO UPDATE SET
		   http_status = EXCLUDED.http_status,
		   responded_xv = EXCLUDED.responded_xv,
		   fetched_at = EXCLUDED.fetched_at,
		   etag = EXCLUDED.etag,
		   payload = EXCLUDED.payload,
		   payload_hash = EXCLUDED.payload_hash`,
		page.RunID, page.ProviderID, page.BrandName, page.Endpoint, page.URL, page.PageNum,
		page.HTTPStatus, page.RespondedXV, page.FetchedAt, page.ETag, page.Payload, page.PayloadHash,
	)
	if err != nil {
		return eris.Wrapf(err, "store: upsert raw page %s #%d", page.ProviderID, page.PageNum)
	}
	return nil
}

// UpsertRawDetail upserts one raw product detail keyed by
// (run, provider, product_id).
func (s *Store) UpsertRawDetail(ctx context.Context, d model.RawDetail) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO raw.product_detail_raw (run_id, provider_id, brand_name, product_id, url, http_status, responded_xv, fetched_at, etag, payload, payload_hash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10, NULLIF($11, ''))
		 ON CONFLICT (run_id, provider_id, product_id) DO UPDATE SET
		   http_status = EXCLUDED.http_status,
		   responded_xv = EXCLUDED.responded_xv,
		   fetched_at = EXCLUDED.fetched_at,
		   etag = EXCLUDED.etag,
		   payload = EXCLUDED.payload,
		   payload_hash = EXCLUDED.payload_hash`,
		d.RunID, d.ProviderID, d.BrandName, d.ProductID, d.URL,
		d.HTTPStatus, d.RespondedXV, d.FetchedAt, d.ETag, d.Payload, d.PayloadHash,
	)
	if err != nil {
		return eris.Wrapf(err, "store: upsert raw detail %s %s", d.ProviderID, d.ProductID)
	}
	return nil
}

// LatestFingerprintHash returns the most recently observed fingerprint
// hash for a (provider, endpoint) pair, across all runs. Empty string
// means no prior observation.
func (s *Store) LatestFingerprintHash(ctx context.Context, providerID, endpoint string) (string, error) {
	var hash string
	err := s.q.QueryRow(ctx,
		`SELECT fingerprint_hash
		 FROM bronze.schema_fingerprint
		 WHERE provider_id = $1 AND endpoint = $2
		 ORDER BY observed_at DESC
		 LIMIT 1`,
		providerID, endpoint,
	).Scan(&hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", eris.Wrapf(err, "store: latest fingerprint for %s %s", providerID, endpoint)
	}
	return hash, nil
}

// InsertFingerprint appends one fingerprint observation.
func (s *Store) InsertFingerprint(ctx context.Context, fp model.Fingerprint, pathsJSON []byte) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO bronze.schema_fingerprint (provider_id, endpoint, fingerprint_hash, fingerprint_paths, observed_at, run_id)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		fp.ProviderID, fp.Endpoint, fp.Hash, pathsJSON, fp.ObservedAt, fp.RunID,
	)
	if err != nil {
		return eris.Wrapf(err, "store: insert fingerprint %s %s", fp.ProviderID, fp.Endpoint)
	}
	return nil
}

// InsertDriftEvent appends one drift event.
func (s *Store) InsertDriftEvent(ctx context.Context, ev model.DriftEvent) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO bronze.schema_drift_event (provider_id, endpoint, old_fingerprint_hash, new_fingerprint_hash, observed_at, run_id, note)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ev.ProviderID, ev.Endpoint, ev.OldHash, ev.NewHash, ev.ObservedAt, ev.RunID, ev.Note,
	)
	if err != nil {
		return eris.Wrapf(err, "store: insert drift event %s %s", ev.ProviderID, ev.Endpoint)
	}
	return nil
}

// InsertGateResults persists all gate rows for one QA evaluation.
func (s *Store) InsertGateResults(ctx context.Context, results []model.GateResult) error {
	for _, gr := range results {
		_, err := s.q.Exec(ctx,
			`INSERT INTO bronze.qa_gate_result (qa_run_id, qa_date, evaluated_at, gate_name, passed, actual_value, threshold_value, details, external_test_ran, external_test_passed, external_test_command)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, ''))`,
			gr.QARunID, gr.QADate, gr.EvaluatedAt, gr.Name, gr.Passed,
			gr.Actual, gr.Threshold, gr.Details, gr.ExternalRan, gr.ExternalPassed, gr.ExternalCmd,
		)
		if err != nil {
			return eris.Wrapf(err, "store: insert gate result %s", gr.Name)
		}
	}
	return nil
}

// ListRuns returns the most recent runs with provenance counts.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]model.RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.q.Query(ctx,
		`SELECT r.run_id, r.run_started_at, r.run_date::text, r.register_industry, r.filter_industry, r.fetch_product_details,
		        COALESCE(b.n, 0), COALESCE(a.n, 0), COALESCE(a.errs, 0)
		 FROM bronze.pipeline_run r
		 LEFT JOIN (SELECT run_id, COUNT(*) AS n FROM bronze.data_holder_brand GROUP BY run_id) b ON b.run_id = r.run_id
		 LEFT JOIN (SELECT run_id, COUNT(*) AS n, COUNT(error) AS errs FROM bronze.api_call_log GROUP BY run_id) a ON a.run_id = r.run_id
		 ORDER BY r.run_started_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "store: list runs")
	}
	defer rows.Close()

	var out []model.RunSummary
	for rows.Next() {
		var rs model.RunSummary
		if err := rows.Scan(&rs.ID, &rs.StartedAt, &rs.RunDate, &rs.RegisterIndustry, &rs.FilterIndustry, &rs.FetchProductDetails,
			&rs.BrandCount, &rs.APICallCount, &rs.APIErrorCount); err != nil {
			return nil, eris.Wrap(err, "store: scan run summary")
		}
		out = append(out, rs)
	}
	return out, rows.Err()
}

// ResolveRelation returns the first candidate relation name that
// exists in the target database, or empty string when none do.
// Candidates cover schema-naming variance between environments.
func (s *Store) ResolveRelation(ctx context.Context, candidates []string) (string, error) {
	for _, name := range candidates {
		var reg *string
		if err := s.q.QueryRow(ctx, `SELECT to_regclass($1)::text`, name).Scan(&reg); err != nil {
			return "", eris.Wrapf(err, "store: resolve relation %s", name)
		}
		if reg != nil {
			return name, nil
		}
	}
	return "", nil
}

// ScalarFloat runs a single-value query and returns the result, or nil
// when the query yields no rows or a NULL.
func (s *Store) ScalarFloat(ctx context.Context, sql string, args ...any) (*float64, error) {
	var val *float64
	err := s.q.QueryRow(ctx, sql, args...).Scan(&val)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "store: scalar query")
	}
	return val, nil
}
