// Package ingest drives an ingestion run: register discovery,
// per-provider paginated product fetch, optional product detail
// fetch, and provenance persistence.
package ingest

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/lakeshore-data/cdr-pipeline/internal/config"
	"github.com/lakeshore-data/cdr-pipeline/internal/db"
	"github.com/lakeshore-data/cdr-pipeline/internal/fetcher"
	"github.com/lakeshore-data/cdr-pipeline/internal/fingerprint"
	"github.com/lakeshore-data/cdr-pipeline/internal/model"
	"github.com/lakeshore-data/cdr-pipeline/internal/store"
)

// Endpoint labels used in provenance rows.
const (
	EndpointBrandsSummary = "cdr-register:brands-summary"
	EndpointProducts      = "banking:get-products"
	EndpointProductDetail = "banking:get-product-detail"
)

const registerProviderID = "cdr-register"

// Runner executes ingestion runs. All components share one connection
// pool and one HTTP client for the lifetime of the run.
type Runner struct {
	pool   db.Pool
	client *fetcher.Client
	cfg    *config.Config
	rec    *fingerprint.Recorder
}

// NewRunner creates a Runner.
func NewRunner(pool db.Pool, client *fetcher.Client, cfg *config.Config) *Runner {
	return &Runner{
		pool:   pool,
		client: client,
		cfg:    cfg,
		rec:    fingerprint.NewRecorder(),
	}
}

// Summary reports what a run accomplished.
type Summary struct {
	RunID            string `json:"run_id"`
	BrandsDiscovered int    `json:"brands_discovered"`
	BrandsProcessed  int    `json:"brands_processed"`
	BrandsFailed     int    `json:"brands_failed"`
	TotalProducts    int    `json:"total_products"`
	DetailsFetched   int    `json:"details_fetched"`
}

// Run executes one ingestion run for the given logical date.
// providerLimit > 0 overrides the configured limit. Discovery failure
// is fatal; per-provider failures are isolated and the run continues.
func (r *Runner) Run(ctx context.Context, runDate time.Time, providerLimit int) (*Summary, error) {
	run := model.Run{
		ID:                  uuid.NewString(),
		StartedAt:           time.Now().UTC(),
		RunDate:             runDate.Format("2006-01-02"),
		RegisterIndustry:    r.cfg.Register.Industry,
		FilterIndustry:      r.cfg.Register.FilterIndustry,
		FetchProductDetails: r.cfg.Ingest.FetchProductDetails,
	}
	log := zap.L().With(zap.String("run_id", run.ID))

	// The run row commits in its own transaction so every later
	// provenance row has a referent even if the run aborts.
	if err := r.inTx(ctx, func(st *store.Store) error {
		return st.InsertRun(ctx, run)
	}); err != nil {
		return nil, err
	}

	brands, err := r.discoverBrands(ctx, run)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: discovery")
	}
	log.Info("brands discovered",
		zap.Int("count", len(brands)),
		zap.String("filter_industry", run.FilterIndustry),
	)

	summary := &Summary{RunID: run.ID, BrandsDiscovered: len(brands)}

	limit := providerLimit
	if limit <= 0 {
		limit = r.cfg.Ingest.ProviderLimit
	}
	if limit > 0 && limit < len(brands) {
		brands = brands[:limit]
		log.Info("provider limit applied", zap.Int("processing", len(brands)))
	}

	for i, brand := range brands {
		blog := log.With(zap.String("provider_id", brand.ID), zap.String("brand", brand.Name))
		blog.Info("fetching products", zap.Int("index", i+1), zap.Int("total", len(brands)))

		err := r.inTx(ctx, func(st *store.Store) error {
			products, productIDs, err := r.fetchPages(ctx, st, run, brand)
			if err != nil {
				return err
			}
			summary.TotalProducts += products
			if run.FetchProductDetails && len(productIDs) > 0 {
				ok, err := r.fetchDetails(ctx, st, run, brand, productIDs)
				if err != nil {
					return err
				}
				summary.DetailsFetched += ok
			}
			return nil
		})
		if err != nil {
			// One provider's failure never blocks the others.
			summary.BrandsFailed++
			blog.Error("provider failed, continuing", zap.Error(err))
			continue
		}
		summary.BrandsProcessed++
	}

	log.Info("ingest complete",
		zap.Int("brands_processed", summary.BrandsProcessed),
		zap.Int("brands_failed", summary.BrandsFailed),
		zap.Int("total_products", summary.TotalProducts),
	)
	return summary, nil
}

// inTx runs fn with a Store bound to a fresh transaction, committing
// on success and rolling back on error.
func (r *Runner) inTx(ctx context.Context, fn func(st *store.Store) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "ingest: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(store.New(tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "ingest: commit tx")
	}
	return nil
}
