// Package report renders CSV and markdown reports from the gold marts
// and the drift history. Missing marts are noted, never fatal: the
// report describes whatever state exists.
package report

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lakeshore-data/cdr-pipeline/internal/db"
	"github.com/lakeshore-data/cdr-pipeline/internal/store"
)

// RateChange is one row of the rate-changes mart.
type RateChange struct {
	ProviderID        string
	BrandName         string
	ProductID         string
	ProductName       string
	ProductCategory   string
	RateKind          string
	RateType          string
	TierName          string
	PreviousAsOfDate  string
	CurrentAsOfDate   string
	PreviousRate      *float64
	CurrentRate       *float64
	Delta             *float64
}

// Coverage is one row of the provider-coverage mart.
type Coverage struct {
	AsOfDate        string
	ProviderID      string
	BrandName       string
	ExpectedBaseURI string
	PagesOK         int64
	ProductRows     int64
	LastHTTPStatus  *int
	LastError       string
}

// Drift is one recent drift event.
type Drift struct {
	ProviderID string
	Endpoint   string
	OldHash    string
	NewHash    string
	ObservedAt time.Time
}

// Data holds everything a report renders, plus notes about sources
// that were unavailable.
type Data struct {
	Date        string
	RateChanges []RateChange
	Coverage    []Coverage
	Drift       []Drift
	Notes       []string
}

// Generator builds report data and writes the output files.
type Generator struct {
	pool db.Pool
	dir  string
}

// NewGenerator creates a Generator writing into dir.
func NewGenerator(pool db.Pool, dir string) *Generator {
	return &Generator{pool: pool, dir: dir}
}

// Run collects mart data for the date and writes the CSVs and the
// markdown summary. Returns the written paths.
func (g *Generator) Run(ctx context.Context, asOf time.Time) ([]string, error) {
	data, err := g.Collect(ctx)
	if err != nil {
		return nil, err
	}
	data.Date = asOf.Format("2006-01-02")
	return writeAll(g.dir, data)
}

// Collect queries the three report sources. The sources are
// independent, so they run concurrently; a missing or broken source
// becomes a note, not a failure.
func (g *Generator) Collect(ctx context.Context) (*Data, error) {
	data := &Data{}
	var rateNote, covNote, driftNote string

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		rows, err := g.rateChanges(egCtx)
		if err != nil {
			rateNote = fmt.Sprintf("rate changes mart not available (run the transform job?): %v", err)
			return nil
		}
		data.RateChanges = rows
		return nil
	})

	eg.Go(func() error {
		rows, err := g.coverage(egCtx)
		if err != nil {
			covNote = fmt.Sprintf("provider coverage mart not available (run the transform job?): %v", err)
			return nil
		}
		data.Coverage = rows
		return nil
	})

	eg.Go(func() error {
		rows, err := g.driftEvents(egCtx)
		if err != nil {
			driftNote = fmt.Sprintf("drift history not available: %v", err)
			return nil
		}
		data.Drift = rows
		return nil
	})

	if err := eg.Wait(); err != nil {
		return nil, eris.Wrap(err, "report: collect")
	}

	for _, note := range []string{rateNote, covNote, driftNote} {
		if note != "" {
			data.Notes = append(data.Notes, note)
			zap.L().Warn("report source unavailable", zap.String("note", note))
		}
	}
	return data, nil
}

func (g *Generator) rateChanges(ctx context.Context) ([]RateChange, error) {
	st := store.New(g.pool)
	rel, err := st.ResolveRelation(ctx, []string{"gold.mart_rate_changes", "public_gold.mart_rate_changes"})
	if err != nil {
		return nil, err
	}
	if rel == "" {
		return nil, eris.New("relation does not exist")
	}

	rows, err := g.pool.Query(ctx, fmt.Sprintf(
		`SELECT provider_id, brand_name, product_id, COALESCE(product_name, ''), COALESCE(product_category, ''),
		        COALESCE(rate_kind, ''), COALESCE(rate_type, ''), COALESCE(tier_name, ''),
		        previous_as_of_date::text, current_as_of_date::text,
		        previous_rate, current_rate, (current_rate - previous_rate)
		 FROM %s
		 ORDER BY abs(current_rate - previous_rate) DESC NULLS LAST
		 LIMIT 200`, rel))
	if err != nil {
		return nil, eris.Wrap(err, "report: query rate changes")
	}
	defer rows.Close()

	var out []RateChange
	for rows.Next() {
		var rc RateChange
		if err := rows.Scan(&rc.ProviderID, &rc.BrandName, &rc.ProductID, &rc.ProductName, &rc.ProductCategory,
			&rc.RateKind, &rc.RateType, &rc.TierName, &rc.PreviousAsOfDate, &rc.CurrentAsOfDate,
			&rc.PreviousRate, &rc.CurrentRate, &rc.Delta); err != nil {
			return nil, eris.Wrap(err, "report: scan rate change")
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}

func (g *Generator) coverage(ctx context.Context) ([]Coverage, error) {
	st := store.New(g.pool)
	rel, err := st.ResolveRelation(ctx, []string{"gold.mart_provider_coverage", "public_gold.mart_provider_coverage"})
	if err != nil {
		return nil, err
	}
	if rel == "" {
		return nil, eris.New("relation does not exist")
	}

	rows, err := g.pool.Query(ctx, fmt.Sprintf(
		`SELECT as_of_date::text, provider_id, COALESCE(brand_name, ''), COALESCE(expected_base_uri, ''),
		        COALESCE(products_pages_ok, 0), COALESCE(products_rows, 0), last_http_status, COALESCE(last_error, '')
		 FROM %s
		 ORDER BY brand_name`, rel))
	if err != nil {
		return nil, eris.Wrap(err, "report: query coverage")
	}
	defer rows.Close()

	var out []Coverage
	for rows.Next() {
		var c Coverage
		if err := rows.Scan(&c.AsOfDate, &c.ProviderID, &c.BrandName, &c.ExpectedBaseURI,
			&c.PagesOK, &c.ProductRows, &c.LastHTTPStatus, &c.LastError); err != nil {
			return nil, eris.Wrap(err, "report: scan coverage")
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (g *Generator) driftEvents(ctx context.Context) ([]Drift, error) {
	rows, err := g.pool.Query(ctx,
		`SELECT provider_id, endpoint, COALESCE(old_fingerprint_hash, ''), new_fingerprint_hash, observed_at
		 FROM bronze.schema_drift_event
		 ORDER BY observed_at DESC
		 LIMIT 50`)
	if err != nil {
		return nil, eris.Wrap(err, "report: query drift events")
	}
	defer rows.Close()

	var out []Drift
	for rows.Next() {
		var d Drift
		if err := rows.Scan(&d.ProviderID, &d.Endpoint, &d.OldHash, &d.NewHash, &d.ObservedAt); err != nil {
			return nil, eris.Wrap(err, "report: scan drift event")
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
