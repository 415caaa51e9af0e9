package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/lakeshore-data/cdr-pipeline/internal/db"
	"github.com/lakeshore-data/cdr-pipeline/internal/model"
	"github.com/lakeshore-data/cdr-pipeline/internal/store"
)

// discoverBrands resolves the eligible brand set from the register.
// Any failure here is fatal to the run, but the failed call record is
// committed on its own (outside the doomed unit of work) so the
// diagnostics survive.
func (r *Runner) discoverBrands(ctx context.Context, run model.Run) ([]model.Brand, error) {
	url := fmt.Sprintf("%s/cdr-register/v1/%s/data-holders/brands/summary",
		strings.TrimRight(r.cfg.Register.Base, "/"), r.cfg.Register.Industry)

	fetchedAt := time.Now().UTC()
	res, err := r.client.GetVersioned(ctx, url, r.cfg.Register.Version, r.cfg.Register.VersionFallback)
	if err != nil {
		// Autocommitted via the pool: the record must outlive the failed run.
		if logErr := store.New(r.pool).LogAPICall(ctx, model.APICall{
			RunID:      run.ID,
			ProviderID: registerProviderID,
			Endpoint:   EndpointBrandsSummary,
			URL:        url,
			HTTPStatus: 0,
			FetchedAt:  fetchedAt,
			Error:      clipError(err.Error()),
		}); logErr != nil {
			zap.L().Error("failed recording discovery transport error", zap.Error(logErr))
		}
		return nil, err
	}

	call := model.APICall{
		RunID:       run.ID,
		ProviderID:  registerProviderID,
		Endpoint:    EndpointBrandsSummary,
		URL:         url,
		HTTPStatus:  res.Status,
		RespondedXV: &res.Version,
		FetchedAt:   fetchedAt,
		ETag:        res.ETag(),
		PayloadHash: hashPayload(res.Body),
	}
	if !res.OK() {
		call.Error = httpErrorText(res)
	}
	if err := store.New(r.pool).LogAPICall(ctx, call); err != nil {
		return nil, err
	}
	if path, err := writeBronze(r.cfg.Ingest.BronzeDir, run.RunDate, registerProviderID, EndpointBrandsSummary, 1, res.Body); err != nil {
		zap.L().Warn("failed writing bronze file", zap.String("path", path), zap.Error(err))
	}

	if !res.OK() {
		return nil, eris.Errorf("ingest: register discovery failed: HTTP %d", res.Status)
	}

	var page model.BrandSummaryPage
	if err := json.Unmarshal(res.Body, &page); err != nil {
		return nil, eris.Wrap(err, "ingest: parse brands summary")
	}

	brands := filterByIndustry(page.Data, run.FilterIndustry)
	for i := range brands {
		brands[i].RunID = run.ID
	}

	// The discovered list is itself diagnostic: persist every brand
	// for the run whether or not it gets processed.
	extractedAt := time.Now().UTC()
	rows := make([][]any, 0, len(brands))
	for _, b := range brands {
		rows = append(rows, store.BrandRow(b, extractedAt))
	}
	if _, err := db.BulkUpsert(ctx, r.pool, store.BrandUpsertConfig(), rows); err != nil {
		return nil, err
	}

	return brands, nil
}

// filterByIndustry keeps brands whose declared industries contain the
// filter, compared case-insensitively.
func filterByIndustry(brands []model.Brand, industry string) []model.Brand {
	want := strings.TrimSpace(industry)
	var out []model.Brand
	for _, b := range brands {
		for _, ind := range b.Industries {
			if strings.EqualFold(strings.TrimSpace(ind), want) {
				out = append(out, b)
				break
			}
		}
	}
	return out
}
