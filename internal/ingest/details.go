package ingest

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lakeshore-data/cdr-pipeline/internal/model"
	"github.com/lakeshore-data/cdr-pipeline/internal/store"
)

const productIDPlaceholder = "{productId}"

// fetchDetails fetches each discovered product's detail payload.
// Per-product failures are recorded and skipped; only persistence
// errors propagate. Returns how many details fetched with 200.
func (r *Runner) fetchDetails(ctx context.Context, st *store.Store, run model.Run, brand model.Brand, productIDs []string) (int, error) {
	ok := 0
	for i, pid := range productIDs {
		detailPath := strings.ReplaceAll(r.cfg.Detail.Path, productIDPlaceholder, pid)
		detailURL := joinURL(brand.BaseURI(), detailPath)

		fetchedAt := time.Now().UTC()
		res, err := r.client.GetVersioned(ctx, detailURL, r.cfg.Detail.Version, r.cfg.Detail.VersionFallback)
		if err != nil {
			if logErr := st.LogAPICall(ctx, model.APICall{
				RunID:      run.ID,
				ProviderID: brand.ID,
				Endpoint:   EndpointProductDetail,
				URL:        detailURL,
				HTTPStatus: 0,
				FetchedAt:  fetchedAt,
				Error:      clipError(err.Error()),
			}); logErr != nil {
				return ok, logErr
			}
			continue
		}

		call := model.APICall{
			RunID:       run.ID,
			ProviderID:  brand.ID,
			Endpoint:    EndpointProductDetail,
			URL:         detailURL,
			HTTPStatus:  res.Status,
			RespondedXV: &res.Version,
			FetchedAt:   fetchedAt,
			ETag:        res.ETag(),
			PayloadHash: hashPayload(res.Body),
		}
		if !res.OK() {
			call.Error = httpErrorText(res)
		}
		if err := st.LogAPICall(ctx, call); err != nil {
			return ok, err
		}

		var payload any
		parsed := false
		if res.OK() && len(res.Body) > 0 {
			if err := json.Unmarshal(res.Body, &payload); err != nil {
				call.Error = clipError("JSON parse error: " + err.Error())
				if logErr := st.LogAPICall(ctx, call); logErr != nil {
					return ok, logErr
				}
			} else {
				parsed = true
			}
		}

		detail := model.RawDetail{
			RunID:       run.ID,
			ProviderID:  brand.ID,
			BrandName:   brand.Name,
			ProductID:   pid,
			URL:         detailURL,
			HTTPStatus:  res.Status,
			RespondedXV: &res.Version,
			FetchedAt:   fetchedAt,
			ETag:        res.ETag(),
			PayloadHash: hashPayload(res.Body),
		}
		if parsed {
			detail.Payload = res.Body
		}
		if err := st.UpsertRawDetail(ctx, detail); err != nil {
			return ok, err
		}

		if parsed {
			if _, err := r.rec.Record(ctx, st, brand.ID, EndpointProductDetail, payload, fetchedAt, run.ID); err != nil {
				zap.L().Warn("fingerprint recording failed",
					zap.String("provider_id", brand.ID),
					zap.String("product_id", pid),
					zap.Error(err),
				)
			}
		}

		if res.OK() {
			ok++
		}

		if (i+1)%50 == 0 {
			zap.L().Info("detail progress",
				zap.String("provider_id", brand.ID),
				zap.Int("done", i+1),
				zap.Int("total", len(productIDs)),
			)
		}
	}
	return ok, nil
}
