package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lakeshore-data/cdr-pipeline/internal/fetcher"
	"github.com/lakeshore-data/cdr-pipeline/internal/model"
	"github.com/lakeshore-data/cdr-pipeline/internal/store"
)

const maxErrorChars = 500

// fetchPages walks a brand's paginated products endpoint, recording
// every page outcome before advancing. It returns the product count
// and the discovered product ids. Only persistence errors propagate;
// fetch, parse and pagination anomalies stop pagination for this
// brand after being recorded, without failing it.
func (r *Runner) fetchPages(ctx context.Context, st *store.Store, run model.Run, brand model.Brand) (int, []string, error) {
	if brand.ID == "" || brand.BaseURI() == "" {
		zap.L().Warn("skipping brand with missing id or base uri",
			zap.String("provider_id", brand.ID),
			zap.String("brand", brand.Name),
		)
		return 0, nil, nil
	}

	nextURL := joinURL(brand.BaseURI(), r.cfg.Products.Path)
	visited := make(map[string]bool)
	pageNum := 1
	totalProducts := 0
	idSet := make(map[string]bool)

	for nextURL != "" {
		// Loop detection runs before the page-limit check: a loop is
		// the stronger signal and should be the recorded reason.
		if visited[nextURL] {
			zap.L().Error("pagination loop detected",
				zap.String("provider_id", brand.ID),
				zap.String("url", nextURL),
			)
			if err := st.LogAPICall(ctx, pageAnomaly(run.ID, brand.ID, nextURL, "Pagination loop detected from links.next")); err != nil {
				return totalProducts, sortedKeys(idSet), err
			}
			break
		}
		if pageNum > r.cfg.Ingest.MaxPagesPerProvider {
			zap.L().Error("pagination limit exceeded",
				zap.String("provider_id", brand.ID),
				zap.Int("max_pages", r.cfg.Ingest.MaxPagesPerProvider),
			)
			msg := fmt.Sprintf("Pagination limit exceeded (%d)", r.cfg.Ingest.MaxPagesPerProvider)
			if err := st.LogAPICall(ctx, pageAnomaly(run.ID, brand.ID, nextURL, msg)); err != nil {
				return totalProducts, sortedKeys(idSet), err
			}
			break
		}
		visited[nextURL] = true

		fetchedAt := time.Now().UTC()
		res, err := r.client.GetVersioned(ctx, nextURL, r.cfg.Products.Version, r.cfg.Products.VersionFallback)
		if err != nil {
			call := pageAnomaly(run.ID, brand.ID, nextURL, clipError(err.Error()))
			call.FetchedAt = fetchedAt
			if logErr := st.LogAPICall(ctx, call); logErr != nil {
				return totalProducts, sortedKeys(idSet), logErr
			}
			break
		}

		call := model.APICall{
			RunID:       run.ID,
			ProviderID:  brand.ID,
			Endpoint:    EndpointProducts,
			URL:         nextURL,
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
			return totalProducts, sortedKeys(idSet), err
		}

		if path, err := writeBronze(r.cfg.Ingest.BronzeDir, run.RunDate, brand.ID, EndpointProducts, pageNum, res.Body); err != nil {
			zap.L().Warn("failed writing bronze file", zap.String("path", path), zap.Error(err))
		}

		var payload any
		parsed := false
		if res.OK() && len(res.Body) > 0 {
			if err := json.Unmarshal(res.Body, &payload); err != nil {
				call.Error = clipError("JSON parse error: " + err.Error())
				if logErr := st.LogAPICall(ctx, call); logErr != nil {
					return totalProducts, sortedKeys(idSet), logErr
				}
			} else {
				parsed = true
			}
		}

		page := model.RawPage{
			RunID:       run.ID,
			ProviderID:  brand.ID,
			BrandName:   brand.Name,
			Endpoint:    EndpointProducts,
			URL:         nextURL,
			PageNum:     pageNum,
			HTTPStatus:  res.Status,
			RespondedXV: &res.Version,
			FetchedAt:   fetchedAt,
			ETag:        res.ETag(),
			PayloadHash: hashPayload(res.Body),
		}
		if parsed {
			page.Payload = res.Body
		}
		if err := st.UpsertRawPage(ctx, page); err != nil {
			return totalProducts, sortedKeys(idSet), err
		}

		if !parsed {
			break
		}

		// Fingerprinting is a dependent step of raw persistence, never
		// a precondition for it.
		if _, err := r.rec.Record(ctx, st, brand.ID, EndpointProducts, payload, fetchedAt, run.ID); err != nil {
			zap.L().Warn("fingerprint recording failed",
				zap.String("provider_id", brand.ID),
				zap.Error(err),
			)
		}

		var pp model.ProductsPage
		if err := json.Unmarshal(res.Body, &pp); err == nil {
			totalProducts += len(pp.Data.Products)
			for _, p := range pp.Data.Products {
				if p.ProductID != "" {
					idSet[p.ProductID] = true
				}
			}
			nextURL = resolveNext(nextURL, pp.Links.Next)
		} else {
			nextURL = ""
		}
		pageNum++
	}

	return totalProducts, sortedKeys(idSet), nil
}

func pageAnomaly(runID, providerID, url, errText string) model.APICall {
	return model.APICall{
		RunID:      runID,
		ProviderID: providerID,
		Endpoint:   EndpointProducts,
		URL:        url,
		HTTPStatus: 0,
		FetchedAt:  time.Now().UTC(),
		Error:      errText,
	}
}

// resolveNext resolves a server-supplied next link, which may be
// relative, against the current page's URL. Empty means done.
func resolveNext(current, next string) string {
	if next == "" {
		return ""
	}
	nu, err := url.Parse(next)
	if err != nil {
		return ""
	}
	if nu.IsAbs() {
		return next
	}
	cu, err := url.Parse(current)
	if err != nil {
		return ""
	}
	return cu.ResolveReference(nu).String()
}

// joinURL joins a base URI and a path with exactly one slash.
func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

func hashPayload(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// httpErrorText renders a non-success response for the error column.
func httpErrorText(res *fetcher.Result) string {
	if len(res.Body) > 0 {
		return clipError(string(res.Body))
	}
	return fmt.Sprintf("HTTP %d", res.Status)
}

// clipError truncates error text so long bodies cannot bloat
// provenance rows.
func clipError(s string) string {
	if len(s) <= maxErrorChars {
		return s
	}
	return s[:maxErrorChars]
}
