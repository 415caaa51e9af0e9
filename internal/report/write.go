package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rotisserie/eris"
)

// writeAll renders the CSVs and markdown summary into dir.
func writeAll(dir string, data *Data) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrap(err, "report: create output dir")
	}

	var paths []string

	p := filepath.Join(dir, fmt.Sprintf("rate_changes_%s.csv", data.Date))
	if err := writeRateChangesCSV(p, data.RateChanges); err != nil {
		return nil, err
	}
	paths = append(paths, p)

	p = filepath.Join(dir, fmt.Sprintf("provider_coverage_%s.csv", data.Date))
	if err := writeCoverageCSV(p, data.Coverage); err != nil {
		return nil, err
	}
	paths = append(paths, p)

	p = filepath.Join(dir, fmt.Sprintf("pipeline_summary_%s.md", data.Date))
	if err := writeMarkdown(p, data); err != nil {
		return nil, err
	}
	paths = append(paths, p)

	return paths, nil
}

func writeRateChangesCSV(path string, rows []RateChange) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "report: create rate changes csv")
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{
		"provider_id", "brand_name", "product_id", "product_name", "product_category",
		"rate_kind", "rate_type", "tier_name",
		"previous_as_of_date", "current_as_of_date", "previous_rate", "current_rate", "delta",
	}); err != nil {
		return eris.Wrap(err, "report: write csv header")
	}
	for _, rc := range rows {
		rec := []string{
			rc.ProviderID, rc.BrandName, rc.ProductID, rc.ProductName, rc.ProductCategory,
			rc.RateKind, rc.RateType, rc.TierName,
			rc.PreviousAsOfDate, rc.CurrentAsOfDate,
			formatRate(rc.PreviousRate), formatRate(rc.CurrentRate), formatRate(rc.Delta),
		}
		if err := w.Write(rec); err != nil {
			return eris.Wrap(err, "report: write csv row")
		}
	}
	w.Flush()
	return eris.Wrap(w.Error(), "report: flush rate changes csv")
}

func writeCoverageCSV(path string, rows []Coverage) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "report: create coverage csv")
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{
		"as_of_date", "provider_id", "brand_name", "expected_base_uri",
		"products_pages_ok", "products_rows", "last_http_status", "last_error",
	}); err != nil {
		return eris.Wrap(err, "report: write csv header")
	}
	for _, c := range rows {
		status := ""
		if c.LastHTTPStatus != nil {
			status = strconv.Itoa(*c.LastHTTPStatus)
		}
		rec := []string{
			c.AsOfDate, c.ProviderID, c.BrandName, c.ExpectedBaseURI,
			strconv.FormatInt(c.PagesOK, 10), strconv.FormatInt(c.ProductRows, 10),
			status, c.LastError,
		}
		if err := w.Write(rec); err != nil {
			return eris.Wrap(err, "report: write csv row")
		}
	}
	w.Flush()
	return eris.Wrap(w.Error(), "report: flush coverage csv")
}

func formatRate(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'g', -1, 64)
}

func writeMarkdown(path string, data *Data) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "report: create summary")
	}
	defer f.Close()

	fmt.Fprintf(f, "# Pipeline summary %s\n\n", data.Date)

	if len(data.Notes) > 0 {
		fmt.Fprintln(f, "## Notes")
		fmt.Fprintln(f)
		for _, n := range data.Notes {
			fmt.Fprintf(f, "- %s\n", n)
		}
		fmt.Fprintln(f)
	}

	fmt.Fprintln(f, "## Provider coverage")
	fmt.Fprintln(f)
	if len(data.Coverage) == 0 {
		fmt.Fprintln(f, "No coverage rows.")
	} else {
		fmt.Fprintln(f, "| Brand | Pages OK | Product rows | Last status | Last error |")
		fmt.Fprintln(f, "|---|---|---|---|---|")
		for _, c := range data.Coverage {
			status := ""
			if c.LastHTTPStatus != nil {
				status = strconv.Itoa(*c.LastHTTPStatus)
			}
			fmt.Fprintf(f, "| %s | %d | %d | %s | %s |\n",
				c.BrandName, c.PagesOK, c.ProductRows, status, clip(c.LastError, 80))
		}
	}
	fmt.Fprintln(f)

	fmt.Fprintln(f, "## Largest rate moves")
	fmt.Fprintln(f)
	if len(data.RateChanges) == 0 {
		fmt.Fprintln(f, "No rate changes.")
	} else {
		fmt.Fprintln(f, "| Brand | Product | Rate | Previous | Current | Delta |")
		fmt.Fprintln(f, "|---|---|---|---|---|---|")
		limit := len(data.RateChanges)
		if limit > 25 {
			limit = 25
		}
		for _, rc := range data.RateChanges[:limit] {
			fmt.Fprintf(f, "| %s | %s | %s %s | %s | %s | %s |\n",
				rc.BrandName, rc.ProductName, rc.RateKind, rc.RateType,
				formatRate(rc.PreviousRate), formatRate(rc.CurrentRate), formatRate(rc.Delta))
		}
	}
	fmt.Fprintln(f)

	fmt.Fprintln(f, "## Recent schema drift")
	fmt.Fprintln(f)
	if len(data.Drift) == 0 {
		fmt.Fprintln(f, "No drift events.")
	} else {
		fmt.Fprintln(f, "| Provider | Endpoint | Observed | New fingerprint |")
		fmt.Fprintln(f, "|---|---|---|---|")
		for _, d := range data.Drift {
			fmt.Fprintf(f, "| %s | %s | %s | %s |\n",
				d.ProviderID, d.Endpoint, d.ObservedAt.Format("2006-01-02 15:04"), clip(d.NewHash, 12))
		}
	}

	return nil
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
