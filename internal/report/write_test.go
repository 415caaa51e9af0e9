package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAll(t *testing.T) {
	dir := t.TempDir()
	prev, cur, delta := 4.5, 4.9, 0.4
	status := 200

	data := &Data{
		Date: "2026-08-30",
		RateChanges: []RateChange{{
			ProviderID:       "bank-a",
			BrandName:        "Bank A",
			ProductID:        "p1",
			ProductName:      "Saver",
			RateKind:         "deposit",
			RateType:         "VARIABLE",
			PreviousAsOfDate: "2026-08-28",
			CurrentAsOfDate:  "2026-08-29",
			PreviousRate:     &prev,
			CurrentRate:      &cur,
			Delta:            &delta,
		}},
		Coverage: []Coverage{{
			AsOfDate:       "2026-08-30",
			ProviderID:     "bank-a",
			BrandName:      "Bank A",
			PagesOK:        3,
			ProductRows:    42,
			LastHTTPStatus: &status,
		}},
		Drift: []Drift{{
			ProviderID: "bank-a",
			Endpoint:   "banking:get-products",
			NewHash:    "abcdef0123456789",
			ObservedAt: time.Date(2026, 8, 30, 9, 30, 0, 0, time.UTC),
		}},
		Notes: []string{"dim_products missing"},
	}

	paths, err := writeAll(dir, data)
	require.NoError(t, err)
	require.Len(t, paths, 3)

	rates, err := os.ReadFile(filepath.Join(dir, "rate_changes_2026-08-30.csv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(rates)), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "provider_id,brand_name,product_id"))
	assert.Contains(t, lines[1], "bank-a,Bank A,p1,Saver")
	assert.Contains(t, lines[1], "4.5,4.9,0.4")

	cov, err := os.ReadFile(filepath.Join(dir, "provider_coverage_2026-08-30.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(cov), "2026-08-30,bank-a,Bank A,,3,42,200,")

	md, err := os.ReadFile(filepath.Join(dir, "pipeline_summary_2026-08-30.md"))
	require.NoError(t, err)
	content := string(md)
	assert.Contains(t, content, "# Pipeline summary 2026-08-30")
	assert.Contains(t, content, "dim_products missing")
	assert.Contains(t, content, "| Bank A | 3 | 42 | 200 |")
	assert.Contains(t, content, "| bank-a | banking:get-products | 2026-08-30 09:30 | abcdef012345 |")
}

func TestWriteAll_EmptyData(t *testing.T) {
	dir := t.TempDir()
	paths, err := writeAll(dir, &Data{Date: "2026-08-30"})
	require.NoError(t, err)
	require.Len(t, paths, 3)

	md, err := os.ReadFile(paths[2])
	require.NoError(t, err)
	assert.Contains(t, string(md), "No coverage rows.")
	assert.Contains(t, string(md), "No rate changes.")
	assert.Contains(t, string(md), "No drift events.")
}

func TestFormatRate(t *testing.T) {
	assert.Equal(t, "", formatRate(nil))
	v := 0.045
	assert.Equal(t, "0.045", formatRate(&v))
}

func TestClip(t *testing.T) {
	assert.Equal(t, "abc", clip("abc", 10))
	assert.Equal(t, "ab", clip("abcd", 2))
}
