package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// writeBronze lands the raw payload bytes on disk, partitioned by
// ingestion date, provider and endpoint, alongside the database copy.
func writeBronze(baseDir, runDate, providerID, endpoint string, pageNum int, body []byte) (string, error) {
	dir := filepath.Join(
		baseDir,
		"ingestion_date="+runDate,
		"provider="+safeFilename(providerID),
		"endpoint="+safeFilename(endpoint),
	)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrapf(err, "ingest: create bronze dir %s", dir)
	}
	path := filepath.Join(dir, fmt.Sprintf("page=%04d.json", pageNum))
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return path, eris.Wrapf(err, "ingest: write bronze file %s", path)
	}
	return path, nil
}

// safeFilename keeps alphanumerics, dash, underscore and dot.
func safeFilename(s string) string {
	var b strings.Builder
	for _, ch := range s {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9',
			ch == '-', ch == '_', ch == '.':
			b.WriteRune(ch)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
