package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakeshore-data/cdr-pipeline/internal/model"
)

func TestParseDate(t *testing.T) {
	d, err := parseDate("2026-08-30")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC), d)

	d, err = parseDate("")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC(), d, time.Minute)

	_, err = parseDate("30/08/2026")
	require.Error(t, err)
}

func TestFormatRunsList(t *testing.T) {
	var buf bytes.Buffer
	formatRunsList(&buf, []model.RunSummary{
		{
			Run: model.Run{
				ID:        "11111111-1111-1111-1111-111111111111",
				RunDate:   "2026-08-30",
				StartedAt: time.Date(2026, 8, 30, 6, 0, 0, 0, time.UTC),
			},
			BrandCount:    90,
			APICallCount:  250,
			APIErrorCount: 3,
		},
	})

	out := buf.String()
	assert.Contains(t, out, "RUN ID")
	assert.Contains(t, out, "11111111-1111-1111-1111-111111111111")
	assert.Contains(t, out, "2026-08-30")
	assert.Contains(t, out, "90")
	assert.Contains(t, out, "250")
}
