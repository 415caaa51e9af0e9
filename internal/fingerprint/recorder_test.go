package fingerprint

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lakeshore-data/cdr-pipeline/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestRecord_FirstObservationNoDrift(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT fingerprint_hash").
		WithArgs("bank-a", "banking:get-products").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec("INSERT INTO bronze.schema_fingerprint").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	rec := NewRecorder()
	payload := map[string]any{"data": map[string]any{"products": []any{}}}

	drifted, err := rec.Record(context.Background(), store.New(mock), "bank-a", "banking:get-products", payload, time.Now(), "run-1")
	require.NoError(t, err)
	assert.False(t, drifted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecord_SameShapeNoDrift(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	payload := map[string]any{"data": map[string]any{"products": []any{}}}
	hash, _ := Fingerprint(payload, DefaultMaxDepth)

	mock.ExpectQuery("SELECT fingerprint_hash").
		WithArgs("bank-a", "banking:get-products").
		WillReturnRows(pgxmock.NewRows([]string{"fingerprint_hash"}).AddRow(hash))
	mock.ExpectExec("INSERT INTO bronze.schema_fingerprint").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	rec := NewRecorder()
	drifted, err := rec.Record(context.Background(), store.New(mock), "bank-a", "banking:get-products", payload, time.Now(), "run-2")
	require.NoError(t, err)
	assert.False(t, drifted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecord_ShapeChangeEmitsDrift(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT fingerprint_hash").
		WithArgs("bank-a", "banking:get-products").
		WillReturnRows(pgxmock.NewRows([]string{"fingerprint_hash"}).AddRow("stale-hash"))
	mock.ExpectExec("INSERT INTO bronze.schema_fingerprint").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO bronze.schema_drift_event").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	rec := NewRecorder()
	payload := map[string]any{"data": map[string]any{"products": []any{}}}

	drifted, err := rec.Record(context.Background(), store.New(mock), "bank-a", "banking:get-products", payload, time.Now(), "run-3")
	require.NoError(t, err)
	assert.True(t, drifted)
	assert.NoError(t, mock.ExpectationsWereMet())
}
