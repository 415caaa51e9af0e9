package ingest

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lakeshore-data/cdr-pipeline/internal/config"
	"github.com/lakeshore-data/cdr-pipeline/internal/fetcher"
	"github.com/lakeshore-data/cdr-pipeline/internal/model"
	"github.com/lakeshore-data/cdr-pipeline/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Products: config.EndpointConfig{
			Path:            "cds-au/v1/banking/products",
			Version:         4,
			VersionFallback: []int{3, 2, 1},
		},
		Detail: config.EndpointConfig{
			Path:            "cds-au/v1/banking/products/{productId}",
			Version:         6,
			VersionFallback: []int{5, 4, 3, 2, 1},
		},
		Ingest: config.IngestConfig{
			MaxPagesPerProvider: 200,
			BronzeDir:           t.TempDir(),
		},
	}
}

func testClient() *fetcher.Client {
	return fetcher.New(fetcher.Options{
		Timeout:     5 * time.Second,
		MaxRetries:  1,
		BackoffBase: time.Millisecond,
		RatePerHost: 1000,
		Burst:       1000,
	})
}

func newIngestMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	mock.MatchExpectationsInOrder(false)
	t.Cleanup(mock.Close)
	return mock
}

// expectPageCycle registers the writes one successfully parsed page
// produces: the call log, the raw page, and the fingerprint append.
func expectPageCycle(mock pgxmock.PgxPoolIface) {
	mock.ExpectExec("INSERT INTO bronze.api_call_log").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO raw.products_raw").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("SELECT fingerprint_hash").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec("INSERT INTO bronze.schema_fingerprint").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
}

func testRun() model.Run {
	return model.Run{ID: "11111111-1111-1111-1111-111111111111", RunDate: "2026-08-30"}
}

func testBrand(baseURI string) model.Brand {
	return model.Brand{ID: "bank-a", Name: "Bank A", PublicBaseURI: baseURI}
}

func TestFetchPages_FollowsRelativeNextLinks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-v", "4")
		switch r.URL.RawQuery {
		case "":
			fmt.Fprint(w, `{"data":{"products":[{"productId":"p1"},{"productId":"p2"}]},"links":{"next":"products?page=2"}}`)
		case "page=2":
			fmt.Fprint(w, `{"data":{"products":[{"productId":"p3"}]},"links":{"next":""}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	mock := newIngestMock(t)
	expectPageCycle(mock)
	expectPageCycle(mock)

	client := testClient()
	defer client.Close()

	r := NewRunner(mock, client, testConfig(t))
	total, ids, err := r.fetchPages(context.Background(), store.New(mock), testRun(), testBrand(srv.URL))
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Equal(t, []string{"p1", "p2", "p3"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchPages_LoopDetected(t *testing.T) {
	var srvURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// links.next points straight back at the first page.
		fmt.Fprintf(w, `{"data":{"products":[{"productId":"p1"}]},"links":{"next":"%s/cds-au/v1/banking/products"}}`, srvURL)
	}))
	defer srv.Close()
	srvURL = srv.URL

	mock := newIngestMock(t)
	expectPageCycle(mock)
	// The loop itself is recorded as a call-log anomaly.
	mock.ExpectExec("INSERT INTO bronze.api_call_log").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	client := testClient()
	defer client.Close()

	r := NewRunner(mock, client, testConfig(t))
	total, ids, err := r.fetchPages(context.Background(), store.New(mock), testRun(), testBrand(srv.URL))
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, []string{"p1"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchPages_PageLimit(t *testing.T) {
	page := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page++
		fmt.Fprintf(w, `{"data":{"products":[{"productId":"p%d"}]},"links":{"next":"products?page=%d"}}`, page, page+1)
	}))
	defer srv.Close()

	mock := newIngestMock(t)
	expectPageCycle(mock)
	expectPageCycle(mock)
	mock.ExpectExec("INSERT INTO bronze.api_call_log").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	cfg := testConfig(t)
	cfg.Ingest.MaxPagesPerProvider = 2

	client := testClient()
	defer client.Close()

	r := NewRunner(mock, client, cfg)
	total, _, err := r.fetchPages(context.Background(), store.New(mock), testRun(), testBrand(srv.URL))
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchPages_ParseFailureRecordedAndStops(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data": not json`)
	}))
	defer srv.Close()

	mock := newIngestMock(t)
	// Call logged once on fetch, once more with the parse error, and
	// the raw page still lands without a payload.
	mock.ExpectExec("INSERT INTO bronze.api_call_log").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO bronze.api_call_log").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO raw.products_raw").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	client := testClient()
	defer client.Close()

	r := NewRunner(mock, client, testConfig(t))
	total, ids, err := r.fetchPages(context.Background(), store.New(mock), testRun(), testBrand(srv.URL))
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchPages_HTTPErrorRecordedAndStops(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"errors":[{"code":"404"}]}`)
	}))
	defer srv.Close()

	mock := newIngestMock(t)
	mock.ExpectExec("INSERT INTO bronze.api_call_log").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO raw.products_raw").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	client := testClient()
	defer client.Close()

	r := NewRunner(mock, client, testConfig(t))
	total, _, err := r.fetchPages(context.Background(), store.New(mock), testRun(), testBrand(srv.URL))
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchPages_TransportErrorRecordedAndStops(t *testing.T) {
	mock := newIngestMock(t)
	mock.ExpectExec("INSERT INTO bronze.api_call_log").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	client := testClient()
	defer client.Close()

	r := NewRunner(mock, client, testConfig(t))
	total, _, err := r.fetchPages(context.Background(), store.New(mock), testRun(), testBrand("http://127.0.0.1:1"))
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchPages_SkipsBrandWithoutBaseURI(t *testing.T) {
	mock := newIngestMock(t)

	client := testClient()
	defer client.Close()

	r := NewRunner(mock, client, testConfig(t))
	total, ids, err := r.fetchPages(context.Background(), store.New(mock), testRun(), model.Brand{ID: "bank-x"})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveNext(t *testing.T) {
	assert.Equal(t, "", resolveNext("https://a/b", ""))
	assert.Equal(t, "https://other/next", resolveNext("https://a/b", "https://other/next"))
	assert.Equal(t, "https://a/products?page=2", resolveNext("https://a/products", "products?page=2"))
	assert.Equal(t, "https://a/v1/products?page=2", resolveNext("https://a/v1/products?page=1", "?page=2"))
}

func TestJoinURL(t *testing.T) {
	assert.Equal(t, "https://a/b", joinURL("https://a/", "/b"))
	assert.Equal(t, "https://a/b", joinURL("https://a", "b"))
}

func TestHashPayload(t *testing.T) {
	assert.Empty(t, hashPayload(nil))
	assert.Len(t, hashPayload([]byte("{}")), 64)
	assert.Equal(t, hashPayload([]byte("x")), hashPayload([]byte("x")))
	assert.NotEqual(t, hashPayload([]byte("x")), hashPayload([]byte("y")))
}

func TestHTTPErrorText(t *testing.T) {
	res := &fetcher.Result{Status: 503}
	assert.Equal(t, "HTTP 503", httpErrorText(res))

	res.Body = []byte(`{"errors":[]}`)
	assert.Equal(t, `{"errors":[]}`, httpErrorText(res))
}

func TestClipError(t *testing.T) {
	assert.Equal(t, "short", clipError("short"))
	long := make([]byte, maxErrorChars*2)
	for i := range long {
		long[i] = 'e'
	}
	assert.Len(t, clipError(string(long)), maxErrorChars)
}
