package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetVersioned_PreferredAccepted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "4", r.Header.Get("x-v"))
		w.Header().Set("x-v", "4")
		w.Write([]byte(`{"data":{"products":[]}}`))
	}))
	defer srv.Close()

	c := newTestClient()
	defer c.Close()

	res, err := c.GetVersioned(context.Background(), srv.URL, 4, []int{3, 2, 1})
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, 4, res.Version)
	assert.Equal(t, `{"data":{"products":[]}}`, string(res.Body))
}

func TestGetVersioned_FallbackOn406(t *testing.T) {
	var attempts []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		xv := r.Header.Get("x-v")
		attempts = append(attempts, xv)
		if xv != "2" {
			w.WriteHeader(http.StatusNotAcceptable)
			return
		}
		w.Header().Set("x-v", "2")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient()
	defer c.Close()

	res, err := c.GetVersioned(context.Background(), srv.URL, 4, []int{3, 2, 1})
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, 2, res.Version)
	assert.Equal(t, []string{"4", "3", "2"}, attempts)
}

func TestGetVersioned_ResponseHeaderOverridesAttempted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-v", "3")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient()
	defer c.Close()

	res, err := c.GetVersioned(context.Background(), srv.URL, 4, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Version)
}

func TestGetVersioned_NonOKStatusEndsNegotiation(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient()
	defer c.Close()

	res, err := c.GetVersioned(context.Background(), srv.URL, 4, []int{3, 2})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, res.Status)
	assert.False(t, res.OK())
	assert.Equal(t, 1, calls)
}

func TestGetVersioned_AllVersionsRejected(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotAcceptable)
	}))
	defer srv.Close()

	c := newTestClient()
	defer c.Close()

	res, err := c.GetVersioned(context.Background(), srv.URL, 4, []int{3})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotAcceptable, res.Status)
	assert.Equal(t, 4, res.Version)
	assert.Equal(t, 2, calls)
}

func TestGetVersioned_DuplicateVersionsDeduped(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotAcceptable)
	}))
	defer srv.Close()

	c := newTestClient()
	defer c.Close()

	_, err := c.GetVersioned(context.Background(), srv.URL, 3, []int{3, 3, 2})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestGetVersioned_TransportErrorOnly(t *testing.T) {
	c := New(Options{
		MaxRetries:  1,
		BackoffBase: 1,
		RatePerHost: 1000,
		Burst:       1000,
	})
	defer c.Close()

	_, err := c.GetVersioned(context.Background(), "http://127.0.0.1:1/x", 2, []int{1})
	require.Error(t, err)
}

func TestGetVersioned_EmptyURL(t *testing.T) {
	c := newTestClient()
	defer c.Close()

	_, err := c.GetVersioned(context.Background(), "", 1, nil)
	require.Error(t, err)
}

func TestResult_ETag(t *testing.T) {
	h := http.Header{}
	h.Set("ETag", `"abc"`)
	r := &Result{Header: h}
	assert.Equal(t, `"abc"`, r.ETag())
}

func TestRespondedVersion(t *testing.T) {
	h := http.Header{}
	assert.Equal(t, 4, respondedVersion(h, 4))
	h.Set("x-v", "3")
	assert.Equal(t, 3, respondedVersion(h, 4))
	h.Set("x-v", "junk")
	assert.Equal(t, 4, respondedVersion(h, 4))
}
