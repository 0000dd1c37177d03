package webhook

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probefleet/dispatch/internal/bulkscan"
	"github.com/probefleet/dispatch/internal/logging"
)

func TestNotify_SkipsWhenNoNotifyURL(t *testing.T) {
	n := New(logging.NewDefault())
	err := n.Notify(t.Context(), &bulkscan.BulkScan{ID: "bs1"})
	assert.NoError(t, err)
}

func TestNotify_PostsJSONBody(t *testing.T) {
	var gotMethod, gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(logging.NewDefault())
	err := n.Notify(t.Context(), &bulkscan.BulkScan{ID: "bs1", NotifyURL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "application/json", gotContentType)
}

func TestNotify_ReturnsErrorOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := New(logging.NewDefault())
	err := n.Notify(t.Context(), &bulkscan.BulkScan{ID: "bs1", NotifyURL: srv.URL})
	assert.Error(t, err)
}

func TestNotify_ReturnsErrorOnInvalidURL(t *testing.T) {
	n := New(logging.NewDefault())
	err := n.Notify(t.Context(), &bulkscan.BulkScan{ID: "bs1", NotifyURL: "://not-a-valid-url"})
	assert.Error(t, err)
}

func TestNotify_ReusesBreakerPerHost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(logging.NewDefault())
	_, err := n.breakerFor(srv.URL)
	require.NoError(t, err)

	n.mu.Lock()
	count := len(n.perHost)
	n.mu.Unlock()
	assert.Equal(t, 1, count)

	_, err = n.breakerFor(srv.URL)
	require.NoError(t, err)

	n.mu.Lock()
	countAfter := len(n.perHost)
	n.mu.Unlock()
	assert.Equal(t, 1, countAfter)
}
