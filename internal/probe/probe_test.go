package probe

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probefleet/dispatch/internal/bulkscan"
	"github.com/probefleet/dispatch/internal/target"
)

func newTLSTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	return srv
}

func TestNew_BuildsProberForRegisteredKind(t *testing.T) {
	p, err := New(bulkscan.ScanConfig{Kind: "tls", TimeoutMS: 1000})
	require.NoError(t, err)
	assert.NotNil(t, p)
	assert.NoError(t, p.Close())
}

func TestNew_ErrorsForUnregisteredKind(t *testing.T) {
	_, err := New(bulkscan.ScanConfig{Kind: "does-not-exist"})
	assert.Error(t, err)
}

func TestRegisterFactory_ReplacesExistingRegistration(t *testing.T) {
	calls := 0
	RegisterFactory("probe-test-replace", func(bulkscan.ScanConfig) (Prober, error) {
		calls++
		return nil, nil
	})
	RegisterFactory("probe-test-replace", func(bulkscan.ScanConfig) (Prober, error) {
		calls += 10
		return nil, nil
	})

	_, err := New(bulkscan.ScanConfig{Kind: "probe-test-replace"})
	require.NoError(t, err)
	assert.Equal(t, 10, calls)
}

func TestTLSProber_ProbeParsesCertificateFromHandshake(t *testing.T) {
	srv := newTLSTestServer(t)
	defer srv.Close()

	host, portStr := splitHostPort(t, srv.Listener.Addr().String())
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	p, err := New(bulkscan.ScanConfig{Kind: "tls", TimeoutMS: 2000})
	require.NoError(t, err)
	defer p.Close()

	tgt := target.New().SetHostname(host).SetPort(port)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	doc, err := p.Probe(ctx, tgt)
	require.NoError(t, err)

	cert, ok := doc.(certDocument)
	require.True(t, ok)
	assert.NotZero(t, cert.Version)
	assert.Equal(t, 1, cert.ChainLength)
}

func TestTLSProber_ProbeErrorsWhenNothingListening(t *testing.T) {
	p, err := New(bulkscan.ScanConfig{Kind: "tls", TimeoutMS: 200})
	require.NoError(t, err)
	defer p.Close()

	tgt := target.New().SetHostname("127.0.0.1").SetPort(1)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err = p.Probe(ctx, tgt)
	assert.Error(t, err)
}

// splitHostPort pulls host/port out of an httptest server address.
func splitHostPort(t *testing.T, addr string) (string, string) {
	t.Helper()
	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	return host, port
}
