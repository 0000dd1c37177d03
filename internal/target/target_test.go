package target

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probefleet/dispatch/internal/job"
)

type stubResolver struct {
	addr string
	err  error
}

func (s stubResolver) Resolve(ctx context.Context, hostname string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.addr, nil
}

type stubDenylist struct {
	blockedHosts map[string]bool
}

func (d stubDenylist) Matches(hostname, ip string) bool {
	return d.blockedHosts[hostname]
}

func TestParse_SingleIPTarget(t *testing.T) {
	tgt, status, err := Parse(context.Background(), "192.0.2.1:4433", 443, stubResolver{}, nil)
	require.NoError(t, err)
	assert.Equal(t, job.StatusToBeExecuted, status)
	assert.Nil(t, tgt.Hostname())
	require.NotNil(t, tgt.IP())
	assert.Equal(t, "192.0.2.1", *tgt.IP())
	assert.Equal(t, 4433, tgt.Port())
	assert.Zero(t, tgt.TrancoRank())
}

func TestParse_DenylistedHostname(t *testing.T) {
	resolver := stubResolver{addr: "203.0.113.5"}
	dl := stubDenylist{blockedHosts: map[string]bool{"blocked.example.com": true}}

	_, status, err := Parse(context.Background(), "blocked.example.com", 443, resolver, dl)
	require.NoError(t, err)
	assert.Equal(t, job.StatusDenylisted, status)
}

func TestParse_UnresolvableHost(t *testing.T) {
	resolver := stubResolver{err: assert.AnError}
	_, status, err := Parse(context.Background(), "nx.invalid", 443, resolver, nil)
	require.NoError(t, err)
	assert.Equal(t, job.StatusUnresolvable, status)
}

func TestParse_RankedMXStyleEntry(t *testing.T) {
	resolver := stubResolver{addr: "203.0.113.5"}
	tgt, status, err := Parse(context.Background(), `100,//"mail.example.com":25`, 443, resolver, nil)
	require.NoError(t, err)
	assert.Equal(t, job.StatusToBeExecuted, status)
	require.NotNil(t, tgt.Hostname())
	assert.Equal(t, "mail.example.com", *tgt.Hostname())
	assert.Equal(t, "203.0.113.5", *tgt.IP())
	assert.Equal(t, 25, tgt.Port())
	assert.EqualValues(t, 100, tgt.TrancoRank())
}

func TestParse_PortBoundaries(t *testing.T) {
	resolver := stubResolver{addr: "192.0.2.9"}
	cases := []struct {
		name     string
		raw      string
		wantPort int
	}{
		{"port zero falls back to default", "example.com:0", 443},
		{"port one rejected (boundary defect preserved)", "example.com:1", 443},
		{"port two accepted", "example.com:2", 2},
		{"port 65534 accepted", "example.com:65534", 65534},
		{"port 65535 rejected (boundary defect preserved)", "example.com:65535", 443},
		{"non numeric port falls back to default", "example.com:notaport", 443},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tgt, _, err := Parse(context.Background(), tc.raw, 443, resolver, nil)
			require.NoError(t, err)
			assert.Equal(t, tc.wantPort, tgt.Port())
		})
	}
}

func TestParse_IdempotentStringRoundTrip(t *testing.T) {
	resolver := stubResolver{addr: "192.0.2.1"}
	tgt, _, err := Parse(context.Background(), "192.0.2.1:4433", 443, resolver, nil)
	require.NoError(t, err)

	again, _, err := Parse(context.Background(), tgt.String(), 443, resolver, nil)
	require.NoError(t, err)

	assert.Equal(t, tgt.IP(), again.IP())
	assert.Equal(t, tgt.Hostname(), again.Hostname())
	assert.Equal(t, tgt.Port(), again.Port())
}

func TestScanTarget_JSONRoundTrip(t *testing.T) {
	resolver := stubResolver{addr: "203.0.113.5"}
	tgt, _, err := Parse(context.Background(), `100,//"mail.example.com":25`, 443, resolver, nil)
	require.NoError(t, err)

	body, err := json.Marshal(tgt)
	require.NoError(t, err)

	var again ScanTarget
	require.NoError(t, json.Unmarshal(body, &again))

	assert.Equal(t, tgt.Hostname(), again.Hostname())
	assert.Equal(t, tgt.IP(), again.IP())
	assert.Equal(t, tgt.Port(), again.Port())
	assert.Equal(t, tgt.TrancoRank(), again.TrancoRank())
}

func TestScanTarget_MarshalJSONOmitsUnsetFields(t *testing.T) {
	tgt := New().SetIP("192.0.2.1")

	body, err := json.Marshal(tgt)
	require.NoError(t, err)
	assert.NotContains(t, string(body), "hostname")
	assert.Contains(t, string(body), `"ip":"192.0.2.1"`)
}
