// Package webhook delivers the single best-effort HTTP POST notification a
// monitored bulk scan sends when it finalizes. It never retries: a failed
// delivery is logged and otherwise discarded, matching spec.md's "fire and
// forget" notification contract.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/probefleet/dispatch/internal/bulkscan"
	apperrors "github.com/probefleet/dispatch/internal/errors"
	"github.com/probefleet/dispatch/internal/logging"
)

const (
	defaultTimeout       = 10 * time.Second
	breakerMaxRequests   = 1
	breakerInterval      = 60 * time.Second
	breakerOpenDuration  = 30 * time.Second
	breakerFailThreshold = 3
)

// Notifier posts finalized bulk scans to their configured notify URL.
type Notifier struct {
	client  *http.Client
	logger  *logging.Logger
	mu      sync.Mutex
	perHost map[string]*gobreaker.CircuitBreaker[*http.Response]
}

// New builds a Notifier with a bounded-timeout HTTP client. A circuit
// breaker is created lazily per notify-URL host so one unreachable operator
// endpoint never stalls notifications for every other bulk scan.
func New(logger *logging.Logger) *Notifier {
	return &Notifier{
		client:  &http.Client{Timeout: defaultTimeout},
		logger:  logger,
		perHost: make(map[string]*gobreaker.CircuitBreaker[*http.Response]),
	}
}

// Notify posts scan (pretty-printed JSON) to scan.NotifyURL. Errors are
// returned for the caller to log; there is no retry path by design.
func (n *Notifier) Notify(ctx context.Context, scan *bulkscan.BulkScan) error {
	if scan.NotifyURL == "" {
		return nil
	}

	body, err := json.MarshalIndent(scan, "", "  ")
	if err != nil {
		return apperrors.WrapStoreError(apperrors.CodeStoreQuery, "marshaling webhook payload", err)
	}

	breaker, err := n.breakerFor(scan.NotifyURL)
	if err != nil {
		return err
	}

	resp, err := breaker.Execute(func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, scan.NotifyURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return n.client.Do(req)
	})
	if err != nil {
		return apperrors.NewBusError(apperrors.CodeWebhookFailed, fmt.Sprintf("webhook POST to %s failed: %v", scan.NotifyURL, err))
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	n.logger.InfoMonitor("webhook delivered", scan.ID,
		"url", scan.NotifyURL, "status", resp.StatusCode, "response", string(respBody))

	if resp.StatusCode >= 400 {
		return apperrors.NewBusError(apperrors.CodeWebhookFailed,
			fmt.Sprintf("webhook to %s returned status %d", scan.NotifyURL, resp.StatusCode))
	}
	return nil
}

func (n *Notifier) breakerFor(notifyURL string) (*gobreaker.CircuitBreaker[*http.Response], error) {
	u, err := url.Parse(notifyURL)
	if err != nil {
		return nil, apperrors.NewBusError(apperrors.CodeWebhookFailed, fmt.Sprintf("invalid notify url %q: %v", notifyURL, err))
	}
	host := u.Host

	n.mu.Lock()
	defer n.mu.Unlock()
	if b, ok := n.perHost[host]; ok {
		return b, nil
	}

	settings := gobreaker.Settings{
		Name:        "webhook:" + host,
		MaxRequests: breakerMaxRequests,
		Interval:    breakerInterval,
		Timeout:     breakerOpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailThreshold
		},
	}
	b := gobreaker.NewCircuitBreaker[*http.Response](settings)
	n.perHost[host] = b
	return b, nil
}
