// Package probe is the pluggable scan-engine seam: a Prober performs the
// actual network probe against one target and returns the opaque result
// document that flows into a ScanResult. Scanner (internal/scanner) owns
// the per-bulk lifecycle and timeout machinery around a Prober; this
// package only knows how to talk to the wire.
package probe

import (
	"context"
	"fmt"
	"sync"

	"github.com/probefleet/dispatch/internal/bulkscan"
	"github.com/probefleet/dispatch/internal/target"
)

// Prober performs one scan against one target. Implementations must be
// safe for concurrent use by multiple goroutines of the same bulk scan.
type Prober interface {
	// Probe runs the scan and returns the result document to persist, or an
	// error if the probe itself could not be completed (distinct from a
	// protocol-level failure, which a Prober should represent as a
	// populated-but-negative result document).
	Probe(ctx context.Context, tgt *target.ScanTarget) (any, error)

	// Close releases any resources the Prober holds (connection pools,
	// cached TLS configuration, and similar).
	Close() error
}

// Factory builds a Prober for one bulk scan's configuration. Implementations
// should treat cfg as immutable for the Prober's lifetime.
type Factory func(cfg bulkscan.ScanConfig) (Prober, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// RegisterFactory registers f under kind, replacing any previous
// registration. Called from package init() of concrete probe
// implementations (see tls.go) so the registry is populated by the act of
// importing them.
func RegisterFactory(kind string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[kind] = f
}

// New builds a Prober for cfg.Kind, or an error if no factory is
// registered under that kind.
func New(cfg bulkscan.ScanConfig) (Prober, error) {
	registryMu.RLock()
	f, ok := registry[cfg.Kind]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("probe: no factory registered for kind %q", cfg.Kind)
	}
	return f(cfg)
}
