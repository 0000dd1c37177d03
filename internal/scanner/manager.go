package scanner

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/probefleet/dispatch/internal/bulkscan"
	"github.com/probefleet/dispatch/internal/logging"
)

// idleExpiry is how long a Scanner survives with no Handle calls before the
// Manager evicts and cleans it up.
const idleExpiry = 30 * time.Minute

const evictionInterval = time.Minute

type cacheEntry struct {
	scanner   *Scanner
	lastTouch atomic.Int64
}

// Manager caches one Scanner per bulk scan ID, evicting and cleaning up
// entries idle for longer than idleExpiry.
type Manager struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	logger  *logging.Logger
	stopCh  chan struct{}
	stopped sync.Once
}

// NewManager starts the idle-eviction loop and returns a ready Manager.
func NewManager(logger *logging.Logger) *Manager {
	m := &Manager{
		entries: make(map[string]*cacheEntry),
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
	go m.evictLoop()
	return m
}

// Get returns the cached Scanner for bulkScanID, creating one with cfg if
// none exists yet. cfg is only consulted on first creation.
func (m *Manager) Get(bulkScanID string, cfg bulkscan.ScanConfig) *Scanner {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[bulkScanID]
	if !ok {
		e = &cacheEntry{scanner: New(bulkScanID, cfg, m.logger)}
		m.entries[bulkScanID] = e
	}
	e.lastTouch.Store(time.Now().UnixNano())
	return e.scanner
}

func (m *Manager) evictLoop() {
	ticker := time.NewTicker(evictionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.evictIdle()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Manager) evictIdle() {
	cutoff := time.Now().Add(-idleExpiry).UnixNano()

	m.mu.Lock()
	var evicted []*Scanner
	for id, e := range m.entries {
		if e.lastTouch.Load() < cutoff {
			evicted = append(evicted, e.scanner)
			delete(m.entries, id)
		}
	}
	m.mu.Unlock()

	for _, s := range evicted {
		if m.logger != nil {
			m.logger.InfoDispatch("evicting idle scanner", s.bulkScanID)
		}
		s.cleanup()
	}
}

// Stop halts the eviction loop and cleans up every cached Scanner,
// regardless of idle time. Intended for process shutdown.
func (m *Manager) Stop() {
	m.stopped.Do(func() { close(m.stopCh) })

	m.mu.Lock()
	all := make([]*Scanner, 0, len(m.entries))
	for _, e := range m.entries {
		all = append(all, e.scanner)
	}
	m.entries = make(map[string]*cacheEntry)
	m.mu.Unlock()

	for _, s := range all {
		s.cleanup()
	}
}
