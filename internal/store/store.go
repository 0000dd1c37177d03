// Package store is the persistent-store contract the core writes through:
// bulk-scan metadata and scan results. The concrete probe/result documents
// are genuinely opaque to this package — it only needs to route them to
// db_name/collection_name and persist them as JSON.
package store

import (
	"context"

	"github.com/probefleet/dispatch/internal/bulkscan"
	"github.com/probefleet/dispatch/internal/result"
	"github.com/probefleet/dispatch/internal/scanjob"
)

// Store is the persistence contract of spec §6. The core only writes
// through it, except for GetBulkScan, which the monitor reads.
type Store interface {
	// InsertBulkScan inserts scan and returns the store-assigned id.
	InsertBulkScan(ctx context.Context, scan *bulkscan.BulkScan) (string, error)

	// UpdateBulkScan is idempotent on scan's primary key.
	UpdateBulkScan(ctx context.Context, scan *bulkscan.BulkScan) error

	// InsertScanResult persists res, routed to j.DBName/j.CollectionName.
	InsertScanResult(ctx context.Context, res *result.ScanResult, j *scanjob.Description) error

	// GetBulkScan fetches the bulk scan record by id. The progress monitor
	// uses this at finalization time, since it does not share the
	// publisher's in-memory BulkScan value (spec §5).
	GetBulkScan(ctx context.Context, id string) (*bulkscan.BulkScan, error)
}
