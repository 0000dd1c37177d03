// Package bulkscan holds the metadata for one batch of targets scanned under
// one configuration, and the trimmed-down view of that metadata ("info")
// that rides along with every individual job.
package bulkscan

import (
	"fmt"
	"time"
)

// collectionTimeLayout formats a start time to the minute, in UTC, for use
// in a BulkScan's derived collection name.
const collectionTimeLayout = "20060102T1504"

// BulkScan is the metadata record for one batch: a target list plus a
// configuration, published and tracked as a unit. It is created by the
// publisher, inserted once, updated once after publication with job tallies,
// and updated once more at finalization by the monitor. Everything but
// those two updates is immutable.
type BulkScan struct {
	ID             string     `json:"id" db:"id"`
	Name           string     `json:"name" db:"name" validate:"required"`
	CollectionName string     `json:"collection_name" db:"collection_name"`
	ScanConfig     ScanConfig `json:"scan_config" db:"-"`
	StartTime      time.Time  `json:"start_time" db:"start_time"`
	EndTime        time.Time  `json:"end_time" db:"end_time"`
	Monitored      bool       `json:"monitored" db:"monitored"`
	NotifyURL      string     `json:"notify_url,omitempty" db:"notify_url"`

	TargetsGiven             int `json:"targets_given" db:"targets_given"`
	ScanJobsPublished        int `json:"scan_jobs_published" db:"scan_jobs_published"`
	ScanJobsResolutionErrors int `json:"scan_jobs_resolution_errors" db:"scan_jobs_resolution_errors"`
	ScanJobsDenylisted       int `json:"scan_jobs_denylisted" db:"scan_jobs_denylisted"`
	SuccessfulScans          int `json:"successful_scans" db:"successful_scans"`

	// JobStatusCounters is populated only at finalization; it is the empty
	// map for every BulkScan that has not yet finished.
	JobStatusCounters map[string]int64 `json:"job_status_counters,omitempty" db:"-"`

	Finished bool `json:"finished" db:"finished"`
}

// NewDraft builds the BulkScan the publisher inserts before dispatching any
// jobs. CollectionName is derived here so it is stable for the lifetime of
// the scan: name + "_" + start time formatted to the minute, UTC.
func NewDraft(name string, cfg ScanConfig, monitored bool, notifyURL string, startTime time.Time) *BulkScan {
	start := startTime.UTC()
	return &BulkScan{
		Name:           name,
		CollectionName: fmt.Sprintf("%s_%s", name, start.Format(collectionTimeLayout)),
		ScanConfig:     cfg,
		StartTime:      start,
		Monitored:      monitored,
		NotifyURL:      notifyURL,
	}
}

// Info is the subset of BulkScan that ships on the wire with every job: just
// enough for the worker router and scanner to do their work without needing
// the full record. It is derived once at publish time and never mutated
// thereafter.
type Info struct {
	BulkScanID string     `json:"bulk_scan_id"`
	ScanConfig ScanConfig `json:"scan_config"`
	Monitored  bool       `json:"monitored"`
}

// Info derives the wire-sized view of this BulkScan. Call once, after the
// store has assigned an ID.
func (b *BulkScan) Info() Info {
	return Info{
		BulkScanID: b.ID,
		ScanConfig: b.ScanConfig,
		Monitored:  b.Monitored,
	}
}
