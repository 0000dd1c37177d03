// Package job defines the unit of dispatch: a single target's scan job as it
// travels from the publisher, across the bus, through the worker router, and
// into the progress monitor.
package job

// Status is the closed set of states a scan job can occupy over its
// lifetime. TO_BE_EXECUTED is the only status never persisted: every other
// status names a terminal outcome, either pre-execution (parsing/denylist) or
// post-execution (the scan actually ran, or the attempt to run it failed).
type Status string

const (
	// StatusToBeExecuted marks a job the publisher is about to place on the
	// bus. It never reaches a ScanResult.
	StatusToBeExecuted Status = "TO_BE_EXECUTED"

	// Pre-execution error statuses, assigned by the target parser before a
	// job is ever published.
	StatusUnresolvable    Status = "UNRESOLVABLE"
	StatusResolutionError Status = "RESOLUTION_ERROR"
	StatusDenylisted      Status = "DENYLISTED"

	// Post-execution non-error statuses.
	StatusSuccess Status = "SUCCESS"
	StatusEmpty   Status = "EMPTY"

	// Post-execution error statuses, assigned by the worker router.
	StatusError            Status = "ERROR"
	StatusSerializationErr  Status = "SERIALIZATION_ERROR"
	StatusCancelled         Status = "CANCELLED"
	StatusInternalError     Status = "INTERNAL_ERROR"
	StatusCrawlerError      Status = "CRAWLER_ERROR"
)

// AllStatuses enumerates every status except TO_BE_EXECUTED, in the order
// BulkScanJobCounters initializes them. This is the complete closed set from
// which job_status_counters entries are drawn.
var AllStatuses = []Status{
	StatusUnresolvable,
	StatusResolutionError,
	StatusDenylisted,
	StatusSuccess,
	StatusEmpty,
	StatusError,
	StatusSerializationErr,
	StatusCancelled,
	StatusInternalError,
	StatusCrawlerError,
}

// IsError reports whether a status represents anything other than a
// successful, in-progress, or empty-but-valid outcome.
func (s Status) IsError() bool {
	switch s {
	case StatusToBeExecuted, StatusSuccess, StatusEmpty:
		return false
	default:
		return true
	}
}

// IsPreExecution reports whether this status can only be assigned before a
// job is ever dispatched onto the bus (i.e. by the target parser).
func (s Status) IsPreExecution() bool {
	switch s {
	case StatusUnresolvable, StatusResolutionError, StatusDenylisted:
		return true
	default:
		return false
	}
}
