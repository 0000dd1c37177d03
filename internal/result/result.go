// Package result defines ScanResult, the persisted outcome of one scan job.
package result

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/probefleet/dispatch/internal/job"
	"github.com/probefleet/dispatch/internal/target"
)

// ScanResult is a persisted outcome. It must never be constructed from a job
// whose status is still TO_BE_EXECUTED, and construction from an exception
// requires the job to already carry an error status.
type ScanResult struct {
	ID           uuid.UUID          `json:"id" db:"id"`
	BulkScanID   string             `json:"bulk_scan" db:"bulk_scan"`
	ScanTarget   *target.ScanTarget `json:"scan_target" db:"scan_target"`
	ResultStatus job.Status         `json:"result_status" db:"result_status"`
	Result       any                `json:"result,omitempty" db:"result"`
}

// exceptionDoc is the shape used for Result when a ScanResult is built from
// a captured error: {"exception": "<serialized error>"}.
type exceptionDoc struct {
	Exception string `json:"exception"`
}

// New builds a plain (non-error) ScanResult: document may be nil for EMPTY
// or for pre-execution denials that carry no document (e.g. DENYLISTED).
func New(bulkScanID string, tgt *target.ScanTarget, status job.Status, document any) (*ScanResult, error) {
	if status == job.StatusToBeExecuted {
		return nil, fmt.Errorf("cannot construct a ScanResult from a job still TO_BE_EXECUTED")
	}
	return &ScanResult{
		ID:           uuid.New(),
		BulkScanID:   bulkScanID,
		ScanTarget:   tgt,
		ResultStatus: status,
		Result:       document,
	}, nil
}

// NewFromException builds a ScanResult carrying a serialized error. The job
// must already be in an error status — this function is the only legal way
// to populate the {"exception": ...} document shape.
func NewFromException(bulkScanID string, tgt *target.ScanTarget, status job.Status, cause error) (*ScanResult, error) {
	if !status.IsError() {
		return nil, fmt.Errorf("cannot construct an exception ScanResult for non-error status %q", status)
	}
	var exc string
	if cause != nil {
		exc = cause.Error()
	}
	return &ScanResult{
		ID:           uuid.New(),
		BulkScanID:   bulkScanID,
		ScanTarget:   tgt,
		ResultStatus: status,
		Result:       exceptionDoc{Exception: exc},
	}, nil
}
