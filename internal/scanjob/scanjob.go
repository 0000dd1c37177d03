// Package scanjob defines ScanJobDescription, the unit of work serialized
// onto the job queue and carried through the worker router to completion.
package scanjob

import (
	"fmt"

	"github.com/probefleet/dispatch/internal/bulkscan"
	"github.com/probefleet/dispatch/internal/job"
	"github.com/probefleet/dispatch/internal/target"
)

// Description is one target's scan job. DeliveryTag is transient: it is not
// serialized, is set exactly once by the bus consumer when a job is
// delivered, and reading it before that point is a programming error (it
// makes DeliveryTag panic).
type Description struct {
	ScanTarget     *target.ScanTarget `json:"scan_target"`
	BulkScanInfo   bulkscan.Info      `json:"bulk_scan_info"`
	DBName         string             `json:"db_name"`
	CollectionName string             `json:"collection_name"`
	Status         job.Status         `json:"status"`

	deliveryTag    uint64
	deliveryTagSet bool
}

// New builds a job description for one target, in its initial
// TO_BE_EXECUTED status. dbName is the owning BulkScan's name.
func New(tgt *target.ScanTarget, info bulkscan.Info, dbName, collectionName string) *Description {
	return &Description{
		ScanTarget:     tgt,
		BulkScanInfo:   info,
		DBName:         dbName,
		CollectionName: collectionName,
		Status:         job.StatusToBeExecuted,
	}
}

// SetDeliveryTag is called exactly once by the bus consumer upon delivery.
func (d *Description) SetDeliveryTag(tag uint64) {
	d.deliveryTag = tag
	d.deliveryTagSet = true
}

// DeliveryTag returns the bus-assigned delivery tag. Reading it before
// SetDeliveryTag has been called is a programming error and panics, per
// spec: "reading it before it is set is a programming error."
func (d *Description) DeliveryTag() uint64 {
	if !d.deliveryTagSet {
		panic(fmt.Sprintf("scanjob: DeliveryTag read before SetDeliveryTag for target %v", d.ScanTarget))
	}
	return d.deliveryTag
}

// Complete mutates the job to its final status. This is the one permitted
// mutation after construction besides the delivery tag.
func (d *Description) Complete(status job.Status) {
	d.Status = status
}
