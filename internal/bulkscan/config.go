package bulkscan

// ScanConfig is the opaque-to-spec payload carried on every BulkScan and
// mirrored into BulkScanInfo for each job. It is opaque only to the
// publisher and router; the probe engine selected by Kind interprets it
// fully. Kind replaces the source's inheritance hierarchy of scan-worker
// subclasses with a tagged union: workers reject a Kind they have no
// registered factory for with job.StatusSerializationErr.
type ScanConfig struct {
	// Kind names the registered probe.Factory this config targets
	// (e.g. "tls"). Required.
	Kind string `json:"kind" validate:"required"`

	// DetailLevel controls how much the probe engine collects per target
	// (e.g. "basic", "full"). Left to the probe implementation.
	DetailLevel string `json:"detail_level" validate:"omitempty"`

	// Retries is the number of probe-level retries per target, independent
	// of the router's own timeout/cancellation handling.
	Retries int `json:"retries" validate:"gte=0,lte=10"`

	// TimeoutMS is the scan timeout in milliseconds applied per job by the
	// worker router (spec §4.3 step 5). Must stay below the bus consumer's
	// ack-reclaim window.
	TimeoutMS int `json:"timeout_ms" validate:"gt=0"`

	// ExcludedProbes is the controller-supplied list of probe names to skip.
	// Worker-side defaults are merged in only when this is empty (controller
	// precedence, spec §4.3 step 3 / §9 open question).
	ExcludedProbes []string `json:"excluded_probes"`
}

// MergeWorkerDefaults applies controller-precedence merging of worker-side
// default excluded probes: the worker's defaults are adopted only if the
// controller supplied none. A deduplicating-union variant exists as
// UnionExcludedProbes; no configuration setting selects it, and the worker
// router always calls MergeWorkerDefaults.
func (c *ScanConfig) MergeWorkerDefaults(workerDefaults []string) {
	if len(c.ExcludedProbes) == 0 {
		c.ExcludedProbes = append([]string(nil), workerDefaults...)
	}
}

// UnionExcludedProbes is the explicitly feature-flagged alternative to
// MergeWorkerDefaults: it deduplicates controller and worker exclusions
// instead of giving the controller's list precedence. Nothing in this
// repository calls it.
func (c *ScanConfig) UnionExcludedProbes(workerDefaults []string) {
	seen := make(map[string]struct{}, len(c.ExcludedProbes)+len(workerDefaults))
	merged := make([]string, 0, len(c.ExcludedProbes)+len(workerDefaults))
	for _, p := range c.ExcludedProbes {
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			merged = append(merged, p)
		}
	}
	for _, p := range workerDefaults {
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			merged = append(merged, p)
		}
	}
	c.ExcludedProbes = merged
}
