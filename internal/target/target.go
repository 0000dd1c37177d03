// Package target parses target strings into ScanTarget values, resolves
// hostnames to addresses, and classifies the result against a denylist, per
// the grammar and status rules of the bulk-scan target parser.
package target

import (
	"encoding/json"
	"fmt"
)

// defaultTargetPort is used when a target string carries no valid port and
// the caller supplies no override.
const defaultTargetPort = 443

// ScanTarget is one host to be scanned. It is immutable once constructed
// except for the builder-style setters below, which the parser alone uses
// while assembling a target from a raw string.
type ScanTarget struct {
	hostname   *string
	ip         *string
	port       int
	trancoRank uint32
}

// New constructs a ScanTarget with the default port and no rank.
func New() *ScanTarget {
	return &ScanTarget{port: defaultTargetPort}
}

// Hostname returns the hostname, or nil if the target was given as an IP
// literal or resolution failed to record one.
func (t *ScanTarget) Hostname() *string { return t.hostname }

// IP returns the resolved dotted-quad or colon-form IPv6 address, or nil if
// resolution failed.
func (t *ScanTarget) IP() *string { return t.ip }

// Port returns the target port, always in [1, 65535].
func (t *ScanTarget) Port() int { return t.port }

// TrancoRank returns the Tranco rank, or 0 when absent.
func (t *ScanTarget) TrancoRank() uint32 { return t.trancoRank }

// SetHostname is a builder-style setter used only during parsing.
func (t *ScanTarget) SetHostname(h string) *ScanTarget {
	t.hostname = &h
	return t
}

// SetIP is a builder-style setter used only during parsing.
func (t *ScanTarget) SetIP(ip string) *ScanTarget {
	t.ip = &ip
	return t
}

// SetPort is a builder-style setter used only during parsing.
func (t *ScanTarget) SetPort(port int) *ScanTarget {
	t.port = port
	return t
}

// SetTrancoRank is a builder-style setter used only during parsing.
func (t *ScanTarget) SetTrancoRank(rank uint32) *ScanTarget {
	t.trancoRank = rank
	return t
}

// Address returns whichever of hostname or IP is set, preferring hostname,
// for use as the dial target.
func (t *ScanTarget) Address() string {
	if t.hostname != nil {
		return *t.hostname
	}
	if t.ip != nil {
		return *t.ip
	}
	return ""
}

// String renders the target in the same grammar the parser accepts, so that
// Parse(t.String()) reproduces an equivalent target modulo TrancoRank, which
// has no output form (property P6).
func (t *ScanTarget) String() string {
	addr := t.Address()
	if addr == "" {
		return fmt.Sprintf(":%d", t.port)
	}
	return fmt.Sprintf("%s:%d", addr, t.port)
}

// wireScanTarget is ScanTarget's JSON wire shape. ScanTarget keeps its
// fields unexported so only the parser's builder-style setters can mutate
// it; MarshalJSON/UnmarshalJSON are the one sanctioned way around that for
// serialization onto the bus.
type wireScanTarget struct {
	Hostname   *string `json:"hostname,omitempty"`
	IP         *string `json:"ip,omitempty"`
	Port       int     `json:"port"`
	TrancoRank uint32  `json:"tranco_rank,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (t *ScanTarget) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireScanTarget{
		Hostname:   t.hostname,
		IP:         t.ip,
		Port:       t.port,
		TrancoRank: t.trancoRank,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *ScanTarget) UnmarshalJSON(data []byte) error {
	var w wireScanTarget
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	t.hostname = w.Hostname
	t.ip = w.IP
	t.port = w.Port
	t.trancoRank = w.TrancoRank
	return nil
}
