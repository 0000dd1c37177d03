// Package denylist loads a flat file of hostnames, IP literals, and CIDR
// blocks and classifies ScanTargets against it.
package denylist

import (
	"bufio"
	"fmt"
	"net/netip"
	"os"
	"strings"
)

// Denylist is a read-once, in-memory classifier. Zero value is an empty,
// always-non-matching denylist.
type Denylist struct {
	domains map[string]struct{}
	ips     map[string]struct{}
	cidrs   []netip.Prefix
}

// New builds an empty Denylist.
func New() *Denylist {
	return &Denylist{
		domains: make(map[string]struct{}),
		ips:     make(map[string]struct{}),
	}
}

// LoadFile reads a UTF-8 denylist file, one entry per line. Each non-empty
// line is classified as a domain, an IP literal, or a CIDR block; lines that
// match none of those shapes are silently dropped, per spec.
func LoadFile(path string) (*Denylist, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening denylist %s: %w", path, err)
	}
	defer f.Close()

	dl := New()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		dl.addLine(line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading denylist %s: %w", path, err)
	}
	return dl, nil
}

func (d *Denylist) addLine(line string) {
	if prefix, err := netip.ParsePrefix(line); err == nil {
		d.cidrs = append(d.cidrs, prefix)
		return
	}
	if addr, err := netip.ParseAddr(line); err == nil {
		d.ips[addr.String()] = struct{}{}
		return
	}
	if isValidDomain(line) {
		d.domains[strings.ToLower(line)] = struct{}{}
	}
}

// Matches reports whether hostname or ip is covered by this denylist. A
// target matches if its hostname is in the domain set, its IP is in the IP
// set, or its IP falls within any CIDR block. IPv6 addresses tested against
// IPv4-only CIDRs (and vice versa) simply fail to match rather than erroring.
func (d *Denylist) Matches(hostname, ip string) bool {
	if hostname != "" {
		if _, ok := d.domains[strings.ToLower(hostname)]; ok {
			return true
		}
	}
	if ip == "" {
		return false
	}
	if _, ok := d.ips[ip]; ok {
		return true
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	for _, prefix := range d.cidrs {
		if prefix.Addr().Is4() != addr.Is4() {
			continue
		}
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// isValidDomain applies a permissive RFC-1035-ish shape check: labels
// separated by dots, each non-empty and free of whitespace. This is
// deliberately loose — the denylist's job is to drop unparseable lines, not
// to validate DNS syntax exhaustively.
func isValidDomain(s string) bool {
	if s == "" || strings.ContainsAny(s, " \t/") {
		return false
	}
	labels := strings.Split(s, ".")
	for _, label := range labels {
		if label == "" {
			return false
		}
	}
	return true
}
