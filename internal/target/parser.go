package target

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/probefleet/dispatch/internal/job"
)

// Denylister classifies a hostname/IP pair against a denylist. The parser
// depends only on this narrow interface so it never needs to import the
// concrete denylist package.
type Denylister interface {
	Matches(hostname, ip string) bool
}

// portMin and portMax bound the port values the parser will adopt from a
// trailing ":port" suffix. The source this spec was distilled from accepts
// ports strictly greater than 1 and strictly less than 65535 — port 1 is
// rejected, and so is port 65535. That asymmetry is preserved here rather
// than "fixed"; see DESIGN.md's Open Questions.
const (
	portMin = 1
	portMax = 65535
)

// Parse applies the target grammar and returns the constructed target
// together with its initial status. A non-nil error is returned only when
// the caller should also persist a ScanResult carrying the failure (status
// RESOLUTION_ERROR); an UNRESOLVABLE status is returned without an error,
// since DNS failure alone is not a parsing exception.
func Parse(ctx context.Context, raw string, defaultPort int, resolver Resolver, denylist Denylister) (*ScanTarget, job.Status, error) {
	if defaultPort <= 0 {
		defaultPort = defaultTargetPort
	}

	remaining := raw
	target := New()
	target.SetPort(defaultPort)

	remaining, rank, err := stripRank(remaining)
	if err != nil {
		return target, job.StatusResolutionError, err
	}
	target.SetTrancoRank(rank)

	remaining = stripMailHint(remaining)
	remaining = stripQuotes(remaining)

	remaining, port := stripPort(remaining, defaultPort)
	target.SetPort(port)

	// A quoted host followed by a port (`"host":25`) keeps its quotes through
	// step 3; strip them once the port is gone.
	remaining = stripQuotes(strings.TrimSpace(remaining))
	remaining = strings.TrimSpace(remaining)
	if remaining == "" {
		return target, job.StatusResolutionError, fmt.Errorf("empty target after stripping rank/hint/quotes/port")
	}

	if ip := net.ParseIP(remaining); ip != nil {
		target.SetIP(ip.String())
	} else {
		target.SetHostname(remaining)
		resolved, resolveErr := resolver.Resolve(ctx, remaining)
		if resolveErr != nil {
			return target, job.StatusUnresolvable, nil
		}
		target.SetIP(resolved)
	}

	if denylist != nil {
		hostname := ""
		if target.hostname != nil {
			hostname = *target.hostname
		}
		ip := ""
		if target.ip != nil {
			ip = *target.ip
		}
		if denylist.Matches(hostname, ip) {
			return target, job.StatusDenylisted, nil
		}
	}

	return target, job.StatusToBeExecuted, nil
}

// stripRank strips a leading "N," rank prefix, per grammar step 1.
func stripRank(s string) (remaining string, rank uint32, err error) {
	idx := strings.IndexByte(s, ',')
	if idx <= 0 {
		return s, 0, nil
	}
	prefix := s[:idx]
	for _, r := range prefix {
		if r < '0' || r > '9' {
			return s, 0, nil
		}
	}
	n, convErr := strconv.ParseUint(prefix, 10, 32)
	if convErr != nil {
		return s, 0, fmt.Errorf("invalid rank prefix %q: %w", prefix, convErr)
	}
	return s[idx+1:], uint32(n), nil
}

// stripMailHint strips a leading "//" mail-exchange hint, per grammar step 2.
func stripMailHint(s string) string {
	return strings.TrimPrefix(s, "//")
}

// stripQuotes strips surrounding double quotes, per grammar step 3.
func stripQuotes(s string) string {
	if len(s) >= 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		return s[1 : len(s)-1]
	}
	return s
}

// stripPort strips a trailing ":port" suffix when port parses as an integer
// strictly between 1 and 65535, per grammar step 4. Any other shape leaves
// the remainder untouched and adopts defaultPort.
func stripPort(s string, defaultPort int) (remaining string, port int) {
	idx := strings.LastIndexByte(s, ':')
	if idx < 0 {
		return s, defaultPort
	}
	portStr := s[idx+1:]
	n, err := strconv.Atoi(portStr)
	if err != nil {
		return s, defaultPort
	}
	if n <= portMin || n >= portMax {
		return s, defaultPort
	}
	return s[:idx], n
}
