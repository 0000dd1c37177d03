package target

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"
)

// Resolver resolves a hostname to an address usable as ScanTarget.IP. It
// exists so the parser's DNS suspension point (spec §5) can be swapped for a
// custom nameserver without touching parsing logic.
type Resolver interface {
	Resolve(ctx context.Context, hostname string) (string, error)
}

// SystemResolver resolves via the operating system's stub resolver using
// Go's standard net package. This is the default: it is what the teacher's
// own internal/discovery and internal/db code reach for whenever an address
// needs parsing or validating.
type SystemResolver struct{}

// Resolve looks up hostname and returns the first returned address,
// preferring an IPv4 result for stability of output.
func (SystemResolver) Resolve(ctx context.Context, hostname string) (string, error) {
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, hostname)
	if err != nil {
		return "", err
	}
	if len(addrs) == 0 {
		return "", fmt.Errorf("no addresses returned for %q", hostname)
	}
	for _, a := range addrs {
		if v4 := a.IP.To4(); v4 != nil {
			return v4.String(), nil
		}
	}
	return addrs[0].IP.String(), nil
}

// CustomNameserverResolver resolves hostnames against an explicit list of
// nameservers using miekg/dns, bypassing the OS stub resolver. Operators
// reach for this when the default resolver is unreliable for the scale of a
// bulk scan (e.g. aggressive local caching resolvers that rate-limit bursts
// of uncached lookups).
type CustomNameserverResolver struct {
	Nameservers []string
	Client      *dns.Client
}

// NewCustomNameserverResolver builds a resolver that queries the given
// nameservers (host:port form) in order, returning the first successful
// answer.
func NewCustomNameserverResolver(nameservers []string, timeout time.Duration) *CustomNameserverResolver {
	return &CustomNameserverResolver{
		Nameservers: nameservers,
		Client:      &dns.Client{Timeout: timeout},
	}
}

// Resolve queries each configured nameserver in turn for an A record,
// falling back to AAAA if no A record is returned.
func (r *CustomNameserverResolver) Resolve(ctx context.Context, hostname string) (string, error) {
	if len(r.Nameservers) == 0 {
		return "", fmt.Errorf("no nameservers configured")
	}

	fqdn := dns.Fqdn(hostname)
	var lastErr error
	for _, ns := range r.Nameservers {
		if addr, err := r.query(fqdn, ns, dns.TypeA); err == nil {
			return addr, nil
		} else {
			lastErr = err
		}
		if addr, err := r.query(fqdn, ns, dns.TypeAAAA); err == nil {
			return addr, nil
		} else {
			lastErr = err
		}
	}
	return "", fmt.Errorf("resolution failed against all nameservers: %w", lastErr)
}

func (r *CustomNameserverResolver) query(fqdn, nameserver string, qtype uint16) (string, error) {
	m := new(dns.Msg)
	m.SetQuestion(fqdn, qtype)
	m.RecursionDesired = true

	resp, _, err := r.Client.Exchange(m, nameserver)
	if err != nil {
		return "", err
	}
	if resp == nil || resp.Rcode != dns.RcodeSuccess {
		return "", fmt.Errorf("nameserver %s returned rcode %d", nameserver, resp.Rcode)
	}
	for _, ans := range resp.Answer {
		switch rr := ans.(type) {
		case *dns.A:
			return rr.A.String(), nil
		case *dns.AAAA:
			return rr.AAAA.String(), nil
		}
	}
	return "", fmt.Errorf("no A/AAAA records for %s from %s", fqdn, nameserver)
}
