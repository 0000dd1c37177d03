// Package targetsource supplies the raw target lists a bulk scan is
// published against. The file-backed source is the only one dispatch
// actually drives target ingestion from; the ranking-service sources
// (Tranco, Chrome UX Report) are named seams for a feature the original
// system's operators asked for but this distillation does not implement
// end to end — see Source.Fetch's doc comment on each.
package targetsource

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
)

// Source supplies a raw target list for one bulk scan.
type Source interface {
	// Fetch returns the raw target strings to publish.
	Fetch(ctx context.Context) ([]string, error)
}

// FileSource reads one raw target per non-empty, non-comment line from a
// local file. '#'-prefixed lines are comments.
type FileSource struct {
	Path string
}

// NewFileSource builds a FileSource reading from path.
func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

// Fetch reads every non-empty, non-comment line from the configured file.
func (s *FileSource) Fetch(_ context.Context) ([]string, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("opening target list %s: %w", s.Path, err)
	}
	defer f.Close()

	var targets []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		targets = append(targets, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading target list %s: %w", s.Path, err)
	}
	return targets, nil
}

// ErrNotImplemented is returned by every ranking-service Source below: the
// distillation this repo implements does not include real HTTP clients for
// these services, only the seam a future implementation would fill in.
var ErrNotImplemented = fmt.Errorf("targetsource: ranking service integration not implemented")

// TrancoSource would fetch the top N hostnames from the Tranco list
// (https://tranco-list.eu), a research-grade domain popularity ranking
// commonly used to seed broad TLS surveys. Not implemented: see
// ErrNotImplemented.
type TrancoSource struct {
	ListID string
	Top    int
}

// NewTrancoSource builds a TrancoSource for the given Tranco list ID,
// requesting the top n hostnames.
func NewTrancoSource(listID string, n int) *TrancoSource {
	return &TrancoSource{ListID: listID, Top: n}
}

// Fetch always returns ErrNotImplemented.
func (s *TrancoSource) Fetch(_ context.Context) ([]string, error) {
	return nil, ErrNotImplemented
}

// CrUXSource would fetch the top N origins from Chrome UX Report's public
// dataset, another popularity-ranked hostname source some operators seed
// surveys from. Not implemented: see ErrNotImplemented.
type CrUXSource struct {
	Country string
	Top     int
}

// NewCrUXSource builds a CrUXSource scoped to a country code (or "" for
// global), requesting the top n origins.
func NewCrUXSource(country string, n int) *CrUXSource {
	return &CrUXSource{Country: country, Top: n}
}

// Fetch always returns ErrNotImplemented.
func (s *CrUXSource) Fetch(_ context.Context) ([]string, error) {
	return nil, ErrNotImplemented
}
