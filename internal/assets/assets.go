// Package assets holds the small set of pre-measured error images served
// in place of a real upstream fetch result.
package assets

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jonesrussell/img-proxy/internal/fetcher"
)

// Asset is one static error response, loaded once at startup.
type Asset struct {
	Body          []byte
	ContentType   string
	ContentLength int64
}

// NewReader returns a fresh reader over the asset's bytes, safe to hand
// out to any number of concurrent responses.
func (a Asset) NewReader() io.Reader {
	return bytes.NewReader(a.Body)
}

// Set holds the three error assets keyed by outcome.
type Set struct {
	assets map[fetcher.Outcome]Asset
}

var filenames = map[fetcher.Outcome]string{
	fetcher.OutcomeToolarge:   "toolarge.gif",
	fetcher.OutcomeBadformat:  "badformat.gif",
	fetcher.OutcomeCannotread: "cannotread.gif",
}

// Load reads each error GIF from dir. All three must be present.
func Load(dir string) (*Set, error) {
	s := &Set{assets: make(map[fetcher.Outcome]Asset, len(filenames))}

	for outcome, name := range filenames {
		path := filepath.Join(dir, name)
		body, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("assets: load %s: %w", path, err)
		}
		s.assets[outcome] = Asset{
			Body:          body,
			ContentType:   "image/gif",
			ContentLength: int64(len(body)),
		}
	}

	return s, nil
}

// Get returns the asset for outcome. ok is false for OutcomeOK and
// OutcomeInternal, neither of which has a static asset.
func (s *Set) Get(outcome fetcher.Outcome) (Asset, bool) {
	a, ok := s.assets[outcome]
	return a, ok
}
