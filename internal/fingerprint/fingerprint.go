// Package fingerprint derives the stable identifier used to key both the
// cache store and the single-flight registry.
package fingerprint

import (
	"fmt"

	"github.com/opencontainers/go-digest"

	"github.com/jonesrussell/img-proxy/internal/normalizer"
)

// Fingerprint is a content-addressed identifier for a (URL, options) pair.
type Fingerprint struct {
	digest digest.Digest
}

// New derives the fingerprint for a normalized upstream URL plus its
// transform options. Equal (url, options) pairs always yield equal
// fingerprints.
func New(url string, opts normalizer.Options) Fingerprint {
	input := fmt.Sprintf("%s|still=%t|w=%d|h=%d", url, opts.Still, opts.Width, opts.Height)
	return Fingerprint{digest: digest.FromString(input)}
}

// String returns the fingerprint's hex-encoded digest, suitable for use as
// a map key or filename component.
func (f Fingerprint) String() string {
	return f.digest.Encoded()
}

// FanOut returns the two single-hex-character directory components used
// to bound directory sizes in the on-disk cache layout.
func (f Fingerprint) FanOut() (string, string) {
	h := f.digest.Encoded()
	if len(h) < 2 {
		return "0", "0"
	}
	return string(h[0]), string(h[1])
}

// Parse reconstructs a Fingerprint from its hex-encoded form, rejecting
// anything that isn't a well-formed digest. Used by the admin API to turn
// a path segment back into a cache key without trusting it as a path.
func Parse(hex string) (Fingerprint, error) {
	d := digest.NewDigestFromEncoded(digest.SHA256, hex)
	if err := d.Validate(); err != nil {
		return Fingerprint{}, fmt.Errorf("fingerprint: invalid key: %w", err)
	}
	return Fingerprint{digest: d}, nil
}
