package fingerprint

import (
	"testing"

	"github.com/jonesrussell/img-proxy/internal/normalizer"
)

func TestNewIsDeterministic(t *testing.T) {
	a := New("http://example.com/img.png", normalizer.Options{Width: 200})
	b := New("http://example.com/img.png", normalizer.Options{Width: 200})
	if a.String() != b.String() {
		t.Errorf("fingerprints for identical inputs differ: %s vs %s", a.String(), b.String())
	}
}

func TestNewDiffersByOptions(t *testing.T) {
	a := New("http://example.com/img.png", normalizer.Options{Width: 200})
	b := New("http://example.com/img.png", normalizer.Options{Width: 100})
	if a.String() == b.String() {
		t.Error("fingerprints for different widths should differ")
	}
}

func TestNewDiffersByURL(t *testing.T) {
	a := New("http://example.com/a.png", normalizer.Options{})
	b := New("http://example.com/b.png", normalizer.Options{})
	if a.String() == b.String() {
		t.Error("fingerprints for different URLs should differ")
	}
}

func TestFanOut(t *testing.T) {
	fp := New("http://example.com/img.png", normalizer.Options{})
	h := fp.String()
	d1, d2 := fp.FanOut()
	if d1 != string(h[0]) || d2 != string(h[1]) {
		t.Errorf("FanOut() = (%q, %q), want first two hex chars of %q", d1, d2, h)
	}
}

func TestParseRoundTripsString(t *testing.T) {
	fp := New("http://example.com/img.png", normalizer.Options{Width: 200})
	parsed, err := Parse(fp.String())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.String() != fp.String() {
		t.Errorf("Parse(%q).String() = %q, want %q", fp.String(), parsed.String(), fp.String())
	}
}

func TestParseRejectsInvalidKey(t *testing.T) {
	if _, err := Parse("not-a-hex-digest"); err == nil {
		t.Error("expected an error for a malformed key")
	}
	if _, err := Parse("../../etc/passwd"); err == nil {
		t.Error("expected an error for a path-traversal-shaped key")
	}
}
