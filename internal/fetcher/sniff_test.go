package fetcher

import "testing"

func TestSniff(t *testing.T) {
	tests := []struct {
		name string
		buf  []byte
		want string
		ok   bool
	}{
		{"png", []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A}, "image/png", true},
		{"gif", []byte{0x47, 0x49, 0x46, 0x38, 0x39, 0x61}, "image/gif", true},
		{"bmp", []byte{0x42, 0x4D, 0x00, 0x00}, "image/bmp", true},
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0}, "image/jpeg", true},
		{"legacy png at offset 1", []byte{0x00, 'P', 'N', 'G', 0x0D}, "image/png", true},
		{"html is not recognized", []byte("<!DOCTYPE html>"), "", false},
		{"empty buffer", nil, "", false},
		{"too short to sniff", []byte{0x89, 0x50}, "", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ct, ok := sniff(tc.buf)
			if ok != tc.ok || ct != tc.want {
				t.Errorf("sniff(%v) = (%q, %v), want (%q, %v)", tc.buf, ct, ok, tc.want, tc.ok)
			}
		})
	}
}
