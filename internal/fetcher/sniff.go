package fetcher

import "bytes"

const sniffWindow = 1024

// sniff inspects up to the first 1024 bytes of a stream and returns the
// image content-type it identifies, ignoring whatever the upstream sent in
// its own Content-Type header. Returns ok=false if nothing is recognized.
func sniff(buf []byte) (contentType string, ok bool) {
	switch {
	case hasPrefix(buf, []byte{0x89, 0x50, 0x4E, 0x47}):
		return "image/png", true
	case hasPrefix(buf, []byte{0x47, 0x49, 0x46, 0x38}):
		return "image/gif", true
	case hasPrefix(buf, []byte{0x42, 0x4D}):
		return "image/bmp", true
	case hasPrefix(buf, []byte{0xFF, 0xD8}):
		return "image/jpeg", true
	case len(buf) >= 4 && bytes.Equal(buf[1:4], []byte("PNG")):
		return "image/png", true
	default:
		return "", false
	}
}

func hasPrefix(buf, prefix []byte) bool {
	return len(buf) >= len(prefix) && bytes.Equal(buf[:len(prefix)], prefix)
}
