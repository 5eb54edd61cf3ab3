package report

import (
	"fmt"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

// ManifestHashToQR encodes a deliverable manifest hash as a PNG QR code so
// the printed report can be matched against the digital deliverable. size is
// the image edge length in pixels.
func ManifestHashToQR(hash string, size int) ([]byte, error) {
	clean := sanitizeHash(hash)
	if clean == "" {
		return nil, fmt.Errorf("manifest hash is empty after sanitizing %q", hash)
	}
	if size <= 0 {
		size = 256
	}
	png, err := qrcode.Encode(clean, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("encode manifest QR: %w", err)
	}
	return png, nil
}

// sanitizeHash keeps hex digits only and folds them to upper case, which
// selects the QR alphanumeric mode and keeps the symbol small.
func sanitizeHash(hash string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(hash) {
		switch {
		case r >= '0' && r <= '9', r >= 'A' && r <= 'F':
			b.WriteRune(r)
		}
	}
	return b.String()
}
