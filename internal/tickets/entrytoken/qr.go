package entrytoken

import (
	"fmt"

	"github.com/skip2/go-qrcode"
)

// RenderPNG draws token as a scannable QR code.
func RenderPNG(token string, size int) ([]byte, error) {
	if size <= 0 {
		size = 256
	}
	png, err := qrcode.Encode(token, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("entrytoken: rendering QR: %w", err)
	}
	return png, nil
}
