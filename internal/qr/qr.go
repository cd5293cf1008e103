package qr

import (
	"fmt"

	"github.com/skip2/go-qrcode"
)

// DefaultSize is the PNG edge length in pixels
const DefaultSize = 256

// Encoder renders strings as PNG QR codes
type Encoder struct {
	size int
}

// NewEncoder creates an encoder producing size x size images
func NewEncoder(size int) *Encoder {
	if size <= 0 {
		size = DefaultSize
	}
	return &Encoder{size: size}
}

// Render encodes content with low error correction, black on white
func (e *Encoder) Render(content string) ([]byte, error) {
	png, err := qrcode.Encode(content, qrcode.Low, e.size)
	if err != nil {
		return nil, fmt.Errorf("failed to render QR code: %w", err)
	}
	return png, nil
}
