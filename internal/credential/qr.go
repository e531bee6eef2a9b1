// Package credential turns entry codes into scannable artifacts: a QR code
// PNG and a printable PDF ticket embedding it. Nothing here touches
// storage; the same input always yields the same QR image.
package credential

import (
	"errors"
	"fmt"
	"strings"

	"github.com/skip2/go-qrcode"
)

// ErrEmptyToken is returned when asked to encode an empty entry code.
var ErrEmptyToken = errors.New("credential: empty token")

// QR renders entry codes as PNG QR codes.
type QR struct {
	Size  int // pixels per side
	Level qrcode.RecoveryLevel
}

// DefaultQR is a 256px medium-recovery encoder, large enough for phone
// scanners at the door.
var DefaultQR = QR{Size: 256, Level: qrcode.Medium}

// Generate encodes token as a PNG QR code.
func (q QR) Generate(token string) ([]byte, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrEmptyToken
	}
	size := q.Size
	if size <= 0 {
		size = DefaultQR.Size
	}
	png, err := qrcode.Encode(token, q.Level, size)
	if err != nil {
		return nil, fmt.Errorf("credential: encode qr: %w", err)
	}
	return png, nil
}

// Generate encodes token with DefaultQR.
func Generate(token string) ([]byte, error) { return DefaultQR.Generate(token) }
