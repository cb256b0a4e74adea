package token

import (
	"encoding/base64"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// imageSize matches the 300px rendering the scanning clients were built
// against.
const imageSize = 300

// RenderImage produces the QR image for a payload as a base64 PNG data URL.
// High error correction so a partially obscured projection still scans. The
// image is generated once at mint time and never consulted by validation.
func RenderImage(payload string) (string, error) {
	png, err := qrcode.Encode(payload, qrcode.High, imageSize)
	if err != nil {
		return "", fmt.Errorf("render qr image: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
