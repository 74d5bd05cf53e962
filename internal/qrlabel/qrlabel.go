// Package qrlabel assigns inventory codes to physical copies and renders
// the scannable QR artifacts and label sheets for them.
//
// Scanner terminals read the payload "STEPPE-LIB:<inventory_code>"; the
// prefix and colon are part of the wire format and must not change.
package qrlabel

import (
	"bytes"
	"fmt"
	"image/color"
	"io"
	"strings"

	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"
)

const (
	PayloadPrefix = "STEPPE-LIB:"
	codePrefix    = "INV-"
	artifactDir   = "qrcodes"
	DefaultSizePx = 290
)

var (
	inkColor   = color.RGBA{R: 0x1a, G: 0x36, B: 0x5d, A: 0xff}
	paperColor = color.White
)

// InventoryCode derives the default human readable code from a copy id:
// the first 8 hex characters, upper-cased, prefixed with INV-.
func InventoryCode(id uuid.UUID) string {
	return codePrefix + strings.ToUpper(id.String()[:8])
}

func Payload(inventoryCode string) string {
	return PayloadPrefix + inventoryCode
}

// StripPrefix turns scanner input into an inventory code. Manually typed
// codes pass through unchanged.
func StripPrefix(input string) string {
	s := strings.TrimSpace(input)
	s = strings.TrimPrefix(s, PayloadPrefix)
	return strings.TrimSpace(s)
}

func ArtifactPath(inventoryCode string) string {
	return fmt.Sprintf("%s/qr_%s.png", artifactDir, inventoryCode)
}

// EncodePNG renders payload as a PNG QR code of size x size pixels.
func EncodePNG(payload string, size int) ([]byte, error) {
	if payload == "" {
		return nil, fmt.Errorf("empty qr payload")
	}
	q, err := qrcode.New(payload, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("build qr code: %w", err)
	}
	q.ForegroundColor = inkColor
	q.BackgroundColor = paperColor
	if size <= 0 {
		size = DefaultSizePx
	}
	return q.PNG(size)
}

// Saver persists a blob under a relative path.
type Saver interface {
	Save(rel string, r io.Reader) (string, error)
}

type Generator struct {
	store Saver
	size  int
}

func NewGenerator(store Saver) *Generator {
	return &Generator{store: store, size: DefaultSizePx}
}

// Ensure writes the QR artifact for inventoryCode unless the copy already
// has one (existingPath != ""), and returns the artifact path. It never
// regenerates an existing artifact, even if the code has since changed.
func (g *Generator) Ensure(inventoryCode, existingPath string) (string, error) {
	if existingPath != "" {
		return existingPath, nil
	}
	if strings.TrimSpace(inventoryCode) == "" {
		return "", fmt.Errorf("inventory code required for qr artifact")
	}
	png, err := EncodePNG(Payload(inventoryCode), g.size)
	if err != nil {
		return "", err
	}
	return g.store.Save(ArtifactPath(inventoryCode), bytes.NewReader(png))
}
