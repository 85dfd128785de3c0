package types

import (
	"bytes"

	"github.com/spacemeshos/go-scale"
)

const (
	// ProducerNameSize is the size of the producer identifier in bytes.
	ProducerNameSize = 24
	// CanvasSide is the width and height of a canvas snapshot in pixels.
	CanvasSide = 200
	// PixelsSize is the size of a canvas snapshot in bytes, one byte per pixel.
	PixelsSize = CanvasSide * CanvasSide
)

// ProducerName is a fixed size, zero padded identifier of the client that produced an update.
type ProducerName [ProducerNameSize]byte

// NewProducerName copies name into a ProducerName, truncating it to ProducerNameSize bytes.
func NewProducerName(name string) ProducerName {
	var n ProducerName
	copy(n[:], name)
	return n
}

// String returns the name without zero padding.
func (n ProducerName) String() string {
	return string(bytes.TrimRight(n[:], "\x00"))
}

// EncodeScale implements scale codec interface.
func (n *ProducerName) EncodeScale(encoder *scale.Encoder) (int, error) {
	return scale.EncodeByteArray(encoder, n[:])
}

// DecodeScale implements scale codec interface.
func (n *ProducerName) DecodeScale(decoder *scale.Decoder) (int, error) {
	return scale.DecodeByteArray(decoder, n[:])
}

// Pixels is a single channel canvas snapshot, row major.
type Pixels [PixelsSize]byte

// At returns the pixel value at column x and row y.
func (p *Pixels) At(x, y int) byte {
	return p[y*CanvasSide+x]
}

// Set updates the pixel value at column x and row y.
func (p *Pixels) Set(x, y int, v byte) {
	p[y*CanvasSide+x] = v
}

// EncodeScale implements scale codec interface.
func (p *Pixels) EncodeScale(encoder *scale.Encoder) (int, error) {
	return scale.EncodeByteArray(encoder, p[:])
}

// DecodeScale implements scale codec interface.
func (p *Pixels) DecodeScale(decoder *scale.Decoder) (int, error) {
	return scale.DecodeByteArray(decoder, p[:])
}
