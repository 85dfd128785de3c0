package main

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"

	"github.com/jacksonlevine/pictosend/common/types"
)

// canvasImage renders pixels as a grayscale image.
func canvasImage(pixels *types.Pixels) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, types.CanvasSide, types.CanvasSide))
	copy(img.Pix, pixels[:])
	return img
}

func encodePNG(pixels *types.Pixels) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, canvasImage(pixels)); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// decodeCanvas reads a PNG and samples it down (or up) to the canvas size.
func decodeCanvas(r io.Reader) (*types.Pixels, error) {
	img, err := png.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode png: %w", err)
	}
	bounds := img.Bounds()
	if bounds.Empty() {
		return nil, errors.New("empty image")
	}
	var pixels types.Pixels
	for y := range types.CanvasSide {
		sy := bounds.Min.Y + y*bounds.Dy()/types.CanvasSide
		for x := range types.CanvasSide {
			sx := bounds.Min.X + x*bounds.Dx()/types.CanvasSide
			gray := color.GrayModel.Convert(img.At(sx, sy)).(color.Gray)
			pixels.Set(x, y, gray.Y)
		}
	}
	return &pixels, nil
}
