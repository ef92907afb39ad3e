package vision

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	xdraw "golang.org/x/image/draw"

	"github.com/mfdoom84/automatevnc/internal/domain/script"
)

// ToRGBA normalizes any decoded frame to the one pixel format the matcher
// operates on.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}

// ToGray converts an image to 8-bit grayscale.
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}

// CropGray returns the part of g covered by r, clamped to the image bounds.
// The result is a copy with zero-based bounds.
func CropGray(g *image.Gray, r script.Region) *image.Gray {
	b := g.Bounds()
	x0 := max(b.Min.X, r.X)
	y0 := max(b.Min.Y, r.Y)
	x1 := min(b.Max.X, r.X+r.Width)
	y1 := min(b.Max.Y, r.Y+r.Height)
	if x1 <= x0 || y1 <= y0 {
		return image.NewGray(image.Rect(0, 0, 0, 0))
	}
	out := image.NewGray(image.Rect(0, 0, x1-x0, y1-y0))
	draw.Draw(out, out.Bounds(), g, image.Pt(x0, y0), draw.Src)
	return out
}

// Upscale resizes g by the given integer factor using Catmull-Rom
// interpolation. Small OCR crops are upscaled so glyphs reach a readable
// pixel footprint.
func Upscale(g *image.Gray, factor int) *image.Gray {
	if factor <= 1 {
		return g
	}
	b := g.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx()*factor, b.Dy()*factor))
	xdraw.CatmullRom.Scale(out, out.Bounds(), g, b, xdraw.Src, nil)
	return out
}

// Otsu binarizes a grayscale image with Otsu's threshold, separating glyphs
// from background noise before OCR.
func Otsu(g *image.Gray) *image.Gray {
	var hist [256]int
	b := g.Bounds()
	total := b.Dx() * b.Dy()
	if total == 0 {
		return g
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := g.Pix[(y-b.Min.Y)*g.Stride : (y-b.Min.Y)*g.Stride+b.Dx()]
		for _, v := range row {
			hist[v]++
		}
	}

	var sum float64
	for v, n := range hist {
		sum += float64(v) * float64(n)
	}

	var sumB, wB float64
	var maxVar float64
	threshold := 0
	for t := 0; t < 256; t++ {
		wB += float64(hist[t])
		if wB == 0 {
			continue
		}
		wF := float64(total) - wB
		if wF == 0 {
			break
		}
		sumB += float64(t) * float64(hist[t])
		mB := sumB / wB
		mF := (sum - sumB) / wF
		between := wB * wF * (mB - mF) * (mB - mF)
		if between > maxVar {
			maxVar = between
			threshold = t
		}
	}

	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			if g.GrayAt(b.Min.X+x, b.Min.Y+y).Y > uint8(threshold) {
				out.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return out
}

// EncodePNG serializes an image as PNG bytes.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodePNG parses PNG bytes into an image.
func DecodePNG(data []byte) (image.Image, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode png: %w", err)
	}
	return img, nil
}
