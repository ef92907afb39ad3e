package vision

import (
	"image"
	"image/color"
	"testing"

	"github.com/mfdoom84/automatevnc/internal/domain/script"
)

func TestCropGrayClamps(t *testing.T) {
	t.Parallel()

	g := image.NewGray(image.Rect(0, 0, 100, 80))
	g.SetGray(99, 79, color.Gray{Y: 42})

	// Region extending past the image must be clamped, not error.
	out := CropGray(g, script.Region{X: 90, Y: 70, Width: 50, Height: 50})
	if w, h := out.Bounds().Dx(), out.Bounds().Dy(); w != 10 || h != 10 {
		t.Fatalf("clamped crop %dx%d, want 10x10", w, h)
	}
	if out.GrayAt(9, 9).Y != 42 {
		t.Fatal("crop lost pixel content")
	}

	// Region entirely outside yields an empty image.
	if out := CropGray(g, script.Region{X: 200, Y: 200, Width: 10, Height: 10}); out.Bounds().Dx() != 0 {
		t.Fatal("out-of-bounds crop should be empty")
	}
}

func TestOtsuSeparatesBimodal(t *testing.T) {
	t.Parallel()

	// Dark glyphs on a light background with mild noise on both sides.
	g := image.NewGray(image.Rect(0, 0, 40, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 40; x++ {
			if x < 20 {
				g.SetGray(x, y, color.Gray{Y: uint8(30 + (x+y)%10)})
			} else {
				g.SetGray(x, y, color.Gray{Y: uint8(200 + (x+y)%10)})
			}
		}
	}

	out := Otsu(g)
	for y := 0; y < 10; y++ {
		for x := 0; x < 40; x++ {
			v := out.GrayAt(x, y).Y
			if v != 0 && v != 255 {
				t.Fatalf("pixel (%d, %d) = %d, want binary output", x, y, v)
			}
			if x < 20 && v != 0 {
				t.Fatalf("dark pixel (%d, %d) mapped to foreground", x, y)
			}
			if x >= 20 && v != 255 {
				t.Fatalf("light pixel (%d, %d) mapped to background", x, y)
			}
		}
	}
}

func TestUpscaleFactor(t *testing.T) {
	t.Parallel()

	g := image.NewGray(image.Rect(0, 0, 30, 12))
	out := Upscale(g, 3)
	if w, h := out.Bounds().Dx(), out.Bounds().Dy(); w != 90 || h != 36 {
		t.Fatalf("upscaled to %dx%d, want 90x36", w, h)
	}
	if same := Upscale(g, 1); same != g {
		t.Fatal("factor 1 should be a no-op")
	}
}

func TestPNGRoundTrip(t *testing.T) {
	t.Parallel()

	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	img.SetRGBA(3, 4, color.RGBA{R: 10, G: 20, B: 30, A: 0xff})

	data, err := EncodePNG(img)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodePNG(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got := ToRGBA(decoded).RGBAAt(3, 4)
	if got.R != 10 || got.G != 20 || got.B != 30 {
		t.Fatalf("pixel changed in round trip: %+v", got)
	}
}
