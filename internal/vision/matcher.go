// Package vision implements the template-matching and OCR text-matching
// algorithms the smart-wait layer polls with. All functions are stateless.
package vision

import (
	"image"
	"math"

	"github.com/mfdoom84/automatevnc/internal/domain/script"
)

// hintRadius bounds the local window searched around a hint before falling
// back to the full frame.
const hintRadius = 150

// Point is a screen coordinate.
type Point struct {
	X int
	Y int
}

// Match is the rectangle and confidence of a template hit. It is consumed
// immediately by the caller and never persisted.
type Match struct {
	X          int
	Y          int
	Width      int
	Height     int
	Confidence float64
}

// Center returns the midpoint of the match rectangle.
func (m Match) Center() Point {
	return Point{X: m.X + m.Width/2, Y: m.Y + m.Height/2}
}

// Template is a reference image, optionally carrying a mask where zero
// entries mark "don't care" pixels (tolerates partial occlusion, e.g. by a
// cursor).
type Template struct {
	Image image.Image
	Mask  *image.Alpha
}

// FindTemplate locates tmpl inside frame by normalized correlation.
//
// When hint is set and no explicit region is given, a bounded window centered
// on the hint is searched first; a hit at or above threshold there returns
// immediately without the full-frame cost. A template larger than the search
// area is a non-match, not an error.
func FindTemplate(frame image.Image, tmpl Template, threshold float64, region *script.Region, hint *Point) *Match {
	if hint != nil && region == nil {
		local := hintWindow(frame.Bounds(), *hint)
		if m := matchIn(frame, tmpl, threshold, &local); m != nil {
			return m
		}
	}
	return matchIn(frame, tmpl, threshold, region)
}

// hintWindow clamps a square window of side 2*hintRadius around the hint to
// the frame bounds.
func hintWindow(bounds image.Rectangle, hint Point) script.Region {
	x := max(bounds.Min.X, hint.X-hintRadius)
	y := max(bounds.Min.Y, hint.Y-hintRadius)
	w := min(bounds.Max.X-x, hintRadius*2)
	h := min(bounds.Max.Y-y, hintRadius*2)
	return script.Region{X: x, Y: y, Width: w, Height: h}
}

func matchIn(frame image.Image, tmpl Template, threshold float64, region *script.Region) *Match {
	search := ToGray(frame)
	offsetX, offsetY := 0, 0
	if region != nil {
		search = CropGray(search, *region)
		offsetX, offsetY = region.X, region.Y
	}

	tg := ToGray(tmpl.Image)
	tw, th := tg.Bounds().Dx(), tg.Bounds().Dy()
	sw, sh := search.Bounds().Dx(), search.Bounds().Dy()
	if tw == 0 || th == 0 || tw > sw || th > sh {
		return nil
	}

	var bestScore float64
	bestX, bestY := -1, -1
	for y := 0; y <= sh-th; y++ {
		for x := 0; x <= sw-tw; x++ {
			var score float64
			if tmpl.Mask != nil {
				score = maskedScoreAt(search, tg, tmpl.Mask, x, y)
			} else {
				score = scoreAt(search, tg, x, y)
			}
			if score > bestScore {
				bestScore, bestX, bestY = score, x, y
			}
		}
	}

	if bestScore < threshold || bestX < 0 {
		return nil
	}
	return &Match{
		X:          bestX + offsetX,
		Y:          bestY + offsetY,
		Width:      tw,
		Height:     th,
		Confidence: bestScore,
	}
}

// scoreAt computes the zero-mean normalized cross-correlation between the
// template and the search window at (x, y). Scores are clamped to [0, 1];
// anti-correlated windows score zero.
func scoreAt(search, tmpl *image.Gray, x, y int) float64 {
	tw, th := tmpl.Bounds().Dx(), tmpl.Bounds().Dy()
	n := float64(tw * th)

	var sumS, sumT float64
	for ty := 0; ty < th; ty++ {
		for tx := 0; tx < tw; tx++ {
			sumS += float64(search.GrayAt(x+tx, y+ty).Y)
			sumT += float64(tmpl.GrayAt(tx, ty).Y)
		}
	}
	meanS, meanT := sumS/n, sumT/n

	var num, denS, denT float64
	for ty := 0; ty < th; ty++ {
		for tx := 0; tx < tw; tx++ {
			ds := float64(search.GrayAt(x+tx, y+ty).Y) - meanS
			dt := float64(tmpl.GrayAt(tx, ty).Y) - meanT
			num += ds * dt
			denS += ds * ds
			denT += dt * dt
		}
	}
	den := math.Sqrt(denS * denT)
	if den == 0 {
		// Flat template against a flat window: identical means count as a
		// perfect hit, anything else as a miss.
		if denS == 0 && denT == 0 && meanS == meanT {
			return 1
		}
		return 0
	}
	score := num / den
	if score < 0 {
		return 0
	}
	return score
}

// maskedScoreAt computes normalized cross-correlation restricted to pixels
// whose mask entry is opaque enough to care about.
func maskedScoreAt(search, tmpl *image.Gray, mask *image.Alpha, x, y int) float64 {
	tw, th := tmpl.Bounds().Dx(), tmpl.Bounds().Dy()

	var num, denS, denT float64
	for ty := 0; ty < th; ty++ {
		for tx := 0; tx < tw; tx++ {
			if mask.AlphaAt(tx, ty).A < 128 {
				continue
			}
			s := float64(search.GrayAt(x+tx, y+ty).Y)
			t := float64(tmpl.GrayAt(tx, ty).Y)
			num += s * t
			denS += s * s
			denT += t * t
		}
	}
	den := math.Sqrt(denS * denT)
	if den == 0 {
		return 0
	}
	return num / den
}
