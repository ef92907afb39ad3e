package vision

import (
	"image"
	"strings"

	"github.com/agext/levenshtein"

	"github.com/mfdoom84/automatevnc/internal/domain/script"
)

// TextOptions configure FindText. Zero values fall back to the defaults the
// step interpreter uses: English, case-insensitive, similarity 0.7.
type TextOptions struct {
	Region              *script.Region
	Hint                *Point
	Lang                string
	CaseSensitive       bool
	SimilarityThreshold float64
}

const (
	// DefaultSimilarity accepts OCR output whose best window is at least
	// this similar to the target.
	DefaultSimilarity = 0.7
	// DefaultLang is the OCR language when none is configured.
	DefaultLang = "eng"

	// Crops below these dimensions are upscaled before OCR.
	minOCRWidth  = 300
	minOCRHeight = 50
)

// ExtractText runs OCR over the (optionally cropped) frame after
// preprocessing: grayscale, upscale of small crops, Otsu binarization.
func ExtractText(ocr OCR, frame image.Image, region *script.Region, lang string) (string, error) {
	if lang == "" {
		lang = DefaultLang
	}
	g := ToGray(frame)
	if region != nil {
		g = CropGray(g, *region)
	}
	w, h := g.Bounds().Dx(), g.Bounds().Dy()
	if w == 0 || h == 0 {
		return "", nil
	}
	if w < minOCRWidth || h < minOCRHeight {
		factor := max(2, minOCRWidth/max(w, 1))
		g = Upscale(g, factor)
	}
	text, err := ocr.Recognize(Otsu(g), lang)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// FindText reports whether text appears in the frame. When a hint is set and
// no region is given, a bounded window around the hint is searched first.
// OCR and preprocessing errors are swallowed and count as "not found" so
// polling callers keep retrying.
func FindText(ocr OCR, frame image.Image, text string, opts TextOptions) bool {
	if opts.Hint != nil && opts.Region == nil {
		local := hintWindow(frame.Bounds(), *opts.Hint)
		localOpts := opts
		localOpts.Region = &local
		localOpts.Hint = nil
		if findTextIn(ocr, frame, text, localOpts) {
			return true
		}
	}
	return findTextIn(ocr, frame, text, opts)
}

func findTextIn(ocr OCR, frame image.Image, text string, opts TextOptions) bool {
	extracted, err := ExtractText(ocr, frame, opts.Region, opts.Lang)
	if err != nil {
		return false
	}

	target, source := text, extracted
	if !opts.CaseSensitive {
		target = strings.ToLower(target)
		source = strings.ToLower(source)
	}

	// Exact substring check short-circuits the fuzzy path.
	if strings.Contains(source, target) {
		return true
	}

	threshold := opts.SimilarityThreshold
	if threshold <= 0 {
		threshold = DefaultSimilarity
	}

	// Fuzzy check: slide a window of the target's word count over the OCR
	// output and accept the best-similarity chunk.
	words := strings.Fields(source)
	targetWords := len(strings.Fields(target))
	if len(words) == 0 || targetWords == 0 {
		return false
	}
	for i := 0; i+targetWords <= len(words); i++ {
		chunk := strings.Join(words[i:i+targetWords], " ")
		if levenshtein.Similarity(target, chunk, nil) >= threshold {
			return true
		}
	}
	return false
}
