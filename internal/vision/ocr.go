package vision

import "image"

// OCR extracts text from a preprocessed image.
type OCR interface {
	Recognize(img image.Image, lang string) (string, error)
	Close() error
}
