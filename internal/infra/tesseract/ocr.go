// Package tesseract adapts the gosseract client to the ports.OCR interface.
package tesseract

import (
	"fmt"
	"image"
	"sync"

	"github.com/otiai10/gosseract/v2"

	"github.com/mfdoom84/automatevnc/internal/ports"
	"github.com/mfdoom84/automatevnc/internal/vision"
)

// Engine wraps a single gosseract client. The client is stateful and not
// safe for concurrent use, so calls are serialized.
type Engine struct {
	mu     sync.Mutex
	client *gosseract.Client
	lang   string
}

var _ ports.OCR = (*Engine)(nil)

// New creates an OCR engine backed by the local Tesseract installation.
func New() *Engine {
	client := gosseract.NewClient()
	// Uniform block of text matches how UI crops are recognized.
	_ = client.SetPageSegMode(gosseract.PSM_SINGLE_BLOCK)
	return &Engine{client: client}
}

// Recognize extracts text from the supplied image.
func (e *Engine) Recognize(img image.Image, lang string) (string, error) {
	data, err := vision.EncodePNG(img)
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if lang != "" && lang != e.lang {
		if err := e.client.SetLanguage(lang); err != nil {
			return "", fmt.Errorf("set ocr language %q: %w", lang, err)
		}
		e.lang = lang
	}
	if err := e.client.SetImageFromBytes(data); err != nil {
		return "", fmt.Errorf("set ocr image: %w", err)
	}
	text, err := e.client.Text()
	if err != nil {
		return "", fmt.Errorf("ocr: %w", err)
	}
	return text, nil
}

// Close releases the underlying Tesseract handle.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.client.Close()
}
