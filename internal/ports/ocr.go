package ports

import "github.com/mfdoom84/automatevnc/internal/vision"

// OCR extracts text from a preprocessed image.
//
// Declared in vision (which consumes it) and aliased here so ports can keep
// exposing it without creating an import cycle.
type OCR = vision.OCR
