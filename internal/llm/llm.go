package llm

import (
	"context"
	"errors"
)

// ErrNoText is returned when the image holds no readable text.
var ErrNoText = errors.New("no text found in image")

// TextExtractor reads the text printed on an image.
type TextExtractor interface {
	ExtractText(ctx context.Context, image []byte, mimeType string) (string, error)
}

// Closer is an interface for closing resources.
type Closer interface {
	Close() error
}
