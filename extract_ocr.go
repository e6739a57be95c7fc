//go:build cgo

package structex

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// OCRExtractor runs tesseract over image documents. It drags in a heavy
// native dependency, which is why extractor plugins are lazily instantiated:
// registering it costs nothing until the first image actually needs OCR.
type OCRExtractor struct {
	Languages []string // tesseract language codes, default "eng"
}

func (e *OCRExtractor) Extract(ctx context.Context, filePath string) (string, error) {
	client := gosseract.NewClient()
	defer client.Close()

	langs := e.Languages
	if len(langs) == 0 {
		langs = []string{"eng"}
	}
	if err := client.SetLanguage(langs...); err != nil {
		return "", fmt.Errorf("ocr language: %w", err)
	}
	if err := client.SetImage(filePath); err != nil {
		return "", fmt.Errorf("ocr set image %s: %w", filePath, err)
	}
	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("ocr %s: %w", filePath, err)
	}
	return text, nil
}

func (e *OCRExtractor) CanHandle(mimeType string) bool {
	return strings.HasPrefix(mimeType, "image/")
}
