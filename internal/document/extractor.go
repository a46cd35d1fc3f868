package document

import (
	"context"
	"fmt"
	"strings"

	"github.com/nikhilbhutani/docqa/pkg/textextract"
)

// Extractor turns uploaded bytes into raw text. Images go through OCR when
// tesseract is installed.
type Extractor struct {
	ocr *OCR
}

func NewExtractor() *Extractor {
	return &Extractor{ocr: NewOCR()}
}

// Extract resolves the media type from filename and declared, then extracts text.
func (e *Extractor) Extract(ctx context.Context, filename, declared string, data []byte) (*textextract.Extracted, error) {
	mediaType := textextract.DetectMediaType(filename, declared)
	if mediaType == "" || mediaType == "application/octet-stream" {
		if img := imageType(filename); img != "" {
			mediaType = img
		}
	}

	if strings.HasPrefix(mediaType, "image/") {
		if e.ocr == nil || !e.ocr.Available() {
			return nil, fmt.Errorf("%w: %s (OCR unavailable)", textextract.ErrUnsupportedType, mediaType)
		}
		text, err := e.ocr.Read(ctx, data)
		if err != nil {
			return nil, fmt.Errorf("extract text from %s: %w", filename, err)
		}
		return &textextract.Extracted{Text: text, Pages: 1, MediaType: mediaType}, nil
	}

	out, err := textextract.Extract(data, mediaType)
	if err != nil {
		return nil, fmt.Errorf("extract text from %s: %w", filename, err)
	}
	return out, nil
}
