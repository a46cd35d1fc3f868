// Package textextract pulls raw text out of uploaded files. Its output is
// unnormalized; callers pass it through textnorm before chunking.
package textextract

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

const (
	MediaTypePDF  = "application/pdf"
	MediaTypeText = "text/plain"
	MediaTypeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

// ErrUnsupportedType is returned for media types with no extractor.
var ErrUnsupportedType = errors.New("unsupported file type")

// Extracted is the raw text of one file.
type Extracted struct {
	Text      string
	Pages     int
	MediaType string
}

// DetectMediaType resolves a media type from the declared value, falling back
// to the file extension.
func DetectMediaType(filename, declared string) string {
	declared = strings.ToLower(strings.TrimSpace(strings.Split(declared, ";")[0]))
	switch declared {
	case MediaTypePDF, MediaTypeText, MediaTypeDOCX:
		return declared
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return MediaTypePDF
	case ".txt", ".md":
		return MediaTypeText
	case ".docx":
		return MediaTypeDOCX
	}
	return declared
}

// Supported reports whether mediaType has an extractor.
func Supported(mediaType string) bool {
	switch mediaType {
	case MediaTypePDF, MediaTypeText, MediaTypeDOCX:
		return true
	}
	return false
}

// Extract returns the raw text of data interpreted as mediaType.
func Extract(data []byte, mediaType string) (*Extracted, error) {
	r := bytes.NewReader(data)
	size := int64(len(data))

	switch mediaType {
	case MediaTypePDF:
		return extractPDF(r, size)
	case MediaTypeDOCX:
		return extractDOCX(r, size)
	case MediaTypeText:
		return &Extracted{Text: string(data), Pages: 1, MediaType: MediaTypeText}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, mediaType)
	}
}

func extractPDF(data io.ReaderAt, size int64) (*Extracted, error) {
	reader, err := pdf.NewReader(data, size)
	if err != nil {
		return nil, fmt.Errorf("open PDF: %w", err)
	}

	var buf strings.Builder
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		buf.WriteString(text)
		buf.WriteString("\n")
	}

	return &Extracted{Text: buf.String(), Pages: numPages, MediaType: MediaTypePDF}, nil
}

func extractDOCX(data io.ReaderAt, size int64) (*Extracted, error) {
	reader, err := zip.NewReader(data, size)
	if err != nil {
		return nil, fmt.Errorf("open DOCX: %w", err)
	}

	for _, f := range reader.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open document.xml: %w", err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read document.xml: %w", err)
		}
		return &Extracted{Text: docxText(string(content)), Pages: 1, MediaType: MediaTypeDOCX}, nil
	}
	return nil, fmt.Errorf("open DOCX: word/document.xml not found")
}

// docxText drops XML tags, turning paragraph ends into newlines.
func docxText(s string) string {
	var out strings.Builder
	for {
		open := strings.IndexByte(s, '<')
		if open < 0 {
			out.WriteString(s)
			break
		}
		out.WriteString(s[:open])
		end := strings.IndexByte(s[open:], '>')
		if end < 0 {
			break
		}
		tag := s[open : open+end+1]
		if tag == "</w:p>" {
			out.WriteByte('\n')
		} else if strings.HasPrefix(tag, "<w:tab") {
			out.WriteByte(' ')
		}
		s = s[open+end+1:]
	}
	return out.String()
}
