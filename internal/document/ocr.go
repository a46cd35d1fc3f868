package document

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

var imageTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
}

// imageType returns the image media type for filename, or "" if it is not a
// scanned-page format tesseract reads.
func imageType(filename string) string {
	return imageTypes[strings.ToLower(filepath.Ext(filename))]
}

// OCR reads text from scanned pages with the tesseract binary.
type OCR struct {
	bin  string
	lang string

	probe     sync.Once
	available bool
}

func NewOCR() *OCR {
	bin, err := exec.LookPath("tesseract")
	if err != nil {
		bin = "tesseract"
	}
	return &OCR{bin: bin, lang: "eng"}
}

// Available reports whether tesseract can run on this host. It is checked once.
func (o *OCR) Available() bool {
	o.probe.Do(func() {
		o.available = exec.Command(o.bin, "--version").Run() == nil
	})
	return o.available
}

func (o *OCR) Read(ctx context.Context, image []byte) (string, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, o.bin, "stdin", "stdout", "-l", o.lang)
	cmd.Stdin = bytes.NewReader(image)
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("tesseract: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(string(out)), nil
}
