package readers

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"code.sajari.com/docconv/v2"
)

// HtmlFileReader extracts the visible text of rendered guide pages.
type HtmlFileReader struct {
}

func (r *HtmlFileReader) CanRead(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".html" || ext == ".htm"
}

func (r *HtmlFileReader) ReadText(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open html page: %w", err)
	}
	defer f.Close()

	text, _, err := docconv.ConvertHTML(f, false)
	if err != nil {
		return "", fmt.Errorf("failed to read html page: %w", err)
	}

	return text, nil
}
