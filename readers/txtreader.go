package readers

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// TxtFileReader reads plain text and markdown notes as-is.
type TxtFileReader struct{}

func (r *TxtFileReader) CanRead(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md", ".markdown":
		return true
	default:
		return false
	}
}

func (r *TxtFileReader) ReadText(path string) (string, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read text note: %w", err)
	}

	return strings.ReplaceAll(string(buf), "\r\n", "\n"), nil
}
