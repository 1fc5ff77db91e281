package readers

import (
	"fmt"
	"path/filepath"
	"strings"

	"code.sajari.com/docconv/v2"
)

var attachmentTypes = map[string]bool{
	".docx": true,
	".odt":  true,
	".pdf":  true,
	".rtf":  true,
	".xml":  true,
}

// UniversalFileReader handles downloadable guide attachments such as printable
// maps and checklists.
type UniversalFileReader struct {
}

func (r *UniversalFileReader) CanRead(path string) bool {
	return attachmentTypes[strings.ToLower(filepath.Ext(path))]
}

func (r *UniversalFileReader) ReadText(path string) (string, error) {
	res, err := docconv.ConvertPath(path)
	if err != nil {
		return "", fmt.Errorf("failed to convert attachment %s: %w", filepath.Base(path), err)
	}

	return strings.TrimSpace(res.Body), nil
}
