package sidetable

import (
	"fmt"

	"github.com/lu4p/cat"
)

// readWithCat extracts text from .odt and .rtf files.
func readWithCat(path string) (string, error) {
	text, err := cat.File(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return decodePlain([]byte(text)), nil
}
