package sidetable

import (
	"bytes"
	"strings"
	"unicode/utf8"
)

var utf8BOM = []byte("\xef\xbb\xbf")

// decodePlain returns csv, tsv, txt, and md content as is, minus a UTF-8 BOM.
// Invalid sequences become the replacement character.
func decodePlain(content []byte) string {
	content = bytes.TrimPrefix(content, utf8BOM)
	if !utf8.Valid(content) {
		return strings.ToValidUTF8(string(content), "\uFFFD")
	}
	return string(content)
}
