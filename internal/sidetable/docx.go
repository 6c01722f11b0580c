package sidetable

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	docxDefaultPath  = "word/document.xml"
	contentTypesPath = "[Content_Types].xml"
	docxMainType     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
)

var (
	// Paragraph elements carry attributes in real documents (<w:p w:rsidR="...">).
	wParagraph = regexp.MustCompile(`(?s)<w:p[ >].*?</w:p>`)
	wText      = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)

	mainPartName    = regexp.MustCompile(`<Override[^>]+PartName="([^"]+)"[^>]+ContentType="` + regexp.QuoteMeta(docxMainType) + `"`)
	mainPartNameRev = regexp.MustCompile(`<Override[^>]+ContentType="` + regexp.QuoteMeta(docxMainType) + `"[^>]+PartName="([^"]+)"`)
)

// docxMainPart finds the main document part from [Content_Types].xml, or the default path.
func docxMainPart(content []byte) string {
	data, err := zipEntry(content, contentTypesPath)
	if err != nil {
		return docxDefaultPath
	}
	for _, re := range []*regexp.Regexp{mainPartName, mainPartNameRev} {
		if m := re.FindSubmatch(data); len(m) > 1 {
			return strings.TrimPrefix(string(m[1]), "/")
		}
	}
	return docxDefaultPath
}

// decodeDOCX returns the body text, one paragraph per line. Runs within a
// paragraph are concatenated as written.
func decodeDOCX(content []byte) (string, error) {
	path := docxMainPart(content)
	body, err := zipEntry(content, path)
	if err != nil {
		return "", fmt.Errorf("docx: %w", err)
	}
	var b strings.Builder
	for _, p := range wParagraph.FindAll(body, -1) {
		var line strings.Builder
		for _, t := range wText.FindAllSubmatch(p, -1) {
			line.Write(t[1])
		}
		if s := strings.TrimSpace(line.String()); s != "" {
			b.WriteString(s)
			b.WriteByte('\n')
		}
	}
	return strings.TrimSpace(b.String()), nil
}
