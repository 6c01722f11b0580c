package sidetable

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

const odsContentPath = "content.xml"

// decodeODS walks content.xml of an OpenDocument spreadsheet and writes each
// table row tab-joined on its own line. Trailing empty cells are dropped.
func decodeODS(content []byte) (string, error) {
	data, err := zipEntry(content, odsContentPath)
	if err != nil {
		return "", fmt.Errorf("ods: %w", err)
	}

	dec := xml.NewDecoder(bytes.NewReader(data))
	var (
		out   strings.Builder
		row   []string
		cell  strings.Builder
		inRow bool
		inCel bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("ods: parse %s: %w", odsContentPath, err)
		}
		switch el := tok.(type) {
		case xml.StartElement:
			switch {
			case el.Name.Local == "table-row":
				inRow, row = true, row[:0]
			case el.Name.Local == "table-cell" && inRow:
				inCel = true
				cell.Reset()
			case el.Name.Local == "p" && inCel && cell.Len() > 0:
				cell.WriteByte(' ')
			}
		case xml.CharData:
			if inCel {
				cell.Write(el)
			}
		case xml.EndElement:
			switch el.Name.Local {
			case "table-cell":
				if inCel {
					row = append(row, strings.TrimSpace(cell.String()))
					inCel = false
				}
			case "table-row":
				inRow = false
				for len(row) > 0 && row[len(row)-1] == "" {
					row = row[:len(row)-1]
				}
				if len(row) > 0 {
					out.WriteString(strings.Join(row, "\t"))
					out.WriteByte('\n')
				}
			}
		}
	}
	return strings.TrimSpace(out.String()), nil
}

// zipEntry returns the bytes of the named member of a zip archive.
func zipEntry(content []byte, name string) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("not a zip: %w", err)
	}
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("%s not found", name)
}
