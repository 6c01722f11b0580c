// Package csvfmt normalizes spreadsheet exports into plain upper-case ASCII-ish
// tables and reads single columns out of them.
package csvfmt

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"

	"github.com/hyperjump/kotae/pkg/utils"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Placeholder replaces blank cells.
const Placeholder = "ND"

// ErrColumnNotFound is returned when a header lacks the requested column.
var ErrColumnNotFound = errors.New("column not found")

// NormalizeCell strips accents (NFKD, combining marks removed) and upper-cases s.
// A blank cell becomes Placeholder.
func NormalizeCell(s string) string {
	if strings.TrimSpace(s) == "" {
		return Placeholder
	}
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToUpper(out)
}

// FormatTable normalizes every cell of the CSV read from r, header included, and writes it to w.
func FormatTable(r io.Reader, w io.Writer) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cw := csv.NewWriter(w)
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read csv: %w", err)
		}
		for i := range row {
			row[i] = NormalizeCell(row[i])
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// FormatFile normalizes the table at in and atomically writes the result to out.
func FormatFile(in, out string) error {
	f, err := os.Open(in)
	if err != nil {
		return err
	}
	defer f.Close()
	var buf bytes.Buffer
	if err := FormatTable(f, &buf); err != nil {
		return fmt.Errorf("%s: %w", in, err)
	}
	return utils.WriteFileAtomic(out, buf.Bytes(), 0644)
}

// Column returns the values of the named column, blank cells as Placeholder.
func Column(r io.Reader, name string) ([]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %q (empty table)", ErrColumnNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := -1
	for i, h := range header {
		if strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")) == name {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, fmt.Errorf("%w: %q", ErrColumnNotFound, name)
	}
	var values []string
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return values, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		v := ""
		if col < len(row) {
			v = row[col]
		}
		if strings.TrimSpace(v) == "" {
			v = Placeholder
		}
		values = append(values, v)
	}
}

// PrintColumn writes the named column of the table at path to w, one value per line.
func PrintColumn(w io.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	values, err := Column(f, name)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Values of column %q:\n", name)
	for _, v := range values {
		fmt.Fprintln(w, v)
	}
	return nil
}
