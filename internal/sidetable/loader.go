// Package sidetable reads the auxiliary reference tables (products, promotions)
// that are handed to generation verbatim.
package sidetable

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/models"
	"go.uber.org/zap"
)

// Loader reads the configured side tables from disk on every call. Nothing is cached.
type Loader struct {
	tables []config.SideTableConfig
	logger *zap.Logger // optional
}

// NewLoader returns a loader for tables, read in the given order.
func NewLoader(tables []config.SideTableConfig, logger *zap.Logger) *Loader {
	return &Loader{tables: tables, logger: logger}
}

// Load reads every configured table. Missing files are skipped with a warning;
// any other read or parse failure is returned.
func (l *Loader) Load(ctx context.Context) ([]models.SideTable, error) {
	out := make([]models.SideTable, 0, len(l.tables))
	for _, t := range l.tables {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		content, err := ReadFile(t.Path)
		if errors.Is(err, fs.ErrNotExist) {
			if l.logger != nil {
				l.logger.Warn("side table missing", zap.String("name", t.Name), zap.String("path", t.Path))
			}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("side table %s: %w", t.Name, err)
		}
		out = append(out, models.SideTable{Name: tableName(t), Content: content})
	}
	return out, nil
}

func tableName(t config.SideTableConfig) string {
	if t.Name != "" {
		return t.Name
	}
	base := filepath.Base(t.Path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ReadFile returns the text of the table at path, decoded by extension.
func ReadFile(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".odt" || ext == ".rtf" {
		if _, err := os.Stat(path); err != nil {
			return "", err
		}
		return readWithCat(path)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return Decode(content, ext)
}

// Decode converts raw table bytes to text. ext includes the leading dot.
// Delimited and plain text formats are passed through unchanged.
func Decode(content []byte, ext string) (string, error) {
	switch ext {
	case ".xlsx":
		return decodeXLSX(content)
	case ".ods":
		return decodeODS(content)
	case ".pdf":
		return decodePDF(content)
	case ".docx":
		return decodeDOCX(content)
	default:
		return decodePlain(content), nil
	}
}
