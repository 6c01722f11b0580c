// Package cli formats kotae results for the terminal.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputCompact prints one line per result.
	OutputCompact OutputFormat = "compact"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

const answerPreviewLen = 200

// ParseOutputFormat validates a --format flag value. Empty means text.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case "", OutputText:
		return OutputText, nil
	case OutputCompact, OutputJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (use text, compact, or json)", s)
	}
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteRetrieval writes questions with their answers and distances.
func WriteRetrieval(w io.Writer, resp *models.RetrieveResponse, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return WriteJSON(w, resp)
	case OutputCompact:
		for _, r := range resp.Results {
			fmt.Fprintf(w, "%.4f\t%s\t%s\n", r.Distance, r.Question, utils.CollapseSpace(r.Answer))
		}
		return nil
	}
	writeHeader(w, len(resp.Results), resp.QueryTime, resp.Dropped, resp.Source)
	for i, r := range resp.Results {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "#%d | Distance: %.4f\n", i+1, r.Distance)
		fmt.Fprintf(w, "Q: %s\n", r.Question)
		fmt.Fprintf(w, "A: %s\n\n", utils.Truncate(r.Answer, answerPreviewLen))
	}
	return nil
}

// WriteSearch writes ranked questions with their distances.
func WriteSearch(w io.Writer, resp *models.SearchResponse, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return WriteJSON(w, resp)
	case OutputCompact:
		for _, r := range resp.Results {
			fmt.Fprintf(w, "%.4f\t%s\n", r.Distance, r.Question)
		}
		return nil
	}
	writeHeader(w, len(resp.Results), resp.QueryTime, resp.Dropped, resp.Source)
	for i, r := range resp.Results {
		fmt.Fprintf(w, "%3d. [%.4f] %s\n", i+1, r.Distance, r.Question)
	}
	return nil
}

func writeHeader(w io.Writer, n int, ms int64, dropped int, source string) {
	fmt.Fprintf(w, "\nFound %d results in %dms", n, ms)
	if source == models.SourceLexical {
		fmt.Fprint(w, " (keyword fallback)")
	}
	if dropped > 0 {
		fmt.Fprintf(w, ", %d unresolved entries dropped", dropped)
	}
	fmt.Fprint(w, "\n\n")
}

// WriteRecords writes the stored records with their positions.
func WriteRecords(w io.Writer, records []models.Record, format OutputFormat) error {
	switch format {
	case OutputJSON:
		if records == nil {
			records = []models.Record{}
		}
		return WriteJSON(w, records)
	case OutputCompact:
		for _, r := range records {
			fmt.Fprintf(w, "%d\t%s\n", r.ID, r.Question)
		}
		return nil
	}
	fmt.Fprintf(w, "%d records\n\n", len(records))
	for _, r := range records {
		fmt.Fprintf(w, "[%d] %s\n    %s\n", r.ID, r.Question, utils.Truncate(utils.CollapseSpace(r.Answer), answerPreviewLen))
	}
	return nil
}

// WriteTranscript writes a session's turns in order.
func WriteTranscript(w io.Writer, turns []models.Turn, format OutputFormat) error {
	if format == OutputJSON {
		if turns == nil {
			turns = []models.Turn{}
		}
		return WriteJSON(w, turns)
	}
	for _, t := range turns {
		fmt.Fprintf(w, "%s: %s\n", t.Role, t.Content)
	}
	return nil
}
