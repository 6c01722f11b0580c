package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/hyperjump/kotae/internal/models"
)

func sampleRetrieval() *models.RetrieveResponse {
	return &models.RetrieveResponse{
		Query:     "entrega",
		QueryTime: 7,
		Source:    models.SourceSemantic,
		Results: []*models.RetrievedRecord{
			{Question: "Vocês fazem entrega?", Answer: "Sim,\nem toda a cidade", Distance: 0.1234},
			{Question: "Qual o horário?", Answer: "Das 8h às 18h", Distance: 0.5},
		},
	}
}

func TestParseOutputFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputFormat
		wantErr bool
	}{
		{"", OutputText, false},
		{"TEXT", OutputText, false},
		{"compact", OutputCompact, false},
		{" json ", OutputJSON, false},
		{"yaml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseOutputFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseOutputFormat(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestWriteRetrieval_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteRetrieval(&buf, sampleRetrieval(), OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded models.RetrieveResponse
	if err := json.NewDecoder(&buf).Decode(&decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded.Query != "entrega" || len(decoded.Results) != 2 || decoded.Results[0].Answer != "Sim,\nem toda a cidade" {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestWriteRetrieval_text(t *testing.T) {
	resp := sampleRetrieval()
	resp.Dropped = 1
	resp.Source = models.SourceLexical
	var buf bytes.Buffer
	_ = WriteRetrieval(&buf, resp, OutputText)
	out := buf.String()
	for _, want := range []string{"Found 2 results in 7ms", "keyword fallback", "1 unresolved entries dropped", "#1 | Distance: 0.1234", "Q: Vocês fazem entrega?", "A: Das 8h às 18h"} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}
}

func TestWriteRetrieval_compact(t *testing.T) {
	var buf bytes.Buffer
	_ = WriteRetrieval(&buf, sampleRetrieval(), OutputCompact)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	if lines[0] != "0.1234\tVocês fazem entrega?\tSim, em toda a cidade" {
		t.Errorf("line 0 = %q", lines[0])
	}
}

func TestWriteSearch(t *testing.T) {
	hits := sampleRetrieval().Hits()
	var buf bytes.Buffer
	_ = WriteSearch(&buf, hits, OutputText)
	if strings.Contains(buf.String(), "Das 8h") {
		t.Error("search output should not include answers")
	}
	if !strings.Contains(buf.String(), "  1. [0.1234] Vocês fazem entrega?") {
		t.Errorf("output:\n%s", buf.String())
	}
	buf.Reset()
	_ = WriteSearch(&buf, hits, OutputCompact)
	if buf.String() != "0.1234\tVocês fazem entrega?\n0.5000\tQual o horário?\n" {
		t.Errorf("compact = %q", buf.String())
	}
}

func TestWriteRecords(t *testing.T) {
	records := []models.Record{{ID: 0, Question: "Q1", Answer: "A1"}, {ID: 1, Question: "Q2", Answer: "A2"}}
	var buf bytes.Buffer
	_ = WriteRecords(&buf, records, OutputText)
	if !strings.Contains(buf.String(), "2 records") || !strings.Contains(buf.String(), "[1] Q2") {
		t.Errorf("text = %q", buf.String())
	}
	buf.Reset()
	_ = WriteRecords(&buf, nil, OutputJSON)
	if strings.TrimSpace(buf.String()) != "[]" {
		t.Errorf("empty json = %q", buf.String())
	}
}

func TestWriteTranscript(t *testing.T) {
	turns := []models.Turn{{Role: models.RoleUser, Content: "oi"}, {Role: models.RoleAssistant, Content: "olá"}}
	var buf bytes.Buffer
	_ = WriteTranscript(&buf, turns, OutputText)
	if buf.String() != "user: oi\nassistant: olá\n" {
		t.Errorf("got %q", buf.String())
	}
}
