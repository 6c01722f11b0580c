package csvfmt

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNormalizeCell(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Pão de queijo", "PAO DE QUEIJO"},
		{"ação", "ACAO"},
		{"  ", Placeholder},
		{"", Placeholder},
		{"ﬁm", "FIM"},
		{"R$ 10,00", "R$ 10,00"},
	}
	for _, tt := range tests {
		if got := NormalizeCell(tt.in); got != tt.want {
			t.Errorf("NormalizeCell(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatTable(t *testing.T) {
	in := "Produto,Preço,Obs\nPão,\"5,00\",\nCafé,3,quente\n"
	var out bytes.Buffer
	if err := FormatTable(strings.NewReader(in), &out); err != nil {
		t.Fatal(err)
	}
	want := "PRODUTO,PRECO,OBS\nPAO,\"5,00\",ND\nCAFE,3,QUENTE\n"
	if out.String() != want {
		t.Errorf("got %q, want %q", out.String(), want)
	}
}

func TestFormatTable_raggedRows(t *testing.T) {
	var out bytes.Buffer
	if err := FormatTable(strings.NewReader("a,b\nc\n"), &out); err != nil {
		t.Fatal(err)
	}
	if out.String() != "A,B\nC\n" {
		t.Errorf("got %q", out.String())
	}
}

func TestFormatFile(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "Teste.csv")
	out := filepath.Join(dir, "teste_formatado.csv")
	if err := os.WriteFile(in, []byte("Nome\nJoão\n\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := FormatFile(in, out); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "NOME\nJOAO\n" {
		t.Errorf("got %q", data)
	}
	if err := FormatFile(filepath.Join(dir, "missing.csv"), out); err == nil {
		t.Error("expected error for missing input")
	}
}

func TestColumn(t *testing.T) {
	in := "Cliente,Andamento atual\nAna,Em análise\nBeto,\nCaio\n"
	got, err := Column(strings.NewReader(in), "Andamento atual")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"Em análise", Placeholder, Placeholder}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("got %v, want %v", got, want)
	}

	if _, err := Column(strings.NewReader(in), "Status"); !errors.Is(err, ErrColumnNotFound) {
		t.Errorf("err = %v", err)
	}
	if _, err := Column(strings.NewReader(""), "Status"); !errors.Is(err, ErrColumnNotFound) {
		t.Errorf("empty table err = %v", err)
	}
}

func TestPrintColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.csv")
	if err := os.WriteFile(path, []byte("A,B\n1,\n2,x\n"), 0644); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := PrintColumn(&buf, path, "B"); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "Values of column \"B\":\nND\nx\n" {
		t.Errorf("got %q", buf.String())
	}
}
