package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	if err := os.WriteFile(path, make([]byte, size), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestDiskUsageBytes(t *testing.T) {
	dir := t.TempDir()
	f1 := filepath.Join(dir, "train.csv")
	writeFile(t, f1, 5)

	sub := filepath.Join(dir, "qdrant")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(sub, "a"), 2)
	writeFile(t, filepath.Join(sub, "b"), 1)

	tests := []struct {
		name  string
		paths []string
		want  int64
	}{
		{"single file", []string{f1}, 5},
		{"directory", []string{sub}, 3},
		{"file and directory", []string{f1, sub}, 8},
		{"missing skipped", []string{f1, filepath.Join(dir, "nonexistent"), sub}, 8},
		{"empty skipped", []string{"", f1}, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DiskUsageBytes(tt.paths...)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %d bytes, want %d", got, tt.want)
			}
		})
	}
}

func TestMeasureUsage(t *testing.T) {
	dir := t.TempDir()
	records := filepath.Join(dir, "train.csv")
	index := filepath.Join(dir, "index.bin")
	db := filepath.Join(dir, "sessions.db")
	writeFile(t, records, 10)
	writeFile(t, index, 20)
	writeFile(t, db, 30)
	writeFile(t, db+"-wal", 4)

	u, err := MeasureUsage(records, index, db)
	if err != nil {
		t.Fatal(err)
	}
	if u.Records != 10 || u.Index != 20 || u.Database != 34 || u.Total != 64 {
		t.Errorf("usage = %+v", u)
	}

	u, err = MeasureUsage(records, filepath.Join(dir, "missing.bin"), "")
	if err != nil {
		t.Fatal(err)
	}
	if u.Index != 0 || u.Database != 0 || u.Total != 10 {
		t.Errorf("usage = %+v", u)
	}
}
