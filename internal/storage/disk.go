package storage

import (
	"io/fs"
	"os"
	"path/filepath"
)

// Usage is the on-disk footprint of the knowledge base, in bytes.
type Usage struct {
	Records  int64 `json:"records_bytes"`
	Index    int64 `json:"index_bytes"`
	Database int64 `json:"database_bytes"`
	Total    int64 `json:"total_bytes"`
}

// MeasureUsage sizes the records file, the index snapshot, and the transcript
// database including its WAL side files. Missing paths count as zero.
func MeasureUsage(recordsPath, indexPath, dbPath string) (Usage, error) {
	var u Usage
	var err error
	if u.Records, err = DiskUsageBytes(recordsPath); err != nil {
		return Usage{}, err
	}
	if u.Index, err = DiskUsageBytes(indexPath); err != nil {
		return Usage{}, err
	}
	if dbPath != "" {
		if u.Database, err = DiskUsageBytes(dbPath, dbPath+"-wal", dbPath+"-shm"); err != nil {
			return Usage{}, err
		}
	}
	u.Total = u.Records + u.Index + u.Database
	return u, nil
}

// DiskUsageBytes returns the total size of the given files and directories.
// Empty and missing paths are skipped.
func DiskUsageBytes(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		if p == "" {
			continue
		}
		info, err := os.Stat(p)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return 0, err
		}
		if !info.IsDir() {
			total += info.Size()
			continue
		}
		err = filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			fi, err := d.Info()
			if err != nil {
				return err
			}
			total += fi.Size()
			return nil
		})
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}
