package store

import (
	"io/fs"
	"path/filepath"
)

// Stats is a compact view of store health used by the admin API.
type Stats struct {
	DiskBytes   uint64 `json:"disk_bytes"`
	MemTableSz  uint64 `json:"memtable_bytes"`
	Compactions int64  `json:"compactions"`
}

// GetStats returns best-effort metrics about the pebble DB. Disk usage
// is computed by walking the DB directory; the remaining fields come
// from pebble.Metrics when available.
func GetStats() Stats {
	var s Stats
	if db == nil {
		return s
	}
	if dbPath != "" {
		var total uint64
		_ = filepath.WalkDir(dbPath, func(p string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			if fi, err := d.Info(); err == nil {
				total += uint64(fi.Size())
			}
			return nil
		})
		s.DiskBytes = total
	}
	if m := db.Metrics(); m != nil {
		s.MemTableSz = m.MemTable.Size
		s.Compactions = m.Compact.Count
	}
	return s
}
