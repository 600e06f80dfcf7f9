package store

import (
	"io/fs"
	"os"
	"path/filepath"
)

// DiskUsageBytes sums file sizes under the store root. Missing paths count
// as zero so the status endpoint works before the first ingest.
func (s *Store) DiskUsageBytes() (int64, error) {
	var total int64
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		total += info.Size()
		return nil
	})
	return total, err
}
