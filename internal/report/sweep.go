package report

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// SweepScratch removes staged report files older than maxAge, which are
// only left behind when the process dies mid-run. It returns how many
// files were removed.
func SweepScratch(dir string, maxAge time.Duration, now time.Time) (int, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "report-*.pdf"))
	if err != nil {
		return 0, fmt.Errorf("glob scratch dir: %w", err)
	}
	removed := 0
	var errs []error
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < maxAge {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}
