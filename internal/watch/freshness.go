package watch

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"time"
)

// LatestChange returns the newest modification time among non-ignored
// regular files under the rules' root, and the file that carries it.
func LatestChange(rules *Rules) (time.Time, string, error) {
	var (
		newest time.Time
		path   string
	)
	err := filepath.WalkDir(rules.Root(), func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == rules.Root() {
				return err
			}
			return nil
		}
		if p == rules.Root() {
			return nil
		}
		if rules.Ignored(p, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().After(newest) {
			newest = info.ModTime()
			path = p
		}
		return nil
	})
	if err != nil {
		return time.Time{}, "", fmt.Errorf("scan sources: %w", err)
	}
	return newest, path, nil
}
