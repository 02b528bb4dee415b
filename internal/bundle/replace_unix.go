//go:build !windows

package bundle

import "os"

// osReplace is rename(2), atomic within one filesystem.
func osReplace(tmpPath, dest string) error {
	return os.Rename(tmpPath, dest)
}

func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
