package util

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// ErrNotDirectory is returned when a path that must be a directory is a file.
var ErrNotDirectory = errors.New("not a directory")

// CheckDirectory reports whether path exists and whether it is a directory.
func CheckDirectory(path string) (exists bool, isDir bool, err error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, false, nil
		}
		return false, false, err
	}
	return true, info.IsDir(), nil
}

// EnsureDirectory creates path if it doesn't exist yet.
func EnsureDirectory(path string) error {
	exists, isDir, err := CheckDirectory(path)
	if err != nil {
		return err
	}
	if !exists {
		return os.MkdirAll(path, 0o755)
	}
	if !isDir {
		return fmt.Errorf("%s: %w", path, ErrNotDirectory)
	}
	return nil
}

// UniquePath returns dir/name, or dir/N_name with the smallest N >= 1 that
// doesn't exist yet.
func UniquePath(dir, name string) (string, error) {
	path := filepath.Join(dir, name)
	for copies := 1; ; copies++ {
		exists, _, err := CheckDirectory(path)
		if err != nil {
			return "", err
		}
		if !exists {
			return path, nil
		}
		path = filepath.Join(dir, strconv.Itoa(copies)+"_"+name)
	}
}
