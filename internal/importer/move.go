package importer

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// MovePath moves a file or directory. It first attempts an atomic rename;
// when that fails — typically across a filesystem boundary — it falls back
// to a recursive copy followed by deletion of the source.
func MovePath(src, dest string) error {
	if err := os.Rename(src, dest); err == nil {
		return nil
	}

	fi, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", src, err)
	}

	if fi.IsDir() {
		if err := copyDir(src, dest); err != nil {
			return err
		}
	} else {
		if err := copyFile(src, dest, fi.Mode().Perm()); err != nil {
			return err
		}
	}

	if err := os.RemoveAll(src); err != nil {
		return fmt.Errorf("failed to remove source %s after copy: %w", src, err)
	}
	return nil
}

// copyDir recursively copies a directory tree.
func copyDir(src, dest string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return fmt.Errorf("failed to read directory %s: %w", src, err)
	}

	if err := os.MkdirAll(dest, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dest, err)
	}

	for _, entry := range entries {
		srcPath := filepath.Join(src, entry.Name())
		destPath := filepath.Join(dest, entry.Name())

		if entry.IsDir() {
			if err := copyDir(srcPath, destPath); err != nil {
				return err
			}
			continue
		}

		fi, err := entry.Info()
		if err != nil {
			return fmt.Errorf("failed to stat %s: %w", srcPath, err)
		}
		if err := copyFile(srcPath, destPath, fi.Mode().Perm()); err != nil {
			return err
		}
	}
	return nil
}

// copyFile copies a single regular file.
func copyFile(src, dest string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", dest, err)
	}
	return nil
}
