package build

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/opencontainers/go-digest"
)

// copyFile copies src to dst, creating parent directories, and returns
// the digest of the copied bytes.
func copyFile(src, dst string) (digest.Digest, error) {
	data, err := os.ReadFile(src)
	if err != nil {
		return "", fmt.Errorf("build: read %s: %w", src, err)
	}
	if err := writeFile(dst, data); err != nil {
		return "", err
	}
	return digest.FromBytes(data), nil
}

// zipDir packs a directory tree into a zip archive at dst, storing
// paths relative to the directory root, and returns the archive digest.
func zipDir(dir, dst string) (digest.Digest, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("build: mkdir: %w", err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("build: create %s: %w", dst, err)
	}
	defer out.Close()

	digester := digest.Canonical.Digester()
	w := zip.NewWriter(io.MultiWriter(out, digester.Hash()))

	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		f, err := w.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		in, err := os.Open(p)
		if err != nil {
			return err
		}
		defer in.Close()
		_, err = io.Copy(f, in)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("build: zip %s: %w", dir, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("build: finish zip: %w", err)
	}
	return digester.Digest(), nil
}
