package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/mmcdole/marquee/internal/domain"
)

// ManifestExt is the extension of HLS manifests
const ManifestExt = ".m3u8"

// Expander unpacks downloaded packages and locates their manifest
type Expander struct {
	logger *slog.Logger
}

// NewExpander creates a new archive expander
func NewExpander(logger *slog.Logger) *Expander {
	if logger == nil {
		logger = slog.Default()
	}
	return &Expander{logger: logger}
}

// Expand extracts every entry of zipPath into dir, overwriting existing files.
// Entries that would land outside dir are rejected.
func (e *Expander) Expand(zipPath, dir string) error {
	r, err := zip.OpenReader(zipPath)
	if errors.Is(err, zip.ErrInsecurePath) {
		r.Close()
		return fmt.Errorf("%w: %s", domain.ErrPathEscapesRoot, zipPath)
	}
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer r.Close()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create package directory: %w", err)
	}

	root, err := filepath.Abs(dir)
	if err != nil {
		return err
	}

	for _, f := range r.File {
		target, err := entryPath(root, f.Name)
		if err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
			continue
		}
		if err := extractFile(f, target); err != nil {
			return fmt.Errorf("failed to extract %s: %w", f.Name, err)
		}
	}

	e.logger.Debug("archive expanded", "zip", zipPath, "dir", dir, "entries", len(r.File))
	return nil
}

// entryPath resolves an archive entry name below root
func entryPath(root, name string) (string, error) {
	target := filepath.Join(root, filepath.FromSlash(name))
	if target != root && !strings.HasPrefix(target, root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: archive entry %q", domain.ErrPathEscapesRoot, name)
	}
	return target, nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

// FindManifest returns the absolute path of the first .m3u8 below dir
func (e *Expander) FindManifest(dir string) (string, error) {
	rel, err := FindManifestFS(os.DirFS(dir))
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, filepath.FromSlash(rel)), nil
}

// FindManifestFS walks fsys depth first, visiting entries of each directory in
// lexical order, and stops at the first manifest file.
func FindManifestFS(fsys fs.FS) (string, error) {
	found, err := walkDepthFirst(fsys, ".")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", domain.ErrManifestNotFound
		}
		return "", err
	}
	if found == "" {
		return "", domain.ErrManifestNotFound
	}
	return found, nil
}

func walkDepthFirst(fsys fs.FS, dir string) (string, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return "", err
	}
	for _, entry := range entries {
		p := path.Join(dir, entry.Name())
		if entry.IsDir() {
			found, err := walkDepthFirst(fsys, p)
			if err != nil {
				return "", err
			}
			if found != "" {
				return found, nil
			}
			continue
		}
		if entry.Type().IsRegular() && strings.EqualFold(path.Ext(p), ManifestExt) {
			return p, nil
		}
	}
	return "", nil
}
