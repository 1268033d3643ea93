package core

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// MediaStore writes uploaded files into a dated directory layout under
// the media root, e.g. media/2026/08/photo.jpg.
type MediaStore struct {
	root string
}

func NewMediaStore(root string) (*MediaStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("could not create media root: %w", err)
	}
	return &MediaStore{root: root}, nil
}

func (m *MediaStore) Root() string {
	return m.root
}

// Save stores the reader content under a collision-free name and returns
// the slash-separated path relative to the media root plus the byte count.
func (m *MediaStore) Save(fileName string, reader io.Reader) (string, int64, error) {
	now := time.Now()
	dir := filepath.Join(m.root, fmt.Sprintf("%04d", now.Year()), fmt.Sprintf("%02d", now.Month()))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("could not create media directory: %w", err)
	}

	name, err := m.uniqueName(dir, sanitizeFileName(fileName))
	if err != nil {
		return "", 0, err
	}

	fullPath := filepath.Join(dir, name)
	file, err := os.Create(fullPath)
	if err != nil {
		return "", 0, fmt.Errorf("could not create media file: %w", err)
	}

	size, err := io.Copy(file, reader)
	closeErr := file.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(fullPath)
		return "", 0, fmt.Errorf("could not write media file: %w", err)
	}

	relPath, err := filepath.Rel(m.root, fullPath)
	if err != nil {
		return "", 0, err
	}
	return filepath.ToSlash(relPath), size, nil
}

// Path resolves a stored relative path back to an absolute file path.
func (m *MediaStore) Path(relPath string) string {
	return filepath.Join(m.root, filepath.FromSlash(relPath))
}

func (m *MediaStore) Remove(relPath string) error {
	err := os.Remove(m.Path(relPath))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (m *MediaStore) uniqueName(dir, name string) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	candidate := name
	for i := 1; ; i++ {
		_, err := os.Stat(filepath.Join(dir, candidate))
		if os.IsNotExist(err) {
			return candidate, nil
		}
		if err != nil {
			return "", err
		}
		candidate = fmt.Sprintf("%s-%d%s", stem, i, ext)
	}
}

func sanitizeFileName(name string) string {
	name = filepath.Base(filepath.ToSlash(name))
	name = strings.ReplaceAll(name, " ", "-")
	if name == "" || name == "." || name == ".." {
		name = "upload"
	}
	return name
}
