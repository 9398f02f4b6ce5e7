package anki

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// MediaHave reports whether the media store holds a file with this name.
func (c *Collection) MediaHave(name string) (bool, error) {
	dir, err := c.MediaDir()
	if err != nil {
		return false, err
	}
	_, err = os.Stat(filepath.Join(dir, name))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat media file %q: %w", name, err)
}

// MediaData returns the stored bytes for a media file, or nil when absent.
func (c *Collection) MediaData(name string) ([]byte, error) {
	dir, err := c.MediaDir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, name))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read media file %q: %w", name, err)
	}
	return data, nil
}

// MediaFiles lists the names of all stored media files.
func (c *Collection) MediaFiles() ([]string, error) {
	dir, err := c.MediaDir()
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list media directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// AddMediaFile copies the file at path into the media store and returns the
// name it was stored under. On a name collision with different content the
// store picks a fresh suffixed name rather than overwrite; the caller
// detects the rename by comparing the returned name.
func (c *Collection) AddMediaFile(path string) (string, error) {
	dir, err := c.MediaDir()
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read media source %q: %w", path, err)
	}

	name := filepath.Base(path)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	candidate := name
	for i := 1; ; i++ {
		existing, err := os.ReadFile(filepath.Join(dir, candidate))
		if os.IsNotExist(err) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to read media file %q: %w", candidate, err)
		}
		if bytes.Equal(existing, data) {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d%s", stem, i, ext)
	}

	if err := writeFileAtomic(filepath.Join(dir, candidate), data); err != nil {
		return "", err
	}
	return candidate, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".media-*")
	if err != nil {
		return fmt.Errorf("failed to stage media file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to stage media file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to stage media file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to place media file %q: %w", path, err)
	}
	return nil
}
