package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrInvalidPath is returned for names that would escape the base directory.
var ErrInvalidPath = errors.New("invalid blob path")

// Blob describes a stored file and the public URL it is served from.
type Blob struct {
	URL        string    `json:"url"`
	Pathname   string    `json:"pathname"`
	Size       int64     `json:"size"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// LocalStorage persists blobs on disk under a base directory and exposes them below a public base URL.
type LocalStorage struct {
	baseDir       string
	publicBaseURL string
}

// NewLocalStorage ensures the base directory exists and returns a handle.
func NewLocalStorage(baseDir, publicBaseURL string) (*LocalStorage, error) {
	if baseDir == "" {
		baseDir = "./uploads"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create uploads directory: %w", err)
	}
	return &LocalStorage{baseDir: baseDir, publicBaseURL: strings.TrimRight(publicBaseURL, "/")}, nil
}

// Dir returns the directory served as static content.
func (s *LocalStorage) Dir() string {
	return s.baseDir
}

// Put writes r under name, replacing any existing blob with the same name.
func (s *LocalStorage) Put(name string, r io.Reader) (Blob, error) {
	target, err := s.resolve(name)
	if err != nil {
		return Blob{}, err
	}

	// Write next to the target and rename so readers never observe a partial file.
	tmp, err := os.CreateTemp(s.baseDir, ".upload-*")
	if err != nil {
		return Blob{}, fmt.Errorf("create temp file: %w", err)
	}
	size, copyErr := io.Copy(tmp, r)
	closeErr := tmp.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(tmp.Name())
		return Blob{}, fmt.Errorf("write blob: %w", errors.Join(copyErr, closeErr))
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		_ = os.Remove(tmp.Name())
		return Blob{}, fmt.Errorf("store blob: %w", err)
	}

	return Blob{URL: s.URL(name), Pathname: name, Size: size, UploadedAt: time.Now().UTC()}, nil
}

// Open returns a read-only handle for the stored blob.
func (s *LocalStorage) Open(name string) (*os.File, error) {
	target, err := s.resolve(name)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(target)
	if err != nil {
		return nil, fmt.Errorf("open blob: %w", err)
	}
	return file, nil
}

// Delete removes a stored blob if present.
func (s *LocalStorage) Delete(name string) error {
	target, err := s.resolve(name)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

// List returns every stored blob sorted by pathname. Temp files are skipped.
func (s *LocalStorage) List() ([]Blob, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("list blobs: %w", err)
	}
	blobs := make([]Blob, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("stat blob: %w", err)
		}
		blobs = append(blobs, Blob{
			URL:        s.URL(entry.Name()),
			Pathname:   entry.Name(),
			Size:       info.Size(),
			UploadedAt: info.ModTime().UTC(),
		})
	}
	sort.Slice(blobs, func(i, j int) bool { return blobs[i].Pathname < blobs[j].Pathname })
	return blobs, nil
}

// DeleteMatching removes blobs for which drop returns true and reports their names.
func (s *LocalStorage) DeleteMatching(drop func(Blob) bool) ([]string, error) {
	blobs, err := s.List()
	if err != nil {
		return nil, err
	}
	deleted := make([]string, 0)
	for _, blob := range blobs {
		if !drop(blob) {
			continue
		}
		if err := s.Delete(blob.Pathname); err != nil {
			return deleted, err
		}
		deleted = append(deleted, blob.Pathname)
	}
	return deleted, nil
}

// URL builds the public URL for name.
func (s *LocalStorage) URL(name string) string {
	return s.publicBaseURL + "/" + path.Clean(name)
}

// PathnameFromURL maps a public URL produced by URL back to its pathname.
func (s *LocalStorage) PathnameFromURL(url string) (string, bool) {
	prefix := s.publicBaseURL + "/"
	if !strings.HasPrefix(url, prefix) {
		return "", false
	}
	name := strings.TrimPrefix(url, prefix)
	if _, err := s.resolve(name); err != nil {
		return "", false
	}
	return name, true
}

func (s *LocalStorage) resolve(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", ErrInvalidPath
	}
	return filepath.Join(s.baseDir, name), nil
}
