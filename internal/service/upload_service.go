package service

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/dvlab/dvlab-api/internal/models"
	appErrors "github.com/dvlab/dvlab-api/pkg/errors"
	"github.com/dvlab/dvlab-api/pkg/storage"
)

type blobStore interface {
	Put(name string, r io.Reader) (storage.Blob, error)
	Delete(name string) error
	List() ([]storage.Blob, error)
	DeleteMatching(drop func(storage.Blob) bool) ([]string, error)
	PathnameFromURL(url string) (string, bool)
}

// UploadConfig bounds accepted uploads.
type UploadConfig struct {
	MaxFileSize  int64
	AllowedMIMEs []string
}

var extensionsByMIME = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/webp": "webp",
}

// UploadService validates and stores public files such as wishlist images.
type UploadService struct {
	store   blobStore
	cfg     UploadConfig
	allowed map[string]struct{}
	logger  *zap.Logger
}

// NewUploadService constructs the service.
func NewUploadService(store blobStore, cfg UploadConfig, logger *zap.Logger) *UploadService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 5 << 20
	}
	allowed := make(map[string]struct{}, len(cfg.AllowedMIMEs))
	for _, mime := range cfg.AllowedMIMEs {
		allowed[strings.ToLower(strings.TrimSpace(mime))] = struct{}{}
	}
	return &UploadService{store: store, cfg: cfg, allowed: allowed, logger: logger}
}

// Upload stores file under its own (sanitized) name, replacing an existing blob.
func (s *UploadService) Upload(ctx context.Context, file models.ImageUpload) (storage.Blob, error) {
	name := sanitizeFilename(file.Filename)
	if name == "" {
		return storage.Blob{}, appErrors.Clone(appErrors.ErrValidation, "filename is required")
	}
	content, _, err := s.inspect(file)
	if err != nil {
		return storage.Blob{}, err
	}
	return s.put(name, content)
}

// SaveAs stores file as <base>.<ext>, the extension taken from the sniffed
// content type or, failing that, from the original filename.
func (s *UploadService) SaveAs(ctx context.Context, base string, file models.ImageUpload) (storage.Blob, error) {
	content, mime, err := s.inspect(file)
	if err != nil {
		return storage.Blob{}, err
	}
	ext, ok := extensionsByMIME[mime]
	if !ok {
		ext = strings.TrimPrefix(strings.ToLower(filepath.Ext(file.Filename)), ".")
	}
	if ext == "" {
		return storage.Blob{}, appErrors.Clone(appErrors.ErrValidation, "cannot determine file extension")
	}
	return s.put(base+"."+ext, content)
}

// List returns every stored blob.
func (s *UploadService) List(ctx context.Context) ([]storage.Blob, error) {
	blobs, err := s.store.List()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list uploads")
	}
	return blobs, nil
}

// Delete removes a blob by pathname. A missing blob is not an error.
func (s *UploadService) Delete(ctx context.Context, pathname string) error {
	return s.store.Delete(pathname)
}

// PathnameFromURL maps a public URL back to the stored pathname.
func (s *UploadService) PathnameFromURL(url string) (string, bool) {
	return s.store.PathnameFromURL(url)
}

// DeleteUnreferenced removes blobs whose public URL is not in referenced.
func (s *UploadService) DeleteUnreferenced(ctx context.Context, referenced []string) ([]string, error) {
	keep := make(map[string]struct{}, len(referenced))
	for _, url := range referenced {
		if name, ok := s.store.PathnameFromURL(url); ok {
			keep[name] = struct{}{}
		}
	}
	deleted, err := s.store.DeleteMatching(func(b storage.Blob) bool {
		_, ok := keep[b.Pathname]
		return !ok
	})
	if err != nil {
		return deleted, fmt.Errorf("delete unreferenced uploads: %w", err)
	}
	return deleted, nil
}

// inspect enforces the size limit and MIME allowlist. The returned reader
// replays the sniffed prefix.
func (s *UploadService) inspect(file models.ImageUpload) (io.Reader, string, error) {
	if file.Content == nil {
		return nil, "", appErrors.Clone(appErrors.ErrValidation, "file is required")
	}
	if file.Size > s.cfg.MaxFileSize {
		return nil, "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("file exceeds %d bytes", s.cfg.MaxFileSize))
	}

	buffered := bufio.NewReaderSize(file.Content, 512)
	head, err := buffered.Peek(512)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return nil, "", appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "failed to read file")
	}
	if len(head) == 0 {
		return nil, "", appErrors.Clone(appErrors.ErrValidation, "file is empty")
	}
	mime := strings.ToLower(strings.SplitN(http.DetectContentType(head), ";", 2)[0])
	if len(s.allowed) > 0 {
		if _, ok := s.allowed[mime]; !ok {
			return nil, "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("file type %s is not allowed", mime))
		}
	}
	// Bound the copy in case the declared size was wrong.
	return io.LimitReader(buffered, s.cfg.MaxFileSize+1), mime, nil
}

func (s *UploadService) put(name string, content io.Reader) (storage.Blob, error) {
	blob, err := s.store.Put(name, content)
	if err != nil {
		return storage.Blob{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store upload")
	}
	if blob.Size > s.cfg.MaxFileSize {
		_ = s.store.Delete(name)
		return storage.Blob{}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("file exceeds %d bytes", s.cfg.MaxFileSize))
	}
	s.logger.Info("upload stored", zap.String("pathname", blob.Pathname), zap.Int64("size", blob.Size))
	return blob, nil
}

func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	name = strings.TrimLeft(name, ".")
	if name == "/" {
		return ""
	}
	return name
}
