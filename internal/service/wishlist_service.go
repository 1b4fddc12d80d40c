package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dvlab/dvlab-api/internal/models"
	appErrors "github.com/dvlab/dvlab-api/pkg/errors"
	"github.com/dvlab/dvlab-api/pkg/export"
	"github.com/dvlab/dvlab-api/pkg/jobs"
)

const (
	wishlistCachePattern = "wishlist:*"
	wishlistCacheAdmin   = "wishlist:list:admin"
	wishlistCachePublic  = "wishlist:list:public"
)

type wishlistRepository interface {
	List(ctx context.Context, filter models.WishlistFilter) ([]models.WishlistItem, error)
	Get(ctx context.Context, id string) (*models.WishlistItem, error)
	Create(ctx context.Context, item *models.WishlistItem) error
	Update(ctx context.Context, id string, patch models.WishlistPatch) (*models.WishlistItem, error)
	Book(ctx context.Context, id string) (bool, error)
	SetHidden(ctx context.Context, id string, hidden bool) (*models.WishlistItem, error)
	Delete(ctx context.Context, id string) (*models.WishlistItem, error)
	ImageURLs(ctx context.Context) ([]string, error)
}

type imageCleanupQueue interface {
	Enqueue(job jobs.Job[string]) error
}

// WishlistService implements gift list management.
type WishlistService struct {
	repo      wishlistRepository
	uploads   *UploadService
	cache     *CacheService
	cleanup   imageCleanupQueue
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	cacheTTL  time.Duration
}

// NewWishlistService constructs the service. cleanup may be nil, in which
// case replaced images are deleted inline.
func NewWishlistService(repo wishlistRepository, uploads *UploadService, cache *CacheService, cleanup imageCleanupQueue, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, cacheTTL time.Duration) *WishlistService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &WishlistService{
		repo:      repo,
		uploads:   uploads,
		cache:     cache,
		cleanup:   cleanup,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		cacheTTL:  cacheTTL,
	}
}

// ImageCleanupHandler deletes the blob named by the job payload.
func ImageCleanupHandler(uploads *UploadService) jobs.Handler[string] {
	return func(ctx context.Context, job jobs.Job[string]) error {
		return uploads.Delete(ctx, job.Payload)
	}
}

// List returns items in creation order and whether they came from cache.
// Hidden items are only visible to admins.
func (s *WishlistService) List(ctx context.Context, admin bool) ([]models.WishlistItem, bool, error) {
	key := wishlistCachePublic
	if admin {
		key = wishlistCacheAdmin
	}
	items, hit, err := cachedLoad(ctx, s.cache, key, s.cacheTTL, func() ([]models.WishlistItem, error) {
		start := time.Now()
		defer func() { s.metrics.ObserveDBQuery("wishlist_list", time.Since(start)) }()
		return s.repo.List(ctx, models.WishlistFilter{IncludeHidden: admin})
	})
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list wishlist")
	}
	return items, hit, nil
}

// Book marks an item as booked. Booking twice is a conflict.
func (s *WishlistService) Book(ctx context.Context, id string) (*models.WishlistItem, error) {
	changed, err := s.repo.Book(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to book item")
	}
	item, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, appErrors.Clone(appErrors.ErrConflict, "item is already booked")
	}
	s.invalidate(ctx)
	s.logger.Info("wishlist item booked", zap.String("item_id", id))
	return item, nil
}

// Add creates an item and stores its optional image as <id>.<ext>.
func (s *WishlistService) Add(ctx context.Context, req models.CreateWishlistItemRequest, image *models.ImageUpload) (*models.WishlistItem, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid wishlist item payload")
	}
	item := &models.WishlistItem{
		ID:          uuid.NewString(),
		Description: req.Description,
		Price:       req.Price,
		Href:        req.Href,
	}
	if image != nil {
		blob, err := s.uploads.SaveAs(ctx, item.ID, *image)
		if err != nil {
			return nil, err
		}
		item.ImageURL = &blob.URL
	}
	if err := s.repo.Create(ctx, item); err != nil {
		if item.ImageURL != nil {
			s.discardImage(*item.ImageURL)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create item")
	}
	s.invalidate(ctx)
	return item, nil
}

// Update edits an item. A new image replaces the old one; when the file
// extension changes the previous blob is removed in the background.
func (s *WishlistService) Update(ctx context.Context, id string, req models.UpdateWishlistItemRequest, image *models.ImageUpload) (*models.WishlistItem, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid wishlist item payload")
	}
	current, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}

	patch := models.WishlistPatch{Description: req.Description, Price: req.Price, Href: req.Href}
	if image != nil {
		blob, err := s.uploads.SaveAs(ctx, id, *image)
		if err != nil {
			return nil, err
		}
		patch.ImageURL = &blob.URL
	}
	if patch.Empty() {
		return current, nil
	}

	updated, err := s.repo.Update(ctx, id, patch)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "wishlist item not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update item")
	}
	if patch.ImageURL != nil && current.ImageURL != nil && *current.ImageURL != *patch.ImageURL {
		s.discardImage(*current.ImageURL)
	}
	s.invalidate(ctx)
	return updated, nil
}

// SetHidden toggles visibility for non-admin visitors.
func (s *WishlistService) SetHidden(ctx context.Context, id string, req models.SetHiddenRequest) (*models.WishlistItem, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "hidden flag is required")
	}
	item, err := s.repo.SetHidden(ctx, id, *req.Hidden)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "wishlist item not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update item")
	}
	s.invalidate(ctx)
	return item, nil
}

// Delete removes an item and schedules its image for deletion.
func (s *WishlistService) Delete(ctx context.Context, id string) error {
	item, err := s.repo.Delete(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "wishlist item not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete item")
	}
	if item.ImageURL != nil {
		s.discardImage(*item.ImageURL)
	}
	s.invalidate(ctx)
	return nil
}

// CleanupOrphanImages deletes stored images no item references any more.
func (s *WishlistService) CleanupOrphanImages(ctx context.Context) (int, error) {
	urls, err := s.repo.ImageURLs(ctx)
	if err != nil {
		return 0, err
	}
	deleted, err := s.uploads.DeleteUnreferenced(ctx, urls)
	if len(deleted) > 0 {
		s.logger.Info("removed orphan wishlist images", zap.Strings("pathnames", deleted))
	}
	return len(deleted), err
}

// Export renders every item, hidden ones included, with exporter.
func (s *WishlistService) Export(ctx context.Context, exporter export.Exporter) ([]byte, error) {
	items, _, err := s.List(ctx, true)
	if err != nil {
		return nil, err
	}
	table := export.Table{
		Title: "Wishlist",
		Columns: []export.Column{
			{Key: "description", Title: "Description", Width: 4},
			{Key: "price", Title: "Price", Width: 1, Align: "R"},
			{Key: "href", Title: "Link", Width: 4},
			{Key: "booked", Title: "Booked", Width: 1, Align: "C"},
			{Key: "hidden", Title: "Hidden", Width: 1, Align: "C"},
			{Key: "created_at", Title: "Added", Width: 2},
		},
		Rows: make([]map[string]string, 0, len(items)),
	}
	for _, item := range items {
		table.Rows = append(table.Rows, map[string]string{
			"description": item.Description,
			"price":       strconv.Itoa(item.Price),
			"href":        item.Href,
			"booked":      yesNo(item.Booked),
			"hidden":      yesNo(item.Hidden),
			"created_at":  item.CreatedAt.Format("2006-01-02"),
		})
	}
	out, err := exporter.Render(table)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, fmt.Sprintf("failed to render %s export", exporter.Extension()))
	}
	return out, nil
}

func (s *WishlistService) get(ctx context.Context, id string) (*models.WishlistItem, error) {
	item, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "wishlist item not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load item")
	}
	return item, nil
}

func (s *WishlistService) invalidate(ctx context.Context) {
	s.cache.Invalidate(ctx, wishlistCachePattern)
}

// discardImage removes the blob behind url, through the cleanup queue when one is running.
func (s *WishlistService) discardImage(url string) {
	name, ok := s.uploads.PathnameFromURL(url)
	if !ok {
		return
	}
	if s.cleanup != nil {
		err := s.cleanup.Enqueue(jobs.Job[string]{ID: "image:" + name, Payload: name})
		if err == nil {
			return
		}
		s.logger.Warn("image cleanup queue unavailable, deleting inline", zap.Error(err))
	}
	if err := s.uploads.Delete(context.Background(), name); err != nil {
		s.logger.Warn("failed to delete image", zap.String("pathname", name), zap.Error(err))
	}
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
