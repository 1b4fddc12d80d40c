package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/dvlab/dvlab-api/internal/models"
)

const wishlistColumns = "id, description, price, href, booked, hidden, image_url, created_at"

// WishlistRepository persists wishlist items.
type WishlistRepository struct {
	db *sqlx.DB
}

// NewWishlistRepository constructs the repository.
func NewWishlistRepository(db *sqlx.DB) *WishlistRepository {
	return &WishlistRepository{db: db}
}

// List returns items in creation order. Hidden items are skipped unless requested.
func (r *WishlistRepository) List(ctx context.Context, filter models.WishlistFilter) ([]models.WishlistItem, error) {
	query := "SELECT " + wishlistColumns + " FROM wishlist_items"
	if !filter.IncludeHidden {
		query += " WHERE hidden = FALSE"
	}
	query += " ORDER BY created_at ASC"

	items := make([]models.WishlistItem, 0)
	if err := r.db.SelectContext(ctx, &items, query); err != nil {
		return nil, fmt.Errorf("list wishlist items: %w", err)
	}
	return items, nil
}

// Get fetches one item. sql.ErrNoRows is returned unwrapped when absent.
func (r *WishlistRepository) Get(ctx context.Context, id string) (*models.WishlistItem, error) {
	query := "SELECT " + wishlistColumns + " FROM wishlist_items WHERE id = $1"
	var item models.WishlistItem
	if err := r.db.GetContext(ctx, &item, query, id); err != nil {
		return nil, err
	}
	return &item, nil
}

// Create inserts a new item; created_at is assigned by the database.
func (r *WishlistRepository) Create(ctx context.Context, item *models.WishlistItem) error {
	const query = `INSERT INTO wishlist_items (id, description, price, href, booked, hidden, image_url)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING created_at`
	row := r.db.QueryRowxContext(ctx, query, item.ID, item.Description, item.Price, item.Href, item.Booked, item.Hidden, item.ImageURL)
	if err := row.Scan(&item.CreatedAt); err != nil {
		return fmt.Errorf("create wishlist item: %w", err)
	}
	return nil
}

// Update applies patch and returns the stored row.
func (r *WishlistRepository) Update(ctx context.Context, id string, patch models.WishlistPatch) (*models.WishlistItem, error) {
	sets := make([]string, 0, 4)
	args := make([]interface{}, 0, 5)
	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if patch.Description != nil {
		add("description", *patch.Description)
	}
	if patch.Price != nil {
		add("price", *patch.Price)
	}
	if patch.Href != nil {
		add("href", *patch.Href)
	}
	if patch.ImageURL != nil {
		add("image_url", *patch.ImageURL)
	}
	if len(sets) == 0 {
		return r.Get(ctx, id)
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE wishlist_items SET %s WHERE id = $%d RETURNING %s",
		strings.Join(sets, ", "), len(args), wishlistColumns)
	var item models.WishlistItem
	if err := r.db.GetContext(ctx, &item, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("update wishlist item: %w", err)
	}
	return &item, nil
}

// Book marks an unbooked item as booked. It reports false when nothing changed,
// either because the item is missing or because it was already booked.
func (r *WishlistRepository) Book(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE wishlist_items SET booked = TRUE WHERE id = $1 AND booked = FALSE`, id)
	if err != nil {
		return false, fmt.Errorf("book wishlist item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("book wishlist item rows: %w", err)
	}
	return affected == 1, nil
}

// SetHidden toggles visibility for non-admins.
func (r *WishlistRepository) SetHidden(ctx context.Context, id string, hidden bool) (*models.WishlistItem, error) {
	query := "UPDATE wishlist_items SET hidden = $1 WHERE id = $2 RETURNING " + wishlistColumns
	var item models.WishlistItem
	if err := r.db.GetContext(ctx, &item, query, hidden, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("set wishlist item hidden: %w", err)
	}
	return &item, nil
}

// Delete removes an item and returns what was deleted.
func (r *WishlistRepository) Delete(ctx context.Context, id string) (*models.WishlistItem, error) {
	query := "DELETE FROM wishlist_items WHERE id = $1 RETURNING " + wishlistColumns
	var item models.WishlistItem
	if err := r.db.GetContext(ctx, &item, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("delete wishlist item: %w", err)
	}
	return &item, nil
}

// ImageURLs lists every referenced image URL.
func (r *WishlistRepository) ImageURLs(ctx context.Context) ([]string, error) {
	urls := make([]string, 0)
	if err := r.db.SelectContext(ctx, &urls, `SELECT image_url FROM wishlist_items WHERE image_url IS NOT NULL`); err != nil {
		return nil, fmt.Errorf("list wishlist image urls: %w", err)
	}
	return urls, nil
}
