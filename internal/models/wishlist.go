package models

import (
	"io"
	"time"
)

// WishlistItem is a single gift entry.
type WishlistItem struct {
	ID          string    `db:"id" json:"id"`
	Description string    `db:"description" json:"description"`
	Price       int       `db:"price" json:"price"`
	Href        string    `db:"href" json:"href"`
	Booked      bool      `db:"booked" json:"booked"`
	Hidden      bool      `db:"hidden" json:"hidden"`
	ImageURL    *string   `db:"image_url" json:"imageUrl,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}

// WishlistFilter narrows list queries.
type WishlistFilter struct {
	IncludeHidden bool
}

// WishlistPatch carries the editable fields; nil leaves a field untouched.
type WishlistPatch struct {
	Description *string
	Price       *int
	Href        *string
	ImageURL    *string
}

// Empty reports a patch without changes.
func (p WishlistPatch) Empty() bool {
	return p.Description == nil && p.Price == nil && p.Href == nil && p.ImageURL == nil
}

// CreateWishlistItemRequest is the add-item payload.
type CreateWishlistItemRequest struct {
	Description string `form:"description" json:"description" validate:"required,max=500"`
	Price       int    `form:"price" json:"price" validate:"gte=0"`
	Href        string `form:"href" json:"href" validate:"omitempty,url"`
}

// UpdateWishlistItemRequest edits an item; absent fields are kept.
type UpdateWishlistItemRequest struct {
	Description *string `form:"description" json:"description" validate:"omitempty,min=1,max=500"`
	Price       *int    `form:"price" json:"price" validate:"omitempty,gte=0"`
	Href        *string `form:"href" json:"href" validate:"omitempty,url"`
}

// SetHiddenRequest toggles item visibility.
type SetHiddenRequest struct {
	Hidden *bool `json:"hidden" validate:"required"`
}

// ImageUpload is an uploaded file handed to the services.
type ImageUpload struct {
	Filename string
	Size     int64
	Content  io.Reader
}
