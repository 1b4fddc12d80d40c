package models

import "time"

// Audit actions recorded for admin mutations.
const (
	AuditActionWishlistCreate = "WISHLIST_CREATE"
	AuditActionWishlistUpdate = "WISHLIST_UPDATE"
	AuditActionWishlistHide   = "WISHLIST_HIDE"
	AuditActionWishlistDelete = "WISHLIST_DELETE"
	AuditActionUpload         = "UPLOAD_CREATE"
)

// AuditEntry is one admin action.
type AuditEntry struct {
	Actor      string
	Action     string
	Resource   string
	ResourceID string
	Method     string
	Path       string
	Status     int
	Latency    time.Duration
	IPAddress  string
	UserAgent  string
}
