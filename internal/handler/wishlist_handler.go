package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/dvlab/dvlab-api/internal/middleware"
	"github.com/dvlab/dvlab-api/internal/models"
	appErrors "github.com/dvlab/dvlab-api/pkg/errors"
	"github.com/dvlab/dvlab-api/pkg/export"
	"github.com/dvlab/dvlab-api/pkg/response"
)

type wishlistService interface {
	List(ctx context.Context, admin bool) ([]models.WishlistItem, bool, error)
	Book(ctx context.Context, id string) (*models.WishlistItem, error)
	Add(ctx context.Context, req models.CreateWishlistItemRequest, image *models.ImageUpload) (*models.WishlistItem, error)
	Update(ctx context.Context, id string, req models.UpdateWishlistItemRequest, image *models.ImageUpload) (*models.WishlistItem, error)
	SetHidden(ctx context.Context, id string, req models.SetHiddenRequest) (*models.WishlistItem, error)
	Delete(ctx context.Context, id string) error
	Export(ctx context.Context, exporter export.Exporter) ([]byte, error)
}

// WishlistHandler serves the gift wishlist.
type WishlistHandler struct {
	service   wishlistService
	admins    middleware.AdminChecker
	exporters map[string]export.Exporter
}

// NewWishlistHandler constructs the handler with CSV and PDF exporters.
func NewWishlistHandler(svc wishlistService, admins middleware.AdminChecker) *WishlistHandler {
	csv := export.NewCSVExporter()
	pdf := export.NewPDFExporter()
	return &WishlistHandler{
		service: svc,
		admins:  admins,
		exporters: map[string]export.Exporter{
			csv.Extension(): csv,
			pdf.Extension(): pdf,
		},
	}
}

// List godoc
// @Summary List wishlist items
// @Description Hidden items are included only for admins
// @Tags Wishlist
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /wishlist [get]
func (h *WishlistHandler) List(c *gin.Context) {
	items, hit, err := h.service.List(c.Request.Context(), middleware.IsAdmin(c, h.admins))
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, hit)
	response.JSON(c, http.StatusOK, items, middleware.ExtractMeta(c))
}

// Book godoc
// @Summary Book an item
// @Tags Wishlist
// @Produce json
// @Param id path string true "Item ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /wishlist/{id}/book [post]
func (h *WishlistHandler) Book(c *gin.Context) {
	item, err := h.service.Book(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item)
}

// Create godoc
// @Summary Add an item
// @Tags Wishlist
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param description formData string true "Description"
// @Param price formData int false "Price"
// @Param href formData string false "Link"
// @Param image formData file false "Image"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /wishlist [post]
func (h *WishlistHandler) Create(c *gin.Context) {
	var req models.CreateWishlistItemRequest
	if err := c.ShouldBind(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid wishlist payload"))
		return
	}
	image, closer, err := formUpload(c, "image")
	if err != nil {
		response.Error(c, err)
		return
	}
	if closer != nil {
		defer closer.Close()
	}

	item, err := h.service.Add(c.Request.Context(), req, image)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, item)
}

// Update godoc
// @Summary Update an item
// @Tags Wishlist
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param id path string true "Item ID"
// @Param description formData string false "Description"
// @Param price formData int false "Price"
// @Param href formData string false "Link"
// @Param image formData file false "Replacement image"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /wishlist/{id} [put]
func (h *WishlistHandler) Update(c *gin.Context) {
	var req models.UpdateWishlistItemRequest
	if err := c.ShouldBind(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid wishlist payload"))
		return
	}
	image, closer, err := formUpload(c, "image")
	if err != nil {
		response.Error(c, err)
		return
	}
	if closer != nil {
		defer closer.Close()
	}

	item, err := h.service.Update(c.Request.Context(), c.Param("id"), req, image)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item)
}

// SetHidden godoc
// @Summary Hide or show an item
// @Tags Wishlist
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Item ID"
// @Param payload body models.SetHiddenRequest true "Visibility"
// @Success 200 {object} response.Envelope
// @Router /wishlist/{id}/hidden [patch]
func (h *WishlistHandler) SetHidden(c *gin.Context) {
	var req models.SetHiddenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	item, err := h.service.SetHidden(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item)
}

// Delete godoc
// @Summary Delete an item
// @Tags Wishlist
// @Security BearerAuth
// @Param id path string true "Item ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /wishlist/{id} [delete]
func (h *WishlistHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Export godoc
// @Summary Export the wishlist
// @Tags Wishlist
// @Produce text/csv
// @Produce application/pdf
// @Security BearerAuth
// @Param format query string false "csv (default) or pdf"
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Router /wishlist/export [get]
func (h *WishlistHandler) Export(c *gin.Context) {
	format := strings.ToLower(c.DefaultQuery("format", "csv"))
	exporter, ok := h.exporters[format]
	if !ok {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf"))
		return
	}
	data, err := h.service.Export(c.Request.Context(), exporter)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"wishlist.%s\"", exporter.Extension()))
	c.Data(http.StatusOK, exporter.ContentType(), data)
}
