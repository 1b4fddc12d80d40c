package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dvlab/dvlab-api/internal/models"
	appErrors "github.com/dvlab/dvlab-api/pkg/errors"
	"github.com/dvlab/dvlab-api/pkg/response"
	"github.com/dvlab/dvlab-api/pkg/storage"
)

type uploadService interface {
	Upload(ctx context.Context, file models.ImageUpload) (storage.Blob, error)
	List(ctx context.Context) ([]storage.Blob, error)
}

// UploadHandler exposes the blob store to admins.
type UploadHandler struct {
	service uploadService
}

// NewUploadHandler constructs the handler.
func NewUploadHandler(svc uploadService) *UploadHandler {
	return &UploadHandler{service: svc}
}

// Upload godoc
// @Summary Upload a file
// @Tags Uploads
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param file formData file true "File"
// @Param filename formData string false "Stored name, defaults to the uploaded name"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /uploads [post]
func (h *UploadHandler) Upload(c *gin.Context) {
	file, closer, err := formUpload(c, "file")
	if err != nil {
		response.Error(c, err)
		return
	}
	if file == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "file is required"))
		return
	}
	defer closer.Close()
	if name := c.PostForm("filename"); name != "" {
		file.Filename = name
	}

	blob, err := h.service.Upload(c.Request.Context(), *file)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, blob)
}

// List godoc
// @Summary List stored files
// @Tags Uploads
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /uploads [get]
func (h *UploadHandler) List(c *gin.Context) {
	blobs, err := h.service.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, blobs)
}

// formUpload opens a multipart file field. A missing field yields a nil upload.
func formUpload(c *gin.Context, field string) (*models.ImageUpload, io.Closer, error) {
	header, err := c.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return nil, nil, nil
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid multipart payload")
	}
	src, err := header.Open()
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open file")
	}
	return &models.ImageUpload{Filename: header.Filename, Size: header.Size, Content: src}, src, nil
}
