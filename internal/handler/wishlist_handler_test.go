package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvlab/dvlab-api/internal/middleware"
	"github.com/dvlab/dvlab-api/internal/models"
	appErrors "github.com/dvlab/dvlab-api/pkg/errors"
	"github.com/dvlab/dvlab-api/pkg/export"
	"github.com/dvlab/dvlab-api/pkg/storage"
)

type fakeWishlistSrv struct {
	items      []models.WishlistItem
	hit        bool
	lastAdmin  bool
	bookErr    error
	created    models.CreateWishlistItemRequest
	updated    models.UpdateWishlistItemRequest
	imageName  string
	imageBytes []byte
	hidden     *bool
	deleted    string
}

func (f *fakeWishlistSrv) List(_ context.Context, admin bool) ([]models.WishlistItem, bool, error) {
	f.lastAdmin = admin
	return f.items, f.hit, nil
}

func (f *fakeWishlistSrv) Book(_ context.Context, id string) (*models.WishlistItem, error) {
	if f.bookErr != nil {
		return nil, f.bookErr
	}
	return &models.WishlistItem{ID: id, Booked: true}, nil
}

func (f *fakeWishlistSrv) Add(_ context.Context, req models.CreateWishlistItemRequest, image *models.ImageUpload) (*models.WishlistItem, error) {
	f.created = req
	f.readImage(image)
	return &models.WishlistItem{ID: "item-1", Description: req.Description, Price: req.Price}, nil
}

func (f *fakeWishlistSrv) Update(_ context.Context, id string, req models.UpdateWishlistItemRequest, image *models.ImageUpload) (*models.WishlistItem, error) {
	f.updated = req
	f.readImage(image)
	return &models.WishlistItem{ID: id}, nil
}

func (f *fakeWishlistSrv) SetHidden(_ context.Context, id string, req models.SetHiddenRequest) (*models.WishlistItem, error) {
	f.hidden = req.Hidden
	return &models.WishlistItem{ID: id, Hidden: *req.Hidden}, nil
}

func (f *fakeWishlistSrv) Delete(_ context.Context, id string) error {
	f.deleted = id
	return nil
}

func (f *fakeWishlistSrv) Export(_ context.Context, exporter export.Exporter) ([]byte, error) {
	return exporter.Render(export.Table{
		Columns: []export.Column{{Key: "description", Title: "Description"}},
		Rows:    []map[string]string{{"description": "Teapot"}},
	})
}

func (f *fakeWishlistSrv) readImage(image *models.ImageUpload) {
	if image == nil {
		return
	}
	f.imageName = image.Filename
	f.imageBytes, _ = io.ReadAll(image.Content)
}

type adminList map[string]bool

func (a adminList) IsAdmin(email string) bool { return a[email] }

func multipartBody(t *testing.T, fields map[string]string, fileField, fileName string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	if fileField != "" {
		part, err := writer.CreateFormFile(fileField, fileName)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func TestWishlistHandlerListAsGuest(t *testing.T) {
	svc := &fakeWishlistSrv{items: []models.WishlistItem{{ID: "a"}}, hit: true}
	handler := NewWishlistHandler(svc, adminList{"owner@example.com": true})
	c, rec := newContext(http.MethodGet, "/wishlist", nil)
	middleware.WithResponseMeta()(c)

	handler.List(c)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, svc.lastAdmin)
	var envelope struct {
		Data []models.WishlistItem  `json:"data"`
		Meta map[string]interface{} `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Len(t, envelope.Data, 1)
	assert.Equal(t, true, envelope.Meta["cache_hit"])
}

func TestWishlistHandlerListAsAdmin(t *testing.T) {
	svc := &fakeWishlistSrv{}
	handler := NewWishlistHandler(svc, adminList{"owner@example.com": true})
	c, _ := newContext(http.MethodGet, "/wishlist", nil)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{Email: "owner@example.com"})

	handler.List(c)

	assert.True(t, svc.lastAdmin)
}

func TestWishlistHandlerBookConflict(t *testing.T) {
	handler := NewWishlistHandler(&fakeWishlistSrv{bookErr: appErrors.Clone(appErrors.ErrConflict, "item is already booked")}, adminList{})
	c, rec := newContext(http.MethodPost, "/wishlist/item-1/book", nil)

	handler.Book(c)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "item is already booked", decode(t, rec).Error.Message)
}

func TestWishlistHandlerCreateMultipartWithImage(t *testing.T) {
	svc := &fakeWishlistSrv{}
	handler := NewWishlistHandler(svc, adminList{})
	body, contentType := multipartBody(t, map[string]string{
		"description": "Teapot",
		"price":       "25",
		"href":        "https://shop.example.com/teapot",
	}, "image", "teapot.png", []byte("png-bytes"))
	c, rec := newContext(http.MethodPost, "/wishlist", body)
	c.Request.Header.Set("Content-Type", contentType)

	handler.Create(c)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "Teapot", svc.created.Description)
	assert.Equal(t, 25, svc.created.Price)
	assert.Equal(t, "https://shop.example.com/teapot", svc.created.Href)
	assert.Equal(t, "teapot.png", svc.imageName)
	assert.Equal(t, []byte("png-bytes"), svc.imageBytes)
}

func TestWishlistHandlerCreateJSONWithoutImage(t *testing.T) {
	svc := &fakeWishlistSrv{}
	handler := NewWishlistHandler(svc, adminList{})
	c, rec := newContext(http.MethodPost, "/wishlist", strings.NewReader(`{"description":"Book","price":10}`))
	c.Request.Header.Set("Content-Type", "application/json")

	handler.Create(c)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "Book", svc.created.Description)
	assert.Empty(t, svc.imageName)
}

func TestWishlistHandlerUpdateKeepsAbsentFields(t *testing.T) {
	svc := &fakeWishlistSrv{}
	handler := NewWishlistHandler(svc, adminList{})
	c, rec := newContext(http.MethodPut, "/wishlist/item-1", strings.NewReader(`{"price":40}`))
	c.Request.Header.Set("Content-Type", "application/json")

	handler.Update(c)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, svc.updated.Price)
	assert.Equal(t, 40, *svc.updated.Price)
	assert.Nil(t, svc.updated.Description)
}

func TestWishlistHandlerSetHidden(t *testing.T) {
	svc := &fakeWishlistSrv{}
	handler := NewWishlistHandler(svc, adminList{})
	c, rec := newContext(http.MethodPatch, "/wishlist/item-1/hidden", strings.NewReader(`{"hidden":true}`))
	c.Request.Header.Set("Content-Type", "application/json")

	handler.SetHidden(c)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, svc.hidden)
	assert.True(t, *svc.hidden)
}

func TestWishlistHandlerExport(t *testing.T) {
	handler := NewWishlistHandler(&fakeWishlistSrv{}, adminList{})

	c, rec := newContext(http.MethodGet, "/wishlist/export", nil)
	handler.Export(c)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "wishlist.csv")
	assert.Contains(t, rec.Body.String(), "Teapot")

	c, rec = newContext(http.MethodGet, "/wishlist/export?format=pdf", nil)
	handler.Export(c)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")))

	c, rec = newContext(http.MethodGet, "/wishlist/export?format=xlsx", nil)
	handler.Export(c)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type fakeUploadSrv struct {
	name  string
	blobs []storage.Blob
}

func (f *fakeUploadSrv) Upload(_ context.Context, file models.ImageUpload) (storage.Blob, error) {
	f.name = file.Filename
	return storage.Blob{URL: "http://localhost:8080/uploads/files/" + file.Filename, Pathname: file.Filename}, nil
}

func (f *fakeUploadSrv) List(context.Context) ([]storage.Blob, error) {
	return f.blobs, nil
}

func TestUploadHandlerRequiresFile(t *testing.T) {
	handler := NewUploadHandler(&fakeUploadSrv{})
	body, contentType := multipartBody(t, map[string]string{"filename": "x.png"}, "", "", nil)
	c, rec := newContext(http.MethodPost, "/uploads", body)
	c.Request.Header.Set("Content-Type", contentType)

	handler.Upload(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadHandlerUsesFilenameOverride(t *testing.T) {
	svc := &fakeUploadSrv{}
	handler := NewUploadHandler(svc)
	body, contentType := multipartBody(t, map[string]string{"filename": "cover.png"}, "file", "IMG_0001.png", []byte("data"))
	c, rec := newContext(http.MethodPost, "/uploads", body)
	c.Request.Header.Set("Content-Type", contentType)

	handler.Upload(c)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "cover.png", svc.name)
	envelope := decode(t, rec)
	assert.Equal(t, "cover.png", envelope.Data["pathname"])
}
