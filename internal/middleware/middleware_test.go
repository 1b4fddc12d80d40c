package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dvlab/dvlab-api/internal/models"
	appErrors "github.com/dvlab/dvlab-api/pkg/errors"
)

type stubValidator struct {
	claims *models.JWTClaims
}

func (v stubValidator) ValidateToken(token string) (*models.JWTClaims, error) {
	if token != "valid" {
		return nil, appErrors.Wrap(errors.New("bad signature"), appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}
	return v.claims, nil
}

type stubAdmins map[string]bool

func (s stubAdmins) IsAdmin(email string) bool { return s[email] }

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/", append(handlers, func(c *gin.Context) {
		claims := ClaimsFromContext(c)
		if claims == nil {
			c.String(http.StatusOK, "anonymous")
			return
		}
		c.String(http.StatusOK, claims.Email)
	})...)
	return r
}

func serve(r http.Handler, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestJWTRequiresValidBearer(t *testing.T) {
	r := newRouter(JWT(stubValidator{claims: &models.JWTClaims{Email: "owner@example.com"}}))

	assert.Equal(t, http.StatusUnauthorized, serve(r, "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, "Basic abc").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, "Bearer forged").Code)

	rec := serve(r, "bearer valid")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "owner@example.com", rec.Body.String())
}

func TestOptionalJWTNeverBlocks(t *testing.T) {
	r := newRouter(OptionalJWT(stubValidator{claims: &models.JWTClaims{Email: "guest@example.com"}}))

	assert.Equal(t, "anonymous", serve(r, "").Body.String())
	assert.Equal(t, "anonymous", serve(r, "Bearer forged").Body.String())
	assert.Equal(t, "guest@example.com", serve(r, "Bearer valid").Body.String())
}

func TestAdminOnly(t *testing.T) {
	admins := stubAdmins{"owner@example.com": true}

	r := newRouter(JWT(stubValidator{claims: &models.JWTClaims{Email: "owner@example.com"}}), AdminOnly(admins))
	assert.Equal(t, http.StatusOK, serve(r, "Bearer valid").Code)

	r = newRouter(JWT(stubValidator{claims: &models.JWTClaims{Email: "guest@example.com"}}), AdminOnly(admins))
	assert.Equal(t, http.StatusForbidden, serve(r, "Bearer valid").Code)

	r = newRouter(AdminOnly(admins))
	assert.Equal(t, http.StatusUnauthorized, serve(r, "").Code)
}

func TestSessionCookieAssignsAndKeepsID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(SessionCookie("dvlab_session", false, time.Hour))
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, SessionID(c)) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	issued := rec.Body.String()
	require.NoError(t, uuid.Validate(issued))
	assert.Contains(t, rec.Header().Get("Set-Cookie"), "dvlab_session="+issued)
	assert.Contains(t, strings.ToLower(rec.Header().Get("Set-Cookie")), "httponly")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "dvlab_session", Value: issued})
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, issued, rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "dvlab_session", Value: "../../etc"})
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.NotEqual(t, "../../etc", rec.Body.String())
}

func TestResponseMeta(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(WithResponseMeta())
	var meta map[string]interface{}
	r.GET("/", func(c *gin.Context) {
		SetCacheHit(c, true)
		meta = ExtractMeta(c)
		c.Status(http.StatusNoContent)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	require.NotNil(t, meta)
	assert.Equal(t, true, meta["cache_hit"])
	assert.Contains(t, meta, "processing_time_ms")
}

func TestAuditLogsOnlySuccessfulActions(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.InfoLevel)
	r := gin.New()
	r.DELETE("/wishlist/:id", func(c *gin.Context) {
		c.Set(ContextUserKey, &models.JWTClaims{Email: "owner@example.com"})
		c.Next()
	}, Audit(zap.New(core), models.AuditActionWishlistDelete, "wishlist"), func(c *gin.Context) {
		if c.Param("id") == "missing" {
			c.Status(http.StatusNotFound)
			return
		}
		c.Status(http.StatusNoContent)
	})

	for _, id := range []string{"item-1", "missing"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/wishlist/"+id, nil))
	}

	entries := logs.FilterMessage("admin action").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "owner@example.com", fields["actor"])
	assert.Equal(t, "item-1", fields["resource_id"])
	assert.Equal(t, models.AuditActionWishlistDelete, fields["action"])
	assert.Equal(t, "/wishlist/:id", fields["path"])
}
