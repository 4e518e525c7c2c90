package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/civicdesk/civicdesk-api/internal/models"
)

func newRBACRouter(claims *models.JWTClaims) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	if claims != nil {
		r.Use(func(c *gin.Context) {
			c.Set(ContextUserKey, claims)
			c.Next()
		})
	}
	r.GET("/staff", RequireStaff(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r
}

func TestRequireStaffAllowsAdmin(t *testing.T) {
	router := newRBACRouter(&models.JWTClaims{UserID: "u1", Role: models.RoleAdmin})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/staff", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireStaffAllowsDepartmentHead(t *testing.T) {
	router := newRBACRouter(&models.JWTClaims{UserID: "u2", Role: models.RoleDepartmentHead})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/staff", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireStaffForbidsCitizen(t *testing.T) {
	router := newRBACRouter(&models.JWTClaims{UserID: "u3", Role: models.RoleUser})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/staff", nil))

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireStaffRejectsMissingClaims(t *testing.T) {
	router := newRBACRouter(nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/staff", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
