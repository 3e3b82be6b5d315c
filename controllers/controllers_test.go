package controllers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cppla/dailycheckin/middleware"
	"github.com/cppla/dailycheckin/services"
	"github.com/cppla/dailycheckin/storage"
	"github.com/cppla/dailycheckin/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRespondErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   int
	}{
		{&services.ValidationError{Field: "name", Message: "required"}, http.StatusBadRequest, 40001},
		{fmt.Errorf("load: %w", services.ErrNotFound), http.StatusNotFound, 40401},
		{services.ErrForbidden, http.StatusForbidden, 40301},
		{services.ErrAlreadyCheckedIn, http.StatusConflict, 40902},
		{services.ErrCreatorCannotLeave, http.StatusConflict, 40909},
		{storage.ErrNotConfigured, http.StatusServiceUnavailable, 50301},
		{errors.New("boom"), http.StatusInternalServerError, 50099},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		ctx, _ := gin.CreateTestContext(w)
		ctx.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		respondError(ctx, tc.err, 50099, "internal")

		assert.Equal(t, tc.status, w.Code, tc.err.Error())
		var body utils.JSONResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, tc.code, body.Code, tc.err.Error())
	}
}

func TestParsePagination(t *testing.T) {
	page, size := parsePagination("", "")
	assert.Equal(t, 1, page)
	assert.Equal(t, 10, size)

	page, size = parsePagination("3", "50")
	assert.Equal(t, 3, page)
	assert.Equal(t, 50, size)

	page, size = parsePagination("-1", "500")
	assert.Equal(t, 1, page)
	assert.Equal(t, 10, size)
}

func TestParseIDAndRequireUser(t *testing.T) {
	r := gin.New()
	r.GET("/things/:id", func(c *gin.Context) {
		if _, ok := parseID(c, "id"); !ok {
			return
		}
		if _, ok := requireUser(c); !ok {
			return
		}
		c.Status(http.StatusNoContent)
	})
	r.GET("/mine/:id", func(c *gin.Context) {
		c.Set(middleware.ContextUserIDKey, uint(9))
		id, _ := requireUser(c)
		c.String(http.StatusOK, fmt.Sprint(id))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/things/abc", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/things/0", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/things/4", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/mine/1", nil))
	assert.Equal(t, "9", w.Body.String())
}
