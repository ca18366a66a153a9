package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestDeleteFavoriteRejectsMalformedID(t *testing.T) {

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.DELETE("/favorite/:id", deleteFavorite)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/favorite/abc", nil))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestAuthRequiredRejectsMissingToken(t *testing.T) {

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/me", authRequired(), getMe)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}
