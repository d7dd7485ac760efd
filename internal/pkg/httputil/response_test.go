package httputil

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationError_UsesJSONFieldNames(t *testing.T) {
	type request struct {
		UserID string `json:"user_id" validate:"required"`
		Title  string `json:"title,omitempty" validate:"max=3"`
	}

	err := NewValidator().Struct(request{Title: "too long"})
	require.Error(t, err)

	w := httptest.NewRecorder()
	ValidationError(w, err)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":{"message":"validation error","details":[
		{"field":"user_id","message":"required"},
		{"field":"title","message":"max","param":"3"}
	]}}`, w.Body.String())
}

func TestValidationError_PlainError(t *testing.T) {
	w := httptest.NewRecorder()
	ValidationError(w, errors.New("schedule: interval_hours must be at least 4"))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":{"message":"validation error","details":"schedule: interval_hours must be at least 4"}}`, w.Body.String())
}

func TestDecodeJSON_RejectsUnknownFields(t *testing.T) {
	var dst struct {
		Title string `json:"title"`
	}

	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"title":"ok"}`))
	require.NoError(t, DecodeJSON(r, &dst))
	assert.Equal(t, "ok", dst.Title)

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"title":"ok","extra":1}`))
	assert.Error(t, DecodeJSON(r, &dst))
}
