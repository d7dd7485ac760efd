package httputil

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bissquit/pillbox/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticValidator map[string]domain.Role

func (v staticValidator) ValidateToken(_ context.Context, token string) (string, domain.Role, error) {
	role, ok := v[token]
	if !ok {
		return "", "", errors.New("unknown token")
	}
	return "user-" + token, role, nil
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{"valid", "Bearer abc", "abc", false},
		{"case insensitive scheme", "bearer abc", "abc", false},
		{"missing", "", "", true},
		{"basic scheme", "Basic abc", "", true},
		{"empty token", "Bearer ", "", true},
		{"no token", "Bearer", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}

			got, err := BearerToken(r)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNoBearerToken)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAuthMiddleware_RequireRole(t *testing.T) {
	validator := staticValidator{
		"u": domain.RoleUser,
		"o": domain.RoleOperator,
		"a": domain.RoleAdmin,
	}

	var gotUser string
	handler := AuthMiddleware(validator)(RequireRole(domain.RoleOperator)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotUser = GetUserID(r.Context())
			Success(w, http.StatusOK, GetRole(r.Context()))
		}),
	))

	tests := []struct {
		name   string
		header string
		status int
		user   string
	}{
		{"no header", "", http.StatusUnauthorized, ""},
		{"malformed header", "Token o", http.StatusUnauthorized, ""},
		{"unknown token", "Bearer x", http.StatusUnauthorized, ""},
		{"user below operator", "Bearer u", http.StatusForbidden, ""},
		{"operator", "Bearer o", http.StatusOK, "user-o"},
		{"admin", "Bearer a", http.StatusOK, "user-a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotUser = ""
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, r)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.user, gotUser)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		})
	}
}

func TestHandleError(t *testing.T) {
	errNotFound := errors.New("thing not found")
	errBusy := errors.New("store busy")
	mappings := []ErrorMapping{
		{Error: errNotFound, Status: http.StatusNotFound},
		{Error: errBusy, Status: http.StatusServiceUnavailable, Message: "try later", RetryAfter: 1500 * time.Millisecond},
	}

	tests := []struct {
		name       string
		err        error
		status     int
		body       string
		retryAfter string
	}{
		{"mapped", errNotFound, http.StatusNotFound, `{"error":{"message":"thing not found"}}`, ""},
		{"wrapped", fmt.Errorf("load: %w", errNotFound), http.StatusNotFound, `{"error":{"message":"load: thing not found"}}`, ""},
		{"fixed message with retry", fmt.Errorf("dial: %w", errBusy), http.StatusServiceUnavailable, `{"error":{"message":"try later"}}`, "2"},
		{"unmapped", errors.New("boom"), http.StatusInternalServerError, `{"error":{"message":"internal error"}}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			HandleError(context.Background(), w, tt.err, mappings)
			assert.Equal(t, tt.status, w.Code)
			assert.JSONEq(t, tt.body, w.Body.String())
			assert.Equal(t, tt.retryAfter, w.Header().Get("Retry-After"))
		})
	}
}

func TestCORSMiddleware(t *testing.T) {
	handler := CORSMiddleware([]string{"https://app.example.com"})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodOptions, "/", nil)
	r.Header.Set("Origin", "https://app.example.com")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
