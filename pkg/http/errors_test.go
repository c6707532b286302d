package http_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkghttp "github.com/xiaomao8090/kazay-website/pkg/http"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) pkghttp.ErrorResponse {
	t.Helper()
	var resp pkghttp.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestErrorWriters(t *testing.T) {
	tests := []struct {
		name   string
		write  func(http.ResponseWriter, string)
		status int
		code   string
	}{
		{"bad request", pkghttp.WriteBadRequest, http.StatusBadRequest, "bad_request"},
		{"unauthorized", pkghttp.WriteUnauthorized, http.StatusUnauthorized, "unauthorized"},
		{"forbidden", pkghttp.WriteForbidden, http.StatusForbidden, "forbidden"},
		{"not found", pkghttp.WriteNotFound, http.StatusNotFound, "not_found"},
		{"conflict", pkghttp.WriteConflict, http.StatusConflict, "conflict"},
		{"too many requests", pkghttp.WriteTooManyRequests, http.StatusTooManyRequests, "rate_limit_exceeded"},
		{"internal", pkghttp.WriteInternalError, http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w, "ip already blocked")

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			resp := decodeError(t, w)
			assert.Equal(t, tt.code, resp.Error)
			assert.Equal(t, "ip already blocked", resp.Message)
			assert.Empty(t, resp.Details)
		})
	}
}

func TestWriteErrorWithDetails_OmitsEmptyDetails(t *testing.T) {
	w := httptest.NewRecorder()
	pkghttp.WriteError(w, http.StatusUnauthorized, pkghttp.CodeInvalidCode, "invalid verification code")
	assert.NotContains(t, w.Body.String(), "details")

	w = httptest.NewRecorder()
	pkghttp.WriteErrorWithDetails(w, http.StatusBadGateway, pkghttp.CodeDeliveryFailed, "could not send code", "smtp timeout")
	resp := decodeError(t, w)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, pkghttp.CodeDeliveryFailed, resp.Error)
	assert.Equal(t, "smtp timeout", resp.Details)
}

func TestWriteRateLimited(t *testing.T) {
	w := httptest.NewRecorder()
	pkghttp.WriteRateLimited(w, 14*time.Minute+30*time.Second)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "870", w.Header().Get("Retry-After"))
	resp := decodeError(t, w)
	assert.Equal(t, pkghttp.CodeRateLimited, resp.Error)
	assert.Equal(t, "too many attempts, try again in 15 minutes", resp.Message)
	assert.Equal(t, "870", resp.Details)
}

func TestWriteRateLimited_FloorsAtOne(t *testing.T) {
	w := httptest.NewRecorder()
	pkghttp.WriteRateLimited(w, 0)

	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Equal(t, "too many attempts, try again in 1 minutes", decodeError(t, w).Message)
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	pkghttp.WriteJSON(w, http.StatusCreated, map[string]any{"success": true})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"success":true}`, w.Body.String())
}
