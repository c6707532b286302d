package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"github.com/xiaomao8090/kazay-website/internal/auth"
	"github.com/xiaomao8090/kazay-website/internal/blocklist"
	"github.com/xiaomao8090/kazay-website/internal/logfeed"
	"github.com/xiaomao8090/kazay-website/internal/models"
	"github.com/xiaomao8090/kazay-website/internal/services"
	pkghttp "github.com/xiaomao8090/kazay-website/pkg/http"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAdminContext adds admin claims to the request context as RequireAdmin
// would.
func WithAdminContext(req *http.Request, username, email string) *http.Request {
	claims := &models.AdminClaims{
		Type:     "admin",
		Username: username,
		Email:    email,
	}
	return req.WithContext(context.WithValue(req.Context(), auth.AdminContextKey, claims))
}

// WithChiRouteContext sets chi URL params on a request built outside a router.
func WithChiRouteContext(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"), "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// FindCookie returns the named cookie set on the response, or nil.
func FindCookie(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// MockLoginService implements LoginServiceInterface for testing
type MockLoginService struct {
	RequestCodeFunc func(ctx context.Context, req services.LoginRequest) (*services.LoginResult, error)
	ConfirmCodeFunc func(ctx context.Context, req services.ConfirmRequest) (*services.ConfirmResult, error)
	ResendCodeFunc  func(ctx context.Context, sessionID, ip, userAgent string) error
	LogoutFunc      func(ctx context.Context, sessionID, username, ip string)
}

func (m *MockLoginService) RequestCode(ctx context.Context, req services.LoginRequest) (*services.LoginResult, error) {
	if m.RequestCodeFunc != nil {
		return m.RequestCodeFunc(ctx, req)
	}
	return nil, nil
}

func (m *MockLoginService) ConfirmCode(ctx context.Context, req services.ConfirmRequest) (*services.ConfirmResult, error) {
	if m.ConfirmCodeFunc != nil {
		return m.ConfirmCodeFunc(ctx, req)
	}
	return nil, nil
}

func (m *MockLoginService) ResendCode(ctx context.Context, sessionID, ip, userAgent string) error {
	if m.ResendCodeFunc != nil {
		return m.ResendCodeFunc(ctx, sessionID, ip, userAgent)
	}
	return nil
}

func (m *MockLoginService) Logout(ctx context.Context, sessionID, username, ip string) {
	if m.LogoutFunc != nil {
		m.LogoutFunc(ctx, sessionID, username, ip)
	}
}

// MockBlocklistManager implements BlocklistManager for testing
type MockBlocklistManager struct {
	ListFunc    func() blocklist.Document
	BlockFunc   func(ctx context.Context, ip, reason string, ttl time.Duration) (blocklist.Entry, error)
	UnblockFunc func(ctx context.Context, ip string) error
}

func (m *MockBlocklistManager) List() blocklist.Document {
	if m.ListFunc != nil {
		return m.ListFunc()
	}
	return blocklist.Document{Permanent: []string{}, Temporary: []blocklist.Entry{}}
}

func (m *MockBlocklistManager) Block(ctx context.Context, ip, reason string, ttl time.Duration) (blocklist.Entry, error) {
	if m.BlockFunc != nil {
		return m.BlockFunc(ctx, ip, reason, ttl)
	}
	return blocklist.Entry{IP: ip, Reason: reason}, nil
}

func (m *MockBlocklistManager) Unblock(ctx context.Context, ip string) error {
	if m.UnblockFunc != nil {
		return m.UnblockFunc(ctx, ip)
	}
	return nil
}

// MockAutoBlocker implements AutoBlocker for testing
type MockAutoBlocker struct {
	SweepFunc func(ctx context.Context) ([]string, error)
}

func (m *MockAutoBlocker) Sweep(ctx context.Context) ([]string, error) {
	if m.SweepFunc != nil {
		return m.SweepFunc(ctx)
	}
	return nil, nil
}

// MockLogFeed implements LogFeed for testing. System calls are recorded.
type MockLogFeed struct {
	QueryFunc          func(advanced bool, filter logfeed.Filter) ([]logfeed.Record, error)
	ClearFunc          func(advanced bool, date string) (int, error)
	WriteZipFunc       func(w io.Writer, advanced bool) error
	AnalyzeFunc        func() (*logfeed.Analysis, error)
	UpdateSettingsFunc func(s logfeed.Settings) error
	Current            logfeed.Settings
	SystemMessages     []string
}

func (m *MockLogFeed) Query(advanced bool, filter logfeed.Filter) ([]logfeed.Record, error) {
	if m.QueryFunc != nil {
		return m.QueryFunc(advanced, filter)
	}
	return nil, nil
}

func (m *MockLogFeed) Clear(advanced bool, date string) (int, error) {
	if m.ClearFunc != nil {
		return m.ClearFunc(advanced, date)
	}
	return 0, nil
}

func (m *MockLogFeed) WriteZip(w io.Writer, advanced bool) error {
	if m.WriteZipFunc != nil {
		return m.WriteZipFunc(w, advanced)
	}
	return nil
}

func (m *MockLogFeed) Analyze() (*logfeed.Analysis, error) {
	if m.AnalyzeFunc != nil {
		return m.AnalyzeFunc()
	}
	return &logfeed.Analysis{}, nil
}

func (m *MockLogFeed) Settings() logfeed.Settings {
	return m.Current
}

func (m *MockLogFeed) UpdateSettings(s logfeed.Settings) error {
	if m.UpdateSettingsFunc != nil {
		if err := m.UpdateSettingsFunc(s); err != nil {
			return err
		}
	}
	m.Current = s
	return nil
}

func (m *MockLogFeed) System(level logfeed.Level, message string, details map[string]any) {
	m.SystemMessages = append(m.SystemMessages, message)
}
