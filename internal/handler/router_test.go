package handler

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-api/internal/dto"
	"github.com/noah-isme/course-api/internal/models"
	"github.com/noah-isme/course-api/internal/service"
	appErrors "github.com/noah-isme/course-api/pkg/errors"
)

type tokenStub struct{}

func (tokenStub) ValidateToken(token string) (*models.JWTClaims, error) {
	if token == "admin-token" {
		return &models.JWTClaims{Email: "admin@course.io", Role: models.RoleAdmin}, nil
	}
	return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
}

type authServiceMock struct {
	resp *dto.LoginResponse
	err  error
}

func (m authServiceMock) Login(ctx context.Context, req dto.LoginRequest) (*dto.LoginResponse, error) {
	return m.resp, m.err
}

func newTestRouter(t *testing.T, enableAuth bool, deps map[string]Pinger) (*gin.Engine, *groupServiceMock) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	groups := &groupServiceMock{createID: 1, listResp: []dto.GroupResponse{{ID: 1, No: "G1", Limit: 2}}}
	metrics := service.NewMetricsService()
	handlers := Handlers{
		Auth:     NewAuthHandler(authServiceMock{resp: &dto.LoginResponse{AccessToken: "admin-token", TokenType: "Bearer", ExpiresIn: 60, IssuedAt: time.Now()}}),
		Groups:   NewGroupHandler(groups),
		Students: NewStudentHandler(&studentServiceMock{exportResp: &dto.ExportFile{Filename: "s.csv", ContentType: "text/csv", Body: []byte("ID\n")}}),
		Metrics:  NewMetricsHandler(metrics, deps),
	}
	cfg := RouterConfig{APIPrefix: "/api/v1", UploadsDir: t.TempDir(), UploadsPrefix: "/uploads/student", EnableAuth: enableAuth}
	return NewRouter(cfg, handlers, tokenStub{}, metrics, nil), groups
}

func serve(r *gin.Engine, method, path, token string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRouterGuardsWrites(t *testing.T) {
	r, groups := newTestRouter(t, true, nil)
	payload := []byte(`{"no":"G1","limit":2}`)

	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/api/v1/groups", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodPost, "/api/v1/groups", "", payload).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodDelete, "/api/v1/students/1", "nope", nil).Code)

	w := serve(r, http.MethodPost, "/api/v1/groups", "admin-token", payload)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "G1", groups.lastCreate.No)
}

func TestRouterLogin(t *testing.T) {
	r, _ := newTestRouter(t, true, nil)

	w := serve(r, http.MethodPost, "/api/v1/auth/login", "", []byte(`{"email":"admin@course.io","password":"x"}`))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "admin-token")
}

func TestRouterOpenWhenAuthDisabled(t *testing.T) {
	r, _ := newTestRouter(t, false, nil)

	assert.Equal(t, http.StatusCreated, serve(r, http.MethodPost, "/api/v1/groups", "", []byte(`{"no":"G1","limit":2}`)).Code)
	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodPost, "/api/v1/auth/login", "", nil).Code)
}

func TestRouterExportIsNotAnID(t *testing.T) {
	r, _ := newTestRouter(t, true, nil)

	w := serve(r, http.MethodGet, "/api/v1/students/export", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ID\n", w.Body.String())
}

func TestRouterObservability(t *testing.T) {
	r, _ := newTestRouter(t, true, map[string]Pinger{
		"database": PingFunc(func(ctx context.Context) error { return nil }),
	})

	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/health", "", nil).Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/ready", "", nil).Code)
	assert.NotEmpty(t, serve(r, http.MethodGet, "/api/v1/groups", "", nil).Header().Get("X-Request-ID"))

	w := serve(r, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `http_requests_total{method="GET",path="/health",status="200"}`)
}

func TestRouterReadyReportsFailedDependency(t *testing.T) {
	r, _ := newTestRouter(t, true, map[string]Pinger{
		"redis": PingFunc(func(ctx context.Context) error { return errors.New("connection refused") }),
	})

	w := serve(r, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}
