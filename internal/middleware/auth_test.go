package middleware_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"payrecon/internal/config"
	"payrecon/internal/domain/model"
	"payrecon/internal/middleware"
	"payrecon/internal/repository"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"golang.org/x/crypto/bcrypt"
)

// =====================
// レスポンス確認用
// =====================

type mwErrorResponse struct {
	Error string `json:"error"`
}

type mwOKResponse struct {
	UserID       int64  `json:"user_id"`
	Role         string `json:"role"`
	TokenVersion int    `json:"token_version"`
}

// =====================
// UserRepository モック
// =====================

type MockUserRepoForMiddleware struct {
	mock.Mock
}

func (m *MockUserRepoForMiddleware) FindByID(ctx context.Context, id int64) (*model.User, error) {
	args := m.Called(ctx, id)
	u, _ := args.Get(0).(*model.User)
	return u, args.Error(1)
}

var _ repository.UserRepository = (*MockUserRepoForMiddleware)(nil)

// =====================
// helper
// =====================

const testSecret = "test-secret"

func mustMakeJWT(t *testing.T, secret string, sub int64, role string, tv int, signingMethod jwt.SigningMethod) string {
	t.Helper()

	claims := jwt.MapClaims{
		"sub":  sub,
		"role": role,
		"tv":   tv,
		"iat":  1,
		"exp":  9999999999,
	}

	token := jwt.NewWithClaims(signingMethod, claims)

	s, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("SignedString failed: %v", err)
	}
	return s
}

func runRequest(t *testing.T, e *echo.Echo, method string, path string, authHeader string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeMWError(t *testing.T, rec *httptest.ResponseRecorder) mwErrorResponse {
	t.Helper()
	var r mwErrorResponse
	_ = json.NewDecoder(rec.Body).Decode(&r)
	return r
}

func ok(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"ok": "true"})
}

// =====================
// AuthJWT
// =====================

func TestMiddleware_AuthJWT_Unauthorized(t *testing.T) {
	cfg := config.Config{JWTSecret: testSecret}

	tests := []struct {
		name   string
		header string
	}{
		{name: "no header", header: ""},
		{name: "bad scheme", header: "Token abc.def.ghi"},
		{name: "empty token", header: "Bearer   "},
		{name: "bad signature", header: "Bearer " + mustMakeJWT(t, "wrong-secret", 1, "ADMIN", 0, jwt.SigningMethodHS256)},
		{name: "wrong alg", header: "Bearer " + mustMakeJWT(t, testSecret, 1, "ADMIN", 0, jwt.SigningMethodHS512)},
		{name: "no role", header: "Bearer " + mustMakeJWT(t, testSecret, 1, "", 0, jwt.SigningMethodHS256)},
		{name: "bad sub", header: "Bearer " + mustMakeJWT(t, testSecret, 0, "ADMIN", 0, jwt.SigningMethodHS256)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			e.GET("/protected", ok, middleware.AuthJWT(cfg))

			rec := runRequest(t, e, http.MethodGet, "/protected", tt.header)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "unauthorized", decodeMWError(t, rec).Error)
		})
	}
}

// 正常：ctxに値が入る
func TestMiddleware_AuthJWT_Success_SetsContext(t *testing.T) {
	e := echo.New()
	cfg := config.Config{JWTSecret: testSecret}

	raw := mustMakeJWT(t, cfg.JWTSecret, 123, "ADMIN", 7, jwt.SigningMethodHS256)

	e.GET("/protected", func(c echo.Context) error {
		userID, _ := c.Get(middleware.CtxUserIDKey).(int64)
		role, _ := c.Get(middleware.CtxUserRoleKey).(string)
		tv, _ := c.Get(middleware.CtxTokenVersionKey).(int)

		return c.JSON(http.StatusOK, mwOKResponse{
			UserID:       userID,
			Role:         role,
			TokenVersion: tv,
		})
	}, middleware.AuthJWT(cfg))

	rec := runRequest(t, e, http.MethodGet, "/protected", "Bearer "+raw)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body mwOKResponse
	_ = json.NewDecoder(rec.Body).Decode(&body)
	assert.Equal(t, int64(123), body.UserID)
	assert.Equal(t, "ADMIN", body.Role)
	assert.Equal(t, 7, body.TokenVersion)
}

// =====================
// TokenVersionGuard
// =====================

func TestMiddleware_TokenVersionGuard(t *testing.T) {
	tests := []struct {
		name string
		user *model.User
		want int
	}{
		{name: "match", user: &model.User{ID: 1, Role: model.RoleAdmin, TokenVersion: 5, IsActive: true}, want: http.StatusOK},
		{name: "version mismatch", user: &model.User{ID: 1, Role: model.RoleAdmin, TokenVersion: 6, IsActive: true}, want: http.StatusUnauthorized},
		{name: "inactive", user: &model.User{ID: 1, Role: model.RoleAdmin, TokenVersion: 5, IsActive: false}, want: http.StatusUnauthorized},
		{name: "deleted user", user: nil, want: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			userRepo := new(MockUserRepoForMiddleware)
			userRepo.On("FindByID", mock.Anything, int64(1)).Return(tt.user, nil)

			e.GET("/protected", ok, middleware.AuthJWT(config.Config{JWTSecret: testSecret}), middleware.TokenVersionGuard(userRepo))

			raw := mustMakeJWT(t, testSecret, 1, "ADMIN", 5, jwt.SigningMethodHS256)
			rec := runRequest(t, e, http.MethodGet, "/protected", "Bearer "+raw)
			assert.Equal(t, tt.want, rec.Code)
			userRepo.AssertExpectations(t)
		})
	}
}

// AuthJWT無しでGuardだけ => 401
func TestMiddleware_TokenVersionGuard_Unauthorized_MissingContext(t *testing.T) {
	e := echo.New()
	userRepo := new(MockUserRepoForMiddleware)

	e.GET("/protected", ok, middleware.TokenVersionGuard(userRepo))

	rec := runRequest(t, e, http.MethodGet, "/protected", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	userRepo.AssertNotCalled(t, "FindByID", mock.Anything, mock.Anything)
}

// =====================
// AdminRoleGuard
// =====================

func TestMiddleware_AdminRoleGuard(t *testing.T) {
	tests := []struct {
		role string
		want int
	}{
		{role: "ADMIN", want: http.StatusOK},
		{role: "SELLER", want: http.StatusForbidden},
		{role: "USER", want: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			e := echo.New()
			e.GET("/admin", ok, middleware.AuthJWT(config.Config{JWTSecret: testSecret}), middleware.AdminRoleGuard())

			raw := mustMakeJWT(t, testSecret, 1, tt.role, 0, jwt.SigningMethodHS256)
			rec := runRequest(t, e, http.MethodGet, "/admin", "Bearer "+raw)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

// =====================
// JobTokenGuard
// =====================

func TestMiddleware_JobTokenGuard_PlainSecret(t *testing.T) {
	e := echo.New()
	e.POST("/jobs/run", ok, middleware.JobTokenGuard("job-token", ""))

	assert.Equal(t, http.StatusOK, runRequest(t, e, http.MethodPost, "/jobs/run", "Bearer job-token").Code)
	assert.Equal(t, http.StatusUnauthorized, runRequest(t, e, http.MethodPost, "/jobs/run", "Bearer other").Code)
	assert.Equal(t, http.StatusUnauthorized, runRequest(t, e, http.MethodPost, "/jobs/run", "job-token").Code)
	assert.Equal(t, http.StatusUnauthorized, runRequest(t, e, http.MethodPost, "/jobs/run", "").Code)
}

func TestMiddleware_JobTokenGuard_BcryptHashWins(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hashed-token"), bcrypt.MinCost)
	assert.NoError(t, err)

	e := echo.New()
	e.POST("/jobs/run", ok, middleware.JobTokenGuard("plain-token", string(hash)))

	assert.Equal(t, http.StatusOK, runRequest(t, e, http.MethodPost, "/jobs/run", "Bearer hashed-token").Code)
	//ハッシュがあるときは平文は使わない
	assert.Equal(t, http.StatusUnauthorized, runRequest(t, e, http.MethodPost, "/jobs/run", "Bearer plain-token").Code)
}

func TestMiddleware_JobTokenGuard_NothingConfigured_DeniesAll(t *testing.T) {
	e := echo.New()
	e.POST("/jobs/run", ok, middleware.JobTokenGuard("", ""))

	assert.Equal(t, http.StatusUnauthorized, runRequest(t, e, http.MethodPost, "/jobs/run", "Bearer anything").Code)
}
