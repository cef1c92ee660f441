package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"payrecon/internal/config"
	"payrecon/internal/domain/model"
	"payrecon/internal/repository"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
)

const (
	CtxUserIDKey       = "user_id"       // int64
	CtxUserRoleKey     = "user_role"     // string
	CtxTokenVersionKey = "token_version" // int
)

var errInvalidClaims = errors.New("invalid claims")

type errorResponse struct {
	Error string `json:"error"`
}

func errorJSON(msg string) errorResponse {
	return errorResponse{Error: msg}
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, errorJSON("unauthorized"))
}

// Authorization: Bearer <token> のtoken部分。無ければ空
func bearerToken(c echo.Context) string {
	scheme, token, ok := strings.Cut(c.Request().Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// 管理者トークンの中身（発行は認証サービス側）
type actorClaims struct {
	UserID       int64
	Role         string
	TokenVersion int
}

// AuthJWT はHS256の管理者トークンを検証してcontextに入れる
func AuthJWT(cfg config.Config) echo.MiddlewareFunc {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	keyFunc := func(*jwt.Token) (interface{}, error) {
		return []byte(cfg.JWTSecret), nil
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := bearerToken(c)
			if raw == "" {
				return unauthorized(c)
			}

			claims := jwt.MapClaims{}
			token, err := parser.ParseWithClaims(raw, claims, keyFunc)
			if err != nil || !token.Valid {
				return unauthorized(c)
			}
			actor, err := readActor(claims)
			if err != nil {
				return unauthorized(c)
			}

			c.Set(CtxUserIDKey, actor.UserID)
			c.Set(CtxUserRoleKey, actor.Role)
			c.Set(CtxTokenVersionKey, actor.TokenVersion)
			return next(c)
		}
	}
}

// sub/tvは数値でも文字列でも来る
func readActor(claims jwt.MapClaims) (actorClaims, error) {
	var a actorClaims

	id, err := claimInt(claims["sub"], 64)
	if err != nil || id <= 0 {
		return a, errInvalidClaims
	}
	role, _ := claims["role"].(string)
	if role == "" {
		return a, errInvalidClaims
	}
	tv, err := claimInt(claims["tv"], 32)
	if err != nil || tv < 0 {
		return a, errInvalidClaims
	}

	a.UserID = id
	a.Role = role
	a.TokenVersion = int(tv)
	return a, nil
}

func claimInt(v interface{}, bits int) (int64, error) {
	switch t := v.(type) {
	case float64:
		return int64(t), nil
	case string:
		return strconv.ParseInt(t, 10, bits)
	default:
		return 0, errInvalidClaims
	}
}

// TokenVersionGuard はJWTのtvとDBのtoken_versionを突き合わせる。
// 無効化されたユーザー・ずれたtvは強制ログアウト扱い（401）
func TokenVersionGuard(userRepo repository.UserRepository) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID, ok := c.Get(CtxUserIDKey).(int64)
			if !ok || userID <= 0 {
				return unauthorized(c)
			}
			tv, ok := c.Get(CtxTokenVersionKey).(int)
			if !ok {
				return unauthorized(c)
			}

			user, err := userRepo.FindByID(c.Request().Context(), userID)
			if err != nil || user == nil {
				return unauthorized(c)
			}
			if user.TokenVersion != tv || !user.IsActive {
				return unauthorized(c)
			}
			return next(c)
		}
	}
}

// 返金・キャンセル・メンテナンスはADMINだけ
func AdminRoleGuard() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			role, _ := c.Get(CtxUserRoleKey).(string)
			if role == "" {
				return unauthorized(c)
			}
			if role != string(model.RoleAdmin) {
				return c.JSON(http.StatusForbidden, errorJSON("admin only"))
			}
			return next(c)
		}
	}
}
