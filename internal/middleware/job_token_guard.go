package middleware

import (
	"crypto/subtle"

	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"
)

// ジョブ起動（スケジューラ）用のbearerトークンを確認します。
// hashがあればbcryptで照合し、無ければ平文のsecretと定数時間で比較する。
func JobTokenGuard(secret string, hash string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := bearerToken(c)
			if token == "" || !jobTokenMatches(token, secret, hash) {
				return unauthorized(c)
			}
			return next(c)
		}
	}
}

func jobTokenMatches(token, secret, hash string) bool {
	if hash != "" {
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil
	}
	if secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1
}
