// Package jwt реализует генерацию и разбор JWT токенов, из которых берётся
// идентичность вызывающего: идентификатор пользователя и его роль.
package jwt

import "github.com/golang-jwt/jwt/v5"

// CustomClaims описывает пользовательские данные, хранящиеся в JWT.
type CustomClaims struct {
	UserID               string `json:"user_id"` // Идентификатор пользователя
	Role                 string `json:"role"`    // patient или doctor
	jwt.RegisteredClaims        // ExpiresAt, IssuedAt и пр.
}
