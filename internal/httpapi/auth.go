package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	ctxUserID = "userId"
	ctxEmail  = "email"
	ctxRole   = "role"

	roleAdmin = "admin"
)

var errTokenClaims = errors.New("token has no userId claim")

// Claims — поля токена, которые выдаёт сервис аутентификации.
type Claims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator проверяет HS256 bearer-токены.
type Authenticator struct {
	secret []byte
	parser *jwt.Parser
}

// NewAuthenticator создаёт проверку токенов с общим секретом.
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{
		secret: []byte(secret),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()),
	}
}

func (a *Authenticator) parse(header string) (*Claims, error) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return nil, errors.New("authorization header must be Bearer <token>")
	}

	claims := &Claims{}
	_, err := a.parser.ParseWithClaims(strings.TrimSpace(parts[1]), claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if claims.UserID == "" {
		return nil, errTokenClaims
	}
	return claims, nil
}

// RequireUser пропускает запросы с валидным токеном и кладёт claims в контекст gin.
func (a *Authenticator) RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := a.parse(c.GetHeader("Authorization"))
		if err != nil {
			abortWithError(c, http.StatusUnauthorized, kindUnauthorized, "invalid or missing token")
			return
		}

		c.Set(ctxUserID, claims.UserID)
		c.Set(ctxEmail, claims.Email)
		c.Set(ctxRole, claims.Role)
		c.Next()
	}
}

// RequireAdmin требует role=admin. Ставится после RequireUser.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ctxRole) != roleAdmin {
			abortWithError(c, http.StatusForbidden, kindForbidden, "admin role required")
			return
		}
		c.Next()
	}
}

// IssueToken подписывает токен. Используется в тестах и dev-утилитах.
func (a *Authenticator) IssueToken(claims Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}
