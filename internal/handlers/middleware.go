package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"oracle-service/internal/models"
	"oracle-service/pkg/utils"

	"github.com/gofiber/fiber/v3"
	"github.com/golang-jwt/jwt/v5"
)

const (
	userIDHeader = "X-User-ID"
	rolesLocal   = "roles"
)

// Claims is the token payload issued by the auth service.
type Claims struct {
	jwt.RegisteredClaims
	UserID string   `json:"user_id"`
	Roles  []string `json:"roles"`
}

// Auth verifies bearer tokens and gates routes by role.
type Auth struct {
	secret []byte
}

func NewAuth(secret string) *Auth {
	return &Auth{secret: []byte(secret)}
}

func (a *Auth) VerifyToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return a.secret, nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("token carries no user id")
	}
	return claims, nil
}

// Authenticate validates the bearer token and exposes the caller as the
// X-User-ID header, the same way the gateway's forward auth does.
func (a *Auth) Authenticate(c fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return c.Status(http.StatusUnauthorized).JSON(
			utils.CreateErrorResponse("MISSING_TOKEN", "authorization header required"))
	}
	tokenString := strings.TrimPrefix(authHeader, "Bearer ")

	claims, err := a.VerifyToken(tokenString)
	if err != nil {
		slog.Warn("token validation failed", "path", c.Path(), "error", err)
		return c.Status(http.StatusUnauthorized).JSON(
			utils.CreateErrorResponse("INVALID_TOKEN", "token validation failed"))
	}

	c.Request().Header.Set(userIDHeader, claims.UserID)
	c.Locals(rolesLocal, claims.Roles)
	return c.Next()
}

// RequireRole lets the request through when the caller holds any of roles.
// Admins pass every check.
func (a *Auth) RequireRole(roles ...models.Role) fiber.Handler {
	return func(c fiber.Ctx) error {
		held, _ := c.Locals(rolesLocal).([]string)
		if slices.Contains(held, string(models.RoleAdmin)) {
			return c.Next()
		}
		for _, role := range roles {
			if slices.Contains(held, string(role)) {
				return c.Next()
			}
		}
		return c.Status(http.StatusForbidden).JSON(
			utils.CreateErrorResponse("FORBIDDEN", "You do not have permission to perform this action"))
	}
}
