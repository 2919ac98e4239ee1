package httpgin

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/kirinyoku/tixflow/internal/domain"
)

const callerKey = "caller"

// Claims are the bearer token claims: the numeric user id in sub and a role.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Auth verifies an HS256 bearer token and stores the caller in the request context.
func Auth(secret, issuer string) gin.HandlerFunc {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	parser := jwt.NewParser(opts...)

	return func(c *gin.Context) {
		raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || raw == "" {
			unauthorized(c, "missing bearer token")
			return
		}

		var claims Claims
		if _, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
			return []byte(secret), nil
		}); err != nil {
			unauthorized(c, "invalid token")
			return
		}

		caller, err := callerFromClaims(claims)
		if err != nil {
			unauthorized(c, err.Error())
			return
		}

		c.Set(callerKey, caller)
		c.Next()
	}
}

func callerFromClaims(claims Claims) (domain.Caller, error) {
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return domain.Caller{}, errors.New("invalid subject")
	}

	role := domain.Role(strings.ToUpper(claims.Role))
	switch role {
	case "":
		role = domain.RoleBuyer
	case domain.RoleBuyer, domain.RoleOrganizer, domain.RoleAdmin:
	default:
		return domain.Caller{}, errors.New("unknown role")
	}

	return domain.Caller{UserID: id, Role: role}, nil
}

func callerFrom(c *gin.Context) domain.Caller {
	v, _ := c.Get(callerKey)
	caller, _ := v.(domain.Caller)
	return caller
}

func unauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: msg})
}
