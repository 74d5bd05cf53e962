package auth

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	CtxUserIDKey   = "user_id"
	CtxUsernameKey = "username"
	CtxRoleKey     = "role"
)

// Principal is the authenticated caller as carried by the token.
type Principal struct {
	UserID   int64
	Username string
	Role     Role
}

func (p Principal) IsLibrarian() bool { return p.Role == RoleLibrarian }

// RequireAuth validates "Authorization: Bearer <token>" and stores the
// principal in the gin context.
func RequireAuth(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		if h == "" {
			abort(c, http.StatusUnauthorized, "UNAUTHENTICATED", "missing Authorization header")
			return
		}

		parts := strings.SplitN(h, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			abort(c, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid Authorization header")
			return
		}

		p, err := ParseToken(strings.TrimSpace(parts[1]), secret)
		if err != nil {
			abort(c, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid token")
			return
		}

		c.Set(CtxUserIDKey, p.UserID)
		c.Set(CtxUsernameKey, p.Username)
		c.Set(CtxRoleKey, p.Role)
		c.Next()
	}
}

func ParseToken(tokenStr string, secret []byte) (Principal, error) {
	if tokenStr == "" {
		return Principal{}, jwt.ErrTokenMalformed
	}
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || token == nil || !token.Valid {
		if err == nil {
			err = jwt.ErrTokenSignatureInvalid
		}
		return Principal{}, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Principal{}, jwt.ErrTokenInvalidClaims
	}
	sub, _ := claims["sub"].(string)
	uidStr, _ := claims["uid"].(string)
	role, _ := claims["role"].(string)
	uid, err := strconv.ParseInt(uidStr, 10, 64)
	if sub == "" || err != nil || uid <= 0 {
		return Principal{}, jwt.ErrTokenInvalidClaims
	}
	return Principal{UserID: uid, Username: sub, Role: Role(role)}, nil
}

// RequireRole allows only the given roles. Must run after RequireAuth.
func RequireRole(roles ...Role) gin.HandlerFunc {
	roleSet := make(map[Role]struct{})
	for _, r := range roles {
		if r == "" {
			continue
		}
		roleSet[r] = struct{}{}
	}

	return func(c *gin.Context) {
		p, ok := CurrentPrincipal(c)
		if !ok {
			abort(c, http.StatusForbidden, "FORBIDDEN", "missing role")
			return
		}
		if _, allowed := roleSet[p.Role]; !allowed {
			abort(c, http.StatusForbidden, "FORBIDDEN", "forbidden")
			return
		}
		c.Next()
	}
}

// CurrentPrincipal reads what RequireAuth stored.
func CurrentPrincipal(c *gin.Context) (Principal, bool) {
	uid, ok := c.Get(CtxUserIDKey)
	if !ok {
		return Principal{}, false
	}
	id, ok := uid.(int64)
	if !ok {
		return Principal{}, false
	}
	role, _ := c.Get(CtxRoleKey)
	r, _ := role.(Role)
	return Principal{UserID: id, Username: c.GetString(CtxUsernameKey), Role: r}, true
}

func abort(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": gin.H{"code": code, "message": msg}})
}
