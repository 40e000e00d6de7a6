package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/smorting-auth/internal/models"
	appErrors "github.com/noah-isme/smorting-auth/pkg/errors"
	"github.com/noah-isme/smorting-auth/pkg/response"
)

// ContextIdentityKey is the gin context key storing the authenticated identity.
const ContextIdentityKey = "currentIdentity"

type identityCtxKey struct{}

// IdentityResolver turns a bearer token into the identity behind it.
type IdentityResolver interface {
	ResolveAccessToken(ctx context.Context, token string) (*models.Identity, error)
}

// Authenticate protects routes by requiring a valid access token bound to a live session.
func Authenticate(resolver IdentityResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			response.Abort(c, appErrors.Clone(appErrors.ErrUnauthorized, "missing token"))
			return
		}

		identity, err := resolver.ResolveAccessToken(c.Request.Context(), token)
		if err != nil {
			response.Abort(c, err)
			return
		}

		attach(c, identity)
		c.Next()
	}
}

// OptionalAuthenticate attaches an identity when one resolves but never blocks.
func OptionalAuthenticate(resolver IdentityResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token, ok := bearerToken(c); ok {
			if identity, err := resolver.ResolveAccessToken(c.Request.Context(), token); err == nil {
				attach(c, identity)
			}
		}
		c.Next()
	}
}

// CurrentIdentity returns the identity of the authenticated caller, if any.
func CurrentIdentity(c *gin.Context) (*models.Identity, bool) {
	value, exists := c.Get(ContextIdentityKey)
	if !exists {
		return nil, false
	}
	identity, ok := value.(*models.Identity)
	return identity, ok && identity != nil
}

// IdentityFromContext returns the identity carried by a request context.
func IdentityFromContext(ctx context.Context) (*models.Identity, bool) {
	identity, ok := ctx.Value(identityCtxKey{}).(*models.Identity)
	return identity, ok && identity != nil
}

func attach(c *gin.Context, identity *models.Identity) {
	c.Set(ContextIdentityKey, identity)
	c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), identityCtxKey{}, identity))
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}
