package secure

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/gin-gonic/gin"
)

type identityKey struct{}

// ClientIdentifier resolves the identity used as the rate limit key.
type ClientIdentifier interface {
	Identify(ctx context.Context) string
}

// ContextIdentifier reads the identity stored by IdentityMiddleware.
type ContextIdentifier struct{}

func (ContextIdentifier) Identify(ctx context.Context) string {
	if id, ok := ctx.Value(identityKey{}).(string); ok && id != "" {
		return id
	}
	return "anonymous"
}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// Fingerprint hashes client attributes into a stable identifier.
func Fingerprint(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return "fp:" + hex.EncodeToString(sum[:16])
}

// IdentityMiddleware stores the caller identity in the request context: the
// peer address (gin honours the trusted forwarded-for chain), or a
// fingerprint of request attributes when no address is known.
func IdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.ClientIP()
		if id == "" {
			id = Fingerprint(
				c.Request.UserAgent(),
				c.GetHeader("Accept-Language"),
				c.GetHeader("Accept-Encoding"),
			)
		}
		c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), id))
		c.Next()
	}
}
