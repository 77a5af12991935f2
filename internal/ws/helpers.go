package ws

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"messenger-service/internal/middleware"
)

func newConnID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	return hex.EncodeToString(buf)
}

// authenticate resolves the caller from the Authorization header, falling
// back to the token query parameter browsers use for websockets.
func authenticate(c *gin.Context, secret []byte) (string, error) {
	token := c.GetHeader("Authorization")
	if token != "" {
		parts := strings.SplitN(token, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			return "", errors.New("invalid authorization header")
		}
		return middleware.ParseToken(secret, parts[1])
	}

	if query := c.Query("token"); query != "" {
		return middleware.ParseToken(secret, query)
	}
	return "", errors.New("missing token")
}
