package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// OperatorKey is the gin context key holding the authenticated operator.
const OperatorKey = "operator"

const operatorName = "admin"

var (
	errMissingHeader = errors.New("no Authorization header present")
	errBadFormat     = errors.New("invalid Authorization header format")
	errEmptyToken    = errors.New("empty token after Bearer")
	errBadToken      = errors.New("token does not match")
)

// RequireToken rejects requests whose bearer token is not adminToken.
// An empty adminToken rejects every request.
func RequireToken(adminToken string, log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := bearerToken(c.GetHeader("Authorization"))
		if err == nil {
			err = ValidateToken(token, adminToken)
		}
		if err != nil {
			log.WithField("path", c.Request.URL.Path).WithError(err).Warn("Auth: request rejected")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}

		c.Set(OperatorKey, operatorName)
		c.Next()
	}
}

// bearerToken parses "Bearer <token>" (RFC 7235). The scheme is case-insensitive.
func bearerToken(header string) (string, error) {
	if header == "" {
		return "", errMissingHeader
	}

	fields := strings.Fields(header)
	if len(fields) < 2 || !strings.EqualFold(fields[0], "Bearer") {
		return "", errBadFormat
	}

	token := strings.TrimSpace(strings.Join(fields[1:], " "))
	if token == "" {
		return "", errEmptyToken
	}
	return token, nil
}

// ValidateToken compares token against the configured admin token in constant time.
func ValidateToken(token, adminToken string) error {
	if adminToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(adminToken)) != 1 {
		return errBadToken
	}
	return nil
}

// GetOperator returns the operator stored by RequireToken.
func GetOperator(c *gin.Context) (string, bool) {
	op := c.GetString(OperatorKey)
	return op, op != ""
}
