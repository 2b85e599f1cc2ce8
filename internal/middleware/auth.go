package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"time"

	"payout-core/internal/database"
	"payout-core/internal/response"

	"github.com/gin-gonic/gin"
)

// PlatformAuthMiddleware authenticates platform API calls with the
// platform id and API key pair.
func PlatformAuthMiddleware(store *database.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Get platform ID and API key
		platformID := c.GetHeader("X-Platform-ID")
		apiKey := c.GetHeader("X-API-Key")

		// If not passed via header, try to get from query parameters
		if platformID == "" {
			platformID = c.Query("platform_id")
		}
		if apiKey == "" {
			apiKey = c.Query("api_key")
		}

		if platformID == "" || apiKey == "" {
			c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Missing platform_id or api_key"))
			c.Abort()
			return
		}

		if !store.ValidatePlatform(platformID, apiKey) {
			c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Invalid platform_id or api_key"))
			c.Abort()
			return
		}

		c.Set("platform_id", platformID)
		c.Set("request_time", time.Now())
		c.Next()
	}
}

// WebhookSignatureMiddleware verifies the HMAC-SHA256 signature on
// inbound processor webhooks. The secret is per processor; the raw body
// is stashed in the context for the handler since verification consumes
// the request body.
func WebhookSignatureMiddleware(secretFor func(processorCode string) (string, bool)) gin.HandlerFunc {
	return func(c *gin.Context) {
		processorCode := c.Param("processor")
		secret, ok := secretFor(processorCode)
		if !ok {
			c.JSON(http.StatusNotFound, response.Error(http.StatusNotFound, "Unknown processor"))
			c.Abort()
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Unreadable request body"))
			c.Abort()
			return
		}

		signature := c.GetHeader("X-Webhook-Signature")
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(body)
		expected := hex.EncodeToString(mac.Sum(nil))
		if signature == "" || !hmac.Equal([]byte(signature), []byte(expected)) {
			c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Invalid webhook signature"))
			c.Abort()
			return
		}

		c.Set("webhook_body", body)
		c.Next()
	}
}
