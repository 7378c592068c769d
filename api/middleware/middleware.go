/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package middleware

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/didip/tollbooth/v7"
	"github.com/didip/tollbooth/v7/limiter"
	"github.com/gin-gonic/gin"

	"github.com/blnkfinance/repay/config"
)

// SecretKeyHeader carries the server secret on every authenticated request.
const SecretKeyHeader = "X-Repay-Key"

// RateLimitMiddleware throttles callers with tollbooth. Buckets are keyed by
// client IP and, on routes with an :id segment, by that segment too, so a
// channel vendor posting callbacks for one channel does not eat into the
// allowance of another channel or of borrower lookups from the same address.
// Without a configured limit every request passes through.
func RateLimitMiddleware(conf *config.Configuration) gin.HandlerFunc {
	limits := conf.RateLimit
	if limits.RequestsPerSecond == nil || limits.Burst == nil {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	ttl := 3 * time.Hour
	if limits.CleanupIntervalSec != nil {
		ttl = time.Duration(*limits.CleanupIntervalSec) * time.Second
	}

	lmt := tollbooth.NewLimiter(*limits.RequestsPerSecond, &limiter.ExpirableOptions{
		DefaultExpirationTTL: ttl,
	})
	lmt.SetBurst(*limits.Burst)
	return func(c *gin.Context) {
		if httpError := tollbooth.LimitByKeys(lmt, rateLimitKeys(c)); httpError != nil {
			c.AbortWithStatusJSON(httpError.StatusCode, gin.H{"error": httpError.Message})
			return
		}
		c.Next()
	}
}

func rateLimitKeys(c *gin.Context) []string {
	keys := []string{c.ClientIP()}
	if id := c.Param("id"); id != "" {
		keys = append(keys, id)
	}
	return keys
}

// SecretKeyAuthMiddleware rejects requests that do not present the server
// secret in SecretKeyHeader. A server running secure without a secret fails
// closed with a 500.
func SecretKeyAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		conf, err := config.Fetch()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Secret key is not configured"})
			return
		}
		secretKey := conf.Server.SecretKey
		if secretKey == "" {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Secret key is not configured"})
			return
		}

		clientSecret := c.GetHeader(SecretKeyHeader)

		if clientSecret == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing secret key"})
			return
		}

		if !secureCompare(secretKey, clientSecret) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid secret key"})
			return
		}

		c.Next()
	}
}

func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
