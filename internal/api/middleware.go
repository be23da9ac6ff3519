package api

import (
	"strconv"
	"strings"
	"time"

	"storefront/internal/apperr"
	"storefront/internal/auth"
	"storefront/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Identity headers set by the gateway after it authenticated the caller
const (
	HeaderCustomerID = "X-Customer-Id"
	HeaderAdminID    = "X-Admin-Id"
	HeaderAdminSuper = "X-Admin-Super"
)

const principalKey = "principal"

// principalMiddleware resolves the caller from gateway headers. Requests
// without identity headers continue anonymously and are refused by the
// services that need a principal.
func principalMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if raw := strings.TrimSpace(c.GetHeader(HeaderAdminID)); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				abortWithError(c, apperr.New(apperr.CodeUnauthenticated, "malformed admin identity"))
				return
			}
			super, _ := strconv.ParseBool(c.GetHeader(HeaderAdminSuper))
			c.Set(principalKey, auth.Admin(id, super))
			c.Next()
			return
		}

		if raw := strings.TrimSpace(c.GetHeader(HeaderCustomerID)); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				abortWithError(c, apperr.New(apperr.CodeUnauthenticated, "malformed customer identity"))
				return
			}
			c.Set(principalKey, auth.Customer(id))
		}
		c.Next()
	}
}

// adminOnly refuses non-admin callers before any handler runs
func adminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := auth.RequireAdmin(principal(c)); err != nil {
			abortWithError(c, err)
			return
		}
		c.Next()
	}
}

func principal(c *gin.Context) *auth.Principal {
	value, ok := c.Get(principalKey)
	if !ok {
		return nil
	}
	p, _ := value.(*auth.Principal)
	return p
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			path,
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			path,
			status,
		).Inc()
	}
}
