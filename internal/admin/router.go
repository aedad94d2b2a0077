package admin

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	xhttp "github.com/nimasrn/loyalty-engine/pkg/http"
	"github.com/rs/zerolog/log"
)

const requestIDKey = "request_id"

type Options struct {
	// Token, when set, must be presented as a bearer token on every route
	// except /health.
	Token string
}

// NewRouter builds the admin engine with request ids, access logging and the
// optional bearer check in front of the routes.
func NewRouter(h *Handler, opts Options) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestID())
	router.Use(accessLog())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/admin/v1")
	if opts.Token != "" {
		v1.Use(bearerAuth(opts.Token))
	}
	{
		v1.PUT("/partners/:id/status", h.SetPartnerStatus)
		v1.GET("/partners/:id/referrals", h.ReferralStats)
		v1.GET("/partners/:id/nps", h.PartnerNPS)

		v1.PUT("/clients/:id/status", h.SetClientStatus)
		v1.POST("/clients/:id/adjustments", h.Adjust)
		v1.POST("/clients/:id/reconcile", h.Reconcile)

		v1.DELETE("/deals/:id", h.RevokeDeal)
		v1.POST("/deals/sweep", h.SweepDeals)
	}
	return router
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(xhttp.HeaderRequestID)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Header(xhttp.HeaderRequestID, rid)
		c.Next()
	}
}

func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		ev := log.Info()
		switch {
		case status >= http.StatusInternalServerError:
			ev = log.Error()
		case status >= http.StatusBadRequest:
			ev = log.Warn()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("request_id", c.GetString(requestIDKey)).
			Msg("admin request")
	}
}

func bearerAuth(token string) gin.HandlerFunc {
	want := []byte(token)
	return func(c *gin.Context) {
		got, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":      "missing or invalid admin token",
				"code":       "unauthorized",
				"request_id": c.GetString(requestIDKey),
			})
			return
		}
		c.Next()
	}
}
