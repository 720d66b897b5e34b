// Package handlers exposes the marketplace over HTTP with gin.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/imrishuroy/marketplace-orderflow/internal/apperr"
	"github.com/imrishuroy/marketplace-orderflow/internal/idempotency"
	"github.com/imrishuroy/marketplace-orderflow/internal/marketplace"
	"github.com/imrishuroy/marketplace-orderflow/internal/validation"
)

// Principal headers set by the identity gateway.
const (
	HeaderUserID    = "X-User-Id"
	HeaderUserRole  = "X-User-Role"
	HeaderRequestID = "X-Request-Id"
)

const principalKey = "principal"

// Principal is the caller as asserted by the gateway.
type Principal struct {
	ID   string
	Role string
}

// HandlerConfig groups dependencies for the HTTP handlers.
type HandlerConfig struct {
	Service     *marketplace.Service
	Idempotency *idempotency.Store
	Logger      *zap.Logger
}

type handler struct {
	svc      *marketplace.Service
	idem     *idempotency.Store
	validate *validatorv10.Validate
	logger   *zap.Logger
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(cfg HandlerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	RegisterRoutes(r, cfg)
	return r
}

// RegisterRoutes registers the health check and every authenticated route.
func RegisterRoutes(r *gin.Engine, cfg HandlerConfig) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &handler{
		svc:      cfg.Service,
		idem:     cfg.Idempotency,
		validate: validation.New(),
		logger:   logger,
	}

	r.Use(h.requestContext())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/", h.requirePrincipal())
	h.registerOrders(api)
	h.registerCart(api)
	h.registerProducts(api)
	h.registerSellers(api)
}

// requestContext tags the request context with a correlation id and logs
// the request when it completes.
func (h *handler) requestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqID := c.GetHeader(HeaderRequestID)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Header(HeaderRequestID, reqID)
		c.Request = c.Request.WithContext(marketplace.WithCorrelationID(c.Request.Context(), reqID))

		c.Next()

		h.logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", reqID),
		)
	}
}

func (h *handler) requirePrincipal() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := Principal{ID: c.GetHeader(HeaderUserID), Role: c.GetHeader(HeaderUserRole)}
		if p.ID == "" || p.Role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthenticated",
				"message": "missing " + HeaderUserID + " or " + HeaderUserRole + " header",
			})
			return
		}
		c.Set(principalKey, p)
		c.Next()
	}
}

func principal(c *gin.Context) Principal {
	p, _ := c.MustGet(principalKey).(Principal)
	return p
}

// statusFor maps an error code to its HTTP status.
func statusFor(code apperr.Code) int {
	switch code {
	case apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodeForbidden:
		return http.StatusForbidden
	case apperr.CodeInvalidArgument:
		return http.StatusBadRequest
	case apperr.CodeIllegalTransition, apperr.CodeInsufficientStock,
		apperr.CodeConflict, apperr.CodeReviewAlreadyExists:
		return http.StatusConflict
	case apperr.CodeProductUnavailable, apperr.CodeCartEmpty, apperr.CodeNotCompleted:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func errorBody(err error) (int, gin.H) {
	code := apperr.CodeOf(err)
	return statusFor(code), gin.H{"error": string(code), "message": apperr.MessageOf(err)}
}

func (h *handler) respondError(c *gin.Context, err error) {
	status, body := errorBody(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("route", c.FullPath()),
			zap.String("code", body["error"].(string)),
			zap.Error(err),
		)
	}
	c.AbortWithStatusJSON(status, body)
}
