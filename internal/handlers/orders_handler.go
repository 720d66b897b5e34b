package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/marketplace-orderflow/internal/apperr"
	"github.com/imrishuroy/marketplace-orderflow/internal/idempotency"
	"github.com/imrishuroy/marketplace-orderflow/internal/marketplace"
	"github.com/imrishuroy/marketplace-orderflow/internal/orders"
	"github.com/imrishuroy/marketplace-orderflow/internal/validation"
)

// HeaderIdempotencyKey deduplicates order submissions.
const HeaderIdempotencyKey = "Idempotency-Key"

func (h *handler) registerOrders(r *gin.RouterGroup) {
	r.POST("/orders", h.createOrder)
	r.GET("/orders", h.listOrders)
	r.GET("/orders/number/:orderNumber", h.getOrderByNumber)
	r.GET("/orders/:id", h.getOrder)
	r.POST("/orders/:id/status", h.updateStatus)
	r.POST("/orders/:id/cancel", h.cancelOrder)
	r.POST("/orders/:id/review", h.reviewOrder)
}

func (h *handler) createOrder(c *gin.Context) {
	ctx := c.Request.Context()
	p := principal(c)

	// Require idempotency key header
	idempKey := c.GetHeader(HeaderIdempotencyKey)
	if idempKey == "" {
		h.respondError(c, apperr.New(apperr.CodeInvalidArgument, "missing %s header", HeaderIdempotencyKey))
		return
	}

	var req validation.CreateOrderRequest
	if err := validation.BindAndValidate(c, &req, h.validate); err != nil {
		// BindAndValidate already wrote a 400
		return
	}

	// keys are per buyer so two buyers never collide
	scoped := "orders:" + p.ID + ":" + idempKey
	fp := fingerprint(req)
	prev, acquired, err := h.idem.Acquire(ctx, scoped, fp)
	if err != nil {
		h.respondError(c, fmt.Errorf("idempotency check: %w", err))
		return
	}
	if !acquired {
		h.replay(c, prev, fp)
		return
	}

	o, err := h.svc.CreateOrder(ctx, p.ID, marketplace.Checkout{
		ShippingAddress: orders.Address(req.ShippingAddress),
		ShippingMethod:  req.ShippingMethod,
		PaymentMethod:   req.PaymentMethod,
		Notes:           req.Notes,
		ShippingCost:    req.ShippingCost,
		Tax:             req.Tax,
		Discount:        req.Discount,
	})
	if err != nil {
		// mark failed so the client can retry with the same key
		if mErr := h.idem.MarkFailed(context.WithoutCancel(ctx), scoped, string(apperr.CodeOf(err))); mErr != nil {
			h.logger.Warn("idempotency record not marked failed", zap.String("idempotency_key", scoped), zap.Error(mErr))
		}
		h.respondError(c, err)
		return
	}

	body, err := json.Marshal(o)
	if err != nil {
		h.respondError(c, fmt.Errorf("marshal order: %w", err))
		return
	}
	if err := h.idem.MarkDone(context.WithoutCancel(ctx), scoped, o.OrderID, string(body), http.StatusCreated); err != nil {
		h.logger.Warn("idempotency record not marked done", zap.String("idempotency_key", scoped), zap.Error(err))
	}

	c.Header("Location", "/orders/"+o.OrderID)
	c.Data(http.StatusCreated, "application/json; charset=utf-8", body)
}

// replay answers a duplicate submission from the stored record.
func (h *handler) replay(c *gin.Context, rec *idempotency.Record, fp string) {
	if rec.Fingerprint != "" && rec.Fingerprint != fp {
		h.respondError(c, apperr.New(apperr.CodeConflict, "%s was already used for a different request", HeaderIdempotencyKey))
		return
	}
	switch rec.Status {
	case idempotency.StatusDone:
		c.Header("Idempotent-Replayed", "true")
		if rec.ResourceID != "" {
			c.Header("Location", "/orders/"+rec.ResourceID)
		}
		c.Data(rec.ResponseStatus, "application/json; charset=utf-8", []byte(rec.ResponseBody))
	case idempotency.StatusInProgress:
		c.JSON(http.StatusAccepted, gin.H{"message": "request already in progress"})
	default:
		h.respondError(c, fmt.Errorf("unexpected idempotency status %q", rec.Status))
	}
}

func fingerprint(req validation.CreateOrderRequest) string {
	b, _ := json.Marshal(req)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func (h *handler) listOrders(c *gin.Context) {
	p := principal(c)
	status := orders.Status(c.Query("status"))

	as := c.Query("as")
	if as == "" {
		as = string(orders.RoleBuyer)
		if p.Role == string(orders.RoleSeller) {
			as = string(orders.RoleSeller)
		}
	}
	var (
		list []orders.Order
		err  error
	)
	switch as {
	case string(orders.RoleSeller):
		list, err = h.svc.ListBySeller(c.Request.Context(), p.ID, status)
	case string(orders.RoleBuyer):
		list, err = h.svc.ListByBuyer(c.Request.Context(), p.ID, status)
	default:
		err = apperr.New(apperr.CodeInvalidArgument, "as must be buyer or seller")
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": list, "count": len(list)})
}

func (h *handler) getOrder(c *gin.Context) {
	o, err := h.svc.GetOrder(c.Request.Context(), c.Param("id"), principal(c).ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (h *handler) getOrderByNumber(c *gin.Context) {
	o, err := h.svc.GetOrderByNumber(c.Request.Context(), c.Param("orderNumber"), principal(c).ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (h *handler) updateStatus(c *gin.Context) {
	var req validation.UpdateStatusRequest
	if err := validation.BindAndValidate(c, &req, h.validate); err != nil {
		return
	}
	o, err := h.svc.AdvanceStatus(c.Request.Context(), c.Param("id"), principal(c).ID,
		orders.Status(req.Status), req.Note, req.TrackingNumber)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (h *handler) cancelOrder(c *gin.Context) {
	var req validation.CancelOrderRequest
	if c.Request.ContentLength != 0 {
		if err := validation.BindAndValidate(c, &req, h.validate); err != nil {
			return
		}
	}
	o, err := h.svc.CancelOrder(c.Request.Context(), c.Param("id"), principal(c).ID, req.Reason)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (h *handler) reviewOrder(c *gin.Context) {
	var req validation.ReviewRequest
	if err := validation.BindAndValidate(c, &req, h.validate); err != nil {
		return
	}
	o, err := h.svc.AttachReview(c.Request.Context(), c.Param("id"), principal(c).ID, req.Rating, req.Comment)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}
