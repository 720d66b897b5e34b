package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/marketplace-orderflow/internal/validation"
)

func (h *handler) registerCart(r *gin.RouterGroup) {
	r.GET("/cart", h.getCart)
	r.POST("/cart/items", h.addCartItem)
	r.PUT("/cart/items/:productId", h.updateCartItem)
	r.DELETE("/cart/items/:productId", h.removeCartItem)
	r.DELETE("/cart", h.clearCart)
}

func (h *handler) getCart(c *gin.Context) {
	view, err := h.svc.GetCart(c.Request.Context(), principal(c).ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *handler) addCartItem(c *gin.Context) {
	var req validation.AddCartItemRequest
	if err := validation.BindAndValidate(c, &req, h.validate); err != nil {
		return
	}
	view, err := h.svc.AddToCart(c.Request.Context(), principal(c).ID, req.ProductID, req.Quantity)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *handler) updateCartItem(c *gin.Context) {
	var req validation.UpdateCartItemRequest
	if err := validation.BindAndValidate(c, &req, h.validate); err != nil {
		return
	}
	view, err := h.svc.UpdateCartItem(c.Request.Context(), principal(c).ID, c.Param("productId"), req.Quantity)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *handler) removeCartItem(c *gin.Context) {
	view, err := h.svc.RemoveCartItem(c.Request.Context(), principal(c).ID, c.Param("productId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *handler) clearCart(c *gin.Context) {
	if err := h.svc.ClearCart(c.Request.Context(), principal(c).ID); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
