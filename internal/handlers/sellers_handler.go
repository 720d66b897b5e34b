package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *handler) registerSellers(r *gin.RouterGroup) {
	r.GET("/sellers/:id/products", h.sellerProducts)
	r.GET("/sellers/:id/rating", h.sellerRating)
	r.GET("/sellers/:id/reviews", h.sellerReviews)
}

func (h *handler) sellerProducts(c *gin.Context) {
	list, err := h.svc.ListSellerProducts(c.Request.Context(), c.Param("id"), principal(c).ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": list, "count": len(list)})
}

func (h *handler) sellerRating(c *gin.Context) {
	r, err := h.svc.SellerRating(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h *handler) sellerReviews(c *gin.Context) {
	list, err := h.svc.SellerReviews(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reviews": list, "count": len(list)})
}
