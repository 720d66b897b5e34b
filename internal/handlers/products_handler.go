package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/marketplace-orderflow/internal/apperr"
	"github.com/imrishuroy/marketplace-orderflow/internal/marketplace"
	"github.com/imrishuroy/marketplace-orderflow/internal/validation"
)

func (h *handler) registerProducts(r *gin.RouterGroup) {
	r.POST("/products", h.createProduct)
	r.GET("/products/:id", h.getProduct)
	r.PUT("/products/:id", h.updateProduct)
	r.POST("/products/:id/publish", h.publishProduct)
	r.DELETE("/products/:id", h.deleteProduct)
	r.POST("/products/:id/stock", h.adjustStock)
}

func (h *handler) createProduct(c *gin.Context) {
	var req validation.CreateProductRequest
	if err := validation.BindAndValidate(c, &req, h.validate); err != nil {
		return
	}
	p, err := h.svc.CreateProduct(c.Request.Context(), principal(c).ID, marketplace.NewProduct{
		Name:        req.Name,
		Description: req.Description,
		Images:      req.Images,
		Price:       req.Price,
		SalePrice:   req.SalePrice,
		Stock:       req.Stock,
		Publish:     req.Publish,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Header("Location", "/products/"+p.ProductID)
	c.JSON(http.StatusCreated, p)
}

func (h *handler) getProduct(c *gin.Context) {
	p, err := h.svc.GetProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *handler) updateProduct(c *gin.Context) {
	var req validation.UpdateProductRequest
	if err := validation.BindAndValidate(c, &req, h.validate); err != nil {
		return
	}
	p, err := h.svc.UpdateProduct(c.Request.Context(), principal(c).ID, c.Param("id"), marketplace.ProductChanges{
		Name:           req.Name,
		Description:    req.Description,
		Images:         req.Images,
		Price:          req.Price,
		SalePrice:      req.SalePrice,
		ClearSalePrice: req.ClearSalePrice,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *handler) publishProduct(c *gin.Context) {
	p, err := h.svc.PublishProduct(c.Request.Context(), principal(c).ID, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// deleteProduct soft-deletes unless ?hard=true.
func (h *handler) deleteProduct(c *gin.Context) {
	hard := false
	if v := c.Query("hard"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			h.respondError(c, apperr.New(apperr.CodeInvalidArgument, "hard must be a boolean"))
			return
		}
		hard = b
	}
	if err := h.svc.DeleteProduct(c.Request.Context(), principal(c).ID, c.Param("id"), hard); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) adjustStock(c *gin.Context) {
	var req validation.AdjustStockRequest
	if err := validation.BindAndValidate(c, &req, h.validate); err != nil {
		return
	}
	p, err := h.svc.AdjustStock(c.Request.Context(), principal(c).ID, c.Param("id"), req.Delta)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}
