package validation

import (
	"fmt"

	validatorv10 "github.com/go-playground/validator/v10"
)

// New returns a configured validator with custom struct-level validation registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	v.RegisterStructValidation(updateStatusStructValidation, UpdateStatusRequest{})
	v.RegisterStructValidation(createProductStructValidation, CreateProductRequest{})
	v.RegisterStructValidation(updateProductStructValidation, UpdateProductRequest{})

	return v
}

// updateStatusStructValidation only accepts a tracking number with a move to shipped.
func updateStatusStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(UpdateStatusRequest)
	if req.TrackingNumber != "" && req.Status != "shipped" {
		sl.ReportError(req.TrackingNumber, "tracking_number", "TrackingNumber", "tracking_requires_shipped", req.Status)
	}
}

// createProductStructValidation keeps the sale price below the list price.
func createProductStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(CreateProductRequest)
	if req.SalePrice != nil && *req.SalePrice >= req.Price {
		sl.ReportError(*req.SalePrice, "sale_price", "SalePrice", "below_price", fmt.Sprintf("%d", req.Price))
	}
}

// updateProductStructValidation rejects setting and clearing the sale price at once.
func updateProductStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(UpdateProductRequest)
	if req.ClearSalePrice && req.SalePrice != nil {
		sl.ReportError(req.ClearSalePrice, "clear_sale_price", "ClearSalePrice", "excluded_with_sale_price", "")
	}
}
