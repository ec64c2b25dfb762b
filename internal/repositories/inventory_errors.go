package repositories

import "fmt"

// InventoryErrorCode enumerates repository error causes for inventory operations.
type InventoryErrorCode string

const (
	// InventoryErrorInvalidInput indicates the debit request was malformed.
	InventoryErrorInvalidInput InventoryErrorCode = "inventory_invalid_input"
	// InventoryErrorProductNotFound indicates the product document is missing.
	InventoryErrorProductNotFound InventoryErrorCode = "inventory_product_not_found"
	// InventoryErrorVariantNotFound indicates the product has no such color variant.
	InventoryErrorVariantNotFound InventoryErrorCode = "inventory_variant_not_found"
)

// InventoryError wraps inventory-specific failures with machine readable codes.
type InventoryError struct {
	Op        string
	Code      InventoryErrorCode
	ProductID string
	Color     string
	Message   string
	Err       error
}

// Error implements the error interface.
func (e *InventoryError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *InventoryError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound reports whether the product or variant could not be located.
func (e *InventoryError) IsNotFound() bool {
	return e != nil && (e.Code == InventoryErrorProductNotFound || e.Code == InventoryErrorVariantNotFound)
}

// IsConflict is always false; debits floor at zero instead of conflicting.
func (e *InventoryError) IsConflict() bool { return false }

// IsUnavailable is always false for typed inventory failures.
func (e *InventoryError) IsUnavailable() bool { return false }

// NewInventoryError constructs a typed inventory error for a variant.
func NewInventoryError(code InventoryErrorCode, productID, color, message string) *InventoryError {
	if message == "" {
		message = string(code)
	}
	return &InventoryError{
		Code:      code,
		ProductID: productID,
		Color:     color,
		Message:   message,
	}
}
