package service

import "checkout-service/internal/models"

// OrderTotal computes the order total over snapshot lines. Prices are fixed
// point minor units, so the sum is exact integer arithmetic.
func OrderTotal(lines []models.CartLine) int64 {
	var total int64
	for _, line := range lines {
		total += line.UnitPrice * int64(line.Quantity)
	}
	return total
}

// LineSubtotal returns the subtotal for a single snapshot line.
func LineSubtotal(line models.CartLine) int64 {
	return line.UnitPrice * int64(line.Quantity)
}
