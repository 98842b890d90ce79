// Package scanning reads grocery receipts with a vision model and extracts
// the purchase date, the amount paid and the discount received.
package scanning

import (
	"context"
	"errors"
)

// ErrUnsupportedFormat is returned when the upload cannot be decoded as an image or PDF
var ErrUnsupportedFormat = errors.New("unsupported receipt format")

// ReceiptData contains the fields read from a receipt
type ReceiptData struct {
	Date           string  `json:"date"` // yyyy-mm-dd
	TotalAmount    float64 `json:"totalAmount"`
	DiscountAmount float64 `json:"discountAmount"`
}

// Scanner defines the interface for receipt scanning operations
type Scanner interface {
	// ScanReceipt analyzes a receipt image/PDF and extracts its amounts
	ScanReceipt(ctx context.Context, data []byte, contentType string) (*ReceiptData, error)
	// Close releases resources held by the scanner
	Close() error
}
