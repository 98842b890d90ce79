package entry

import "time"

// Entry is one grocery purchase owned by a single subject
type Entry struct {
	ID             string    `json:"id"`
	Date           time.Time `json:"date"`
	TotalAmount    float64   `json:"totalAmount"`
	DiscountAmount float64   `json:"discountAmount"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Payload carries entry fields from a request body. A nil field was not sent.
type Payload struct {
	Date           *string  `json:"date,omitempty"`
	TotalAmount    *float64 `json:"totalAmount,omitempty"`
	DiscountAmount *float64 `json:"discountAmount,omitempty"`
}

// Patch is a validated sparse update
type Patch struct {
	Date           *time.Time
	TotalAmount    *float64
	DiscountAmount *float64
}

// Empty reports whether the patch changes nothing
func (p Patch) Empty() bool {
	return p.Date == nil && p.TotalAmount == nil && p.DiscountAmount == nil
}

// Apply copies the patched fields onto e
func (p Patch) Apply(e *Entry) {
	if p.Date != nil {
		e.Date = *p.Date
	}
	if p.TotalAmount != nil {
		e.TotalAmount = *p.TotalAmount
	}
	if p.DiscountAmount != nil {
		e.DiscountAmount = *p.DiscountAmount
	}
}
