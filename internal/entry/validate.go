package entry

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when an id is unknown within a subject's entries
var ErrNotFound = errors.New("grocery entry not found")

// ValidationError marks a request the caller has to fix. Its message is safe to return.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
}

// ParseDate accepts a calendar date or a timestamp and returns midnight UTC of
// the calendar day as written by the caller.
func ParseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, value)
		if err == nil {
			y, m, d := t.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", value)
}

var quarter = decimal.NewFromFloat(0.25)

// Validator checks create payloads and builds update patches
type Validator struct {
	// StrictAmounts rejects negative amounts and amounts off the 0.25 grid
	StrictAmounts bool
}

// ValidateCreate returns the entry described by p. Timestamps and id are left empty.
func (v Validator) ValidateCreate(p Payload) (*Entry, error) {
	if p.Date == nil || strings.TrimSpace(*p.Date) == "" || p.TotalAmount == nil || p.DiscountAmount == nil {
		return nil, invalid("date, totalAmount, discountAmount are required")
	}
	date, err := ParseDate(*p.Date)
	if err != nil {
		return nil, invalid("Invalid date")
	}
	if err := v.checkAmount("totalAmount", *p.TotalAmount); err != nil {
		return nil, err
	}
	if err := v.checkAmount("discountAmount", *p.DiscountAmount); err != nil {
		return nil, err
	}
	return &Entry{
		Date:           date,
		TotalAmount:    *p.TotalAmount,
		DiscountAmount: *p.DiscountAmount,
	}, nil
}

// ValidatePatch builds a patch from the fields present in p.
// An empty date string is treated as not sent.
func (v Validator) ValidatePatch(p Payload) (Patch, error) {
	var patch Patch
	if p.Date != nil && strings.TrimSpace(*p.Date) != "" {
		date, err := ParseDate(*p.Date)
		if err != nil {
			return Patch{}, invalid("Invalid date")
		}
		patch.Date = &date
	}
	if p.TotalAmount != nil {
		if err := v.checkAmount("totalAmount", *p.TotalAmount); err != nil {
			return Patch{}, err
		}
		total := *p.TotalAmount
		patch.TotalAmount = &total
	}
	if p.DiscountAmount != nil {
		if err := v.checkAmount("discountAmount", *p.DiscountAmount); err != nil {
			return Patch{}, err
		}
		discount := *p.DiscountAmount
		patch.DiscountAmount = &discount
	}
	if patch.Empty() {
		return Patch{}, invalid("No valid fields provided for update")
	}
	return patch, nil
}

func (v Validator) checkAmount(field string, amount float64) error {
	if !v.StrictAmounts {
		return nil
	}
	d := decimal.NewFromFloat(amount)
	if d.IsNegative() || !d.Mod(quarter).IsZero() {
		return invalid("%s must be a non-negative multiple of 0.25", field)
	}
	return nil
}
