// Package form holds the add/edit state for a grocery entry and turns it into
// an API payload.
package form

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zombor/grocery-tracker/internal/entry"
)

// Field names match the entry JSON fields
const (
	FieldDate     = "date"
	FieldTotal    = "totalAmount"
	FieldDiscount = "discountAmount"
)

const zeroAmount = "0.00"

// Bangkok is the reference zone for "today". Thailand has no daylight saving.
var Bangkok = time.FixedZone("Asia/Bangkok", 7*60*60)

var quarter = decimal.NewFromFloat(0.25)

// Mode is add when no entry is selected, edit otherwise
type Mode int

const (
	ModeAdd Mode = iota
	ModeEdit
)

func (m Mode) String() string {
	if m == ModeEdit {
		return "edit"
	}
	return "add"
}

// Submission is emitted on submit. EntryID is empty in add mode.
type Submission struct {
	EntryID string
	Payload entry.Payload
}

// Handlers are the parent's callbacks. Either may be nil.
type Handlers struct {
	Submit     func(Submission)
	CancelEdit func()
}

// Form is the controlled input state of the entry form
type Form struct {
	handlers Handlers
	now      func() time.Time

	mode     Mode
	entryID  string
	date     string
	total    string
	discount string
}

// New creates a Form in add mode using the system clock
func New(h Handlers) *Form {
	return NewWithClock(h, time.Now)
}

// NewWithClock creates a Form with a custom clock for testing
func NewWithClock(h Handlers, now func() time.Time) *Form {
	f := &Form{handlers: h, now: now}
	f.reset()
	return f
}

func (f *Form) reset() {
	f.mode = ModeAdd
	f.entryID = ""
	f.date = f.now().In(Bangkok).Format("2006-01-02")
	f.total = zeroAmount
	f.discount = zeroAmount
}

// Mode returns the current mode
func (f *Form) Mode() Mode { return f.mode }

// EntryID returns the selected entry's id, or "" in add mode
func (f *Form) EntryID() string { return f.entryID }

// Value returns the displayed text of a field
func (f *Form) Value(field string) string {
	switch field {
	case FieldDate:
		return f.date
	case FieldTotal:
		return f.total
	case FieldDiscount:
		return f.discount
	}
	return ""
}

// Set replaces a field's text as typed, without normalizing it
func (f *Form) Set(field, value string) {
	switch field {
	case FieldDate:
		f.date = value
	case FieldTotal:
		f.total = value
	case FieldDiscount:
		f.discount = value
	}
}

// Select loads e for editing. A nil entry returns the form to add mode.
func (f *Form) Select(e *entry.Entry) {
	if e == nil {
		f.reset()
		return
	}
	f.mode = ModeEdit
	f.entryID = e.ID
	f.date = e.Date.UTC().Format("2006-01-02")
	f.total = decimal.NewFromFloat(e.TotalAmount).StringFixed(2)
	f.discount = decimal.NewFromFloat(e.DiscountAmount).StringFixed(2)
}

// Prefill loads a suggested payload, such as a scanned receipt, in add mode
func (f *Form) Prefill(p entry.Payload) {
	f.reset()
	if p.Date != nil && *p.Date != "" {
		f.date = *p.Date
	}
	if p.TotalAmount != nil {
		f.total = Quantize(decimal.NewFromFloat(*p.TotalAmount).String())
	}
	if p.DiscountAmount != nil {
		f.discount = Quantize(decimal.NewFromFloat(*p.DiscountAmount).String())
	}
}

// Blur normalizes an amount field the way leaving the input does
func (f *Form) Blur(field string) {
	switch field {
	case FieldTotal:
		f.total = Quantize(f.total)
	case FieldDiscount:
		f.discount = Quantize(f.discount)
	}
}

// Quantize snaps an amount to the nearest 0.25 with two decimals.
// Unparseable or negative input becomes "0.00".
func Quantize(value string) string {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil || d.IsNegative() {
		return zeroAmount
	}
	return d.Div(quarter).Round(0).Mul(quarter).StringFixed(2)
}

func amount(value string) *float64 {
	v, _ := decimal.RequireFromString(Quantize(value)).Float64()
	return &v
}

// Submit normalizes the amounts, emits the payload and then resets (add) or
// leaves edit mode.
func (f *Form) Submit() Submission {
	f.Blur(FieldTotal)
	f.Blur(FieldDiscount)

	date := f.date
	sub := Submission{
		EntryID: f.entryID,
		Payload: entry.Payload{
			Date:           &date,
			TotalAmount:    amount(f.total),
			DiscountAmount: amount(f.discount),
		},
	}

	if f.handlers.Submit != nil {
		f.handlers.Submit(sub)
	}
	wasEdit := f.mode == ModeEdit
	f.reset()
	if wasEdit && f.handlers.CancelEdit != nil {
		f.handlers.CancelEdit()
	}
	return sub
}

// Cancel discards edits. It does nothing in add mode.
func (f *Form) Cancel() {
	if f.mode != ModeEdit {
		return
	}
	f.reset()
	if f.handlers.CancelEdit != nil {
		f.handlers.CancelEdit()
	}
}
