package scanning

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// receiptPrompt is shared by all model backends
const receiptPrompt = `You are reading a grocery store receipt. Extract:

1. **Date**: the purchase date, as YYYY-MM-DD. Thai receipts often print the Buddhist Era year (e.g. 2567); copy the year exactly as printed.
2. **Total**: the final amount paid after discounts (labels such as "TOTAL", "NET", "ยอดสุทธิ", "Amount Due").
3. **Discount**: the sum of all discounts, member savings and promotions on the receipt. Use 0 if there are none.

Return ONLY valid JSON in this exact format:
{
  "date": "YYYY-MM-DD",
  "totalAmount": 0.00,
  "discountAmount": 0.00
}

Amounts are numbers, not strings. Use null for a field you cannot find. No text or markdown around the JSON.`

var fallbackDateLayouts = []string{
	"2006/01/02",
	"02/01/2006",
	"02-01-2006",
	"02.01.2006",
}

// buddhistEraOffset converts a Thai solar calendar year to the Gregorian year
const buddhistEraOffset = 543

var yearDigits = regexp.MustCompile(`\d{4}`)

// rawReceipt mirrors the model reply; nil means the model returned null
type rawReceipt struct {
	Date           *string  `json:"date"`
	TotalAmount    *float64 `json:"totalAmount"`
	DiscountAmount *float64 `json:"discountAmount"`
}

// parseReceiptJSON extracts the JSON object from a model reply. Unknown or
// missing dates fall back to today; missing or negative amounts become 0.
func parseReceiptJSON(text string, today time.Time) (*ReceiptData, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")

	start := strings.Index(text, "{")
	if start == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	end := strings.LastIndex(text, "}")
	if end < start {
		return nil, fmt.Errorf("invalid JSON object in response")
	}

	var raw rawReceipt
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	data := &ReceiptData{Date: today.Format("2006-01-02")}
	if raw.Date != nil {
		if d, ok := normalizeDate(*raw.Date); ok {
			data.Date = d
		}
	}
	if raw.TotalAmount != nil && *raw.TotalAmount > 0 {
		data.TotalAmount = *raw.TotalAmount
	}
	if raw.DiscountAmount != nil && *raw.DiscountAmount > 0 {
		data.DiscountAmount = *raw.DiscountAmount
	}
	return data, nil
}

// normalizeDate parses the common receipt layouts and returns yyyy-mm-dd in
// the Gregorian calendar. Buddhist Era years are converted before parsing so
// leap days are checked against the Gregorian year.
func normalizeDate(value string) (string, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	value = yearDigits.ReplaceAllStringFunc(value, func(digits string) string {
		year, err := strconv.Atoi(digits)
		if err != nil || year <= 2400 {
			return digits
		}
		return strconv.Itoa(year - buddhistEraOffset)
	})

	layouts := append([]string{"2006-01-02"}, fallbackDateLayouts...)
	for _, layout := range layouts {
		t, err := time.Parse(layout, value)
		if err != nil {
			continue
		}
		return t.Format("2006-01-02"), true
	}
	return "", false
}
