package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	pricePlaces  = 2
	amountPlaces = 3
)

// RawEntry is one stock line as a merchant integration sends it. Price and
// amount stay raw until normalization; "Cena" and "Kol" are accepted as
// aliases of price and amount.
type RawEntry struct {
	Code   json.RawMessage `json:"code"`
	Price  json.RawMessage `json:"price"`
	Amount json.RawMessage `json:"amount"`
}

func (e *RawEntry) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	e.Code = fields["code"]
	e.Price = firstPresent(fields, "price", "Cena")
	e.Amount = firstPresent(fields, "amount", "Kol")
	return nil
}

func firstPresent(fields map[string]json.RawMessage, keys ...string) json.RawMessage {
	for _, k := range keys {
		if v, ok := fields[k]; ok && !isNull(v) {
			return v
		}
	}
	return nil
}

// StockRow is a normalized entry. A nil Price or Amount keeps the stored value.
type StockRow struct {
	Code   string
	Price  *decimal.Decimal
	Amount *decimal.Decimal
}

type fieldError struct {
	Index int    `json:"index"`
	Code  string `json:"code,omitempty"`
	Field string `json:"field"`
	Value string `json:"value"`
}

// normalize trims and parses every entry. Entries without a code are dropped;
// any unparsable or negative number fails the whole batch.
func normalize(entries []RawEntry) ([]StockRow, []fieldError) {
	rows := make([]StockRow, 0, len(entries))
	var problems []fieldError
	for i, entry := range entries {
		code, err := parseCode(entry.Code)
		if err != nil {
			problems = append(problems, fieldError{Index: i, Field: "code", Value: string(entry.Code)})
			continue
		}
		if code == "" {
			continue
		}
		price, err := parseNumber(entry.Price, pricePlaces)
		if err != nil || (price != nil && price.IsNegative()) {
			problems = append(problems, fieldError{Index: i, Code: code, Field: "price", Value: string(entry.Price)})
			continue
		}
		amount, err := parseNumber(entry.Amount, amountPlaces)
		if err != nil || (amount != nil && amount.IsNegative()) {
			problems = append(problems, fieldError{Index: i, Code: code, Field: "amount", Value: string(entry.Amount)})
			continue
		}
		rows = append(rows, StockRow{Code: code, Price: price, Amount: amount})
	}
	return rows, problems
}

// dedupe keeps the last occurrence of each code.
func dedupe(rows []StockRow) []StockRow {
	seen := make(map[string]struct{}, len(rows))
	out := make([]StockRow, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		if _, ok := seen[rows[i].Code]; ok {
			continue
		}
		seen[rows[i].Code] = struct{}{}
		out = append(out, rows[i])
	}
	for l, r := 0, len(out)-1; l < r; l, r = l+1, r-1 {
		out[l], out[r] = out[r], out[l]
	}
	return out
}

func parseCode(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || isNull(raw) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return trimCode(s), nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}

// parseNumber accepts JSON numbers and numeric strings, with either a dot or
// a comma as decimal separator. Missing or null yields nil.
func parseNumber(raw json.RawMessage, places int32) (*decimal.Decimal, error) {
	if len(raw) == 0 || isNull(raw) {
		return nil, nil
	}
	var text string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil, err
		}
		text = strings.ReplaceAll(strings.TrimSpace(text), ",", ".")
		if text == "" {
			return nil, nil
		}
	} else {
		text = string(bytes.TrimSpace(raw))
	}
	d, err := decimal.NewFromString(text)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", text, err)
	}
	d = d.Round(places)
	return &d, nil
}

func trimCode(code string) string {
	return strings.TrimSpace(code)
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}

// CatalogEntry is an item metadata line for UpsertCatalog.
type CatalogEntry struct {
	Code    string          `json:"code" validate:"required,max=128"`
	Name    string          `json:"name" validate:"max=512"`
	Price   decimal.Decimal `json:"price"`
	Amount  decimal.Decimal `json:"amount"`
	Barcode *string         `json:"barcode,omitempty" validate:"omitempty,max=64"`
	Visible *bool           `json:"visible,omitempty"`
}
