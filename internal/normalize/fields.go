package normalize

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Raw is a decoded JSON object from a source.
type Raw = map[string]any

// ExternalID returns the source's natural key for raw, or "" when it has none.
func ExternalID(raw Raw) string {
	return str(raw, "UUID", "id", "unique_id", "lead_id", "payment_id")
}

// str returns the first non-empty string-ish value among keys.
func str(raw Raw, keys ...string) string {
	for _, key := range keys {
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}
		if s := asString(v); s != "" {
			return s
		}
	}
	return ""
}

func asString(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

// money returns the first parseable amount among keys.
func money(raw Raw, keys ...string) (decimal.Decimal, bool) {
	for _, key := range keys {
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}
		if d, ok := asDecimal(v); ok {
			return d, true
		}
	}
	return decimal.Zero, false
}

func asDecimal(v any) (decimal.Decimal, bool) {
	switch val := v.(type) {
	case float64:
		return decimal.NewFromFloat(val), true
	case int:
		return decimal.NewFromInt(int64(val)), true
	case int64:
		return decimal.NewFromInt(val), true
	case json.Number:
		d, err := decimal.NewFromString(val.String())
		return d, err == nil
	case string:
		cleaned := strings.NewReplacer("$", "", ",", "", " ", "").Replace(strings.TrimSpace(val))
		if cleaned == "" {
			return decimal.Zero, false
		}
		d, err := decimal.NewFromString(cleaned)
		return d, err == nil
	default:
		return decimal.Zero, false
	}
}

func timeField(raw Raw, keys ...string) any {
	for _, key := range keys {
		if s := str(raw, key); s != "" {
			if _, ok := ParseDate(s); ok {
				return s
			}
		}
	}
	return nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func fullName(raw Raw) string {
	name := strings.TrimSpace(str(raw, "FirstName", "first_name") + " " + str(raw, "LastName", "last_name"))
	if name == "" {
		name = str(raw, "Name", "name", "ClientName")
	}
	return name
}

// teamName reads the first member name from a Team array.
func teamName(raw Raw) string {
	team, ok := raw["Team"].([]any)
	if !ok || len(team) == 0 {
		return ""
	}
	member, ok := team[0].(map[string]any)
	if !ok {
		return asString(team[0])
	}
	return str(member, "name", "Name")
}
