// Package normalize maps raw source payloads onto canonical fact records.
// Every function here is pure.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
)

// Digits keeps only ASCII digits.
func Digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Phone returns the 10-digit national form; a leading country code 1 is dropped.
func Phone(s string) string {
	digits := Digits(s)
	if len(digits) == 11 && digits[0] == '1' {
		return digits[1:]
	}
	return digits
}

// PhoneHash is the hex sha256 of Phone(s), or "" when there are no digits.
func PhoneHash(s string) string {
	phone := Phone(s)
	if phone == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(phone))
	return hex.EncodeToString(sum[:])
}

// Zip returns the first five digits, left-padded with zeros.
func Zip(s string) string {
	digits := Digits(s)
	if digits == "" {
		return ""
	}
	if len(digits) > 5 {
		digits = digits[:5]
	}
	return strings.Repeat("0", 5-len(digits)) + digits
}

var phoneKeys = map[string]struct{}{
	"caller_id": {},
	"callerid":  {},
	"from":      {},
	"to":        {},
	"mobile":    {},
	"cell":      {},
}

func isPhoneKey(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	if strings.Contains(key, "phone") {
		return true
	}
	_, ok := phoneKeys[key]
	return ok
}

// PayloadPhones returns a copy of v with every value under a phone key normalized.
// Numeric phones come back as digit strings.
func PayloadPhones(v any) any {
	return walkPhones(v, false)
}

func walkPhones(v any, phoneKey bool) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = walkPhones(child, isPhoneKey(k))
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = walkPhones(child, phoneKey)
		}
		return out
	case string:
		if phoneKey {
			return Phone(val)
		}
		return val
	case json.Number:
		if phoneKey {
			return Phone(numberDigits(val))
		}
		return val
	case float64:
		if phoneKey {
			return Phone(strconv.FormatFloat(val, 'f', -1, 64))
		}
		return val
	default:
		return val
	}
}

func numberDigits(n json.Number) string {
	if i, err := n.Int64(); err == nil {
		return strconv.FormatInt(i, 10)
	}
	if f, err := n.Float64(); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return n.String()
}
