package normalize

import (
	"strings"
	"unicode"

	"github.com/gosimple/slug"
)

// Well-known source codes.
const (
	SourceElocals     = "elocals"
	SourceGoogle      = "google"
	SourceRely        = "rely"
	SourceNSA         = "nsa"
	SourceLiberty     = "liberty"
	SourceRetention   = "retention"
	SourceProReferral = "pro_referral"
	SourceWebsite     = "website"
	SourceWorkiz      = "workiz"
	SourceUnknown     = "unknown"
)

var sourceNames = map[string]string{
	SourceElocals:     "eLocals",
	SourceGoogle:      "Google",
	SourceRely:        "Rely",
	SourceNSA:         "NSA",
	SourceLiberty:     "Liberty",
	SourceRetention:   "Retention",
	SourceProReferral: "Pro Referral",
	SourceWebsite:     "Website",
	SourceWorkiz:      "Workiz",
}

// SourceCode lower-cases s and collapses every run of non-alphanumerics into a single underscore.
// "Pro Referral", "pro-referral" and " PRO_REFERRAL " all yield "pro_referral".
func SourceCode(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	code := slug.Make(strings.ReplaceAll(s, "_", " "))
	code = strings.ReplaceAll(code, "-", "_")
	for strings.Contains(code, "__") {
		code = strings.ReplaceAll(code, "__", "_")
	}
	return strings.Trim(code, "_")
}

// SourceName returns the display name for a code.
func SourceName(code string) string {
	code = SourceCode(code)
	if name, ok := sourceNames[code]; ok {
		return name
	}
	words := strings.Split(code, "_")
	for i, word := range words {
		if word == "" {
			continue
		}
		runes := []rune(word)
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}

// SeedSources lists the codes created at install time.
func SeedSources() []string {
	return []string{
		SourceElocals,
		SourceGoogle,
		SourceRely,
		SourceNSA,
		SourceLiberty,
		SourceRetention,
		SourceProReferral,
		SourceWebsite,
		SourceWorkiz,
	}
}
