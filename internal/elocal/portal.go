package elocal

import (
	"net/url"
	"strings"
	"time"

	"github.com/smallbiznis/abcmetrics/internal/ingest/domain"
)

const DefaultBaseURL = "https://www.elocal.com"

// LoginURL is the manual-login form prefilled with username.
func LoginURL(base, username string) string {
	q := url.Values{}
	q.Set("manual_login", "true")
	q.Set("username", username)
	return strings.TrimRight(base, "/") + "/business_users/login?" + q.Encode()
}

// ExportURL is the CSV call export for a business over [start, end].
func ExportURL(base, businessID string, start, end time.Time) string {
	q := url.Values{}
	q.Set("start", start.Format("2006-01-02"))
	q.Set("end", end.Format("2006-01-02"))
	return strings.TrimRight(base, "/") + "/business_users/calls/export/" + url.PathEscape(businessID) + "?" + q.Encode()
}

// LoginSucceeded is the only place that decides whether a session is authenticated:
// the browser must have left the login path.
func LoginSucceeded(currentURL string) bool {
	u, err := url.Parse(strings.TrimSpace(currentURL))
	if err != nil || u.Host == "" {
		return false
	}
	return !strings.Contains(strings.ToLower(u.Path), "/login")
}

// ValidateExport rejects bodies that are not CSV.
func ValidateExport(body string) error {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return domain.ErrEmptyExport
	}
	if strings.HasPrefix(strings.ToUpper(trimmed), "<!DOCTYPE") ||
		strings.Contains(strings.ToLower(trimmed), "<html") ||
		strings.Contains(trimmed, "Log In") {
		return domain.ErrSessionExpired
	}
	return nil
}
