package domain

import "errors"

var (
	// ErrTransient marks a source failure worth retrying on the next page or cycle.
	ErrTransient = errors.New("transient_source_error")
	// ErrSourceUnavailable marks a source that could not be reached at all.
	ErrSourceUnavailable = errors.New("source_unavailable")
	// ErrAuthentication is returned when a portal login could not be completed.
	ErrAuthentication = errors.New("authentication_failed")
	// ErrSessionExpired is returned when an export answered with a login page.
	ErrSessionExpired = errors.New("session_expired")
	// ErrEmptyExport is returned for a zero-byte export body.
	ErrEmptyExport = errors.New("empty_export")

	ErrMissingKey    = errors.New("missing_natural_key")
	ErrMissingJob    = errors.New("missing_job_reference")
	ErrInvalidAmount = errors.New("invalid_amount")
	ErrMissingDate   = errors.New("missing_date")
)

// IsPermanentRecordError reports errors that make a single record unusable.
func IsPermanentRecordError(err error) bool {
	return errors.Is(err, ErrMissingKey) ||
		errors.Is(err, ErrMissingJob) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrMissingDate)
}
