package domain

import "fmt"

// Resource names used in logs, metrics and API paths.
const (
	ResourceJobs      = "jobs"
	ResourceLeads     = "leads"
	ResourcePayments  = "payments"
	ResourceCalls     = "calls"
	ResourcePaidLeads = "paid_leads"
	ResourceAdSpend   = "ad_spend"
)

// RowError describes one record that could not be stored.
type RowError struct {
	Key    string `json:"key"`
	Source string `json:"source,omitempty"`
	Err    error  `json:"-"`
}

func (e RowError) Error() string {
	return fmt.Sprintf("%s: %v", e.Key, e.Err)
}

func (e RowError) Unwrap() error { return e.Err }

// Result reports the outcome of a batch write.
type Result struct {
	Saved   int        `json:"saved"`
	Skipped int        `json:"skipped"`
	Errors  []RowError `json:"errors,omitempty"`
}

// Add folds other into r.
func (r *Result) Add(other Result) {
	r.Saved += other.Saved
	r.Skipped += other.Skipped
	r.Errors = append(r.Errors, other.Errors...)
}
