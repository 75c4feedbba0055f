package scheduler

import "errors"

var (
	ErrInvalidConfig = errors.New("invalid_scheduler_config")
	ErrUnknownJob    = errors.New("unknown_job")
	ErrJobDisabled   = errors.New("job_disabled")
	ErrJobRunning    = errors.New("job_already_running")
)
