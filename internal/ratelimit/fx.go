package ratelimit

import "go.uber.org/fx"

// Module provides the optional redis client plus the job locker and source pacing built on it.
var Module = fx.Module("rate.limit",
	fx.Provide(
		NewRedisClient,
		NewLocker,
		NewTokenBucket,
		NewWorkizLimiter,
	),
)
