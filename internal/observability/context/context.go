package context

import (
	"context"
	"strings"
)

type requestIDKey struct{}
type runIDKey struct{}
type jobKey struct{}
type actorKey struct{}

type actor struct {
	typ string
	id  string
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(requestIDKey{}).(string)
	return value
}

// WithRun tags the context with the scheduler job and its run id.
func WithRun(ctx context.Context, job, runID string) context.Context {
	ctx = context.WithValue(ctx, jobKey{}, strings.TrimSpace(job))
	return context.WithValue(ctx, runIDKey{}, strings.TrimSpace(runID))
}

func RunFromContext(ctx context.Context) (job, runID string) {
	if ctx == nil {
		return "", ""
	}
	job, _ = ctx.Value(jobKey{}).(string)
	runID, _ = ctx.Value(runIDKey{}).(string)
	return job, runID
}

func WithActor(ctx context.Context, actorType, actorID string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor{
		typ: strings.TrimSpace(actorType),
		id:  strings.TrimSpace(actorID),
	})
}

func ActorFromContext(ctx context.Context) (string, string) {
	if ctx == nil {
		return "", ""
	}
	value, ok := ctx.Value(actorKey{}).(actor)
	if !ok {
		return "", ""
	}
	return value.typ, value.id
}
