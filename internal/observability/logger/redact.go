package logger

import (
	"regexp"
	"strings"

	"go.uber.org/zap/zapcore"
)

const redacted = "[redacted]"

var secretKeyFragments = []string{"password", "api_key", "apikey", "token", "secret"}

// the source API puts its key in the path: /api/v1/{key}/job/all/
var apiKeyInPath = regexp.MustCompile(`(/api/v1/)[^/?\s]+`)

// redactCore masks credential-shaped fields before they reach the encoder.
type redactCore struct {
	zapcore.Core
}

func newRedactCore(core zapcore.Core) zapcore.Core {
	return &redactCore{Core: core}
}

func (c *redactCore) With(fields []zapcore.Field) zapcore.Core {
	return &redactCore{Core: c.Core.With(redactFields(fields))}
}

func (c *redactCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *redactCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	ent.Message = RedactURL(ent.Message)
	return c.Core.Write(ent, redactFields(fields))
}

func redactFields(fields []zapcore.Field) []zapcore.Field {
	out := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		out[i] = f
		if f.Type != zapcore.StringType {
			continue
		}
		if isSecretKey(f.Key) {
			out[i].String = redacted
			continue
		}
		out[i].String = RedactURL(f.String)
	}
	return out
}

func isSecretKey(key string) bool {
	key = strings.ToLower(key)
	for _, fragment := range secretKeyFragments {
		if strings.Contains(key, fragment) {
			return true
		}
	}
	return false
}

// RedactURL hides the API key segment of source URLs.
func RedactURL(s string) string {
	if !strings.Contains(s, "/api/v1/") {
		return s
	}
	return apiKeyInPath.ReplaceAllString(s, "${1}"+redacted)
}
