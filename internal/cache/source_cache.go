package cache

import (
	"strings"
	"time"
)

const defaultSourceTTL = 30 * time.Minute

// SourceCache memoizes normalized source code to dimension id lookups for the writer.
type SourceCache interface {
	GetSource(code string) (int64, bool)
	SetSource(code string, id int64)
	Forget(code string)
}

type sourceCache struct {
	ids Cache[string, int64]
	ttl time.Duration
}

func NewSourceCache() SourceCache {
	return &sourceCache{ids: NewTTLCache[string, int64](), ttl: defaultSourceTTL}
}

func (c *sourceCache) GetSource(code string) (int64, bool) {
	return c.ids.Get(cacheKey(code))
}

func (c *sourceCache) SetSource(code string, id int64) {
	key := cacheKey(code)
	if key == "" || id == 0 {
		return
	}
	c.ids.Set(key, id, c.ttl)
}

// Forget drops a code, used after a rolled-back insert may have returned an id that was never committed.
func (c *sourceCache) Forget(code string) {
	c.ids.Delete(cacheKey(code))
}

func cacheKey(parts ...string) string {
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		values = append(values, strings.ToLower(trimmed))
	}
	return strings.Join(values, "|")
}
