package compile

import (
	"context"
	"strconv"

	"github.com/puzpuzpuz/xsync/v4"
)

// Cached wraps a Compiler and remembers successful results per (path, level),
// so a file traced under two module names is compiled once.
type Cached struct {
	inner Compiler
	cache *xsync.Map[string, []byte]
}

// NewCached returns a caching Compiler around inner.
func NewCached(inner Compiler) *Cached {
	return &Cached{
		inner: inner,
		cache: xsync.NewMap[string, []byte](),
	}
}

// Compile implements Compiler. Failures are not cached.
func (c *Cached) Compile(ctx context.Context, path string, level int) ([]byte, error) {
	key := strconv.Itoa(level) + "\x00" + path
	if data, ok := c.cache.Load(key); ok {
		return data, nil
	}
	data, err := c.inner.Compile(ctx, path, level)
	if err != nil {
		return nil, err
	}
	c.cache.Store(key, data)
	return data, nil
}

// Len returns the number of cached results.
func (c *Cached) Len() int {
	return c.cache.Size()
}
