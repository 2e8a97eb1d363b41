package enumerator

import (
	"strconv"
	"sync/atomic"

	"github.com/marmos91/dittovfs/internal/protocol/wire"
)

// Counter hands out enumerator addresses. One Counter is shared by all
// enumerators of a process so that addresses never collide on a connection.
type Counter struct {
	prefix string
	last   atomic.Uint64
}

// NewCounter creates a counter using the standard enumerator path prefix.
// The first address ends in 1.
func NewCounter() *Counter {
	return &Counter{prefix: wire.EnumeratorPathPrefix}
}

// NewCounterWithPrefix creates a counter with a custom path prefix. The
// prefix must end with '/'.
func NewCounterWithPrefix(prefix string) *Counter {
	return &Counter{prefix: prefix}
}

// Next returns a fresh object path.
func (c *Counter) Next() string {
	return c.prefix + strconv.FormatUint(c.last.Add(1), 10)
}
