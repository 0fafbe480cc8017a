package secondlevel

import (
	"context"

	"github.com/puzpuzpuz/xsync/v3"
)

// UpdateTimestamps remembers, per table space, when it was last written.
// Query results assembled before that instant are stale.
type UpdateTimestamps struct {
	c      *Cache
	spaces *xsync.MapOf[string, int64]
}

func newUpdateTimestamps(c *Cache) *UpdateTimestamps {
	return &UpdateTimestamps{c: c, spaces: xsync.NewMapOf[string, int64]()}
}

// PreInvalidate marks spaces as being written. Until Invalidate runs, and at
// most for the soft lock timeout, every query result over them is stale.
func (u *UpdateTimestamps) PreInvalidate(ctx context.Context, spaces []string) {
	until := u.c.clock.Next() + u.c.cfg.SoftLockTimeout.Nanoseconds()
	for _, space := range spaces {
		u.spaces.Store(space, until)
	}
	u.c.logger.Debug("pre-invalidated table spaces", "spaces", spaces)
}

// Invalidate records a completed write to spaces.
func (u *UpdateTimestamps) Invalidate(ctx context.Context, spaces []string) {
	now := u.c.clock.Next()
	for _, space := range spaces {
		u.spaces.Store(space, now)
	}
	u.c.logger.Debug("invalidated table spaces", "spaces", spaces)
}

// IsUpToDate reports whether a result created at ts is still valid for spaces.
func (u *UpdateTimestamps) IsUpToDate(spaces []string, ts int64) bool {
	for _, space := range spaces {
		if last, ok := u.spaces.Load(space); ok && last >= ts {
			return false
		}
	}
	return true
}

// LastUpdate returns the last write timestamp of space.
func (u *UpdateTimestamps) LastUpdate(space string) (int64, bool) {
	return u.spaces.Load(space)
}

// Clear forgets every timestamp.
func (u *UpdateTimestamps) Clear() {
	u.spaces.Clear()
}
