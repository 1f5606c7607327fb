package credentials

import (
	"context"
	"time"
)

// DefaultWatchInterval is how often Watch polls when no interval is given.
const DefaultWatchInterval = time.Second

// Change is an observed transition of a watched key.
type Change struct {
	Key string
	Old string
	New string
}

// Removed reports whether the key went from set to absent.
func (c Change) Removed() bool { return c.Old != "" && c.New == "" }

// Added reports whether the key went from absent to set.
func (c Change) Added() bool { return c.Old == "" && c.New != "" }

// Watch polls key in backend and calls fn whenever its value changes,
// until ctx ends. Other processes sharing the backend are the writers
// this is meant to observe. Read errors are skipped; the previous value
// is kept so a transient failure never looks like a removal.
func Watch(
	ctx context.Context,
	backend Backend,
	key string,
	interval time.Duration,
	fn func(Change),
) error {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}

	last, err := backend.Get(ctx, key)
	if err != nil {
		last = ""
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			current, err := backend.Get(ctx, key)
			if err != nil {
				continue
			}
			if current == last {
				continue
			}
			change := Change{Key: key, Old: last, New: current}
			last = current
			fn(change)
		}
	}
}
