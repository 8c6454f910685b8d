package repo

import (
	"context"
	"errors"
	"time"

	"hustleup/internal/domain"
)

// WatchGig polls the gig's version column and delivers the full document
// whenever it changes, starting with the current state. The channel closes
// when the context is cancelled or the gig disappears.
func (r Repo) WatchGig(ctx context.Context, id string, interval time.Duration) (<-chan domain.Gig, error) {
	if interval <= 0 {
		interval = time.Second
	}
	first, err := r.GetGig(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make(chan domain.Gig, 1)
	out <- first
	go func() {
		defer close(out)
		last := first.Version
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			g, err := r.GetGig(ctx, id)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					return
				}
				continue
			}
			if g.Version == last {
				continue
			}
			last = g.Version
			select {
			case out <- g:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
