package localstore

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Event reports that the document under Key changed (or appeared, or was
// deleted; Revision is 0 for a deletion). Consumers are expected to re-read
// their whole working set; events carry no payload on purpose.
type Event struct {
	Key      string
	Revision int64
}

// Watch polls document revisions every interval and emits one Event per
// changed key. It is the stand-in for cross-process storage change
// notifications: another process writing the same file shows up here. The
// returned channel closes when ctx is cancelled.
func (s *Store) Watch(ctx context.Context, interval time.Duration) <-chan Event {
	events := make(chan Event, 16)

	go func() {
		defer close(events)

		last, err := s.Revisions(ctx)
		if err != nil {
			s.log.Warn("initial revision scan failed", zap.Error(err))
			last = map[string]int64{}
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			current, err := s.Revisions(ctx)
			if err != nil {
				s.log.Warn("revision scan failed", zap.Error(err))
				continue
			}

			for key, rev := range current {
				if last[key] != rev {
					select {
					case events <- Event{Key: key, Revision: rev}:
					default:
						// Slow consumer; it will re-read everything on the
						// next event anyway.
					}
				}
			}
			for key := range last {
				if _, ok := current[key]; !ok {
					select {
					case events <- Event{Key: key}:
					default:
					}
				}
			}
			last = current
		}
	}()

	return events
}
