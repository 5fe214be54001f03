package query

import (
	"time"

	"go.uber.org/zap"
)

// CollectGarbage evicts entries that have no subscribers, no fetch in flight
// and have not been accessed for the GC window. It returns the number evicted.
func (s *Store) CollectGarbage() int {
	if s.opts.gcTime < 0 {
		return 0
	}

	s.mu.Lock()
	now := s.opts.now()
	n := 0
	for k, e := range s.entries {
		if len(e.observers) > 0 || e.fetching {
			continue
		}
		if now.Sub(e.lastAccess) < s.opts.gcTime {
			continue
		}
		delete(s.entries, k)
		n++
	}
	s.mu.Unlock()

	if n > 0 {
		s.metrics.evictions.Add(s.ctx, int64(n))
		s.logger.Debug("evicted idle entries", zap.Int("count", n))
	}
	return n
}

func (s *Store) janitor(interval time.Duration) {
	defer close(s.janitorDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.CollectGarbage()
		}
	}
}
