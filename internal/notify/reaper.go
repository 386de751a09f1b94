package notify

import (
	"context"
	"log/slog"
	"time"
)

// CleanupStaleConnections removes every registry entry whose mailbox died
// without a clean deregister, the window between a connection's teardown
// starting and its deregistration running. Each candidate is re-checked at
// the moment of removal, so a sweep never races destructively with live
// registrations. Returns the number of entries reaped.
func (s *Service) CleanupStaleConnections() int {
	reaped := 0
	for _, e := range s.registry.stale() {
		if s.registry.deregisterIfStale(e.connID, e.userID) {
			slog.Info("reaped stale connection", "connection_id", e.connID, "user_id", e.userID)
			reaped++
		}
	}
	if reaped > 0 && s.metrics != nil {
		s.metrics.StaleReaped.Add(float64(reaped))
	}
	return reaped
}

// RunReaper sweeps for stale connections every interval until ctx is
// cancelled. Not safety-critical: without it a leaked entry costs memory,
// not correctness.
func (s *Service) RunReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.CleanupStaleConnections(); n > 0 {
				slog.Debug("reaper sweep complete", "reaped", n)
			}
		}
	}
}
