package servers

import (
	"context"
	"time"
)

const (
	// new sessions fall off after this many failed polls
	maxMissedPolls = 10
	// online sessions turn offline when heartbeats stop for this long
	heartbeatTimeout = 5 * time.Minute
	// offline sessions are dropped this long after their last good poll
	offlineRetention = 24 * time.Hour
)

// StartJanitor runs Sweep every interval until ctx is done.
func (r *Registry) StartJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				r.Sweep(now)
			}
		}
	}()
}

// Sweep evicts dead sessions and reconciles Online with State.
func (r *Registry) Sweep(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, s := range r.sessions {
		switch s.State {
		case StateNew:
			if s.MissedPolls >= maxMissedPolls {
				delete(r.sessions, key)
			}
		case StateOffline:
			if !s.LastGoodPoll.IsZero() && now.Sub(s.LastGoodPoll) >= offlineRetention {
				delete(r.sessions, key)
			}
		case StateOnline:
			if !s.LastHeartbeat.IsZero() && now.Sub(s.LastHeartbeat) > heartbeatTimeout {
				s.State = StateOffline
			}
		}
		s.Online = s.State == StateOnline
	}
}
