package servers

import (
	"net"
	"strconv"
	"sync"
	"time"
)

// SessionState represents the lifecycle status of a registered session.
type SessionState string

const (
	StateNew     SessionState = "new"     // heard a heartbeat, manifest never fetched
	StateOnline  SessionState = "online"  // manifest fetched and heartbeats arriving
	StateOffline SessionState = "offline" // was online, now failing
)

// SessionEntry holds metadata and dynamic status for an environment session.
type SessionEntry struct {
	Key           string       `json:"key"`
	Name          string       `json:"name"`
	Address       string       `json:"address"`
	Port          int          `json:"port"`
	PlayerCount   int          `json:"player_count"`
	Pin           string       `json:"-"`
	Polls         int          `json:"polls"`
	Heartbeats    int          `json:"heartbeats"`
	Online        bool         `json:"online"`
	State         SessionState `json:"state"`
	FirstSeen     time.Time    `json:"first_seen"`
	LastSeen      time.Time    `json:"last_seen"`
	LastHeartbeat time.Time    `json:"last_heartbeat"`
	LastAttempt   time.Time    `json:"last_attempt"`
	LastGoodPoll  time.Time    `json:"last_good_poll"`
	MissedPolls   int          `json:"missed_polls"`
}

// Registry is the in-memory store of sessions known to the master.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*SessionEntry

	// onNew is called outside the lock for every newly registered key.
	onNew func(key string)
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*SessionEntry),
	}
}

// OnNew registers a callback fired when a session is first seen.
func (r *Registry) OnNew(fn func(key string)) {
	r.mu.Lock()
	r.onNew = fn
	r.mu.Unlock()
}

func sessionKey(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Heartbeat records a heartbeat for the session at host and info.Port. The
// address carried in info is ignored; the caller decides which host to trust.
// It returns the session key and whether the session is new.
func (r *Registry) Heartbeat(host string, info Info, now time.Time) (string, bool) {
	key := sessionKey(host, info.Port)

	r.mu.Lock()
	s, ok := r.sessions[key]
	if !ok {
		s = &SessionEntry{
			Key:       key,
			Address:   host,
			Port:      info.Port,
			State:     StateNew,
			FirstSeen: now,
		}
		r.sessions[key] = s
	}
	if info.Name != "" {
		s.Name = info.Name
	}
	s.PlayerCount = info.PlayerCount
	s.Pin = info.Pin
	s.MissedPolls = 0
	s.LastHeartbeat = now
	s.LastSeen = now
	s.Heartbeats++
	onNew := r.onNew
	r.mu.Unlock()

	if !ok && onNew != nil {
		onNew(key)
	}
	return key, !ok
}

// Shutdown removes a session, but only when it was recently alive so that a
// spoofed shutdown cannot drop long standing entries.
func (r *Registry) Shutdown(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.sessions[key]
	if s == nil {
		return false
	}
	recent := !s.LastHeartbeat.IsZero() && now.Sub(s.LastHeartbeat) < 5*time.Minute
	if !recent && !s.LastGoodPoll.IsZero() && now.Sub(s.LastGoodPoll) < 5*time.Minute {
		recent = true
	}
	if recent {
		delete(r.sessions, key)
	}
	return recent
}

// Match returns the sessions joinable with pin. Offline sessions are skipped.
func (r *Registry) Match(pin string) []Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	infos := make([]Info, 0)
	for _, s := range r.sessions {
		if s.State == StateOffline || s.Pin != pin {
			continue
		}
		infos = append(infos, Info{
			Name:        s.Name,
			Address:     s.Address,
			Port:        s.Port,
			PlayerCount: s.PlayerCount,
		})
	}
	return infos
}

// Get returns a copy of the session stored under key.
func (r *Registry) Get(key string) (SessionEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[key]
	if !ok {
		return SessionEntry{}, false
	}
	return *s, true
}

func (r *Registry) update(key string, fn func(s *SessionEntry)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[key]
	if !ok {
		return false
	}
	fn(s)
	return true
}
