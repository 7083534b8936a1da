package servers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_HeartbeatRegistersOnce(t *testing.T) {
	r := NewRegistry()
	var fired []string
	r.OnNew(func(key string) { fired = append(fired, key) })

	now := time.Now()
	key, isNew := r.Heartbeat("10.0.0.5", Info{Name: "Lab", Port: 7000, PlayerCount: 1}, now)
	assert.True(t, isNew)
	assert.Equal(t, "10.0.0.5:7000", key)

	_, isNew = r.Heartbeat("10.0.0.5", Info{Port: 7000, PlayerCount: 4}, now.Add(time.Second))
	assert.False(t, isNew)
	assert.Equal(t, []string{"10.0.0.5:7000"}, fired)

	s, ok := r.Get(key)
	require.True(t, ok)
	assert.Equal(t, "Lab", s.Name, "empty name keeps the previous one")
	assert.Equal(t, 4, s.PlayerCount)
	assert.Equal(t, 2, s.Heartbeats)
	assert.Equal(t, StateNew, s.State)
}

func TestRegistry_KeyedByHost(t *testing.T) {
	r := NewRegistry()
	key, _ := r.Heartbeat("172.17.0.1", Info{Address: "lab.example.com", Port: 443}, time.Now())
	assert.Equal(t, "172.17.0.1:443", key)
}

func TestRegistry_MatchByPin(t *testing.T) {
	r := NewRegistry()
	now := time.Now()
	r.Heartbeat("10.0.0.1", Info{Name: "public", Port: 1}, now)
	r.Heartbeat("10.0.0.2", Info{Name: "private", Port: 2, Pin: "1234"}, now)
	offKey, _ := r.Heartbeat("10.0.0.3", Info{Name: "gone", Port: 3, Pin: "1234"}, now)
	r.update(offKey, func(s *SessionEntry) { s.State = StateOffline })

	got := r.Match("1234")
	require.Len(t, got, 1)
	assert.Equal(t, Info{Name: "private", Address: "10.0.0.2", Port: 2}, got[0])

	got = r.Match("")
	require.Len(t, got, 1)
	assert.Equal(t, "public", got[0].Name)

	assert.Empty(t, r.Match("0000"))
}

func TestRegistry_ShutdownOnlyRecent(t *testing.T) {
	r := NewRegistry()
	now := time.Now()
	key, _ := r.Heartbeat("10.0.0.1", Info{Port: 1}, now.Add(-time.Hour))

	assert.False(t, r.Shutdown(key, now), "stale sessions ignore shutdown")
	_, ok := r.Get(key)
	assert.True(t, ok)

	r.Heartbeat("10.0.0.1", Info{Port: 1}, now)
	assert.True(t, r.Shutdown(key, now))
	_, ok = r.Get(key)
	assert.False(t, ok)
}

func TestRegistry_Sweep(t *testing.T) {
	r := NewRegistry()
	now := time.Now()

	deadNew, _ := r.Heartbeat("10.0.0.1", Info{Port: 1}, now)
	r.update(deadNew, func(s *SessionEntry) { s.MissedPolls = maxMissedPolls })

	silent, _ := r.Heartbeat("10.0.0.2", Info{Port: 2}, now.Add(-heartbeatTimeout-time.Minute))
	r.update(silent, func(s *SessionEntry) { s.State = StateOnline })

	expired, _ := r.Heartbeat("10.0.0.3", Info{Port: 3}, now)
	r.update(expired, func(s *SessionEntry) {
		s.State = StateOffline
		s.LastGoodPoll = now.Add(-offlineRetention)
	})

	healthy, _ := r.Heartbeat("10.0.0.4", Info{Port: 4}, now)
	r.update(healthy, func(s *SessionEntry) { s.State = StateOnline })

	r.Sweep(now)

	assert.ElementsMatch(t, []string{silent, healthy}, r.Keys())
	s, _ := r.Get(silent)
	assert.Equal(t, StateOffline, s.State)
	assert.False(t, s.Online)
	s, _ = r.Get(healthy)
	assert.True(t, s.Online)
}
