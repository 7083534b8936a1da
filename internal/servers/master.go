package servers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

type MasterOptions struct {
	// Rate and Burst bound getsessions queries per source IP. Heartbeats get
	// twice the rate, shutdowns a third.
	Rate  float64
	Burst int
	// GlobalRate bounds all requests regardless of source.
	GlobalRate float64
}

// Master answers session queries over UDP and accepts heartbeats from
// environments.
type Master struct {
	registry *Registry
	opts     MasterOptions
	limiter  *limiter

	mu   sync.Mutex
	conn *net.UDPConn
}

func NewMaster(registry *Registry, opts MasterOptions) *Master {
	if opts.Rate <= 0 {
		opts.Rate = 1.5
	}
	if opts.Burst <= 0 {
		opts.Burst = 4
	}
	if opts.GlobalRate <= 0 {
		opts.GlobalRate = 50
	}
	return &Master{
		registry: registry,
		opts:     opts,
		limiter:  newLimiter(opts),
	}
}

// Listen binds the UDP socket. Call Serve afterwards.
func (m *Master) Listen(addr string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("master udp resolve error: %w", err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("master udp listen error: %w", err)
	}
	// best effort, bursts of heartbeats are common on restart
	_ = conn.SetReadBuffer(1 << 20)
	_ = conn.SetWriteBuffer(1 << 20)

	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()

	log.Info().Str("addr", conn.LocalAddr().String()).Msg("master udp listening")
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (m *Master) Addr() net.Addr {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return nil
	}
	return m.conn.LocalAddr()
}

// Serve reads datagrams until ctx is cancelled.
func (m *Master) Serve(ctx context.Context) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return errors.New("master is not listening")
	}

	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go m.limiter.cleanup(ctx, 5*time.Minute)

	buf := make([]byte, 2048)
	for {
		n, raddr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Debug().Err(err).Msg("master read error")
			continue
		}
		m.handle(conn, raddr, buf[:n])
	}
}

func (m *Master) handle(conn *net.UDPConn, raddr *net.UDPAddr, data []byte) {
	cmd, rest := splitCommand(data)
	ip := raddr.IP.String()

	switch cmd {
	case cmdGetSessions:
		if m.limiter.allow(ip, kindGetSessions) {
			m.handleGetSessions(conn, raddr, rest)
		}
	case cmdHeartbeat:
		if m.limiter.allow(ip, kindHeartbeat) {
			m.handleHeartbeat(raddr, rest)
		}
	case cmdShutdown:
		if m.limiter.allow(ip, kindShutdown) {
			m.handleShutdown(raddr, rest)
		}
	default:
		// ignore
	}
}

func (m *Master) handleHeartbeat(raddr *net.UDPAddr, rest string) {
	info := decodeInfo(rest)
	if info.Port <= 0 {
		log.Debug().Str("from", raddr.String()).Msg("heartbeat without port ignored")
		return
	}
	key, isNew := m.registry.Heartbeat(sessionHost(raddr, info.Address), info, time.Now())
	if isNew {
		log.Info().Str("session", key).Str("name", info.Name).Msg("session registered")
	}
}

func (m *Master) handleShutdown(raddr *net.UDPAddr, rest string) {
	info := decodeInfo(rest)
	key := sessionKey(sessionHost(raddr, info.Address), info.Port)
	if m.registry.Shutdown(key, time.Now()) {
		log.Info().Str("session", key).Msg("session shut down")
	}
}

// sessionHost is the host a heartbeat or shutdown from raddr may speak for.
// Only a sender on the master's own machine, such as an environment behind a
// local reverse proxy, can advertise another address.
func sessionHost(raddr *net.UDPAddr, advertised string) string {
	if advertised != "" && raddr.IP.IsLoopback() {
		return advertised
	}
	return raddr.IP.String()
}

func (m *Master) handleGetSessions(conn *net.UDPConn, raddr *net.UDPAddr, pin string) {
	infos := m.registry.Match(pin)
	for _, pkt := range BuildSessionsResponse(infos) {
		if _, err := conn.WriteToUDP(pkt, raddr); err != nil {
			log.Debug().Err(err).Str("to", raddr.String()).Msg("getsessions reply failed")
			return
		}
	}
	log.Debug().Str("from", raddr.String()).Int("sessions", len(infos)).Msg("getsessions answered")
}

// --- rate limiting ---

type reqKind int

const (
	kindGetSessions reqKind = iota
	kindHeartbeat
	kindShutdown
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type limiter struct {
	mu      sync.Mutex
	opts    MasterOptions
	global  *rate.Limiter
	clients map[string]*clientLimiter
}

func newLimiter(opts MasterOptions) *limiter {
	return &limiter{
		opts:    opts,
		global:  rate.NewLimiter(rate.Limit(opts.GlobalRate), int(opts.GlobalRate*2)),
		clients: make(map[string]*clientLimiter),
	}
}

func (l *limiter) cfgFor(kind reqKind) (rate.Limit, int) {
	switch kind {
	case kindHeartbeat:
		return rate.Limit(l.opts.Rate * 2), l.opts.Burst
	case kindShutdown:
		return rate.Limit(l.opts.Rate / 3), 1
	default:
		return rate.Limit(l.opts.Rate), l.opts.Burst
	}
}

func (l *limiter) allow(ip string, kind reqKind) bool {
	if !l.global.Allow() {
		return false
	}

	key := fmt.Sprintf("%s/%d", ip, kind)
	l.mu.Lock()
	entry, ok := l.clients[key]
	if !ok {
		r, burst := l.cfgFor(kind)
		entry = &clientLimiter{limiter: rate.NewLimiter(r, burst)}
		l.clients[key] = entry
	}
	entry.lastSeen = time.Now()
	l.mu.Unlock()

	if !entry.limiter.Allow() {
		log.Debug().Str("ip", ip).Int("kind", int(kind)).Msg("rate limit exceeded")
		return false
	}
	return true
}

func (l *limiter) cleanup(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.mu.Lock()
			for key, entry := range l.clients {
				if time.Since(entry.lastSeen) > 10*time.Minute {
					delete(l.clients, key)
				}
			}
			l.mu.Unlock()
		}
	}
}
