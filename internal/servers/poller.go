package servers

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"umi3dconnect/internal/media"
)

// ManifestFetcher is satisfied by *media.Resolver.
type ManifestFetcher interface {
	Fetch(ctx context.Context, url string, shouldRetry media.RetryPredicate) (*media.Manifest, error)
}

// Poller checks registered sessions by fetching their media manifest. Poll
// requests are queued and de-duplicated per session key.
type Poller struct {
	registry  *Registry
	fetcher   ManifestFetcher
	mediaPath string

	queue chan string
	// dedicated mutex for queue state; do not alias the registry lock
	mu      sync.Mutex
	pending map[string]bool
}

func NewPoller(registry *Registry, fetcher ManifestFetcher, mediaPath string) *Poller {
	return &Poller{
		registry:  registry,
		fetcher:   fetcher,
		mediaPath: mediaPath,
		queue:     make(chan string, 1024),
		pending:   make(map[string]bool),
	}
}

// StartWorkers spins up n workers processing poll requests until ctx is done.
func (p *Poller) StartWorkers(ctx context.Context, n int) {
	if n <= 0 {
		n = 4
	}
	for i := 0; i < n; i++ {
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case key := <-p.queue:
					p.mu.Lock()
					delete(p.pending, key)
					p.mu.Unlock()

					p.Poll(ctx, key)
				}
			}
		}()
	}
}

// Enqueue schedules key for polling unless it is already pending.
func (p *Poller) Enqueue(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pending[key] {
		return
	}
	select {
	case p.queue <- key:
		p.pending[key] = true
	default:
		// queue full; leave pending=false so a later round can retry
	}
}

// Run enqueues stale sessions every interval.
func (p *Poller) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		p.pollStale(time.Now())
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Poller) pollStale(now time.Time) {
	for _, s := range p.registry.List() {
		if !s.Online || now.Sub(s.LastGoodPoll) > 2*time.Minute {
			p.Enqueue(s.Key)
		}
	}
}

// Poll fetches the manifest of one session and updates its state.
func (p *Poller) Poll(ctx context.Context, key string) {
	var address string
	var port int
	ok := p.registry.update(key, func(s *SessionEntry) {
		s.Polls++
		s.LastAttempt = time.Now()
		address, port = s.Address, s.Port
	})
	if !ok {
		return
	}

	url := media.ManifestURL(media.FormatURL(address, itoa(port)), p.mediaPath)
	pollCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	manifest, err := p.fetcher.Fetch(pollCtx, url, nil)
	if err != nil {
		log.Debug().Err(err).Str("session", key).Msg("session poll failed")
		p.markOffline(key)
		return
	}

	p.registry.update(key, func(s *SessionEntry) {
		if manifest.Name != "" {
			s.Name = manifest.Name
		}
		now := time.Now()
		s.LastSeen = now
		s.LastGoodPoll = now
		s.MissedPolls = 0
		s.State = StateOnline
		s.Online = true
	})
}

func (p *Poller) markOffline(key string) {
	p.registry.update(key, func(s *SessionEntry) {
		s.Online = false
		s.MissedPolls++
		if !s.LastGoodPoll.IsZero() {
			s.State = StateOffline
		} else {
			s.State = StateNew
		}
	})
}
