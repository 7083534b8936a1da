package connecting

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"umi3dconnect/internal/environment"
	"umi3dconnect/internal/identity"
	"umi3dconnect/internal/library"
	"umi3dconnect/internal/media"
)

const (
	DefaultMaxRetries  = 3
	DefaultWaitTimeout = 5 * time.Second
)

// Listener is told about everything the user has to see. Calls are made
// with the orchestrator locked and must not call back into it on the same
// goroutine.
type Listener interface {
	StateChanged(from, to State)
	Failed(err *Error)
	ConnectionLost(attempt Attempt, err *Error)
}

// SceneNotifier is the exit towards whatever renders the environment.
type SceneNotifier interface {
	EnvironmentLoaded(manifest *media.Manifest)
	Leaving()
}

type ManifestFetcher interface {
	Fetch(ctx context.Context, url string, shouldRetry media.RetryPredicate) (*media.Manifest, error)
}

type LibraryDownloader interface {
	DownloadAll(ctx context.Context, libs []media.Library) error
}

// Environment is a joined environment link.
type Environment interface {
	Load(ctx context.Context) error
	Done() <-chan struct{}
	Err() error
	Close() error
}

type DialFunc func(ctx context.Context, manifest *media.Manifest, id identity.Provider) (Environment, error)

// WebsocketDialer adapts an environment.Dialer.
func WebsocketDialer(d *environment.Dialer) DialFunc {
	return func(ctx context.Context, manifest *media.Manifest, id identity.Provider) (Environment, error) {
		s, err := d.Dial(ctx, manifest, id)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

type Options struct {
	Fetcher  ManifestFetcher
	Gate     *library.Gate
	Dial     DialFunc
	Identity identity.Provider

	// optional
	Downloader LibraryDownloader
	Listener   Listener
	Scene      SceneNotifier

	MediaPath   string
	MaxRetries  int
	WaitTimeout time.Duration
}

// Orchestrator runs one connection attempt at a time: media, libraries,
// identity, load, then watches for loss.
type Orchestrator struct {
	opts Options

	mu         sync.Mutex
	state      State
	generation uint64
	attempt    *Attempt
	cancel     context.CancelFunc
	env        Environment
	waits      map[*wait]struct{}
	closed     bool
}

func New(opts Options) *Orchestrator {
	if opts.Gate == nil {
		opts.Gate = library.NewGate(nil)
	}
	if opts.Listener == nil {
		opts.Listener = nopListener{}
	}
	if opts.Scene == nil {
		opts.Scene = nopScene{}
	}
	if opts.MediaPath == "" {
		opts.MediaPath = media.DefaultPath
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = DefaultWaitTimeout
	}
	return &Orchestrator{
		opts:  opts,
		waits: make(map[*wait]struct{}),
	}
}

// Connect abandons any live attempt and starts a new one against addr.
func (o *Orchestrator) Connect(addr ServerAddress) (Attempt, error) {
	return o.start(addr, 0)
}

// Retry reconnects to the last address after an error or a loss.
func (o *Orchestrator) Retry() (Attempt, error) {
	o.mu.Lock()
	if o.attempt == nil || (o.state != StateLost && o.state != StateErrored) {
		o.mu.Unlock()
		return Attempt{}, ErrNotRetryable
	}
	addr, retries := o.attempt.Address, o.attempt.Retries
	o.mu.Unlock()

	return o.start(addr, retries+1)
}

func (o *Orchestrator) start(addr ServerAddress, retries int) (Attempt, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return Attempt{}, errors.New("orchestrator closed")
	}

	stale := o.abortLocked()
	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.attempt = &Attempt{
		ID:         uuid.New().String(),
		Generation: o.generation,
		Address:    addr,
		Retries:    retries,
	}
	attempt := *o.attempt

	log.Info().
		Str("attempt", attempt.ID).
		Uint64("generation", attempt.Generation).
		Str("url", addr.URL()).
		Int("retries", retries).
		Msg("connecting")

	o.setStateLocked(StateResolvingMedia)
	o.mu.Unlock()
	closeEnv(stale)

	go o.run(ctx, attempt.Generation, addr)
	return attempt, nil
}

// RetryPredicate allows another media fetch while gen is still the live
// attempt and fewer than MaxRetries fetches were made.
func (o *Orchestrator) RetryPredicate(gen uint64) media.RetryPredicate {
	return func(attempt int) bool {
		o.mu.Lock()
		defer o.mu.Unlock()
		if gen != o.generation || o.attempt == nil {
			return false
		}
		o.attempt.FetchAttempts = attempt
		return attempt < o.opts.MaxRetries
	}
}

func (o *Orchestrator) run(ctx context.Context, gen uint64, addr ServerAddress) {
	url := media.ManifestURL(addr.URL(), o.opts.MediaPath)
	manifest, err := o.opts.Fetcher.Fetch(ctx, url, o.RetryPredicate(gen))
	if err != nil {
		o.fail(gen, err)
		return
	}

	libs := manifest.Libraries
	if !o.resolved(gen, manifest) {
		return
	}

	if _, err := o.opts.Gate.Approve(ctx, libs); err != nil {
		o.fail(gen, err)
		return
	}
	if o.opts.Downloader != nil && len(libs) > 0 {
		if err := o.opts.Downloader.DownloadAll(ctx, libs); err != nil {
			o.fail(gen, err)
			return
		}
	}

	if !o.advance(gen, StateAwaitingIdentity) {
		return
	}
	env, err := o.opts.Dial(ctx, manifest, o.opts.Identity)
	if err != nil {
		o.fail(gen, err)
		return
	}
	if !o.attach(gen, env) {
		closeEnv(env)
		return
	}

	if err := env.Load(ctx); err != nil {
		o.fail(gen, err)
		return
	}
	if !o.connected(gen, manifest) {
		return
	}

	select {
	case <-env.Done():
		o.lost(gen, env.Err())
	case <-ctx.Done():
	}
}

func (o *Orchestrator) resolved(gen uint64, manifest *media.Manifest) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.generation {
		return false
	}
	o.attempt.Manifest = manifest
	log.Info().
		Str("environment", manifest.Name).
		Int("libraries", len(manifest.Libraries)).
		Msg("media resolved")

	if len(manifest.Libraries) > 0 {
		o.setStateLocked(StateAwaitingLibraryApproval)
	}
	return true
}

func (o *Orchestrator) advance(gen uint64, to State) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.generation {
		return false
	}
	o.setStateLocked(to)
	return true
}

func (o *Orchestrator) attach(gen uint64, env Environment) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.generation {
		return false
	}
	o.env = env
	o.setStateLocked(StateLoadingEnvironment)
	return true
}

func (o *Orchestrator) connected(gen uint64, manifest *media.Manifest) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.generation {
		return false
	}
	o.setStateLocked(StateConnected)
	o.opts.Scene.EnvironmentLoaded(manifest)
	return true
}

func (o *Orchestrator) lost(gen uint64, cause error) {
	o.mu.Lock()
	if gen != o.generation || o.state != StateConnected {
		o.mu.Unlock()
		return
	}
	env := o.detachLocked()

	e := &Error{Kind: KindLost, Message: "connection to the environment lost", Err: cause}
	log.Warn().Err(cause).Str("attempt", o.attempt.ID).Msg("connection lost")
	o.setStateLocked(StateLost)
	o.opts.Listener.ConnectionLost(*o.attempt, e)
	o.mu.Unlock()

	closeEnv(env)
}

// fail reports err unless gen went stale. Declines end the attempt, and a
// cancelled identity request ends it without a report.
func (o *Orchestrator) fail(gen uint64, err error) {
	e := Classify(err)

	o.mu.Lock()
	if gen != o.generation {
		o.mu.Unlock()
		log.Debug().Err(err).Uint64("generation", gen).Msg("dropping result of a stale attempt")
		return
	}

	var env Environment
	switch {
	case errors.Is(err, identity.ErrCancelled):
		log.Info().Msg("identity request cancelled, leaving")
		env = o.leaveLocked()
	case e.Kind == KindDeclined:
		log.Info().Err(err).Msg("connection declined")
		o.opts.Listener.Failed(e)
		env = o.leaveLocked()
	default:
		log.Error().Err(err).Str("attempt", o.attempt.ID).Msg("connection failed")
		env = o.detachLocked()
		o.setStateLocked(StateErrored)
		o.opts.Listener.Failed(e)
	}
	o.mu.Unlock()

	closeEnv(env)
}

// Leave tears down the live attempt, cancels every pending wait and returns
// to Idle.
func (o *Orchestrator) Leave() {
	o.mu.Lock()
	env := o.leaveLocked()
	o.mu.Unlock()
	closeEnv(env)
}

// leaveLocked returns the environment the caller must close once unlocked.
func (o *Orchestrator) leaveLocked() Environment {
	wasIdle := o.state == StateIdle && o.attempt == nil
	env := o.abortLocked()
	o.attempt = nil
	o.setStateLocked(StateIdle)
	if !wasIdle {
		log.Info().Msg("left environment")
		o.opts.Scene.Leaving()
	}
	return env
}

// abortLocked invalidates the live attempt: stale goroutines see a new
// generation and their context is cancelled. The detached environment is
// returned for closing outside the lock.
func (o *Orchestrator) abortLocked() Environment {
	o.generation++
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.stopWaitsLocked()
	return o.detachLocked()
}

func (o *Orchestrator) detachLocked() Environment {
	env := o.env
	o.env = nil
	return env
}

// closeEnv may block on a slow peer, so it never runs under o.mu.
func closeEnv(env Environment) {
	if env == nil {
		return
	}
	if err := env.Close(); err != nil {
		log.Debug().Err(err).Msg("closing environment")
	}
}

func (o *Orchestrator) setStateLocked(to State) {
	from := o.state
	if from == to {
		return
	}
	o.state = to
	log.Debug().Str("from", from.String()).Str("to", to.String()).Msg("connection state changed")
	o.opts.Listener.StateChanged(from, to)
}

func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := Snapshot{State: o.state}
	if o.attempt != nil {
		s.Attempt = *o.attempt
		s.Active = true
	}
	return s
}

// Close leaves and refuses further attempts.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	env := o.leaveLocked()
	o.closed = true
	o.mu.Unlock()
	closeEnv(env)
}

type nopListener struct{}

func (nopListener) StateChanged(State, State)      {}
func (nopListener) Failed(*Error)                  {}
func (nopListener) ConnectionLost(Attempt, *Error) {}

type nopScene struct{}

func (nopScene) EnvironmentLoaded(*media.Manifest) {}
func (nopScene) Leaving()                          {}
