package menu

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"umi3dconnect/internal/connecting"
	"umi3dconnect/internal/discovery"
)

var ErrNothingSelected = errors.New("no session selected")

type Panel int

const (
	PanelHome Panel = iota
	PanelAdvancedConnect
	PanelSessionList
	PanelError
)

func (p Panel) String() string {
	switch p {
	case PanelHome:
		return "home"
	case PanelAdvancedConnect:
		return "advanced_connect"
	case PanelSessionList:
		return "session_list"
	case PanelError:
		return "error"
	}
	return "unknown"
}

// IdentityCanceller drops identity questions nobody will answer anymore.
type IdentityCanceller interface {
	CancelPending() int
}

// Waiter arms wall-clock waits. *connecting.Orchestrator is one.
type Waiter interface {
	StartWait(kind connecting.WaitKind) (stop func())
}

// Controller holds which panel is visible and the session list shown on it.
// It also listens to the orchestrator so failures land on the error panel.
type Controller struct {
	identity    IdentityCanceller
	waitTimeout time.Duration

	mu        sync.Mutex
	panel     Panel
	sessions  []discovery.SessionDescriptor
	selection Selection
	message   string
	actions   []connecting.Action
	onChange  func(Panel)

	waiter      Waiter
	cancelLoad  context.CancelFunc
	loadExpired bool
}

func NewController(identity IdentityCanceller, waitTimeout time.Duration) *Controller {
	if waitTimeout <= 0 {
		waitTimeout = connecting.DefaultWaitTimeout
	}
	return &Controller{
		identity:    identity,
		waitTimeout: waitTimeout,
		selection:   NewSelection(),
	}
}

// UseWaits bounds session loading with w's master server and session list
// waits instead of a plain timeout. Expired waits must come back through
// Failed, so w reports to this controller.
func (c *Controller) UseWaits(w Waiter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waiter = w
}

// OnChange registers fn to be called on every panel switch.
func (c *Controller) OnChange(fn func(Panel)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = fn
}

func (c *Controller) Panel() Panel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.panel
}

// Message is the text of the error panel.
func (c *Controller) Message() (string, []connecting.Action) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.message, c.actions
}

func (c *Controller) AdvancedConnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.showLocked(PanelAdvancedConnect)
}

// Previous abandons whatever is pending and goes back to Home.
func (c *Controller) Previous() {
	if c.identity != nil {
		c.identity.CancelPending()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selection.Clear()
	c.showLocked(PanelHome)
}

// Dismiss closes the error panel.
func (c *Controller) Dismiss() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.message = ""
	c.actions = nil
	c.showLocked(PanelHome)
}

func (c *Controller) ShowError(message string, actions ...connecting.Action) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.message = message
	c.actions = actions
	c.showLocked(PanelError)
}

func (c *Controller) showLocked(p Panel) {
	if c.panel == p {
		return
	}
	log.Debug().Str("from", c.panel.String()).Str("to", p.String()).Msg("panel changed")
	c.panel = p
	if c.onChange != nil {
		c.onChange(p)
	}
}

// LoadSessions shows the session list and fills it as q streams results.
// Nothing found within the wait timeout ends on the error panel.
func (c *Controller) LoadSessions(ctx context.Context, q discovery.Querier, pin string) ([]discovery.SessionDescriptor, error) {
	c.mu.Lock()
	c.sessions = nil
	c.selection.Clear()
	c.showLocked(PanelSessionList)
	waiter := c.waiter
	c.loadExpired = false
	c.mu.Unlock()

	var (
		cancel               context.CancelFunc
		stopMaster, stopList func()
	)
	if waiter == nil {
		ctx, cancel = context.WithTimeout(ctx, c.waitTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
		c.mu.Lock()
		c.cancelLoad = cancel
		c.mu.Unlock()
		stopMaster = waiter.StartWait(connecting.WaitMasterServer)
	}
	// stop funcs take the waiter's lock, so they run without c.mu held
	defer func() {
		if stopMaster != nil {
			stopMaster()
		}
		if stopList != nil {
			stopList()
		}
		c.mu.Lock()
		c.cancelLoad = nil
		c.mu.Unlock()
		cancel()
	}()

	sessions, errc := q.Query(ctx, pin)
	list, err := discovery.Collect(sessions, errc, func(s discovery.SessionDescriptor) {
		c.mu.Lock()
		c.sessions = append(c.sessions, s)
		c.mu.Unlock()

		// the master answered, now wait for the rest of the list
		if waiter != nil && stopList == nil {
			stopMaster()
			stopList = waiter.StartWait(connecting.WaitSessionList)
		}
	})

	c.mu.Lock()
	expired := c.loadExpired
	c.mu.Unlock()

	if len(list) > 0 {
		if err != nil {
			log.Warn().Err(err).Int("sessions", len(list)).Msg("session list incomplete")
		}
		return list, nil
	}

	if err == nil || expired || errors.Is(err, context.DeadlineExceeded) {
		err = discovery.ErrNoSessions
	}
	if errors.Is(err, context.Canceled) {
		return nil, err
	}
	e := connecting.Classify(err)
	c.ShowError(e.Message, e.Actions()...)
	return nil, err
}

// Sessions is a copy of the list on screen.
func (c *Controller) Sessions() []discovery.SessionDescriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]discovery.SessionDescriptor(nil), c.sessions...)
}

// Toggle selects entry i, or clears the selection if i was selected.
func (c *Controller) Toggle(i int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i < 0 || i >= len(c.sessions) {
		return
	}
	c.selection.Toggle(i)
}

func (c *Controller) CanNext() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selection.CanNext()
}

// Next returns the selected session.
func (c *Controller) Next() (discovery.SessionDescriptor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, ok := c.selection.Selected()
	if !ok {
		return discovery.SessionDescriptor{}, ErrNothingSelected
	}
	return c.sessions[i], nil
}

func (c *Controller) StateChanged(_, to connecting.State) {
	if to == connecting.StateIdle {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.panel != PanelError {
			c.showLocked(PanelHome)
		}
	}
}

// Failed shows err, except for an expired wait while sessions are loading:
// that one ends the load, which decides what to show.
func (c *Controller) Failed(err *connecting.Error) {
	c.mu.Lock()
	if c.cancelLoad != nil && errors.Is(err, connecting.ErrWaitTimeout) {
		c.loadExpired = true
		c.cancelLoad()
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.ShowError(err.Message, err.Actions()...)
}

func (c *Controller) ConnectionLost(_ connecting.Attempt, err *connecting.Error) {
	c.ShowError(err.Message, err.Actions()...)
}
