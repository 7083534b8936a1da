package connecting

import (
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

type WaitKind string

const (
	WaitMasterServer WaitKind = "master server"
	WaitSessionList  WaitKind = "session list"
)

// ErrWaitTimeout is wrapped by the error reported when a wait expires.
var ErrWaitTimeout = errors.New("wait timed out")

type wait struct {
	kind       WaitKind
	generation uint64
	timer      *time.Timer
}

// StartWait arms a WaitTimeout timer. If it expires before the returned stop
// func is called the listener receives a network error. Leave and any new
// attempt stop it too.
func (o *Orchestrator) StartWait(kind WaitKind) (stop func()) {
	o.mu.Lock()
	defer o.mu.Unlock()

	w := &wait{kind: kind, generation: o.generation}
	o.waits[w] = struct{}{}
	w.timer = time.AfterFunc(o.opts.WaitTimeout, func() { o.waitExpired(w) })

	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if _, ok := o.waits[w]; ok {
			w.timer.Stop()
			delete(o.waits, w)
		}
	}
}

func (o *Orchestrator) waitExpired(w *wait) {
	o.mu.Lock()

	// stopped, or superseded after the timer already fired
	if _, ok := o.waits[w]; !ok {
		o.mu.Unlock()
		return
	}
	delete(o.waits, w)
	if w.generation != o.generation {
		o.mu.Unlock()
		return
	}

	log.Warn().Str("wait", string(w.kind)).Dur("timeout", o.opts.WaitTimeout).Msg("wait timed out")
	e := &Error{Kind: KindNetwork, Message: "timed out waiting for the " + string(w.kind), Err: ErrWaitTimeout}
	var env Environment
	if o.attempt != nil {
		// the attempt stays around for Retry
		env = o.abortLocked()
		o.setStateLocked(StateErrored)
	}
	o.opts.Listener.Failed(e)
	o.mu.Unlock()

	closeEnv(env)
}

func (o *Orchestrator) stopWaitsLocked() {
	for w := range o.waits {
		w.timer.Stop()
		delete(o.waits, w)
	}
}
