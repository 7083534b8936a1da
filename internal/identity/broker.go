package identity

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Response carries the answer to one Request. Only the field matching the
// request kind is read.
type Response struct {
	Credentials Credentials
	Pin         string
	Form        FormAnswer
}

// Request is a single-shot identity question waiting for a UI.
type Request struct {
	ID   string
	Kind Kind
	Form *Form

	once     sync.Once
	done     chan struct{}
	response Response
	err      error
}

func newRequest(kind Kind, form *Form) *Request {
	return &Request{
		ID:   uuid.New().String(),
		Kind: kind,
		Form: form,
		done: make(chan struct{}),
	}
}

// Answer resolves the request. Form answers are validated first; an invalid
// answer leaves the request open so the UI can ask again.
func (r *Request) Answer(resp Response) error {
	if r.Kind == KindForm && r.Form != nil {
		answer, err := r.Form.Validate(resp.Form)
		if err != nil {
			return err
		}
		resp.Form = answer
	}
	if !r.resolve(resp, nil) {
		return ErrAlreadyAnswered
	}
	return nil
}

// Cancel abandons the request. The waiting environment gets ErrCancelled.
func (r *Request) Cancel() {
	r.resolve(Response{}, ErrCancelled)
}

// Done is closed once the request is answered or cancelled.
func (r *Request) Done() <-chan struct{} {
	return r.done
}

func (r *Request) resolve(resp Response, err error) bool {
	resolved := false
	r.once.Do(func() {
		r.response = resp
		r.err = err
		resolved = true
		close(r.done)
	})
	return resolved
}

func (r *Request) wait(ctx context.Context) (Response, error) {
	select {
	case <-r.done:
		return r.response, r.err
	case <-ctx.Done():
		r.Cancel()
		<-r.done
		return r.response, r.err
	}
}

// Broker is a Provider that hands every question to a UI through
// Requests().
type Broker struct {
	requests chan *Request

	mu      sync.Mutex
	pending map[string]*Request
}

func NewBroker() *Broker {
	return &Broker{
		requests: make(chan *Request),
		pending:  make(map[string]*Request),
	}
}

func (b *Broker) Requests() <-chan *Request {
	return b.requests
}

// CancelPending cancels every open request and returns how many there were.
func (b *Broker) CancelPending() int {
	b.mu.Lock()
	pending := make([]*Request, 0, len(b.pending))
	for _, req := range b.pending {
		pending = append(pending, req)
	}
	b.mu.Unlock()

	for _, req := range pending {
		req.Cancel()
	}
	if len(pending) > 0 {
		log.Debug().Int("count", len(pending)).Msg("cancelled pending identity requests")
	}
	return len(pending)
}

func (b *Broker) Login(ctx context.Context) (Credentials, error) {
	resp, err := b.ask(ctx, newRequest(KindLogin, nil))
	return resp.Credentials, err
}

func (b *Broker) Pin(ctx context.Context) (string, error) {
	resp, err := b.ask(ctx, newRequest(KindPin, nil))
	return resp.Pin, err
}

func (b *Broker) Form(ctx context.Context, form *Form) (FormAnswer, error) {
	resp, err := b.ask(ctx, newRequest(KindForm, form))
	return resp.Form, err
}

func (b *Broker) ask(ctx context.Context, req *Request) (Response, error) {
	b.mu.Lock()
	b.pending[req.ID] = req
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, req.ID)
		b.mu.Unlock()
	}()

	log.Debug().Str("request", req.ID).Str("kind", string(req.Kind)).Msg("identity requested")

	select {
	case b.requests <- req:
	case <-req.done:
		return req.response, req.err
	case <-ctx.Done():
		req.Cancel()
		return Response{}, ErrCancelled
	}
	return req.wait(ctx)
}
