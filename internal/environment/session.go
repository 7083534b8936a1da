package environment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"umi3dconnect/internal/identity"
	"umi3dconnect/internal/media"
)

var ErrClosed = errors.New("environment session closed")

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Dialer opens links to environments.
type Dialer struct {
	dialer websocket.Dialer
}

func NewDialer() *Dialer {
	return &Dialer{
		dialer: websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// Dial connects to the environment described by manifest and answers its
// identity requests from id until it is joined or rejected.
func (d *Dialer) Dial(ctx context.Context, manifest *media.Manifest, id identity.Provider) (*Session, error) {
	url, err := WebsocketURL(manifest)
	if err != nil {
		return nil, err
	}

	log.Info().Str("url", url).Str("environment", manifest.Name).Msg("connecting to environment")

	conn, _, err := d.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	// unblock handshake reads when ctx ends
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	err = handshake(ctx, conn, id)
	if !stop() {
		conn.Close()
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, identity.ErrCancelled) {
			err = ctxErr
		}
		if err == nil {
			err = ErrClosed
		}
		return nil, err
	}
	if err != nil {
		conn.Close()
		return nil, err
	}

	s := &Session{
		conn:   conn,
		done:   make(chan struct{}),
		loaded: make(chan struct{}),
	}
	go s.readLoop()
	go s.pingLoop()

	log.Info().Str("environment", manifest.Name).Msg("joined environment")
	return s, nil
}

func handshake(ctx context.Context, conn *websocket.Conn, id identity.Provider) error {
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("environment handshake failed: %w", err)
		}

		switch msg.Type {
		case TypeJoined:
			return nil
		case TypeRejected:
			return &RejectedError{Reason: msg.Reason}
		case TypeIdentityRequest:
			answer, err := answerIdentity(ctx, msg, id)
			if err != nil {
				return err
			}
			if err := conn.WriteJSON(answer); err != nil {
				return fmt.Errorf("failed to send identity: %w", err)
			}
		default:
			log.Debug().Str("type", msg.Type).Msg("ignoring message during handshake")
		}
	}
}

func answerIdentity(ctx context.Context, req Message, id identity.Provider) (Message, error) {
	log.Debug().Str("kind", string(req.Kind)).Msg("environment requested identity")

	answer := Message{Type: TypeIdentityAnswer, Kind: req.Kind}
	switch req.Kind {
	case identity.KindLogin:
		creds, err := id.Login(ctx)
		if err != nil {
			return answer, err
		}
		answer.Credentials = &creds
	case identity.KindPin:
		pin, err := id.Pin(ctx)
		if err != nil {
			return answer, err
		}
		answer.Pin = pin
	case identity.KindForm:
		if req.Form == nil {
			return answer, errors.New("form request without a form")
		}
		answers, err := id.Form(ctx, req.Form)
		if err != nil {
			return answer, err
		}
		answer.Answers = answers
	default:
		return answer, fmt.Errorf("unsupported identity request %q", req.Kind)
	}
	return answer, nil
}

// Session is a joined environment. Done is closed when the link drops.
type Session struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	mu     sync.Mutex
	err    error
	closed bool

	done       chan struct{}
	doneOnce   sync.Once
	loaded     chan struct{}
	loadedOnce sync.Once
}

// Load asks the environment to load and waits until it reports it is ready.
func (s *Session) Load(ctx context.Context) error {
	if err := s.write(Message{Type: TypeLoad}); err != nil {
		return fmt.Errorf("failed to request load: %w", err)
	}
	select {
	case <-s.loaded:
		return nil
	case <-s.done:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err is the reason the session ended, or nil while it is alive.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	s.writeMu.Unlock()

	s.finish(ErrClosed)
	return s.conn.Close()
}

func (s *Session) write(msg Message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(msg)
}

func (s *Session) finish(err error) {
	s.doneOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *Session) readLoop() {
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Message
		if err := s.conn.ReadJSON(&msg); err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if !closed {
				log.Warn().Err(err).Msg("environment link lost")
			}
			s.finish(fmt.Errorf("connection lost: %w", err))
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))

		switch msg.Type {
		case TypeLoaded:
			s.loadedOnce.Do(func() { close(s.loaded) })
		default:
			log.Debug().Str("type", msg.Type).Msg("environment message")
		}
	}
}

func (s *Session) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
