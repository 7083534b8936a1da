package main

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"

	"umi3dconnect/internal/config"
	"umi3dconnect/internal/connecting"
	"umi3dconnect/internal/environment"
	"umi3dconnect/internal/identity"
	"umi3dconnect/internal/library"
	"umi3dconnect/internal/media"
	"umi3dconnect/internal/menu"
)

// event is what the orchestrator reports to the terminal loop.
type event struct {
	state connecting.State
	err   *connecting.Error
	lost  bool
}

// terminal forwards orchestrator callbacks to a channel so the terminal loop
// can react without calling back into the orchestrator from a callback.
type terminal struct {
	out    io.Writer
	events chan event
}

func (t *terminal) StateChanged(_, to connecting.State) {
	t.send(event{state: to})
}

func (t *terminal) Failed(err *connecting.Error) {
	t.send(event{err: err})
}

func (t *terminal) ConnectionLost(_ connecting.Attempt, err *connecting.Error) {
	t.send(event{err: err, lost: true})
}

// send never blocks; events after the loop stopped reading are dropped.
func (t *terminal) send(ev event) {
	select {
	case t.events <- ev:
	default:
		log.Debug().Msg("dropping connection event")
	}
}

func (t *terminal) drain() {
	for {
		select {
		case <-t.events:
		default:
			return
		}
	}
}

func (t *terminal) EnvironmentLoaded(manifest *media.Manifest) {
	fmt.Fprintf(t.out, "joined %s, press ctrl-c to leave\n", manifest.Name)
}

func (t *terminal) Leaving() {
	fmt.Fprintln(t.out, "left the environment")
}

// listeners fans orchestrator callbacks out in order.
type listeners []connecting.Listener

func (ls listeners) StateChanged(from, to connecting.State) {
	for _, l := range ls {
		l.StateChanged(from, to)
	}
}

func (ls listeners) Failed(err *connecting.Error) {
	for _, l := range ls {
		l.Failed(err)
	}
}

func (ls listeners) ConnectionLost(attempt connecting.Attempt, err *connecting.Error) {
	for _, l := range ls {
		l.ConnectionLost(attempt, err)
	}
}

// client is one terminal session: the menu, the orchestrator it listens to,
// and the prompt answering identity questions the environment asks.
type client struct {
	out    io.Writer
	prompt *identity.Prompt
	broker *identity.Broker
	menu   *menu.Controller
	term   *terminal
	orch   *connecting.Orchestrator
}

func newClient(cfg config.Config, prompt *identity.Prompt, out io.Writer) *client {
	c := &client{
		out:    out,
		prompt: prompt,
		broker: identity.NewBroker(),
		term:   &terminal{out: out, events: make(chan event, 32)},
	}
	c.menu = menu.NewController(c.broker, cfg.Discovery.WaitTimeout)
	c.menu.OnChange(func(p menu.Panel) {
		log.Debug().Str("panel", p.String()).Msg("menu")
	})

	gate := library.NewGate(library.ApproverFunc(func(ctx context.Context, libs []media.Library) (bool, error) {
		for _, lib := range libs {
			fmt.Fprintf(out, "  %s %s (%d bytes)\n", lib.ID, lib.Version, lib.Size)
		}
		return prompt.Confirm(ctx, fmt.Sprintf("download %d libraries", len(libs)))
	}))

	var id identity.Provider = c.broker
	if cfg.Identity.Login != "" || cfg.Identity.Pin != "" {
		id = &identity.Static{
			Credentials: identity.Credentials{Login: cfg.Identity.Login, Password: cfg.Identity.Password},
			PinCode:     cfg.Identity.Pin,
		}
	}

	c.orch = connecting.New(connecting.Options{
		Fetcher: media.NewResolver(media.ResolverOptions{
			Timeout:    cfg.Media.Timeout,
			RetryDelay: cfg.Media.RetryDelay,
		}),
		Gate:        gate,
		Downloader:  library.NewDownloader(cfg.Libraries.Dir, cfg.Libraries.Retries),
		Dial:        connecting.WebsocketDialer(environment.NewDialer()),
		Identity:    id,
		Listener:    listeners{c.menu, c.term},
		Scene:       c.term,
		MediaPath:   cfg.Media.Path,
		MaxRetries:  cfg.Media.Retries,
		WaitTimeout: cfg.Discovery.WaitTimeout,
	})
	c.menu.UseWaits(c.orch)
	return c
}

func (c *client) Close() {
	c.orch.Close()
}

// answerIdentity serves the broker from the prompt until ctx is done. An
// unanswerable prompt (end of input) is the terminal's way back to Home.
func (c *client) answerIdentity(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-c.broker.Requests():
			resp, err := c.ask(ctx, req)
			if err != nil {
				log.Debug().Err(err).Str("request", req.ID).Msg("identity prompt abandoned")
				c.menu.Previous()
				continue
			}
			if err := req.Answer(resp); err != nil {
				log.Debug().Err(err).Str("request", req.ID).Msg("identity answer refused")
			}
		}
	}
}

func (c *client) ask(ctx context.Context, req *identity.Request) (identity.Response, error) {
	switch req.Kind {
	case identity.KindLogin:
		creds, err := c.prompt.Login(ctx)
		return identity.Response{Credentials: creds}, err
	case identity.KindPin:
		pin, err := c.prompt.Pin(ctx)
		return identity.Response{Pin: pin}, err
	default:
		answer, err := c.prompt.Form(ctx, req.Form)
		return identity.Response{Form: answer}, err
	}
}

// run connects to addr and stays in the environment until the user leaves
// or ctx is done.
func (c *client) run(ctx context.Context, addr connecting.ServerAddress) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.answerIdentity(ctx)

	// anything reported before this attempt, like an expired session list wait
	c.term.drain()
	if _, err := c.orch.Connect(addr); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			c.orch.Leave()
			return nil
		case ev := <-c.term.events:
			switch {
			case ev.lost:
				fmt.Fprintln(c.out, ev.err.Message)
				again, err := c.prompt.Confirm(ctx, "retry")
				if err != nil || !again {
					c.orch.Leave()
					return err
				}
				if _, err := c.orch.Retry(); err != nil {
					return err
				}
			case ev.err != nil && ev.err.Kind == connecting.KindDeclined:
				log.Info().Str("reason", ev.err.Message).Msg("connection declined")
				return nil
			case ev.err != nil:
				if msg, _ := c.menu.Message(); msg != "" {
					fmt.Fprintln(c.out, msg)
				}
				c.orch.Leave()
				return ev.err
			case ev.state == connecting.StateIdle:
				return nil
			default:
				log.Debug().Str("state", ev.state.String()).Msg("connection progress")
			}
		}
	}
}
