package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"umi3dconnect/internal/media"
	"umi3dconnect/internal/servers"
)

// DefaultTimeout bounds how long a query waits for the master.
const DefaultTimeout = 5 * time.Second

var (
	ErrNoSessions = errors.New("no sessions found")
	ErrTimeout    = errors.New("timed out waiting for the master server")
)

type Source string

const (
	SourceMaster Source = "master"
	SourceLAN    Source = "lan"
)

// SessionDescriptor is one joinable live session.
type SessionDescriptor struct {
	Name        string `json:"name"`
	Address     string `json:"address"`
	Port        int    `json:"port"`
	PlayerCount int    `json:"playerCount"`
	Source      Source `json:"source"`
}

// Host returns host and port as strings, ready for media.FormatURL.
func (d SessionDescriptor) Host() (string, string) {
	return d.Address, strconv.Itoa(d.Port)
}

// URL returns the base url of the session's environment.
func (d SessionDescriptor) URL() string {
	return media.FormatURL(d.Host())
}

// Querier streams sessions matching a pin.
type Querier interface {
	Query(ctx context.Context, pin string) (<-chan SessionDescriptor, <-chan error)
}

// Client queries a master server over UDP.
type Client struct {
	masterAddr string
	timeout    time.Duration
}

func NewClient(masterAddr string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		masterAddr: masterAddr,
		timeout:    timeout,
	}
}

// Query sends pin to the master and yields descriptors as packets arrive.
// The sessions channel is closed when the master signals the end of the
// list, on timeout, or when ctx is cancelled. The error channel receives at
// most one error: ErrNoSessions when nothing matched (also wrapping
// ErrTimeout when the master never answered), or a transport error.
func (c *Client) Query(ctx context.Context, pin string) (<-chan SessionDescriptor, <-chan error) {
	out := make(chan SessionDescriptor)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)

		found, err := c.query(ctx, pin, out)
		switch {
		case errors.Is(err, ErrTimeout) && found > 0:
			// partial list, the caller already has something to show
		case errors.Is(err, ErrTimeout):
			errc <- fmt.Errorf("%w: %w", ErrNoSessions, err)
		case err != nil:
			errc <- err
		case found == 0:
			errc <- ErrNoSessions
		}
	}()

	return out, errc
}

func (c *Client) query(ctx context.Context, pin string, out chan<- SessionDescriptor) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", c.masterAddr)
	if err != nil {
		return 0, fmt.Errorf("failed to reach master %s: %w", c.masterAddr, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		// unblock the pending read
		_ = conn.SetReadDeadline(time.Now())
	}()

	if _, err := conn.Write(servers.GetSessionsRequest(pin)); err != nil {
		return 0, fmt.Errorf("failed to query master %s: %w", c.masterAddr, err)
	}

	found := 0
	buf := make([]byte, 2048)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return found, ctxErr(ctx)
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return found, ErrTimeout
			}
			return found, err
		}

		infos, done, err := servers.ParseSessionsResponse(buf[:n])
		if err != nil {
			log.Debug().Err(err).Msg("ignoring unexpected packet from master")
			continue
		}
		for _, info := range infos {
			select {
			case out <- fromInfo(info):
				found++
			case <-ctx.Done():
				return found, ctxErr(ctx)
			}
		}
		if done {
			return found, nil
		}
	}
}

func ctxErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ctx.Err()
}

func fromInfo(info servers.Info) SessionDescriptor {
	return SessionDescriptor{
		Name:        info.Name,
		Address:     info.Address,
		Port:        info.Port,
		PlayerCount: info.PlayerCount,
		Source:      SourceMaster,
	}
}

// Collect drains a query into a slice, calling onSession for each result as
// it arrives.
func Collect(sessions <-chan SessionDescriptor, errc <-chan error, onSession func(SessionDescriptor)) ([]SessionDescriptor, error) {
	var list []SessionDescriptor
	for s := range sessions {
		if onSession != nil {
			onSession(s)
		}
		list = append(list, s)
	}
	return list, <-errc
}
