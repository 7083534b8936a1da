package discovery

import (
	"context"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"
	"github.com/rs/zerolog/log"
)

// LANService is the mDNS service type environments advertise on the local network.
const LANService = "_umi3d._tcp"

// LANBrowser finds environments announced over mDNS.
type LANBrowser struct {
	service string
	domain  string
}

func NewLANBrowser() *LANBrowser {
	return &LANBrowser{
		service: LANService,
		domain:  "local.",
	}
}

// Query streams environments until ctx is done. The pin is matched against
// the "pin" TXT record; an empty pin matches environments without one.
func (b *LANBrowser) Query(ctx context.Context, pin string) (<-chan SessionDescriptor, <-chan error) {
	out := make(chan SessionDescriptor)
	errc := make(chan error, 1)

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		close(out)
		errc <- err
		close(errc)
		return out, errc
	}

	entries := make(chan *zeroconf.ServiceEntry)
	go func() {
		defer close(out)
		defer close(errc)

		seen := make(map[string]bool)
		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					if len(seen) == 0 {
						errc <- ErrNoSessions
					}
					return
				}
				d, match := fromEntry(entry, pin)
				if !match || seen[d.Name+"@"+d.Address] {
					continue
				}
				seen[d.Name+"@"+d.Address] = true
				log.Debug().Str("name", d.Name).Str("address", d.Address).Int("port", d.Port).Msg("discovered lan environment")
				select {
				case out <- d:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				if len(seen) == 0 {
					errc <- ErrNoSessions
				}
				return
			}
		}
	}()

	if err := resolver.Browse(ctx, b.service, b.domain, entries); err != nil {
		log.Warn().Err(err).Msg("failed to browse for lan environments")
	}
	return out, errc
}

func fromEntry(entry *zeroconf.ServiceEntry, pin string) (SessionDescriptor, bool) {
	if entry == nil || len(entry.AddrIPv4) == 0 {
		return SessionDescriptor{}, false
	}
	txt := parseTXT(entry.Text)
	if txt["pin"] != pin {
		return SessionDescriptor{}, false
	}
	return SessionDescriptor{
		Name:        entry.Instance,
		Address:     entry.AddrIPv4[0].String(),
		Port:        entry.Port,
		PlayerCount: parseInt(txt["players"]),
		Source:      SourceLAN,
	}, true
}

func parseTXT(records []string) map[string]string {
	txt := make(map[string]string, len(records))
	for _, rec := range records {
		k, v, _ := strings.Cut(rec, "=")
		txt[strings.ToLower(k)] = v
	}
	return txt
}

func parseInt(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}
