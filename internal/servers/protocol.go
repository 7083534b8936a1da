package servers

import (
	"bytes"
	"errors"
	"strconv"
	"strings"
)

// Wire format shared by the master and its clients. Every datagram starts
// with four 0xff bytes followed by a command line.
//
//	client -> master   getsessions <pin>
//	env    -> master   heartbeat \name\Lab\port\50043\players\3\pin\1234
//	env    -> master   shutdown \port\50043
//	master -> client   getsessionsResponse\n<infostring>\n...<infostring>\n[\EOT]
//
// A response may span several datagrams; only the last one carries \EOT.

var packetPrefix = []byte{0xff, 0xff, 0xff, 0xff}

const (
	cmdGetSessions         = "getsessions"
	cmdGetSessionsResponse = "getsessionsResponse"
	cmdHeartbeat           = "heartbeat"
	cmdShutdown            = "shutdown"

	eotMarker = `\EOT`

	// keep datagrams well under a typical MTU
	maxPacketSize = 1200
)

var ErrNotSessionsResponse = errors.New("not a getsessions response")

// Info is the set of fields exchanged for one session.
type Info struct {
	Name        string
	Address     string
	Port        int
	PlayerCount int
	Pin         string
}

// GetSessionsRequest builds the query datagram for pin.
func GetSessionsRequest(pin string) []byte {
	return command(cmdGetSessions + " " + sanitize(pin))
}

// HeartbeatPacket builds the datagram an environment sends to stay listed.
func HeartbeatPacket(info Info) []byte {
	return command(cmdHeartbeat + " " + encodeInfo(info, false))
}

// ShutdownPacket builds the datagram an environment sends when it stops.
func ShutdownPacket(port int) []byte {
	return command(cmdShutdown + ` \port\` + strconv.Itoa(port))
}

func command(line string) []byte {
	buf := make([]byte, 0, len(packetPrefix)+len(line))
	buf = append(buf, packetPrefix...)
	return append(buf, line...)
}

// splitCommand strips the prefix and returns the lowercased command word and
// the remainder of the line.
func splitCommand(data []byte) (string, string) {
	data = bytes.TrimPrefix(data, packetPrefix)
	line := strings.TrimRight(string(data), "\x00\n\r ")
	name, rest, _ := strings.Cut(line, " ")
	return strings.ToLower(name), strings.TrimSpace(rest)
}

// BuildSessionsResponse splits infos into datagrams no larger than
// maxPacketSize. At least one datagram is always returned so an empty
// result is answered immediately.
func BuildSessionsResponse(infos []Info) [][]byte {
	header := append(append([]byte{}, packetPrefix...), cmdGetSessionsResponse+"\n"...)
	trailer := eotMarker + "\n"

	var packets [][]byte
	cur := append([]byte{}, header...)
	for _, info := range infos {
		line := encodeInfo(info, true) + "\n"
		if len(cur) > len(header) && len(cur)+len(line)+len(trailer) > maxPacketSize {
			packets = append(packets, cur)
			cur = append([]byte{}, header...)
		}
		cur = append(cur, line...)
	}
	cur = append(cur, trailer...)
	return append(packets, cur)
}

// ParseSessionsResponse decodes one response datagram. done reports whether
// it carried the end marker.
func ParseSessionsResponse(data []byte) (infos []Info, done bool, err error) {
	data = bytes.TrimPrefix(data, packetPrefix)
	data = bytes.TrimRight(data, "\x00")

	lines := strings.Split(string(data), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != cmdGetSessionsResponse {
		return nil, false, ErrNotSessionsResponse
	}
	for _, line := range lines[1:] {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case line == eotMarker:
			done = true
		default:
			info := decodeInfo(line)
			if info.Address == "" || info.Port <= 0 {
				continue
			}
			infos = append(infos, info)
		}
	}
	return infos, done, nil
}

func encodeInfo(info Info, withAddress bool) string {
	var b strings.Builder
	b.WriteString(`\name\`)
	b.WriteString(sanitize(info.Name))
	if withAddress {
		b.WriteString(`\address\`)
		b.WriteString(sanitize(info.Address))
	}
	b.WriteString(`\port\`)
	b.WriteString(strconv.Itoa(info.Port))
	b.WriteString(`\players\`)
	b.WriteString(strconv.Itoa(info.PlayerCount))
	if info.Pin != "" && !withAddress {
		b.WriteString(`\pin\`)
		b.WriteString(sanitize(info.Pin))
	}
	return b.String()
}

func decodeInfo(s string) Info {
	var info Info
	keyValues := strings.Split(strings.TrimPrefix(s, `\`), `\`)
	for i := 0; i < len(keyValues)-1; i += 2 {
		k, v := keyValues[i], keyValues[i+1]
		switch strings.ToLower(k) {
		case "name":
			info.Name = v
		case "address":
			info.Address = v
		case "port":
			info.Port = parseInt(v)
		case "players":
			info.PlayerCount = parseInt(v)
		case "pin":
			info.Pin = v
		}
	}
	return info
}

// sanitize drops characters that would break the infostring framing.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '\\', '\n', '\r', 0:
			return ' '
		}
		return r
	}, s)
}

func parseInt(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
