package discovery

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"umi3dconnect/internal/servers"
)

func startMaster(t *testing.T) (*servers.Registry, string) {
	t.Helper()
	reg := servers.NewRegistry()
	m := servers.NewMaster(reg, servers.MasterOptions{Rate: 100, Burst: 100})
	require.NoError(t, m.Listen("127.0.0.1:0"))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = m.Serve(ctx) }()
	return reg, m.Addr().String()
}

// fakeMaster answers every query with the given datagrams.
func fakeMaster(t *testing.T, packets ...[]byte) string {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, 2048)
		for {
			_, raddr, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			for _, pkt := range packets {
				_, _ = conn.WriteToUDP(pkt, raddr)
			}
		}
	}()
	return conn.LocalAddr().String()
}

func TestClient_QueryStreamsMatchingSessions(t *testing.T) {
	reg, addr := startMaster(t)
	now := time.Now()
	reg.Heartbeat("10.0.0.5", servers.Info{Name: "Lab", Port: 7000, PlayerCount: 3, Pin: "1234"}, now)
	reg.Heartbeat("10.0.0.6", servers.Info{Name: "Other", Port: 7000, Pin: "9999"}, now)

	var streamed []string
	sessions, errc := NewClient(addr, time.Second).Query(context.Background(), "1234")
	list, err := Collect(sessions, errc, func(s SessionDescriptor) { streamed = append(streamed, s.Name) })
	require.NoError(t, err)

	assert.Equal(t, []string{"Lab"}, streamed)
	require.Len(t, list, 1)
	assert.Equal(t, SessionDescriptor{Name: "Lab", Address: "10.0.0.5", Port: 7000, PlayerCount: 3, Source: SourceMaster}, list[0])
	assert.Equal(t, "http://10.0.0.5:7000", list[0].URL())
}

func TestClient_NoSessions(t *testing.T) {
	_, addr := startMaster(t)

	start := time.Now()
	sessions, errc := NewClient(addr, 2*time.Second).Query(context.Background(), "0000")
	list, err := Collect(sessions, errc, nil)

	assert.Empty(t, list)
	assert.ErrorIs(t, err, ErrNoSessions)
	assert.Less(t, time.Since(start), time.Second, "an empty answer ends the query without waiting for the timeout")
}

func TestClient_TimeoutWithoutAnswer(t *testing.T) {
	// a listener that never answers
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer conn.Close()

	sessions, errc := NewClient(conn.LocalAddr().String(), 100*time.Millisecond).Query(context.Background(), "1234")
	_, err = Collect(sessions, errc, nil)

	assert.ErrorIs(t, err, ErrNoSessions)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestClient_PartialListOnTimeout(t *testing.T) {
	// first chunk only, the end marker never arrives
	pkt := []byte("\xff\xff\xff\xffgetsessionsResponse\n\\name\\Lab\\address\\10.0.0.5\\port\\7000\\players\\1\n")
	addr := fakeMaster(t, pkt)

	var streamed []SessionDescriptor
	sessions, errc := NewClient(addr, 150*time.Millisecond).Query(context.Background(), "1234")
	list, err := Collect(sessions, errc, func(s SessionDescriptor) { streamed = append(streamed, s) })

	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, list, streamed)
}

func TestClient_MultiPacketAnswer(t *testing.T) {
	first := []byte("\xff\xff\xff\xffgetsessionsResponse\n\\name\\A\\address\\10.0.0.1\\port\\1\\players\\0\n")
	junk := []byte("\xff\xff\xff\xffprint\nhello\n")
	last := []byte("\xff\xff\xff\xffgetsessionsResponse\n\\name\\B\\address\\10.0.0.2\\port\\2\\players\\0\n\\EOT\n")
	addr := fakeMaster(t, first, junk, last)

	sessions, errc := NewClient(addr, time.Second).Query(context.Background(), "")
	list, err := Collect(sessions, errc, nil)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "A", list[0].Name)
	assert.Equal(t, "B", list[1].Name)
}

func TestClient_Cancelled(t *testing.T) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sessions, errc := NewClient(conn.LocalAddr().String(), 5*time.Second).Query(ctx, "1234")
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err = Collect(sessions, errc, nil)
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
}

func TestFromEntry(t *testing.T) {
	entry := &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{Instance: "Lab"},
		Port:          50043,
		Text:          []string{"players=4", "pin=1234"},
		AddrIPv4:      []net.IP{net.IPv4(192, 168, 1, 20)},
	}

	d, ok := fromEntry(entry, "1234")
	require.True(t, ok)
	assert.Equal(t, SessionDescriptor{Name: "Lab", Address: "192.168.1.20", Port: 50043, PlayerCount: 4, Source: SourceLAN}, d)

	_, ok = fromEntry(entry, "")
	assert.False(t, ok)

	_, ok = fromEntry(&zeroconf.ServiceEntry{}, "")
	assert.False(t, ok, "entries without an IPv4 address are skipped")
}
