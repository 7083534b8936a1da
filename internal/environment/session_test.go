package environment

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"umi3dconnect/internal/identity"
	"umi3dconnect/internal/media"
)

// fakeEnvironment runs script against every connecting client.
func fakeEnvironment(t *testing.T, script func(conn *websocket.Conn)) *media.Manifest {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		script(conn)
	}))
	t.Cleanup(srv.Close)

	return &media.Manifest{Name: "Lab", URL: srv.URL}
}

func expect(t *testing.T, conn *websocket.Conn, typ string) Message {
	var msg Message
	if !assert.NoError(t, conn.ReadJSON(&msg)) {
		return msg
	}
	assert.Equal(t, typ, msg.Type)
	return msg
}

func TestWebsocketURL(t *testing.T) {
	cases := []struct {
		manifest media.Manifest
		want     string
	}{
		{media.Manifest{URL: "http://10.0.0.5:7000"}, "ws://10.0.0.5:7000"},
		{media.Manifest{URL: "https://env.example.com"}, "wss://env.example.com"},
		{media.Manifest{URL: "http://a", Connection: media.Connection{WebsocketURL: "ws://b:9000/link"}}, "ws://b:9000/link"},
	}
	for _, tc := range cases {
		got, err := WebsocketURL(&tc.manifest)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}

	_, err := WebsocketURL(&media.Manifest{URL: "ftp://nope"})
	assert.Error(t, err)
}

func TestDial_IdentityThenLoad(t *testing.T) {
	released := make(chan struct{})
	manifest := fakeEnvironment(t, func(conn *websocket.Conn) {
		assert.NoError(t, conn.WriteJSON(Message{Type: TypeIdentityRequest, Kind: identity.KindLogin}))
		answer := expect(t, conn, TypeIdentityAnswer)
		if assert.NotNil(t, answer.Credentials) {
			assert.Equal(t, "ada", answer.Credentials.Login)
		}

		form := &identity.Form{Params: []identity.Param{{ID: "team", Name: "Team", Type: identity.ParamEnum, Options: []string{"red"}}}}
		assert.NoError(t, conn.WriteJSON(Message{Type: TypeIdentityRequest, Kind: identity.KindForm, Form: form}))
		answer = expect(t, conn, TypeIdentityAnswer)
		assert.Equal(t, identity.FormAnswer{"team": "red"}, answer.Answers)

		assert.NoError(t, conn.WriteJSON(Message{Type: TypeJoined}))
		expect(t, conn, TypeLoad)
		assert.NoError(t, conn.WriteJSON(Message{Type: TypeLoaded}))
		<-released
	})

	id := &identity.Static{Credentials: identity.Credentials{Login: "ada", Password: "pw"}, Answers: identity.FormAnswer{"team": "red"}}
	s, err := NewDialer().Dial(context.Background(), manifest, id)
	require.NoError(t, err)

	require.NoError(t, s.Load(context.Background()))
	assert.NoError(t, s.Err())

	require.NoError(t, s.Close())
	<-s.Done()
	assert.ErrorIs(t, s.Err(), ErrClosed)
	close(released)
}

func TestDial_Rejected(t *testing.T) {
	manifest := fakeEnvironment(t, func(conn *websocket.Conn) {
		assert.NoError(t, conn.WriteJSON(Message{Type: TypeIdentityRequest, Kind: identity.KindPin}))
		expect(t, conn, TypeIdentityAnswer)
		assert.NoError(t, conn.WriteJSON(Message{Type: TypeRejected, Reason: "wrong pin"}))
	})

	_, err := NewDialer().Dial(context.Background(), manifest, &identity.Static{PinCode: "0000"})
	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "wrong pin", rejected.Reason)
}

func TestDial_CancelledIdentity(t *testing.T) {
	manifest := fakeEnvironment(t, func(conn *websocket.Conn) {
		_ = conn.WriteJSON(Message{Type: TypeIdentityRequest, Kind: identity.KindPin})
		var msg Message
		_ = conn.ReadJSON(&msg)
	})

	broker := identity.NewBroker()
	go func() {
		req := <-broker.Requests()
		req.Cancel()
	}()

	_, err := NewDialer().Dial(context.Background(), manifest, broker)
	assert.ErrorIs(t, err, identity.ErrCancelled)
}

func TestDial_Unreachable(t *testing.T) {
	_, err := NewDialer().Dial(context.Background(), &media.Manifest{URL: "http://127.0.0.1:1"}, &identity.Static{})
	assert.ErrorContains(t, err, "websocket dial failed")
}

func TestSession_LossClosesDone(t *testing.T) {
	drop := make(chan struct{})
	manifest := fakeEnvironment(t, func(conn *websocket.Conn) {
		assert.NoError(t, conn.WriteJSON(Message{Type: TypeJoined}))
		<-drop
	})

	s, err := NewDialer().Dial(context.Background(), manifest, &identity.Static{})
	require.NoError(t, err)
	defer s.Close()

	close(drop)
	select {
	case <-s.Done():
		require.Error(t, s.Err())
		assert.True(t, strings.HasPrefix(s.Err().Error(), "connection lost"))
	case <-time.After(2 * time.Second):
		t.Fatal("session did not notice the dropped link")
	}

	assert.Error(t, s.Load(context.Background()), "loading a lost session fails")
}
