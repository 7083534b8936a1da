package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"umi3dconnect/internal/config"
	"umi3dconnect/internal/identity"
	"umi3dconnect/internal/menu"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestFavoritesCommands(t *testing.T) {
	t.Setenv("UMI3D_PREFS_PATH", filepath.Join(t.TempDir(), "prefs.json"))
	t.Setenv("UMI3D_LOG_PRETTY", "false")

	out, err := run(t, "favorites", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "no favorites")

	out, err = run(t, "favorites", "add", "Lab", "10.0.0.5", "7000")
	require.NoError(t, err)
	assert.Contains(t, out, "http://10.0.0.5:7000")

	_, err = run(t, "favorites", "add", "Lab again", "http://10.0.0.5", "7000")
	assert.Error(t, err, "same url twice")

	out, err = run(t, "fav", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Lab")
	assert.NotContains(t, out, "Lab again")

	_, err = run(t, "favorites", "remove", "http://10.0.0.5:7000")
	require.NoError(t, err)
	_, err = run(t, "favorites", "remove", "http://10.0.0.5:7000")
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, version+"\n", out)
}

func TestConnectWithoutAddress(t *testing.T) {
	t.Setenv("UMI3D_PREFS_PATH", filepath.Join(t.TempDir(), "prefs.json"))
	_, err := run(t, "connect")
	assert.ErrorContains(t, err, "no address")
}

func TestClient_PromptAnswersIdentity(t *testing.T) {
	var out bytes.Buffer
	prompt := identity.NewPrompt(strings.NewReader("alice\nsecret\n"), &out)
	c := newClient(config.Config{}, prompt, &out)
	t.Cleanup(c.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go c.answerIdentity(ctx)

	creds, err := c.broker.Login(ctx)
	require.NoError(t, err)
	assert.Equal(t, identity.Credentials{Login: "alice", Password: "secret"}, creds)
	assert.Contains(t, out.String(), "login: ")
}

func TestClient_EndOfInputGoesHome(t *testing.T) {
	var out bytes.Buffer
	c := newClient(config.Config{}, identity.NewPrompt(strings.NewReader(""), &out), &out)
	t.Cleanup(c.Close)
	c.menu.AdvancedConnect()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go c.answerIdentity(ctx)

	_, err := c.broker.Pin(ctx)
	assert.ErrorIs(t, err, identity.ErrCancelled)
	assert.Equal(t, menu.PanelHome, c.menu.Panel())
}
