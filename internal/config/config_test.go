package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/media", cfg.Media.Path)
	assert.Equal(t, 3, cfg.Media.Retries)
	assert.Equal(t, 5*time.Second, cfg.Discovery.WaitTimeout)
	assert.False(t, strings.HasPrefix(cfg.Prefs.Path, "~"), "home dir should be expanded")
	assert.Equal(t, "preferences.json", filepath.Base(cfg.Prefs.Path))
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("UMI3D_MEDIA_RETRIES", "7")
	t.Setenv("UMI3D_WAIT_TIMEOUT", "250ms")
	t.Setenv("UMI3D_PREFS_PATH", filepath.Join(dir, "p.json"))
	t.Setenv("UMI3D_PIN", "4242")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Media.Retries)
	assert.Equal(t, 250*time.Millisecond, cfg.Discovery.WaitTimeout)
	assert.Equal(t, filepath.Join(dir, "p.json"), cfg.Prefs.Path)
	assert.Equal(t, "4242", cfg.Identity.Pin)
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("UMI3D_MEDIA_RETRY_DELAY", "soon")

	_, err := Load()
	require.Error(t, err)
}
