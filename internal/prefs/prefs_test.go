package prefs

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "prefs.json")
	s, err := Open(path)
	require.NoError(t, err)
	return s, path
}

func TestStore_IPAndPortPersist(t *testing.T) {
	s, path := openTemp(t)

	assert.Empty(t, s.IP())
	require.NoError(t, s.SaveIP("10.0.0.5"))
	require.NoError(t, s.SavePort("7000"))

	reopened, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", reopened.IP())
	assert.Equal(t, "7000", reopened.Port())
}

func TestStore_AddFavoriteRejectsDuplicateURL(t *testing.T) {
	s, _ := openTemp(t)

	require.NoError(t, s.AddFavorite(FavoriteServer{ServerName: "lab", ServerURL: "http://lab:7000"}))
	err := s.AddFavorite(FavoriteServer{ServerName: "lab again", ServerURL: "http://lab:7000"})
	assert.ErrorIs(t, err, ErrDuplicateFavorite)

	favs := s.Favorites()
	require.Len(t, favs, 1)
	assert.Equal(t, "lab", favs[0].ServerName)
}

func TestStore_RemoveFavorite(t *testing.T) {
	s, path := openTemp(t)

	assert.False(t, s.HasFavorites())
	require.NoError(t, s.AddFavorite(FavoriteServer{ServerName: "a", ServerURL: "http://a"}))
	require.NoError(t, s.AddFavorite(FavoriteServer{ServerName: "b", ServerURL: "http://b"}))
	require.NoError(t, s.AddFavorite(FavoriteServer{ServerName: "c", ServerURL: "http://c"}))
	assert.True(t, s.HasFavorite("http://b"))

	removed, err := s.RemoveFavorite("http://b")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.RemoveFavorite("http://missing")
	require.NoError(t, err)
	assert.False(t, removed)

	reopened, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, []FavoriteServer{
		{ServerName: "a", ServerURL: "http://a"},
		{ServerName: "c", ServerURL: "http://c"},
	}, reopened.Favorites())
	assert.False(t, reopened.HasFavorite("http://b"))
}

func TestStore_FavoritesWireFormat(t *testing.T) {
	s, path := openTemp(t)
	require.NoError(t, s.AddFavorite(FavoriteServer{ServerName: "lab", ServerURL: "http://lab"}))

	bts, err := os.ReadFile(path)
	require.NoError(t, err)

	var raw map[string]string
	require.NoError(t, json.Unmarshal(bts, &raw))
	assert.JSONEq(t, `{"favorites":[{"serverName":"lab","serverUrl":"http://lab"}]}`, raw["favorites"])
}

func TestOpen_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := Open(path)
	require.Error(t, err)
}
