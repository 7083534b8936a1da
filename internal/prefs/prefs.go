package prefs

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

const (
	keyIP        = "ip"
	keyPort      = "port"
	keyFavorites = "favorites"
)

var ErrDuplicateFavorite = errors.New("a favorite with this url already exists")

// FavoriteServer is a server the user asked to remember. Unique by ServerURL.
type FavoriteServer struct {
	ServerName string `json:"serverName"`
	ServerURL  string `json:"serverUrl"`
}

type favoriteList struct {
	Favorites []FavoriteServer `json:"favorites"`
}

// Store is a small file-backed key-value store holding the last used
// address and the favorites list.
type Store struct {
	path   string
	mu     sync.Mutex
	values map[string]string
}

// Open loads the store at path. A missing file yields an empty store.
func Open(path string) (*Store, error) {
	s := &Store{
		path:   path,
		values: make(map[string]string),
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read preferences: %w", err)
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.values); err != nil {
		return nil, fmt.Errorf("failed to decode preferences %s: %w", path, err)
	}
	return s, nil
}

func (s *Store) IP() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[keyIP]
}

func (s *Store) Port() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[keyPort]
}

func (s *Store) SaveIP(ip string) error {
	return s.set(keyIP, ip)
}

func (s *Store) SavePort(port string) error {
	return s.set(keyPort, port)
}

// Favorites returns a copy of the favorites in insertion order.
func (s *Store) Favorites() []FavoriteServer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.favoritesLocked().Favorites
}

// AddFavorite appends a favorite. Adding a url that is already present
// leaves the list untouched and returns ErrDuplicateFavorite.
func (s *Store) AddFavorite(fav FavoriteServer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.favoritesLocked()
	for _, f := range list.Favorites {
		if f.ServerURL == fav.ServerURL {
			return ErrDuplicateFavorite
		}
	}
	list.Favorites = append(list.Favorites, fav)
	return s.saveFavoritesLocked(list)
}

// RemoveFavorite deletes the favorite with the given url. It reports
// whether an entry was removed.
func (s *Store) RemoveFavorite(url string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.favoritesLocked()
	kept := list.Favorites[:0]
	removed := false
	for _, f := range list.Favorites {
		if f.ServerURL == url {
			removed = true
			continue
		}
		kept = append(kept, f)
	}
	if !removed {
		return false, nil
	}
	list.Favorites = kept
	return true, s.saveFavoritesLocked(list)
}

func (s *Store) HasFavorite(url string) bool {
	for _, f := range s.Favorites() {
		if f.ServerURL == url {
			return true
		}
	}
	return false
}

func (s *Store) HasFavorites() bool {
	return len(s.Favorites()) > 0
}

func (s *Store) favoritesLocked() favoriteList {
	list := favoriteList{Favorites: []FavoriteServer{}}
	raw, ok := s.values[keyFavorites]
	if !ok || raw == "" {
		return list
	}
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		log.Warn().Err(err).Msg("discarding unreadable favorites")
		return favoriteList{Favorites: []FavoriteServer{}}
	}
	if list.Favorites == nil {
		list.Favorites = []FavoriteServer{}
	}
	return list
}

func (s *Store) saveFavoritesLocked(list favoriteList) error {
	bts, err := json.Marshal(list)
	if err != nil {
		return err
	}
	s.values[keyFavorites] = string(bts)
	return s.flushLocked()
}

func (s *Store) set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return s.flushLocked()
}

// flushLocked writes the whole store through a temp file so a crash never
// leaves a truncated file behind.
func (s *Store) flushLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create preferences dir: %w", err)
	}
	bts, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".prefs-*")
	if err != nil {
		return fmt.Errorf("failed to write preferences: %w", err)
	}
	if _, err := tmp.Write(bts); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write preferences: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}
