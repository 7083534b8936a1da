package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"umi3dconnect/internal/servers"
)

type staticLister []servers.SessionEntry

func (s staticLister) List() []servers.SessionEntry {
	return append([]servers.SessionEntry{}, s...)
}

func TestServeSessionsAPI_Sorted(t *testing.T) {
	router := NewRouter(staticLister{
		{Key: "b:1", PlayerCount: 1, Online: true},
		{Key: "a:1", PlayerCount: 1, Online: false},
		{Key: "c:1", PlayerCount: 5, Online: false},
		{Key: "a:2", PlayerCount: 1, Online: true},
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	var got []servers.SessionEntry
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	keys := make([]string, 0, len(got))
	for _, s := range got {
		keys = append(keys, s.Key)
	}
	assert.Equal(t, []string{"c:1", "a:2", "b:1", "a:1"}, keys)
}

func TestServeSessionAPI(t *testing.T) {
	router := NewRouter(staticLister{{Key: "10.0.0.5:7000", Name: "Lab", Pin: "1234"}})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/10.0.0.5:7000", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"Lab"`)
	assert.NotContains(t, rec.Body.String(), "1234", "pins are never exposed")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	router := NewRouter(staticLister{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/sessions", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "GET, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
}
