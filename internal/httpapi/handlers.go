package httpapi

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"umi3dconnect/internal/servers"
)

// SessionLister is satisfied by *servers.Registry.
type SessionLister interface {
	List() []servers.SessionEntry
}

// NewRouter exposes the master's session list as JSON.
func NewRouter(sessions SessionLister) *mux.Router {
	router := mux.NewRouter()
	router.Use(WithCORS)
	router.HandleFunc("/api/sessions", ServeSessionsAPI(sessions)).Methods(http.MethodGet, http.MethodOptions)
	router.HandleFunc("/api/sessions/{key}", ServeSessionAPI(sessions)).Methods(http.MethodGet, http.MethodOptions)
	return router
}

// ServeSessionsAPI responds with the list of sessions in JSON.
func ServeSessionsAPI(sessions SessionLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list := sessions.List()

		// Most players first, then online, then address
		sort.Slice(list, func(i, j int) bool {
			if list[i].PlayerCount != list[j].PlayerCount {
				return list[i].PlayerCount > list[j].PlayerCount
			}
			if list[i].Online != list[j].Online {
				return list[i].Online
			}
			return list[i].Key < list[j].Key
		})

		writeJSON(w, http.StatusOK, list)
	}
}

// ServeSessionAPI responds with a single session looked up by key.
func ServeSessionAPI(sessions SessionLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := mux.Vars(r)["key"]
		for _, s := range sessions.List() {
			if s.Key == key {
				writeJSON(w, http.StatusOK, s)
				return
			}
		}
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
	}
}

// WithCORS allows browsers on any origin to read the session list.
func WithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("error encoding json")
	}
}
