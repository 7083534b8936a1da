package connecting

import (
	"umi3dconnect/internal/media"
)

type State int

const (
	StateIdle State = iota
	StateResolvingMedia
	StateAwaitingLibraryApproval
	StateAwaitingIdentity
	StateLoadingEnvironment
	StateConnected
	StateErrored
	StateLost
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResolvingMedia:
		return "resolving_media"
	case StateAwaitingLibraryApproval:
		return "awaiting_library_approval"
	case StateAwaitingIdentity:
		return "awaiting_identity"
	case StateLoadingEnvironment:
		return "loading_environment"
	case StateConnected:
		return "connected"
	case StateErrored:
		return "errored"
	case StateLost:
		return "lost"
	}
	return "unknown"
}

// ServerAddress is what the user typed to reach an environment.
type ServerAddress struct {
	Host string `json:"host"`
	Port string `json:"port,omitempty"`
}

func (a ServerAddress) URL() string {
	return media.FormatURL(a.Host, a.Port)
}

// Attempt is one user initiated connection sequence.
type Attempt struct {
	ID         string
	Generation uint64
	Address    ServerAddress
	Manifest   *media.Manifest
	// media fetches made so far
	FetchAttempts int
	// times the user asked to retry this address
	Retries int
}

type Snapshot struct {
	State   State
	Attempt Attempt
	// false when no attempt is live
	Active bool
}
