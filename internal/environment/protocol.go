package environment

import (
	"fmt"
	"strings"

	"umi3dconnect/internal/identity"
	"umi3dconnect/internal/media"
)

// Message types exchanged with an environment.
const (
	TypeIdentityRequest = "identity_request"
	TypeIdentityAnswer  = "identity_answer"
	TypeJoined          = "joined"
	TypeRejected        = "rejected"
	TypeLoad            = "load"
	TypeLoaded          = "loaded"
)

type Message struct {
	Type string `json:"type"`

	// identity_request
	Kind identity.Kind  `json:"kind,omitempty"`
	Form *identity.Form `json:"form,omitempty"`

	// identity_answer
	Credentials *identity.Credentials `json:"credentials,omitempty"`
	Pin         string                `json:"pin,omitempty"`
	Answers     identity.FormAnswer   `json:"answers,omitempty"`

	// rejected
	Reason string `json:"reason,omitempty"`
}

// RejectedError is returned when the environment refuses the identity.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	if e.Reason == "" {
		return "environment rejected the connection"
	}
	return "environment rejected the connection: " + e.Reason
}

// WebsocketURL returns the link url of an environment, deriving it from the
// manifest url when the manifest does not name one.
func WebsocketURL(manifest *media.Manifest) (string, error) {
	url := manifest.Connection.WebsocketURL
	if url == "" {
		url = manifest.URL
	}
	switch {
	case strings.HasPrefix(url, "ws://"), strings.HasPrefix(url, "wss://"):
		return url, nil
	case strings.HasPrefix(url, "http://"):
		return "ws" + url[4:], nil
	case strings.HasPrefix(url, "https://"):
		return "wss" + url[5:], nil
	}
	return "", fmt.Errorf("manifest has no usable connection url (%q)", url)
}
