package media

import (
	"strings"
)

// DefaultPath is the well-known path an environment serves its manifest on.
const DefaultPath = "/media"

// Manifest describes a joinable environment.
type Manifest struct {
	Name       string     `json:"name"`
	URL        string     `json:"url"`
	Icon       string     `json:"icon2D,omitempty"`
	Connection Connection `json:"connection"`
	Libraries  []Library  `json:"libraries,omitempty"`
}

type Connection struct {
	WebsocketURL string `json:"websocketUrl"`
}

// Library is an asset bundle the environment needs before it can be loaded.
type Library struct {
	ID      string `json:"id"`
	Version string `json:"version"`
	URL     string `json:"url"`
	Size    int64  `json:"size,omitempty"`
}

// FormatURL turns a user supplied host and optional port into a base url.
// Hosts without an http:// or https:// scheme get http:// prepended.
func FormatURL(host, port string) string {
	host = strings.TrimSpace(host)
	port = strings.TrimSpace(port)

	url := host
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "http://" + url
	}
	url = strings.TrimSuffix(url, "/")
	if port != "" {
		url = url + ":" + port
	}
	return url
}

// ManifestURL joins a base url and the manifest path.
func ManifestURL(base, path string) string {
	if path == "" {
		path = DefaultPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return strings.TrimSuffix(base, "/") + path
}
