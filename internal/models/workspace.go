package models

import "fmt"

const defaultCloudHost = "qase.io"
const defaultSCIMHost = "app.qase.io"

// Workspace describes one side of a migration: a Qase workspace reached with an API token.
type Workspace struct {
	Name       string `json:"name"` // "source" or "target"
	Host       string `json:"host"`
	Token      string `json:"-"`
	Enterprise bool   `json:"enterprise"`
	SSL        bool   `json:"ssl"`
	SCIMToken  string `json:"-"`
	SCIMHost   string `json:"scim_host,omitempty"`
}

func (w *Workspace) schemePrefix() string {
	if w.SSL {
		return "https://"
	}
	return "http://"
}

func (w *Workspace) host() string {
	if w.Host == "" {
		return defaultCloudHost
	}
	return w.Host
}

// APIBaseURL returns the REST base URL for an API version ("v1" or "v2").
// Cloud hosts use api.qase.io, enterprise custom domains use api-{host}.
func (w *Workspace) APIBaseURL(version string) string {
	delim := "."
	if w.Enterprise && w.host() != defaultCloudHost {
		delim = "-"
	}
	return fmt.Sprintf("%sapi%s%s/%s", w.schemePrefix(), delim, w.host(), version)
}

// SCIMBaseURL returns the SCIM 2.0 base URL.
func (w *Workspace) SCIMBaseURL() string {
	host := w.SCIMHost
	if host == "" {
		if w.Enterprise {
			host = w.host()
		} else {
			host = defaultSCIMHost
		}
	}
	return w.schemePrefix() + host + "/scim/v2"
}

// HasSCIM reports whether a SCIM token is configured.
func (w *Workspace) HasSCIM() bool {
	return w.SCIMToken != ""
}

// MaskedToken returns the token with everything but the last four characters hidden.
func (w *Workspace) MaskedToken() string {
	if w.Token == "" {
		return ""
	}
	if len(w.Token) <= 4 {
		return "••••"
	}
	return "••••" + w.Token[len(w.Token)-4:]
}
