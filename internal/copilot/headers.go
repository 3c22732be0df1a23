package copilot

import (
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

const (
	// ClientID is the OAuth app the Copilot editor integrations authorize against.
	ClientID = "Iv1.b507a08c87ecfe98"
	Scope    = "read:user"

	EditorVersion       = "vscode/1.104.1"
	EditorPluginVersion = "copilot-chat/0.26.7"
	UserAgent           = "GitHubCopilotChat/0.26.7"
	IntegrationID       = "vscode-chat"

	// IdentityUserAgent is sent to the GitHub REST API, which rejects requests without one.
	IdentityUserAgent = "copilot-openai-proxy"

	// VisionHeader tells Copilot the request carries image content.
	VisionHeader = "copilot-vision-request"

	DeviceGrantType = "urn:ietf:params:oauth:grant-type:device_code"
)

// ClientHeaders identifies the gateway as a Copilot editor integration.
func ClientHeaders() map[string]string {
	return map[string]string{
		"Accept":                 "application/json",
		"Editor-Version":         EditorVersion,
		"Editor-Plugin-Version":  EditorPluginVersion,
		"User-Agent":             UserAgent,
		"Copilot-Integration-Id": IntegrationID,
	}
}

func setClientHeaders(h http.Header) {
	for key, value := range ClientHeaders() {
		h.Set(key, value)
	}
}

// Endpoints are the base URLs of the three upstream hosts.
type Endpoints struct {
	GitHubURL     string
	GitHubAPIURL  string
	CopilotAPIURL string
}

func DefaultEndpoints() Endpoints {
	return Endpoints{
		GitHubURL:     "https://github.com",
		GitHubAPIURL:  "https://api.github.com",
		CopilotAPIURL: "https://api.githubcopilot.com",
	}
}

func (e Endpoints) trimmed() Endpoints {
	return Endpoints{
		GitHubURL:     strings.TrimRight(e.GitHubURL, "/"),
		GitHubAPIURL:  strings.TrimRight(e.GitHubAPIURL, "/"),
		CopilotAPIURL: strings.TrimRight(e.CopilotAPIURL, "/"),
	}
}

func (e Endpoints) oauth2() oauth2.Endpoint {
	return oauth2.Endpoint{
		DeviceAuthURL: e.GitHubURL + "/login/device/code",
		TokenURL:      e.GitHubURL + "/login/oauth/access_token",
		AuthStyle:     oauth2.AuthStyleInParams,
	}
}
