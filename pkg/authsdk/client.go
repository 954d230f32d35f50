package authsdk

import (
	"net/http"
	"strings"
	"time"
)

// DefaultAuthPath is where the swellwatch API mounts its auth routes.
const DefaultAuthPath = "/api/v1/auth"

// Client calls the unauthenticated auth endpoints: login, register and
// refresh. It holds no credentials; Session and CredentialStore do.
type Client struct {
	BaseURL    string
	AuthPath   string
	HTTPClient *http.Client
}

// NewClient creates a client for the API at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:  strings.TrimSuffix(baseURL, "/"),
		AuthPath: DefaultAuthPath,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}
