package authsdk

import (
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// DefaultTimeout bounds every auth API call.
const DefaultTimeout = 10 * time.Second

// SDKClient is a client for the auth API.
type SDKClient struct {
	BaseURL    string
	HTTPClient *http.Client

	// Limiter, when set, throttles outgoing calls client side. Waiting on
	// it honours the request context.
	Limiter *rate.Limiter
}

// NewSDKClient creates a new auth API client with the default timeout.
func NewSDKClient(baseURL string) *SDKClient {
	return &SDKClient{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}
