package registrar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// credentialType is the credential kind the HTTP adapter authenticates against.
const credentialType = "hashed-password"

// HTTPOptions configures an HTTPClient.
type HTTPOptions struct {
	// BaseURL of the device registry management API (e.g. http://registry:28080).
	BaseURL string
	Tenant  string
	// Username and Password authenticate against the registry itself (optional).
	Username string
	Password string
	Timeout  time.Duration
	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client
}

// HTTPClient registers devices with a device registry management API.
//
// Registration is two calls: create the device (an existing device is not an
// error) and replace its credentials with a password credential for the
// device's auth-id.
//
// Thread Safety: safe for concurrent use.
type HTTPClient struct {
	base       string
	tenant     string
	username   string
	password   string
	httpClient *http.Client
}

// NewHTTPClient creates a registry client.
func NewHTTPClient(opts HTTPOptions) (*HTTPClient, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("registrar: base URL is required")
	}
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("registrar: parsing base URL: %w", err)
	}
	if opts.Tenant == "" {
		return nil, fmt.Errorf("registrar: tenant is required")
	}

	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	return &HTTPClient{
		base:       strings.TrimRight(opts.BaseURL, "/"),
		tenant:     opts.Tenant,
		username:   opts.Username,
		password:   opts.Password,
		httpClient: client,
	}, nil
}

// credential is the registry's wire shape for one credential set.
type credential struct {
	Type    string   `json:"type"`
	AuthID  string   `json:"auth-id"`
	Secrets []secret `json:"secrets"`
}

type secret struct {
	PlainPassword string `json:"pwd-plain"`
}

// Register implements Registrar.
func (c *HTTPClient) Register(ctx context.Context, deviceID, user, password string) error {
	devicePath := "/v1/devices/" + url.PathEscape(c.tenant) + "/" + url.PathEscape(deviceID)
	if err := c.do(ctx, http.MethodPost, devicePath, []byte("{}"), http.StatusConflict); err != nil {
		return fmt.Errorf("creating device %s: %w", deviceID, err)
	}

	body, err := json.Marshal([]credential{{
		Type:    credentialType,
		AuthID:  user,
		Secrets: []secret{{PlainPassword: password}},
	}})
	if err != nil {
		return fmt.Errorf("%w: encoding credentials: %w", ErrRegistrationFailed, err)
	}

	credentialsPath := "/v1/credentials/" + url.PathEscape(c.tenant) + "/" + url.PathEscape(deviceID)
	if err := c.do(ctx, http.MethodPut, credentialsPath, body); err != nil {
		return fmt.Errorf("setting credentials for %s: %w", deviceID, err)
	}
	return nil
}

// do performs one JSON call. Any 2xx status and any status in accepted is a success.
func (c *HTTPClient) do(ctx context.Context, method, path string, body []byte, accepted ...int) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRegistrationFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRegistrationFailed, err)
	}
	defer resp.Body.Close()
	// Drain body to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	for _, code := range accepted {
		if resp.StatusCode == code {
			return nil
		}
	}
	return fmt.Errorf("%w: %s %s: HTTP %d", ErrRegistrationFailed, method, path, resp.StatusCode)
}
