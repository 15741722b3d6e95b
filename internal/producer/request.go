package producer

import (
	"bytes"
	"context"
	"encoding/base64"
	"net/http"
)

// Payload is the fixed telemetry body every device sends.
const Payload = `{"foo":42}`

// Identity is one simulated device.
type Identity struct {
	User     string
	DeviceID string
	Tenant   string
	Password string
}

// AuthID is the username presented to the HTTP adapter: user@tenant.
func (id Identity) AuthID() string {
	return id.User + "@" + id.Tenant
}

// Request is the telemetry call of one device, built once and reused for
// every tick. net/http requests are single-use, so each tick materialises a
// fresh *http.Request from the cached fields.
type Request struct {
	url           string
	authorization string
	body          []byte
}

// NewRequest builds the reusable request for id against the telemetry URL.
func NewRequest(telemetryURL string, id Identity) Request {
	credentials := base64.StdEncoding.EncodeToString([]byte(id.AuthID() + ":" + id.Password))
	return Request{
		url:           telemetryURL,
		authorization: "Basic " + credentials,
		body:          []byte(Payload),
	}
}

// URL returns the target URL.
func (r Request) URL() string {
	return r.url
}

func (r Request) build(ctx context.Context) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(r.body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", r.authorization)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}
