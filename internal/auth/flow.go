package auth

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"golang.org/x/oauth2"
)

// Flow performs the interactive part of the OAuth authorization, invoked
// only when no cached credential can be reused or refreshed. The returned
// token must carry a refresh token when the provider issues one.
type Flow interface {
	Token(ctx context.Context, cfg *oauth2.Config) (*oauth2.Token, error)
}

// DeviceFlow implements the OAuth 2.0 device authorization grant. It does
// not assume a browser on this host: the user is shown a verification URL
// and a short code and the flow polls the token endpoint until approval.
type DeviceFlow struct {
	// Out receives the user prompt; defaults to stderr.
	Out io.Writer
}

// NewDeviceFlow returns a device-code flow prompting on stderr.
func NewDeviceFlow() *DeviceFlow {
	return &DeviceFlow{Out: os.Stderr}
}

func (d *DeviceFlow) Token(ctx context.Context, cfg *oauth2.Config) (*oauth2.Token, error) {
	if cfg.Endpoint.DeviceAuthURL == "" {
		return nil, fmt.Errorf("%w: endpoint has no device authorization URL", ErrAuthorization)
	}

	resp, err := cfg.DeviceAuth(ctx, oauth2.AccessTypeOffline)
	if err != nil {
		return nil, fmt.Errorf("%w: device authorization request: %v", ErrAuthorization, err)
	}

	out := d.Out
	if out == nil {
		out = os.Stderr
	}
	if resp.VerificationURIComplete != "" {
		fmt.Fprintf(out, "Open %s to authorize this application.\n", resp.VerificationURIComplete)
	} else {
		fmt.Fprintf(out, "Open %s and enter the code %s to authorize this application.\n",
			resp.VerificationURI, resp.UserCode)
	}
	log.Printf("auth: waiting for device authorization (code %s)", resp.UserCode)

	tok, err := cfg.DeviceAccessToken(ctx, resp, oauth2.AccessTypeOffline)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: device authorization: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: device authorization: %v", ErrAuthorization, err)
	}
	return tok, nil
}
