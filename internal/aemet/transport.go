package aemet

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// TransportMode selects how requests reach AEMET
type TransportMode string

const (
	// TransportDirect calls AEMET directly
	TransportDirect TransportMode = "direct"
	// TransportRelay tunnels every call through a pass-through relay
	TransportRelay TransportMode = "relay"
)

// DefaultRelayParam is the query parameter carrying the target URL on relays
const DefaultRelayParam = "url"

// TransportConfig selects and parameterizes the transport
type TransportConfig struct {
	Mode       TransportMode
	RelayURL   string // e.g. https://relay.example.org/fetch
	RelayParam string // query parameter the relay reads the target from
}

// NewTransport builds the round tripper for cfg. Both variants are traced.
func NewTransport(cfg TransportConfig) (http.RoundTripper, error) {
	base := otelhttp.NewTransport(http.DefaultTransport.(*http.Transport).Clone())

	switch cfg.Mode {
	case "", TransportDirect:
		return base, nil
	case TransportRelay:
		return NewRelayTransport(cfg.RelayURL, cfg.RelayParam, base)
	}
	return nil, fmt.Errorf("unknown transport mode: %s", cfg.Mode)
}

// RelayTransport rewrites each request so that it is sent to a relay which
// forwards it, headers included, to the original target.
type RelayTransport struct {
	relay *url.URL
	param string
	next  http.RoundTripper
}

// NewRelayTransport returns a relay transport sending through next
func NewRelayTransport(relayURL, param string, next http.RoundTripper) (*RelayTransport, error) {
	u, err := url.Parse(strings.TrimSpace(relayURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid relay URL %q", relayURL)
	}
	if param == "" {
		param = DefaultRelayParam
	}
	if next == nil {
		next = http.DefaultTransport
	}
	return &RelayTransport{relay: u, param: param, next: next}, nil
}

// RoundTrip implements http.RoundTripper
func (t *RelayTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	target := req.URL.String()

	relayed := req.Clone(req.Context())
	u := *t.relay
	q := u.Query()
	q.Set(t.param, target)
	u.RawQuery = q.Encode()
	relayed.URL = &u
	relayed.Host = ""

	return t.next.RoundTrip(relayed)
}
