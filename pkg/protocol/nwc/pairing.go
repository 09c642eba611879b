package nwc

import (
	"net/url"
	"strings"

	"nwcp.dev/pkg/utils/errorf"
	"nwcp.dev/pkg/utils/guard"
)

// PairingScheme is the URI scheme clients expect.
const PairingScheme = "nostr+walletconnect"

// Pairing is a parsed pairing URI.
type Pairing struct {
	// ProviderPub is the provider's x-only pubkey, hex.
	ProviderPub string
	// Relay is the websocket URL both sides connect to.
	Relay string
	// Secret is the client's private key, hex.
	Secret string
}

// BuildPairingURI renders the URI handed to a client. relay and relayAlias
// come from config; localURL is the locally routable websocket address
// substituted when relay is the internal sentinel and no alias is set.
func BuildPairingURI(providerPub, relay, relayAlias, localURL, secret string) string {
	guard.Pubkey(providerPub)
	guard.Hex32(secret)
	r := relay
	if relayAlias != "" {
		r = relayAlias
	} else if r == "nostrclient" || r == "" {
		r = localURL
	}
	q := url.Values{}
	q.Set("relay", r)
	q.Set("secret", secret)
	return PairingScheme + "://" + providerPub + "?" + q.Encode()
}

// ParsePairingURI is the inverse of BuildPairingURI.
func ParsePairingURI(uri string) (pr *Pairing, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, err
	}
	if u.Scheme != PairingScheme {
		return nil, errorf.E("unexpected scheme %q", u.Scheme)
	}
	// the pubkey lands in Host or Opaque depending on slashes
	pub := u.Host
	if pub == "" {
		pub = strings.TrimPrefix(u.Opaque, "//")
	}
	pr = &Pairing{
		ProviderPub: strings.ToLower(pub),
		Relay:       u.Query().Get("relay"),
		Secret:      u.Query().Get("secret"),
	}
	if len(pr.ProviderPub) != 64 {
		return nil, errorf.E("pairing URI pubkey is not 32-byte hex")
	}
	if pr.Relay == "" {
		return nil, errorf.E("pairing URI missing relay")
	}
	if len(pr.Secret) != 64 {
		return nil, errorf.E("pairing URI secret is not 32-byte hex")
	}
	return
}
