// Package store defines the persistent records of the wallet service and
// the interface its durable backend implements: client keys, their spend
// budgets, the immutable spend ledger, an audit log and the key/value
// service configuration.
package store

import "math"

// Config keys the service requires at runtime.
const (
	// ConfigProviderKey is the hex secp256k1 secret key of the provider,
	// generated at first boot and stable for the life of the pairings.
	ConfigProviderKey = "provider_key"
	// ConfigRelay is the relay URL, or the sentinel RelayInternal.
	ConfigRelay = "relay"
	// ConfigRelayAlias overrides the relay URL published in pairing URLs.
	ConfigRelayAlias = "relay_alias"
	// ConfigAdminKey authorizes the admin HTTP surface.
	ConfigAdminKey = "admin_key"
)

// RelayInternal marks the locally routed default relay.
const RelayInternal = "nostrclient"

// ClientKey is one paired client identity. Created only by the admin
// surface, never by the protocol itself.
type ClientKey struct {
	// Pubkey is the client's x-only schnorr pubkey, lowercase hex.
	Pubkey string `msgpack:"pubkey"`
	// WalletID names the host wallet this client spends from.
	WalletID string `msgpack:"wallet_id"`
	// Description is free text shown in the admin UI.
	Description string `msgpack:"description"`
	// Permissions is the set of granted permission tags.
	Permissions []string `msgpack:"permissions"`
	// CreatedAt and LastUsed are unix seconds.
	CreatedAt int64 `msgpack:"created_at"`
	LastUsed  int64 `msgpack:"last_used"`
	// ExpiresAt is unix seconds, 0 for never.
	ExpiresAt int64 `msgpack:"expires_at"`
}

// Expired reports whether the key is past its expiry at now.
func (k *ClientKey) Expired(now int64) bool {
	return k.ExpiresAt != 0 && k.ExpiresAt <= now
}

// HasPermission reports whether tag is among the key's permissions.
func (k *ClientKey) HasPermission(tag string) bool {
	for _, p := range k.Permissions {
		if p == tag {
			return true
		}
	}
	return false
}

// Budget caps what a client may spend per refresh cycle. A client may
// carry several budgets and a spend must satisfy all of them.
type Budget struct {
	ID uint64 `msgpack:"id"`
	// Pubkey references a ClientKey.
	Pubkey string `msgpack:"pubkey"`
	// BudgetMsats is the cap per cycle.
	BudgetMsats int64 `msgpack:"budget_msats"`
	// RefreshWindow is the cycle length in seconds, <= 0 for a single
	// lifetime cap.
	RefreshWindow int64 `msgpack:"refresh_window"`
	CreatedAt     int64 `msgpack:"created_at"`
	// UsedMsats is computed for reporting, never persisted.
	UsedMsats int64 `msgpack:"-"`
}

// CycleWindow returns the half-open interval [from, until) whose spends
// count against the budget at time now.
func (b *Budget) CycleWindow(now int64) (from, until int64) {
	if b.RefreshWindow <= 0 {
		return 0, math.MaxInt64
	}
	elapsed := now - b.CreatedAt
	if elapsed < 0 {
		elapsed = 0
	}
	passed := elapsed / b.RefreshWindow
	from = b.CreatedAt + passed*b.RefreshWindow
	until = from + b.RefreshWindow
	return
}

// SpendRecord is one immutable ledger entry. Records are only removed by
// the cascade when their ClientKey is deleted.
type SpendRecord struct {
	ID          uint64 `msgpack:"id"`
	Pubkey      string `msgpack:"pubkey"`
	AmountMsats int64  `msgpack:"amount_msats"`
	CreatedAt   int64  `msgpack:"created_at"`
}

// LogRecord is one audit entry for an authorized handler invocation.
type LogRecord struct {
	ID        uint64 `msgpack:"id"`
	Pubkey    string `msgpack:"pubkey"`
	Payload   string `msgpack:"payload"`
	CreatedAt int64  `msgpack:"created_at"`
}

// I is the durable backend.
type I interface {
	// GetClientKey returns the key for pubkey, nil when absent. Expired
	// keys read as absent unless includeExpired. When refreshLastUsed the
	// key's last_used is updated to now as a side effect.
	GetClientKey(pubkey string, includeExpired, refreshLastUsed bool) (k *ClientKey, err error)
	// CreateClientKey inserts or replaces a key.
	CreateClientKey(k *ClientKey) (err error)
	// DeleteClientKey removes the key and cascades to its budgets, spend
	// records and log entries.
	DeleteClientKey(pubkey string) (err error)
	// ListClientKeys returns the keys of a wallet, or of every wallet
	// when walletID is empty.
	ListClientKeys(walletID string, includeExpired bool) (ks []*ClientKey, err error)

	// CreateBudget inserts a budget, assigning its ID.
	CreateBudget(b *Budget) (err error)
	// GetBudgets returns all budgets of pubkey.
	GetBudgets(pubkey string) (bs []*Budget, err error)

	// SpentInWindow sums spend amounts for pubkey with
	// from <= created_at < until.
	SpentInWindow(pubkey string, from, until int64) (msats int64, err error)
	// RecordSpend appends a ledger entry.
	RecordSpend(pubkey string, amountMsats, now int64) (err error)

	// AppendLog records an authorized handler invocation.
	AppendLog(pubkey, payload string, now int64) (err error)

	// GetConfig reads one config value.
	GetConfig(key string) (value string, ok bool, err error)
	// SetConfig writes one config value.
	SetConfig(key, value string) (err error)
	// AllConfig returns the whole config map.
	AllConfig() (m map[string]string, err error)

	Close() (err error)
}
