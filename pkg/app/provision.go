// Package app assembles the wallet service daemon: first boot
// provisioning of the protocol runtime configuration and the parsing of
// the dev ledger wallet table.
package app

import (
	"strconv"
	"strings"

	"lukechampine.com/frand"

	"nwcp.dev/pkg/crypto/p256k"
	"nwcp.dev/pkg/encoders/hex"
	"nwcp.dev/pkg/store"
	"nwcp.dev/pkg/utils/chk"
	"nwcp.dev/pkg/utils/errorf"
	"nwcp.dev/pkg/utils/log"
)

// Provision ensures the mandatory config keys exist, generating the
// provider keypair and the admin API key on first boot. The returned
// signer carries the provider key; losing it invalidates every
// outstanding pairing, so it is only ever generated once.
func Provision(db store.I, seedRelay string) (
	sign *p256k.Signer, err error,
) {
	sign = &p256k.Signer{}
	sec, ok, err := db.GetConfig(store.ConfigProviderKey)
	if chk.E(err) {
		return nil, err
	}
	if ok {
		secb, err := hex.Dec(sec)
		if err != nil {
			return nil, errorf.E("stored provider_key is corrupt: %s",
				err.Error())
		}
		if err = sign.InitSec(secb); chk.E(err) {
			return nil, err
		}
	} else {
		if err = sign.Generate(); chk.E(err) {
			return nil, err
		}
		if err = db.SetConfig(
			store.ConfigProviderKey, hex.Enc(sign.Sec()),
		); chk.E(err) {
			return nil, err
		}
		log.I.F("generated provider key, pubkey %s", hex.Enc(sign.Pub()))
	}

	if _, ok, err = db.GetConfig(store.ConfigAdminKey); chk.E(err) {
		return nil, err
	} else if !ok {
		adminKey := hex.Enc(frand.Bytes(32))
		if err = db.SetConfig(store.ConfigAdminKey, adminKey); chk.E(err) {
			return nil, err
		}
		log.I.F("generated admin API key: %s", adminKey)
	}

	if _, ok, err = db.GetConfig(store.ConfigRelay); chk.E(err) {
		return nil, err
	} else if !ok {
		relay := seedRelay
		if relay == "" {
			relay = store.RelayInternal
		}
		if err = db.SetConfig(store.ConfigRelay, relay); chk.E(err) {
			return nil, err
		}
		log.I.F("seeded relay config: %s", relay)
	}
	return
}

// ParseWallets turns "id:msats" pairs into the ledger's opening balance
// table.
func ParseWallets(specs []string) (balances map[string]int64, err error) {
	balances = make(map[string]int64, len(specs))
	for _, spec := range specs {
		id, amount, found := strings.Cut(spec, ":")
		if !found {
			return nil, errorf.E("wallet spec %q is not id:msats", spec)
		}
		msats, err := strconv.ParseInt(amount, 10, 64)
		if err != nil || msats < 0 {
			return nil, errorf.E("wallet spec %q has a bad amount", spec)
		}
		balances[id] = msats
	}
	if len(balances) == 0 {
		return nil, errorf.E("no wallets configured")
	}
	return
}
