package database

import (
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"nwcp.dev/pkg/store"
	"nwcp.dev/pkg/utils/chk"
	"nwcp.dev/pkg/utils/guard"
)

// Key prefixes. Budget and spend keys embed the pubkey so a prefix scan
// yields exactly one client's records.
const (
	prefixClientKey = "key/"
	prefixBudget    = "budget/"
	prefixSpend     = "spend/"
	prefixLog       = "log/"
	prefixConfig    = "config/"
)

func clientKeyKey(pubkey string) []byte {
	return []byte(prefixClientKey + pubkey)
}

func budgetKey(pubkey string, id uint64) []byte {
	return []byte(fmt.Sprintf("%s%s/%016x", prefixBudget, pubkey, id))
}

func spendKey(pubkey string, id uint64) []byte {
	return []byte(fmt.Sprintf("%s%s/%016x", prefixSpend, pubkey, id))
}

func logKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%016x", prefixLog, id))
}

// GetClientKey returns the key for pubkey, nil when absent or, unless
// includeExpired, past its expiry. With refreshLastUsed the record's
// last_used is bumped to now.
func (d *D) GetClientKey(
	pubkey string, includeExpired, refreshLastUsed bool,
) (k *store.ClientKey, err error) {
	guard.Pubkey(pubkey)
	now := time.Now().Unix()
	err = d.Update(func(txn *badger.Txn) (err error) {
		item, err := txn.Get(clientKeyKey(pubkey))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if chk.E(err) {
			return
		}
		var rec store.ClientKey
		if err = item.Value(func(val []byte) error {
			return msgpack.Unmarshal(val, &rec)
		}); chk.E(err) {
			return
		}
		if !includeExpired && rec.Expired(now) {
			return nil
		}
		if refreshLastUsed {
			rec.LastUsed = now
			var val []byte
			if val, err = msgpack.Marshal(&rec); chk.E(err) {
				return
			}
			if err = txn.Set(clientKeyKey(pubkey), val); chk.E(err) {
				return
			}
		}
		k = &rec
		return
	})
	return
}

// CreateClientKey inserts or replaces a client key.
func (d *D) CreateClientKey(k *store.ClientKey) (err error) {
	guard.Pubkey(k.Pubkey)
	guard.WalletID(k.WalletID)
	guard.SaneString(k.Description)
	guard.ExpirationSeconds(k.ExpiresAt)
	if k.CreatedAt == 0 {
		k.CreatedAt = time.Now().Unix()
	}
	var val []byte
	if val, err = msgpack.Marshal(k); chk.E(err) {
		return
	}
	return d.Update(func(txn *badger.Txn) error {
		return txn.Set(clientKeyKey(k.Pubkey), val)
	})
}

// DeleteClientKey removes the key and cascades to its budgets and spend
// records. Audit log entries are retained.
func (d *D) DeleteClientKey(pubkey string) (err error) {
	guard.Pubkey(pubkey)
	return d.Update(func(txn *badger.Txn) (err error) {
		if err = txn.Delete(clientKeyKey(pubkey)); chk.E(err) {
			return
		}
		for _, prefix := range [][]byte{
			[]byte(prefixBudget + pubkey + "/"),
			[]byte(prefixSpend + pubkey + "/"),
		} {
			if err = deletePrefix(txn, prefix); chk.E(err) {
				return
			}
		}
		return
	})
}

func deletePrefix(txn *badger.Txn, prefix []byte) (err error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()
	var keys [][]byte
	for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	for _, key := range keys {
		if err = txn.Delete(key); chk.E(err) {
			return
		}
	}
	return
}

// ListClientKeys returns the keys of one wallet, or all of them when
// walletID is empty.
func (d *D) ListClientKeys(
	walletID string, includeExpired bool,
) (ks []*store.ClientKey, err error) {
	now := time.Now().Unix()
	err = d.View(func(txn *badger.Txn) (err error) {
		prefix := []byte(prefixClientKey)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			var rec store.ClientKey
			if err = it.Item().Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &rec)
			}); chk.E(err) {
				return
			}
			if walletID != "" && rec.WalletID != walletID {
				continue
			}
			if !includeExpired && rec.Expired(now) {
				continue
			}
			k := rec
			ks = append(ks, &k)
		}
		return
	})
	return
}

// CreateBudget inserts a budget, assigning its id from the sequence.
func (d *D) CreateBudget(b *store.Budget) (err error) {
	guard.Pubkey(b.Pubkey)
	guard.Msats(b.BudgetMsats)
	if b.CreatedAt == 0 {
		b.CreatedAt = time.Now().Unix()
	}
	if b.ID, err = d.budgetSeq.Next(); chk.E(err) {
		return
	}
	var val []byte
	if val, err = msgpack.Marshal(b); chk.E(err) {
		return
	}
	return d.Update(func(txn *badger.Txn) error {
		return txn.Set(budgetKey(b.Pubkey, b.ID), val)
	})
}

// GetBudgets returns all budgets of pubkey in insertion order.
func (d *D) GetBudgets(pubkey string) (bs []*store.Budget, err error) {
	guard.Pubkey(pubkey)
	err = d.View(func(txn *badger.Txn) (err error) {
		prefix := []byte(prefixBudget + pubkey + "/")
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			var rec store.Budget
			if err = it.Item().Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &rec)
			}); chk.E(err) {
				return
			}
			b := rec
			bs = append(bs, &b)
		}
		return
	})
	return
}

// SpentInWindow sums the spend amounts of pubkey with
// from <= created_at < until.
func (d *D) SpentInWindow(
	pubkey string, from, until int64,
) (msats int64, err error) {
	guard.Pubkey(pubkey)
	err = d.View(func(txn *badger.Txn) (err error) {
		prefix := []byte(prefixSpend + pubkey + "/")
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			var rec store.SpendRecord
			if err = it.Item().Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &rec)
			}); chk.E(err) {
				return
			}
			if rec.CreatedAt >= from && rec.CreatedAt < until {
				msats += rec.AmountMsats
			}
		}
		return
	})
	return
}

// RecordSpend appends one immutable ledger entry.
func (d *D) RecordSpend(pubkey string, amountMsats, now int64) (err error) {
	guard.Pubkey(pubkey)
	guard.Msats(amountMsats)
	rec := store.SpendRecord{
		Pubkey:      pubkey,
		AmountMsats: amountMsats,
		CreatedAt:   now,
	}
	if rec.ID, err = d.spendSeq.Next(); chk.E(err) {
		return
	}
	var val []byte
	if val, err = msgpack.Marshal(&rec); chk.E(err) {
		return
	}
	return d.Update(func(txn *badger.Txn) error {
		return txn.Set(spendKey(pubkey, rec.ID), val)
	})
}

// AppendLog records one authorized handler invocation for auditing.
func (d *D) AppendLog(pubkey, payload string, now int64) (err error) {
	guard.Pubkey(pubkey)
	rec := store.LogRecord{Pubkey: pubkey, Payload: payload, CreatedAt: now}
	if rec.ID, err = d.logSeq.Next(); chk.E(err) {
		return
	}
	var val []byte
	if val, err = msgpack.Marshal(&rec); chk.E(err) {
		return
	}
	return d.Update(func(txn *badger.Txn) error {
		return txn.Set(logKey(rec.ID), val)
	})
}

// GetConfig reads one config value.
func (d *D) GetConfig(key string) (value string, ok bool, err error) {
	guard.NonEmptyString(key)
	err = d.View(func(txn *badger.Txn) (err error) {
		item, err := txn.Get([]byte(prefixConfig + key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if chk.E(err) {
			return
		}
		return item.Value(func(val []byte) error {
			value, ok = string(val), true
			return nil
		})
	})
	return
}

// SetConfig writes one config value.
func (d *D) SetConfig(key, value string) (err error) {
	guard.NonEmptyString(key)
	return d.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(prefixConfig+key), []byte(value))
	})
}

// AllConfig returns the whole config map.
func (d *D) AllConfig() (m map[string]string, err error) {
	m = make(map[string]string)
	err = d.View(func(txn *badger.Txn) (err error) {
		prefix := []byte(prefixConfig)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			key := string(it.Item().Key()[len(prefix):])
			if err = it.Item().Value(func(val []byte) error {
				m[key] = string(val)
				return nil
			}); chk.E(err) {
				return
			}
		}
		return
	})
	return
}
