// Package database is the badger-backed implementation of the store
// interface. Records are msgpack encoded under typed key prefixes and
// monotonic ids come from badger sequences.
package database

import (
	"time"

	"github.com/dgraph-io/badger/v4"

	"nwcp.dev/pkg/store"
	"nwcp.dev/pkg/utils/chk"
	"nwcp.dev/pkg/utils/context"
	"nwcp.dev/pkg/utils/log"
	"nwcp.dev/pkg/utils/units"
)

// D wraps a badger instance with the sequences and the GC goroutine.
type D struct {
	*badger.DB
	ctx       context.T
	dataDir   string
	budgetSeq *badger.Sequence
	spendSeq  *badger.Sequence
	logSeq    *badger.Sequence
}

var _ store.I = (*D)(nil)

// New opens or creates the database at dataDir and starts the value log
// GC loop, which runs until ctx is done.
func New(ctx context.T, dataDir string) (d *D, err error) {
	opts := badger.DefaultOptions(dataDir)
	opts.BlockCacheSize = int64(250 * units.Mb)
	opts.BlockSize = units.Kb
	opts.CompactL0OnClose = true
	opts.Logger = &logger{}
	d = &D{ctx: ctx, dataDir: dataDir}
	if d.DB, err = badger.Open(opts); chk.E(err) {
		return nil, err
	}
	if d.budgetSeq, err = d.GetSequence([]byte("seq/budget"), 64); chk.E(err) {
		return nil, err
	}
	if d.spendSeq, err = d.GetSequence([]byte("seq/spend"), 256); chk.E(err) {
		return nil, err
	}
	if d.logSeq, err = d.GetSequence([]byte("seq/log"), 256); chk.E(err) {
		return nil, err
	}
	go d.gcLoop()
	log.I.F("database open at %s", dataDir)
	return
}

// gcLoop periodically rewrites the value log to reclaim space.
func (d *D) gcLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			for {
				if err := d.RunValueLogGC(0.5); err != nil {
					break
				}
				log.T.F("value log GC pass reclaimed space")
			}
		}
	}
}

// Close releases the sequences and closes the database.
func (d *D) Close() (err error) {
	if d.budgetSeq != nil {
		chk.E(d.budgetSeq.Release())
	}
	if d.spendSeq != nil {
		chk.E(d.spendSeq.Release())
	}
	if d.logSeq != nil {
		chk.E(d.logSeq.Release())
	}
	return d.DB.Close()
}

// logger adapts badger's logging to the leveled log. Badger's info chatter
// is demoted to debug.
type logger struct{}

func (l *logger) Errorf(format string, a ...any)   { log.E.F(format, a...) }
func (l *logger) Warningf(format string, a ...any) { log.W.F(format, a...) }
func (l *logger) Infof(format string, a ...any)    { log.D.F(format, a...) }
func (l *logger) Debugf(format string, a ...any)   { log.T.F(format, a...) }
