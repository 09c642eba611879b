// Package main is a NIP-47 wallet connect service provider: it pairs
// client keys to host wallets, listens on a nostr relay for encrypted
// wallet requests and answers them under per-client permissions and
// spending budgets. Configuration is via environment variables or an
// optional .env file; runtime protocol configuration lives in the
// service database and is managed over the admin HTTP API.
package main

import (
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/pkg/profile"
	"golang.org/x/sync/errgroup"

	"nwcp.dev/pkg/app"
	"nwcp.dev/pkg/app/admin"
	"nwcp.dev/pkg/app/config"
	"nwcp.dev/pkg/database"
	"nwcp.dev/pkg/protocol/nwc"
	"nwcp.dev/pkg/protocol/ws"
	"nwcp.dev/pkg/queue"
	"nwcp.dev/pkg/store"
	"nwcp.dev/pkg/utils/chk"
	"nwcp.dev/pkg/utils/context"
	"nwcp.dev/pkg/utils/interrupt"
	"nwcp.dev/pkg/utils/log"
	"nwcp.dev/pkg/utils/lol"
	"nwcp.dev/pkg/version"
	"nwcp.dev/pkg/wallet/ledger"
)

func main() {
	var err error
	var cfg *config.C
	if cfg, err = config.New(); chk.T(err) {
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %s\n\n", err)
		}
		config.PrintHelp(cfg, os.Stderr)
		os.Exit(0)
	}
	log.I.F("starting %s %s", cfg.AppName, version.V)
	if config.GetEnv() {
		config.PrintEnv(cfg, os.Stdout)
		os.Exit(0)
	}
	if config.HelpRequested() {
		config.PrintHelp(cfg, os.Stderr)
		os.Exit(0)
	}
	lol.SetLogLevel(cfg.LogLevel)
	if cfg.Pprof {
		defer profile.Start(profile.MemProfile).Stop()
		go func() {
			chk.E(http.ListenAndServe("127.0.0.1:6060", nil))
		}()
	}
	c, cancel := context.Cancel(context.Bg())
	db, err := database.New(c, cfg.DataDir)
	if chk.E(err) {
		os.Exit(1)
	}
	sign, err := app.Provision(db, cfg.Relay)
	if chk.E(err) {
		os.Exit(1)
	}
	balances, err := app.ParseWallets(cfg.Wallets)
	if chk.E(err) {
		os.Exit(1)
	}
	wallet, err := ledger.New(balances)
	if chk.E(err) {
		os.Exit(1)
	}
	relayURL, _, err := db.GetConfig(store.ConfigRelay)
	if chk.E(err) {
		os.Exit(1)
	}
	if relayURL == store.RelayInternal {
		relayURL = cfg.LocalRelay
	}
	q := queue.New(64)
	client := ws.New(relayURL)
	provider := nwc.New(sign, client, db, wallet, q,
		&nwc.Options{Alias: cfg.Alias})
	log.I.F("provider pubkey %s, relay %s", provider.Pub(), relayURL)

	ops := admin.New(db, provider.Pub(), cfg.LocalRelay, "/api/v1")
	server := admin.NewServer(
		fmt.Sprintf("%s:%d", cfg.Listen, cfg.Port), ops,
	)
	interrupt.AddHandler(func() {
		cancel()
		server.Shutdown(context.Bg())
	})

	g, gc := errgroup.WithContext(c)
	g.Go(func() error { q.Run(gc); return nil })
	g.Go(func() error { client.Run(gc); return nil })
	g.Go(func() error { provider.Run(gc); return nil })
	g.Go(func() error { return server.Start() })
	chk.E(g.Wait())
	chk.E(db.Close())
}
