// Package interrupt registers handlers to run when the process receives an
// interrupt or termination signal.
package interrupt

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"nwcp.dev/pkg/utils/log"
)

var (
	mx       sync.Mutex
	handlers []func()
	once     sync.Once
)

// AddHandler registers fn to run, in registration order, on the first
// SIGINT or SIGTERM the process receives.
func AddHandler(fn func()) {
	mx.Lock()
	handlers = append(handlers, fn)
	mx.Unlock()
	once.Do(listen)
}

func listen() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-ch
		log.I.F("received %v, shutting down", sig)
		mx.Lock()
		hs := handlers
		mx.Unlock()
		for _, h := range hs {
			h()
		}
	}()
}
