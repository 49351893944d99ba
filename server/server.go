// Package server hosts the match lifecycle orchestrator: it owns the match
// store, drives escrow and settlement through the ledger adapter, sweeps
// stuck records and fans out match events to subscribers.
package server

import (
	"context"
	"fmt"
	"time"

	"github.com/decred/dcrd/chaincfg/v3"
	"github.com/decred/slog"
	"golang.org/x/sync/errgroup"

	"github.com/wordduel/wordduel/ledger"
	"github.com/wordduel/wordduel/wordgame"
)

const (
	// staleAfter is how long an unstarted match may sit before the
	// sweeper cancels it.
	staleAfter = 30 * time.Minute
	// maxMatchDuration bounds how long a match may stay in play.
	maxMatchDuration = 5 * time.Minute
	// sweepInterval is the sweeper's tick period.
	sweepInterval = time.Minute
)

// Config wires a Server together.
type Config struct {
	Params  *chaincfg.Params
	Adapter ledger.Adapter
	Log     slog.Logger

	// SweepInterval overrides the sweeper period; zero means the default.
	SweepInterval time.Duration
}

// Server coordinates matches, escrows and settlements.
type Server struct {
	log     slog.Logger
	store   *wordgame.Store
	adapter ledger.Adapter
	ntfns   *notifier
	sweep   time.Duration

	quit chan struct{}
}

// NewServer validates the config and builds the orchestrator.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Params == nil {
		return nil, fmt.Errorf("missing chain params")
	}
	if cfg.Adapter == nil {
		return nil, fmt.Errorf("missing ledger adapter")
	}
	if cfg.Log == nil {
		return nil, fmt.Errorf("missing logger")
	}
	sweep := cfg.SweepInterval
	if sweep == 0 {
		sweep = sweepInterval
	}
	return &Server{
		log:     cfg.Log,
		store:   wordgame.NewStore(cfg.Params),
		adapter: cfg.Adapter,
		ntfns:   newNotifier(),
		sweep:   sweep,
		quit:    make(chan struct{}),
	}, nil
}

// Run blocks until the context is cancelled or Stop is called, driving the
// background sweeper.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.runSweeper(gctx)
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return gctx.Err()
		case <-s.quit:
			return fmt.Errorf("server stopped")
		}
	})

	s.log.Infof("match orchestrator running")
	err := g.Wait()
	s.ntfns.close()
	if err == context.Canceled {
		return nil
	}
	return err
}

// Stop terminates Run.
func (s *Server) Stop() { close(s.quit) }
