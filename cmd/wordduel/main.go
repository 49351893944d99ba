package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/decred/dcrd/chaincfg/v3"
	"github.com/decred/dcrd/rpcclient/v8"
	"github.com/vctt94/bisonbotkit/logging"
	"github.com/vctt94/bisonbotkit/utils"
	"golang.org/x/sync/errgroup"

	"github.com/wordduel/wordduel/ledger"
	"github.com/wordduel/wordduel/server"
)

var (
	datadir    = flag.String("datadir", utils.AppDataDir("wordduel", false), "Directory to load config file from")
	configFile = flag.String("config", "wordduel.conf", "Config file name inside datadir")
)

func chainParams(network string) (*chaincfg.Params, error) {
	switch network {
	case "mainnet":
		return chaincfg.MainNetParams(), nil
	case "testnet":
		return chaincfg.TestNet3Params(), nil
	case "simnet":
		return chaincfg.SimNetParams(), nil
	default:
		return nil, fmt.Errorf("unknown network %q", network)
	}
}

func realMain() error {
	flag.Parse()

	cfg, err := LoadWordDuelConfig(*datadir, *configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	params, err := chainParams(cfg.Network)
	if err != nil {
		return err
	}

	lb, err := logging.NewLogBackend(logging.LogConfig{
		LogFile:        filepath.Join(*datadir, "logs", "wordduel.log"),
		DebugLevel:     cfg.Debug,
		MaxLogFiles:    10,
		MaxBufferLines: 1000,
	})
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	log := lb.Logger("WordDuel")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cert, err := os.ReadFile(cfg.DcrdCert)
	if err != nil {
		return fmt.Errorf("read dcrd rpc cert at %s: %w", cfg.DcrdCert, err)
	}
	log.Infof("connecting to dcrd host=%s user=%s network=%s", cfg.DcrdHost, cfg.DcrdUser, cfg.Network)
	dcrd, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         cfg.DcrdHost,
		User:         cfg.DcrdUser,
		Pass:         cfg.DcrdPass,
		Endpoint:     "ws",
		Certificates: cert,
	}, nil)
	if err != nil {
		return fmt.Errorf("dcrd rpc client: %w", err)
	}
	defer dcrd.Shutdown()

	var creds ledger.CredentialProvider
	if cfg.HouseKey != "" {
		creds, err = ledger.StaticKeyHex(cfg.HouseKey)
		if err != nil {
			return fmt.Errorf("housekey: %w", err)
		}
	} else {
		creds = ledger.KeyFile(cfg.HouseKeyFile)
	}

	watcher := ledger.NewFundingWatcher(lb.Logger("FUND"), dcrd)
	adapter, err := ledger.NewDCRAdapter(ledger.DCRConfig{
		Params:       params,
		Dcrd:         dcrd,
		Watcher:      watcher,
		Creds:        creds,
		HouseAddress: cfg.HouseAddress,
		Log:          lb.Logger("LEDG"),
	})
	if err != nil {
		return fmt.Errorf("ledger adapter: %w", err)
	}

	srv, err := server.NewServer(server.Config{
		Params:        params,
		Adapter:       adapter,
		Log:           log,
		SweepInterval: cfg.SweepInterval,
	})
	if err != nil {
		return fmt.Errorf("server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		watcher.Run(gctx)
		return gctx.Err()
	})
	g.Go(func() error {
		return srv.Run(gctx)
	})

	err = g.Wait()
	if err == context.Canceled {
		return nil
	}
	return err
}

func main() {
	if err := realMain(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
