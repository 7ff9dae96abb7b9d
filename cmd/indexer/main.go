// Command indexer runs the ethscriptions/phunks indexing pipeline:
// Coordinator → (Classifier, Reorg Guard) → (Decoders, State Machine,
// Writers) → (Chain Client, Datastore).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gethlog "github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/222Mellow/Pulscription/internal/bridgeout"
	"github.com/222Mellow/Pulscription/internal/chainclient"
	"github.com/222Mellow/Pulscription/internal/config"
	"github.com/222Mellow/Pulscription/internal/coordinator"
	"github.com/222Mellow/Pulscription/internal/datastore"
	"github.com/222Mellow/Pulscription/internal/derived"
	"github.com/222Mellow/Pulscription/internal/dictionary"
	"github.com/222Mellow/Pulscription/internal/metrics"
	"github.com/222Mellow/Pulscription/internal/ownership"
)

func main() {
	app := &cli.App{
		Name:  "indexer",
		Usage: "index ethscription creation, transfer, marketplace, auction, points, and bridge activity",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Value: "config.toml", Usage: "path to the TOML config file"},
			&cli.StringFlag{Name: "dictionary", Aliases: []string{"d"}, Required: true, Usage: "path to the sha->tokenId dictionary CSV"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		gethlog.Crit("indexer exited", "err", err)
	}
}

func run(cctx *cli.Context) error {
	logger := gethlog.New()

	cfg, err := config.Load(cctx.String("config"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	dict, err := dictionary.Load(cctx.String("dictionary"))
	if err != nil {
		return fmt.Errorf("load dictionary: %w", err)
	}
	logger.Info("dictionary loaded", "entries", dict.Len())

	store, err := datastore.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open datastore: %w", err)
	}

	l1, err := chainclient.Dial(cctx.Context, cfg.RPCURL, cfg.EthscriptionsProviderURL, 30*time.Second, logger)
	if err != nil {
		return fmt.Errorf("dial l1: %w", err)
	}
	defer l1.Close()

	var l2 *chainclient.Client
	if cfg.L2RPCURL != "" {
		l2, err = chainclient.Dial(cctx.Context, cfg.L2RPCURL, "", 30*time.Second, logger)
		if err != nil {
			return fmt.Errorf("dial l2: %w", err)
		}
		defer l2.Close()
	}

	machine := ownership.New(store, logger)
	writer := derived.New(store, machine, logger)

	var points *derived.PointsWriter
	if l2 != nil {
		points = derived.NewPoints(store, l2, cfg.PointsAddress, logger)
	}

	var bridge *derived.BridgeWriter
	if cfg.AMQPURL != "" {
		pub, err := bridgeout.Dial(cfg.AMQPURL, logger)
		if err != nil {
			return fmt.Errorf("dial bridge-out: %w", err)
		}
		defer pub.Close()
		bridge = derived.NewBridge(store, pub)
	}

	coord := coordinator.New(cfg, l1, store, dict, machine, writer, points, bridge, logger)

	ctx, cancel := signal.NotifyContext(cctx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: metrics.Handler()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics server stopped", "err", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	logger.Info("starting coordinator", "chainId", cfg.ChainID, "rpc", cfg.RPCURL)
	return coord.Run(ctx)
}
