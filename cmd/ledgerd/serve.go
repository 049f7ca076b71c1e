package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/ariefcatur/go-supplychain-ledger/internal/flow"
	"github.com/ariefcatur/go-supplychain-ledger/internal/httpx"
	"github.com/ariefcatur/go-supplychain-ledger/internal/identity"
	kafkax "github.com/ariefcatur/go-supplychain-ledger/internal/kafka"
	"github.com/ariefcatur/go-supplychain-ledger/internal/ledger"
	"github.com/ariefcatur/go-supplychain-ledger/internal/metrics"
	"github.com/ariefcatur/go-supplychain-ledger/internal/notary"
	"github.com/ariefcatur/go-supplychain-ledger/internal/postgres"
	"github.com/ariefcatur/go-supplychain-ledger/internal/redisx"
	"github.com/ariefcatur/go-supplychain-ledger/internal/transport"
	"github.com/ariefcatur/go-supplychain-ledger/internal/vault"
)

var serveMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the party's node: HTTP API, session inbox and responders",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Party == "" {
			return errors.New("PARTY is not set")
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		party := ledger.Party(cfg.Party)
		log := lg.ForParty(cfg.Party)

		// Identity
		id, err := identity.FromSeed(party, cfg.KeySeed)
		if err != nil {
			return fmt.Errorf("identity: %w", err)
		}
		dir := identity.NewStaticDirectory(id)
		if err := dir.ParsePeers(cfg.Peers); err != nil {
			return fmt.Errorf("peers: %w", err)
		}

		// DB
		db, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("db connect: %w", err)
		}
		defer db.Close()
		if serveMigrate {
			if err := postgres.Migrate(ctx, db); err != nil {
				return err
			}
		}

		// Redis
		rdb := redisx.New(cfg.RedisAddr)
		defer rdb.Close()
		if err := redisx.Ping(ctx, rdb); err != nil {
			return fmt.Errorf("redis: %w", err)
		}

		// Kafka
		prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, log)
		prod.Start()
		net := transport.NewKafka(ctx, party, prod, rdb, log)

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		node := flow.NewNode(flow.Deps{
			Identity:  id,
			Directory: dir,
			Vault:     vault.NewPostgres(db, party),
			Notary:    notary.NewRedis(rdb),
			Transport: net,
			Logger:    log,
			Metrics:   metrics.New(reg),
			Timeout:   cfg.FlowTimeout,
		})

		inbox := kafkax.InboxTopic(cfg.Party)
		cons := kafkax.NewConsumer(cfg.KafkaBrokers, "ledger-"+cfg.Party, inbox, cfg.KafkaWorkers, log)
		consumerDone := make(chan struct{})
		go func() {
			defer close(consumerDone)
			log.Info().Str("topic", inbox).Int("workers", cfg.KafkaWorkers).Msg("inbox consumer started")
			if err := cons.Start(ctx, net.Deliver); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("consumer exit")
				stop()
			}
		}()

		router := httpx.NewRouter(log, reg)
		(&httpx.LedgerHandler{Node: node}).Register(router)
		srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 10 * time.Second}

		srvErr := make(chan error, 1)
		go func() {
			log.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				srvErr <- err
			}
		}()

		select {
		case <-ctx.Done():
		case err = <-srvErr:
			log.Error().Err(err).Msg("listen")
		}
		log.Info().Msg("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		stop()
		<-consumerDone
		prod.Close()
		prod.WaitClosed()
		return err
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", false, "apply the vault schema before serving")
}
