package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"peersentry/internal/telemetry"
	"peersentry/pkg/config"
	"peersentry/pkg/node"
	"peersentry/pkg/prober"
	"peersentry/pkg/reach"
	"peersentry/pkg/registry"
	"peersentry/pkg/reporter"
)

// Set via -ldflags at build time.
var (
	version = "dev"
	gitSHA  = "unknown"
)

func main() {
	// 1. Configuration and logging
	cfg, err := config.Load()
	if err != nil {
		fallback, _ := zap.NewProduction()
		fallback.Fatal("invalid configuration", zap.Error(err))
	}

	var log *zap.Logger
	if cfg.Dev {
		log, err = zap.NewDevelopment()
	} else {
		log, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	telemetry.SetBuildInfo(version, gitSHA)
	log.Info("starting peersentry",
		zap.String("node_id", cfg.NodeID),
		zap.String("version", version),
		zap.Duration("ping_interval", cfg.PingInterval),
		zap.Duration("grace_period", cfg.GracePeriod))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. The reachability tracker, shared by every collaborator
	tracker := reach.NewTracker(reach.Options{
		GracePeriod:       cfg.GracePeriod,
		PingInterval:      cfg.PingInterval,
		StalenessMultiple: cfg.StalenessMultiple,
		Log:               log.Named("reach"),
	})

	// 3. Register with the peer registry and watch the peer set
	cli, err := registry.NewClient(cfg.EtcdEndpoints)
	if err != nil {
		log.Fatal("connecting to registry", zap.Error(err))
	}
	defer cli.Close()

	self := registry.Peer{ID: cfg.NodeID, HTTPAddr: cfg.AdvertiseHTTP, MQAddr: cfg.AdvertiseMQ}
	leaseID, cancelLease, err := registry.Register(ctx, cli, self, 10)
	if err != nil {
		log.Fatal("registering node", zap.Error(err))
	}
	defer func() {
		cancelLease()
		revokeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = cli.Revoke(revokeCtx, leaseID)
	}()

	pr := prober.New(prober.Options{
		SelfID:         cfg.NodeID,
		Tracker:        tracker,
		PingInterval:   cfg.PingInterval,
		RetestInterval: cfg.RetestInterval,
		ProbeTimeout:   cfg.ProbeTimeout,
		Log:            log.Named("prober"),
	})
	go func() {
		err := registry.WatchPeers(ctx, cli, log.Named("registry"), func(peers map[string]registry.Peer) {
			pr.SetPeers(peers)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error("registry watch stopped", zap.Error(err))
		}
	}()

	// 4. Probing, re-testing and reporting loops
	go pr.Loop(ctx)
	go pr.RetestLoop(ctx)

	authority := reporter.NewClient(cfg.AuthorityURL, cfg.ProbeTimeout, log.Named("authority"))
	rep := reporter.New(tracker, authority, cfg.ReportInterval, time.Now(), log.Named("reporter"))
	go rep.Loop(ctx)

	// 5. The two listening channels peers probe us on
	srv := node.NewServer(cfg.NodeID, tracker, log.Named("node"))

	httpSrv := &http.Server{Addr: cfg.HTTPListen, Handler: srv.HTTPRoutes()}
	mqSrv := &http.Server{Addr: cfg.MQListen, Handler: srv.MQRoutes()}

	go func() {
		log.Info("http channel listening", zap.String("addr", cfg.HTTPListen))
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http channel", zap.Error(err))
		}
	}()
	go func() {
		log.Info("messaging channel listening", zap.String("addr", cfg.MQListen))
		if err := mqSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("messaging channel", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	_ = mqSrv.Shutdown(shutdownCtx)
}
