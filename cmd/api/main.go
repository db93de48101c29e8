package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kanisahub/giving-backend/internal/api"
	"github.com/kanisahub/giving-backend/internal/api/handlers"
	"github.com/kanisahub/giving-backend/internal/auth"
	"github.com/kanisahub/giving-backend/internal/config"
	"github.com/kanisahub/giving-backend/internal/db"
	"github.com/kanisahub/giving-backend/internal/gateway"
	"github.com/kanisahub/giving-backend/internal/logger"
	"github.com/kanisahub/giving-backend/internal/metrics"
	"github.com/kanisahub/giving-backend/internal/middleware"
	"github.com/kanisahub/giving-backend/internal/repository/mongodb"
	"github.com/kanisahub/giving-backend/internal/repository/postgres"
	"github.com/kanisahub/giving-backend/internal/services"
	"github.com/kanisahub/giving-backend/internal/worker"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("db connect", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	if os.Getenv("APP_MIGRATE") == "true" {
		if err := db.RunMigrations(ctx, pool); err != nil {
			log.Error("migrations", "err", err)
			os.Exit(1)
		}
	}

	mongoClient, err := db.NewMongo(ctx, cfg.MongoURI)
	if err != nil {
		log.Error("mongo connect", "err", err)
		os.Exit(1)
	}
	defer func() { _ = mongoClient.Disconnect(context.Background()) }()

	repos := postgres.NewRepositories(pool)
	campaigns := mongodb.NewCampaignsRepo(mongoClient.Database(cfg.MongoDB))

	wp := worker.NewPool(4)
	defer wp.Stop()

	gw := gateway.NewMpesaGateway(
		cfg.MpesaBaseURL, cfg.MpesaShortCode, cfg.MpesaPasskey,
		cfg.MpesaConsumerKey, cfg.MpesaConsumerSecret, cfg.MpesaCallbackURL,
	)

	agg := services.NewAggregator(campaigns, repos.Pledges, repos.Contributions, repos.AuditLogs, cfg.Overpay)
	reconcile := services.NewReconcileService(repos.Intents, repos.Contributions, repos.AuditLogs, agg, wp)
	contribSvc := services.NewContributionService(campaigns, repos.Pledges, repos.Contributions, repos.Intents, repos.AuditLogs, gw, cfg.IntentDeadline)
	pledgeSvc := services.NewPledgeService(campaigns, repos.Pledges, repos.AuditLogs)
	campaignSvc := services.NewCampaignService(campaigns)
	sweeper := services.NewSweeper(repos.Intents, repos.Contributions, repos.AuditLogs)

	tm := auth.NewTokenManager(cfg.JWTAccessSecret, cfg.JWTRefreshSecret, cfg.JWTIssuer, 15*time.Minute, 7*24*time.Hour)
	authMW := middleware.NewAuthMiddleware(tm)

	metrics.Init()
	r := api.NewRouter(api.RouterDeps{
		Cfg:          cfg,
		Gateway:      gw,
		Campaigns:    campaignSvc,
		Pledges:      pledgeSvc,
		Contribs:     contribSvc,
		Reconcile:    reconcile,
		Auth:         handlers.NewAuthHandler(tm, cfg.StaffEmail, cfg.StaffPasswordHash),
		AuthRequired: authMW.RequireStaff,
	})

	go sweeper.Start(ctx, cfg.SweepInterval)
	go agg.Start(ctx, cfg.AggregateInterval)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("server starting", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server", "err", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
