package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Hrittik20/TSUSwap/internal/api"
	"github.com/Hrittik20/TSUSwap/internal/auction"
	"github.com/Hrittik20/TSUSwap/internal/bot"
	"github.com/Hrittik20/TSUSwap/internal/bot/commands"
	"github.com/Hrittik20/TSUSwap/internal/clock"
	"github.com/Hrittik20/TSUSwap/internal/config"
	"github.com/Hrittik20/TSUSwap/internal/escrow"
	"github.com/Hrittik20/TSUSwap/internal/health"
	"github.com/Hrittik20/TSUSwap/internal/leader"
	"github.com/Hrittik20/TSUSwap/internal/listing"
	"github.com/Hrittik20/TSUSwap/internal/moderation"
	"github.com/Hrittik20/TSUSwap/internal/notify"
	"github.com/Hrittik20/TSUSwap/internal/store"
	"github.com/Hrittik20/TSUSwap/internal/telemetry"

	// Register store drivers so they are available via store.Open.
	_ "github.com/Hrittik20/TSUSwap/internal/store/memstore"
	_ "github.com/Hrittik20/TSUSwap/internal/store/postgres"
)

var version = "dev"

// backlogLimit is how many ended-but-unsettled auctions readiness tolerates.
const backlogLimit = 500

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		slog.Error("fatal error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	tp, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		if !errors.Is(err, telemetry.ErrNoEndpoint) {
			slog.Warn("telemetry setup failed, continuing without OTEL export", slog.Any("error", err))
		}
		tp = telemetry.Local(os.Stderr)
	}
	defer func() {
		if shutdownErr := tp.Shutdown(context.Background()); shutdownErr != nil {
			slog.Error("telemetry shutdown error", slog.Any("error", shutdownErr))
		}
	}()

	logger := tp.Logger
	clk := clock.Real{}

	repos, err := store.Open(ctx, cfg.Database, clk)
	if err != nil {
		return fmt.Errorf("opening store (driver=%s): %w", cfg.Database.Driver, err)
	}
	defer repos.Closer.Close()

	logger.InfoContext(ctx, "connected to database", slog.String("driver", cfg.Database.Driver))

	// The bot is created before the engines so it can receive report alerts.
	var (
		discordBot *bot.Bot
		alerter    moderation.Alerter
	)
	if cfg.Discord.Enabled {
		discordBot, err = bot.New(cfg.Discord, logger)
		if err != nil {
			return fmt.Errorf("creating bot: %w", err)
		}
		alerter = discordBot
	}

	inbox := notify.NewRecorder(repos.Notifications, logger)
	notifier := notify.Fanout{
		inbox,
		notify.Func(func(ctx context.Context, n store.Notification) {
			telemetry.LogWithTrace(ctx, logger).DebugContext(ctx, "notification sent",
				slog.String("user_id", n.UserID),
				slog.String("type", string(n.Type)),
			)
		}),
	}
	listingMgr := listing.NewManager(repos, notifier, listing.Config{
		AuctionQuotaPerMonth:   cfg.Marketplace.AuctionQuotaPerMonth,
		DefaultAuctionDuration: cfg.Marketplace.DefaultAuctionDuration(),
		MinRemovalReason:       cfg.Moderation.MinRemovalReason,
	}, logger, tp.TracerProvider, clk)

	auctionMgr, err := auction.NewManager(repos, notifier, logger, tp.TracerProvider, tp.MeterProvider, clk)
	if err != nil {
		return fmt.Errorf("creating auction manager: %w", err)
	}

	// No card processor is wired in; card purchases are refused until one is.
	escrowMgr := escrow.NewManager(repos, nil, notifier, escrow.Config{
		CommissionRate:      cfg.Marketplace.CommissionRate(),
		CardPaymentsEnabled: cfg.Marketplace.CardPaymentsEnabled,
	}, logger, tp.TracerProvider, clk)

	moderationMgr := moderation.NewManager(repos, listingMgr, alerter, moderation.Config{
		AdminEmails: cfg.Moderation.AdminEmails,
	}, logger, tp.TracerProvider, clk)

	sweeper := auction.NewSweeper(auctionMgr, cfg.Marketplace.SweepInterval, logger)

	healthHandler := health.NewHandler(clk,
		health.Checker{
			Name:  "database",
			Check: repos.Ping,
		},
		health.Freshness("auction_sweep", clk, 3*cfg.Marketplace.SweepInterval, func() time.Time {
			t, _ := sweeper.LastSuccess()
			return t
		}),
		health.Backlog("settlement_backlog", backlogLimit, auctionMgr.PendingSettlements),
	)

	apiServer := api.New(api.Deps{
		Listings:   listingMgr,
		Auctions:   auctionMgr,
		Escrow:     escrowMgr,
		Moderation: moderationMgr,
		Inbox:      inbox,
		Messages:   repos.Messages,
	}, api.NewAuthenticator(cfg.Auth.JWTSecret), logger)

	// Health probes and the API share one listener and run on all replicas.
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthHandler.LivenessHandler())
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler())
	mux.Handle("/api/", apiServer.Handler())

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.InfoContext(ctx, "starting http server", slog.Int("port", cfg.Server.Port))
		if listenErr := httpServer.ListenAndServe(); listenErr != nil && listenErr != http.ErrServerClosed {
			logger.ErrorContext(ctx, "http server error", slog.Any("error", listenErr))
		}
	}()

	if discordBot != nil {
		handlers := commands.NewHandlers(auctionMgr, moderationMgr, cfg.Discord.ActingAdminID, logger, tp.TracerProvider)
		if err := discordBot.Start(ctx, handlers); err != nil {
			return fmt.Errorf("starting bot: %w", err)
		}
		defer func() {
			if stopErr := discordBot.Stop(); stopErr != nil {
				logger.Error("bot shutdown error", slog.Any("error", stopErr))
			}
		}()
	}

	healthHandler.SetReady(true)
	logger.InfoContext(ctx, "tsuswap is running", slog.String("version", version))

	// Only one replica settles auctions at a time.
	if cfg.LeaderElection.Enabled {
		logger.InfoContext(ctx, "leader election enabled, sweeping only while leading")
	}
	leaderErr := leader.Singleton(ctx, cfg.LeaderElection, logger, sweeper.Run)
	if leaderErr == nil {
		<-ctx.Done()
	}
	logger.Info("shutting down...")
	healthHandler.SetReady(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", slog.Any("error", err))
	}

	if leaderErr != nil {
		return fmt.Errorf("leader election: %w", leaderErr)
	}
	logger.Info("shutdown complete")
	return nil
}
