package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MSWS/TSTats/internal/board"
	"github.com/MSWS/TSTats/internal/bot"
	"github.com/MSWS/TSTats/internal/config"
	"github.com/MSWS/TSTats/internal/httpapi"
	"github.com/MSWS/TSTats/internal/metrics"
	"github.com/MSWS/TSTats/internal/monitor"
	"github.com/MSWS/TSTats/internal/notify"
	"github.com/MSWS/TSTats/internal/poller"
	"github.com/MSWS/TSTats/internal/query"
	"github.com/MSWS/TSTats/internal/server"
	"github.com/MSWS/TSTats/internal/storage"
)

func main() {
	root := &cobra.Command{
		Use:           "tstats",
		Short:         "Game server status boards and notifications for Discord",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(runCmd(), queryCmd())

	if err := root.Execute(); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to Discord and start polling every registered server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Load configuration
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if err := cfg.RequireDiscord(); err != nil {
				return err
			}

			// Set up logging
			setupLogging(cfg.LogLevel)

			// Create context that cancels on interrupt
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg)
		},
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	slog.Info("Starting TSTats", "storage", cfg.StorageBackend, "http", cfg.HTTPAddr)

	store, err := storage.Open(cfg.StorageBackend, cfg.StoragePath())
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	fanout, err := notify.ParseFanout(cfg.PlayerFanout)
	if err != nil {
		return err
	}

	m := metrics.New()
	log := slog.Default()

	session, err := bot.NewSession(cfg)
	if err != nil {
		return err
	}

	registry := query.NewRegistry()
	registry.Register(query.NewA2S())
	queries := query.NewService(registry, cfg.QueryTimeoutDuration(), log)

	subs := notify.NewStore(store, log)
	control := notify.NewController(subs, log)
	dispatcher := notify.NewDispatcher(subs, bot.NewDelivery(session), notify.DispatcherOptions{
		Fanout:   fanout,
		Tokens:   control,
		Observer: m,
		Logger:   log,
	})

	boards := board.NewRegistry(bot.NewChannels(session, log), board.Options{
		Render: board.RenderOptions{
			LineLength:    cfg.LineLength,
			UseServerName: cfg.UseServerName,
			CacheRate:     cfg.CacheRateDuration(),
		},
		Observer: m,
		Logger:   log,
	})
	pollers := poller.NewManager(queries, boards, dispatcher, poller.Options{
		Attempts:  cfg.QueryAttempts,
		AdminTags: cfg.AdminTags,
		Observer:  m,
		Logger:    log,
	})
	mon := monitor.New(store, subs, boards, pollers, monitor.Options{
		SourceDelay:  cfg.SourceDelayDuration(),
		SourceRate:   cfg.SourceRateDuration(),
		DiscordDelay: cfg.DiscordDelayDuration(),
		DiscordRate:  cfg.DiscordRateDuration(),
		Logger:       log,
	})
	if err := mon.Load(ctx); err != nil {
		return err
	}

	b := bot.New(cfg, session, mon, control, registry.List(), m, log)
	if err := b.Start(ctx); err != nil {
		return fmt.Errorf("failed to start bot: %w", err)
	}
	mon.Start(ctx)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		control.Run(ctx)
		return nil
	})
	if cfg.HTTPAddr != "" {
		srv := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           httpapi.NewHandler(log, mon, m).Router(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			slog.Info("HTTP API listening", "addr", cfg.HTTPAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	slog.Info("Bot is running. Press Ctrl+C to stop.")
	err = g.Wait()

	slog.Info("Shutting down...")
	mon.Stop()
	if stopErr := b.Stop(); stopErr != nil {
		slog.Error("Error during shutdown", "error", stopErr)
	}
	slog.Info("Bot stopped")
	return err
}

func queryCmd() *cobra.Command {
	var (
		kind     string
		attempts int
		timeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "query <address>",
		Short: "Query a game server once and print what it reports",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(os.Getenv("LOG_LEVEL"))

			registry := query.NewRegistry()
			registry.Register(query.NewA2S())
			svc := query.NewService(registry, timeout, slog.Default())

			rec := server.New("cli", args[0], args[0], kind, "")
			host, port := rec.HostPort()

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(attempts+1)*timeout)
			defer cancel()
			resp, err := svc.Query(ctx, query.Kind(rec.Kind), host, port, attempts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Name:    %s\n", resp.Name)
			fmt.Fprintf(out, "Map:     %s\n", resp.Map)
			fmt.Fprintf(out, "Players: %d/%d\n", max(resp.Online, len(resp.Players)), resp.MaxPlayers)
			fmt.Fprintf(out, "Ping:    %dms\n", resp.Ping)
			if resp.Connect != "" {
				fmt.Fprintf(out, "Connect: %s\n", resp.Connect)
			}
			if names := resp.PlayerNames(); len(names) > 0 {
				fmt.Fprintf(out, "Admins:  %d\n", server.AdminCount(names, nil))
				fmt.Fprintf(out, "\n%s\n", strings.Join(names, "\n"))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&kind, "type", "t", server.DefaultKind, "game type of the server")
	cmd.Flags().IntVar(&attempts, "attempts", query.DefaultAttempts, "attempts before giving up")
	cmd.Flags().DurationVar(&timeout, "timeout", query.DefaultTimeout, "timeout of one attempt")
	return cmd
}

func setupLogging(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
