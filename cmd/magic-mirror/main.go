package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	awscfg "github.com/aws/aws-sdk-go-v2/config"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/stolostron/magic-mirror/internal/config"
	"github.com/stolostron/magic-mirror/internal/githubapp"
	"github.com/stolostron/magic-mirror/internal/hostclient"
	"github.com/stolostron/magic-mirror/internal/ingest/sqs"
	"github.com/stolostron/magic-mirror/internal/reactor"
	"github.com/stolostron/magic-mirror/internal/store"
	"github.com/stolostron/magic-mirror/internal/syncer"
	"github.com/stolostron/magic-mirror/internal/webhook"
)

var configPath string

func main() {
	_ = godotenv.Load() // ok if no .env

	root := &cobra.Command{
		Use:           "magic-mirror",
		Short:         "Keeps forks in sync with their upstream repositories",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the configuration file")

	root.AddCommand(newSyncCommand(), newServeCommand())

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

// setup loads the configuration, installs the JSON logger, and opens the
// shared database. Both subcommands start here.
func setup() (*config.Config, *store.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	if err := st.Init(); err != nil {
		st.Close()
		return nil, nil, err
	}
	return cfg, st, nil
}

// signalContext returns a context canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newSyncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run the polling engine that opens sync PRs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, st, err := setup()
			if err != nil {
				return err
			}
			defer st.Close()

			appClients, err := githubapp.NewAppClients(cfg.AppID, cfg.PrivateKey)
			if err != nil {
				return err
			}
			s := &syncer.Syncer{
				Cfg:   cfg,
				Store: st,
				AppGH: hostclient.Real{C: appClients.REST},
			}

			ctx, cancel := signalContext()
			defer cancel()

			slog.Info("sync.start", "interval", cfg.SyncInterval)
			if err := s.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			slog.Info("shutdown.complete")
			return nil
		},
	}
}

func newServeCommand() *cobra.Command {
	var useSQS bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook receiver that reacts to GitHub events",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, st, err := setup()
			if err != nil {
				return err
			}
			defer st.Close()

			r := &reactor.Reactor{Cfg: cfg, Store: st}
			ws := &webhook.Server{
				Secret:  []byte(cfg.WebhookSecret),
				Reactor: r,
			}

			srv := &http.Server{
				Addr:              cfg.ListenAddr,
				Handler:           ws.Routes(),
				ReadHeaderTimeout: 5 * time.Second,
			}

			ctx, cancel := signalContext()
			defer cancel()

			if useSQS {
				if cfg.SQSQueueURL == "" {
					slog.Warn("sqs.disabled", "reason", "sqsQueueURL not configured")
				} else {
					awsCfg, err := awscfg.LoadDefaultConfig(ctx, awscfg.WithRegion(cfg.AWSRegion))
					if err != nil {
						return err
					}
					worker := &sqs.Worker{
						Client:   awssqs.NewFromConfig(awsCfg),
						QueueURL: cfg.SQSQueueURL,
						Reactor:  r,
					}
					go func() {
						if err := worker.Run(ctx); err != nil && ctx.Err() == nil {
							slog.Error("sqs.worker.exit", "err", err)
						}
					}()
				}
			}

			errCh := make(chan error, 1)
			go func() {
				slog.Info("server.start", "addr", cfg.ListenAddr)
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- err
				}
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			slog.Info("shutdown.begin")
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Warn("server.shutdown.error", "err", err)
			}
			slog.Info("shutdown.complete")
			return nil
		},
	}
	cmd.Flags().BoolVar(&useSQS, "sqs", false, "also consume events from the configured SQS queue")
	return cmd
}
