package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/prabodh-fiddler/prism/internal/config"
	"github.com/prabodh-fiddler/prism/internal/logging"
	"github.com/prabodh-fiddler/prism/internal/observability"
	"github.com/prabodh-fiddler/prism/internal/server"
)

const shutdownTimeout = 5 * time.Second

func newRunCmd() *cobra.Command {
	var configPath string
	var listenOverride string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Serve the configured contracts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if listenOverride != "" {
				cfg.Server.Listen = listenOverride
			}
			return runServer(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.Flags().StringVar(&listenOverride, "listen", "", "Override server.listen")

	return cmd
}

func runServer(ctx context.Context, cfg *config.Config) error {
	logger := newLogger(cfg.Logging.Level)

	catalog, err := loadCatalog(cfg)
	if err != nil {
		return err
	}

	srv, err := server.New(catalog, serverOptions(cfg, logger))
	if err != nil {
		return err
	}

	if cfg.Logging.DecisionLog != "" {
		decisions, closer, err := logging.OpenDecisionLog(cfg.ResolvePath(cfg.Logging.DecisionLog))
		if err != nil {
			return err
		}
		defer func() { _ = closer() }()
		srv.SetDecisionLogger(decisions)
	}

	httpSrv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           srv,
		ReadHeaderTimeout: 5 * time.Second,
	}
	servers := []*http.Server{httpSrv}

	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		metrics := observability.NewMetrics(reg)
		srv.SetMetrics(metrics)

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(reg))
		servers = append(servers, &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		})
	}

	signalCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(signalCtx)

	g.Go(func() error {
		logger.Info("prism listening", "addr", httpSrv.Addr, "operations", catalog.Len(), "tls", cfg.Server.TLS.Enabled)
		var err error
		if cfg.Server.TLS.Enabled {
			err = httpSrv.ListenAndServeTLS(cfg.ResolvePath(cfg.Server.TLS.CertFile), cfg.ResolvePath(cfg.Server.TLS.KeyFile))
		} else {
			err = httpSrv.ListenAndServe()
		}
		return ignoreClosed(err)
	})
	if len(servers) > 1 {
		metricsSrv := servers[1]
		g.Go(func() error {
			logger.Info("metrics listening", "addr", metricsSrv.Addr)
			return ignoreClosed(metricsSrv.ListenAndServe())
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		for _, s := range servers {
			if err := s.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

func serverOptions(cfg *config.Config, logger *slog.Logger) server.Options {
	return server.Options{
		MaxBodyBytes:          cfg.Validation.MaxBodyBytes,
		SkipRequestValidation: !cfg.Validation.RequestValidation(),
		ValidateResponses:     cfg.Validation.Response,
		CORS:                  cfg.Server.CORS.Enabled,
		AllowedOrigins:        cfg.Server.CORS.AllowedOrigins,
		Logger:                logger,
	}
}

func ignoreClosed(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
