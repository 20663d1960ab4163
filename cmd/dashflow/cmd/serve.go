package cmd

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/dashflow/internal/cache"
	"github.com/jmylchreest/dashflow/internal/config"
	"github.com/jmylchreest/dashflow/internal/hls"
	dashhttp "github.com/jmylchreest/dashflow/internal/http"
	"github.com/jmylchreest/dashflow/internal/http/handlers"
	"github.com/jmylchreest/dashflow/internal/httpclient"
	"github.com/jmylchreest/dashflow/internal/mpd"
	"github.com/jmylchreest/dashflow/internal/observability"
	"github.com/jmylchreest/dashflow/internal/proxyurl"
	"github.com/jmylchreest/dashflow/internal/segment"
	"github.com/jmylchreest/dashflow/internal/service"
	"github.com/jmylchreest/dashflow/internal/speedtest"
	"github.com/jmylchreest/dashflow/internal/urlsign"
	"github.com/jmylchreest/dashflow/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the proxy server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// CLI flags override file and environment configuration.
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}

	logger := observability.NewLogger(cfg.Logging)
	observability.SetDefault(logger)

	logger.Info("starting dashflow",
		slog.String("version", version.Short()),
		slog.String("commit", version.Commit),
	)

	caches, err := cache.New(cfg.Cache, logger.With(slog.String("component", "cache")))
	if err != nil {
		return fmt.Errorf("creating caches: %w", err)
	}
	defer caches.Close()

	downloader := httpclient.New(cfg.Upstream, logger.With(slog.String("component", "httpclient")))

	var signer *urlsign.TokenSigner
	if cfg.Auth.SigningSecret != "" {
		signer, err = urlsign.New(cfg.Auth.SigningSecret)
		if err != nil {
			return fmt.Errorf("creating url signer: %w", err)
		}
	} else {
		logger.Warn("no signing secret configured, encrypted proxy URLs are disabled")
	}

	translator := &hls.Translator{
		URLs:   proxyurl.NewBuilder(signer),
		Logger: logger.With(slog.String("component", "hls")),
	}

	svc := &service.MPDService{
		Manifests: &mpd.CachedResolver{
			Cache:      caches.Manifest,
			Downloader: downloader,
			Parser:     mpd.DocumentParser{},
			Processor:  &mpd.TimelineProcessor{Logger: logger.With(slog.String("component", "mpd"))},
			Logger:     logger.With(slog.String("component", "mpd")),
		},
		InitSegments: &segment.InitSegments{
			Cache:      caches.InitSegment,
			Downloader: downloader,
			Logger:     logger.With(slog.String("component", "segment")),
		},
		Assembler:  &segment.Assembler{Logger: logger.With(slog.String("component", "segment"))},
		Translator: translator,
		Downloader: downloader,
		Logger:     logger.With(slog.String("component", "service")),
	}

	server := dashhttp.NewServer(dashhttp.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     dashhttp.DefaultServerConfig().IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, logger.With(slog.String("component", "http")), signer, version.Short())

	proxyHandler := &handlers.ProxyHandler{
		Service:     svc,
		APIPassword: cfg.Auth.APIPassword,
		Logger:      logger.With(slog.String("component", "handlers")),
	}
	proxyHandler.Register(server.Router())

	handlers.NewHealthHandler().Register(server.API())
	(&handlers.CacheStatsHandler{Caches: caches}).Register(server.API())
	(&handlers.SpeedtestHandler{
		Store:      &speedtest.Store{Cache: caches.Speedtest, Logger: logger.With(slog.String("component", "speedtest"))},
		Downloader: downloader,
		Logger:     logger.With(slog.String("component", "speedtest")),
	}).Register(server.API())

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info("dashflow stopped")
	return nil
}
