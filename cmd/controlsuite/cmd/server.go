package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/altimation/controlsuite/api"
	"github.com/altimation/controlsuite/envelope"
	"github.com/altimation/controlsuite/internal/util"
	"github.com/altimation/controlsuite/storage"
	bboltstorage "github.com/altimation/controlsuite/storage/bbolt"
	pgstorage "github.com/altimation/controlsuite/storage/postgres"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the Control Suite backend API server",
	Args:  cobra.NoArgs,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
	f := serverCmd.Flags()
	f.IntP("port", "p", 3000, "Port to listen on")
	f.String("host", "localhost", "Interface to bind")
	f.String("data-dir", "./data", "Directory for the embedded envelope store")
	f.String("postgres-dsn", "", "Store envelopes in PostgreSQL instead of the embedded store")
	f.String("tls-cert", "", "Path to TLS certificate file")
	f.String("tls-key", "", "Path to TLS key file")
	f.Bool("no-tls", false, "Serve plain HTTP")
	f.Int64("derivation-limit", int64(runtime.NumCPU()), "Maximum concurrent key derivations")
	f.StringSlice("cors-origin", nil, "Allowed CORS origin (repeatable; default allows any)")
	f.StringSlice("trusted-proxy", nil, "Proxy IP or CIDR whose X-Forwarded-For is honoured (repeatable)")
	f.String("audit-webhook", "", "URL that receives audit events")
	f.String("audit-webhook-auth", "", "Header sent with audit webhook requests, as Name: value")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
}

func runServer(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(cfg.GetString("log-level"))
	if err != nil {
		return err
	}

	repo, closeRepo, err := openRepository(cmd.Context())
	if err != nil {
		return err
	}
	defer closeRepo()

	handler, closeAPI, err := newHandler(repo, logger)
	if err != nil {
		return err
	}
	defer closeAPI()

	addr := net.JoinHostPort(cfg.GetString("host"), strconv.Itoa(cfg.GetInt("port")))
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	scheme := "http"
	if !cfg.GetBool("no-tls") {
		tlsConfig, err := loadTLSConfig(cmd)
		if err != nil {
			return err
		}
		server.TLSConfig = tlsConfig
		scheme = "https"
	}

	done := make(chan error, 1)
	go func() {
		var err error
		if server.TLSConfig != nil {
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			done <- fmt.Errorf("server failed: %w", err)
			return
		}
		done <- nil
	}()

	out := cmd.OutOrStdout()
	printBanner(out)
	fmt.Fprintf(out, "Backend server running on %s://%s\n", scheme, addr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		fmt.Fprintf(out, "\nReceived %s, shutting down...\n", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-done:
		return err
	}
}

func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
}

// openRepository selects PostgreSQL when a DSN is configured and the
// embedded bbolt store otherwise.
func openRepository(ctx context.Context) (storage.Repository, func(), error) {
	if dsn := cfg.GetString("postgres-dsn"); dsn != "" {
		store, err := pgstorage.NewRepositoryFromDSN(ctx, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open postgres storage: %w", err)
		}
		return store, store.Close, nil
	}

	dataDir := cfg.GetString("data-dir")
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	store, err := bboltstorage.NewRepositoryFromFile(filepath.Join(dataDir, "configs.db"), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open envelope storage: %w", err)
	}
	return store, func() { _ = store.Close() }, nil
}

func newHandler(repo storage.Repository, logger *slog.Logger) (http.Handler, func(), error) {
	codec := envelope.New(
		envelope.WithDerivationLimit(cfg.GetInt64("derivation-limit")),
		envelope.WithLogger(logger),
	)

	opts := []api.Option{
		api.WithLogger(logger),
		api.WithVersion(Version),
		api.WithCORSOrigins(cfg.GetStringSlice("cors-origin")),
		api.WithAlertFunc(func(ev api.AlertEvent) {
			logger.Warn("security alert",
				slog.String("alert", string(ev.Type)),
				slog.String("message", ev.Message),
				slog.Int("count", ev.Count),
				slog.Int("threshold", ev.Threshold),
			)
		}),
	}
	if proxies := cfg.GetStringSlice("trusted-proxy"); len(proxies) > 0 {
		opt, err := api.WithTrustedProxies(proxies)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, opt)
	}
	if url := cfg.GetString("audit-webhook"); url != "" {
		opts = append(opts, api.WithAuditWebhook(url, cfg.GetString("audit-webhook-auth")))
	}

	a := api.New(codec, repo, opts...)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Mount("/", a.Handler())
	return r, a.Close, nil
}

func loadTLSConfig(cmd *cobra.Command) (*tls.Config, error) {
	certFile, keyFile := cfg.GetString("tls-cert"), cfg.GetString("tls-key")
	var cert tls.Certificate
	var err error
	switch {
	case certFile != "" && keyFile != "":
		cert, err = tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS key pair: %w", err)
		}
	case certFile != "" || keyFile != "":
		return nil, errors.New("--tls-cert and --tls-key must be set together")
	default:
		cert, err = util.GenerateSelfSignedCert()
		if err != nil {
			return nil, fmt.Errorf("failed to generate self-signed certificate: %w", err)
		}
		fmt.Fprintln(cmd.ErrOrStderr(), "Using self-signed runtime generated certificate for TLS")
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
