package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	mcpwire "github.com/tildeworks/go-mcpwire"
	"github.com/tildeworks/go-mcpwire/internal/config"
	"github.com/tildeworks/go-mcpwire/servers/filesystem"
	"github.com/tildeworks/go-mcpwire/servers/memory"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run an MCP server over stdio or SSE",
	Long: `Serve exposes the built-in filesystem and memory servers over the
transport selected in the configuration file. With the stdio transport the
protocol runs on stdin/stdout, so logs go to stderr.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(*cobra.Command, []string) error {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	// Stdout is the wire when serving over stdio.
	logger := cfg.Logger(os.Stderr)

	reg := mcpwire.NewRegistry()
	if cfg.Filesystem.Enabled {
		fs, err := filesystem.NewServer(cfg.Filesystem.Roots, filesystem.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("failed to create filesystem server: %w", err)
		}
		if err := fs.Register(reg); err != nil {
			return err
		}
	}
	if cfg.Memory.Enabled {
		if err := memory.NewServer(cfg.Memory.Path).Register(reg); err != nil {
			return err
		}
	}

	info := mcpwire.Info{Name: cfg.Server.Name, Version: cfg.Server.Version}
	opts := []mcpwire.ServerOption{
		mcpwire.WithServerLogger(logger),
	}
	if cfg.Server.Instructions != "" {
		opts = append(opts, mcpwire.WithInstructions(cfg.Server.Instructions))
	}
	if cfg.Server.SendTimeout > 0 {
		opts = append(opts, mcpwire.WithServerSendTimeout(cfg.Server.SendTimeout))
	}

	switch cfg.Transport.Kind {
	case "sse":
		return serveSSE(cfg, info, reg, logger, opts)
	default:
		return serveStdIO(info, reg, logger, opts)
	}
}

func serveStdIO(info mcpwire.Info, reg *mcpwire.Registry, logger *slog.Logger, opts []mcpwire.ServerOption) error {
	transport := mcpwire.NewStdIO(os.Stdin, os.Stdout)
	srv := mcpwire.NewServer(info, reg, transport, opts...)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve()
	}()

	logger.Info("serving over stdio", slog.String("name", info.Name))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		return err
	case <-sig:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func serveSSE(
	cfg *config.Config,
	info mcpwire.Info,
	reg *mcpwire.Registry,
	logger *slog.Logger,
	opts []mcpwire.ServerOption,
) error {
	baseURL := cfg.Transport.SSE.BaseURL
	if baseURL == "" {
		baseURL = "http://" + cfg.Transport.SSE.Addr
	}

	transport := mcpwire.NewSSEServer(baseURL + cfg.Transport.SSE.MessagePath)
	srv := mcpwire.NewServer(info, reg, transport, opts...)

	mux := http.NewServeMux()
	mux.Handle(cfg.Transport.SSE.ConnectPath, transport.HandleSSE())
	mux.Handle(cfg.Transport.SSE.MessagePath, transport.HandleMessage())

	httpSrv := &http.Server{
		Addr:              cfg.Transport.SSE.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 2)
	go func() {
		serveErr <- srv.Serve()
	}()
	go func() {
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	logger.Info("serving over SSE",
		slog.String("name", info.Name),
		slog.String("addr", cfg.Transport.SSE.Addr))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		return err
	case <-sig:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Warn("failed to shut down HTTP server", slog.String("err", err.Error()))
	}
	return srv.Shutdown(ctx)
}
