package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/lokivisor"
)

// runServe runs the supervisor until ctx is cancelled or a termination signal arrives.
func runServe(ctx context.Context, f ServeFlags, console io.Writer) error {
	cfg, err := lokivisor.LoadConfig(f.ConfigPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	logger, logCloser, err := lokivisor.NewLogger(cfg.Log, console)
	if err != nil {
		return err
	}
	defer func() { _ = logCloser.Close() }()
	slog.SetDefault(logger)

	mgr, err := lokivisor.New(*cfg, lokivisor.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to create supervisor: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	var servers []*http.Server

	if cfg.Metrics.Enabled {
		if err := lokivisor.RegisterMetrics(prometheus.DefaultRegisterer, mgr); err != nil {
			logger.Warn("failed to register metrics", "error", err)
		}
		ms := lokivisor.NewMetricsServer(cfg.Metrics.Listen)
		if err := serveOn(ms, errCh, logger, "metrics"); err != nil {
			_ = mgr.Shutdown(context.Background())
			return err
		}
		servers = append(servers, ms)
	}

	api, err := lokivisor.NewTLSServer(cfg.Server, mgr)
	if err != nil {
		shutdownServers(servers, f.ShutdownTimeout)
		_ = mgr.Shutdown(context.Background())
		return fmt.Errorf("failed to configure api server: %w", err)
	}
	if err := serveOn(api, errCh, logger, "api"); err != nil {
		shutdownServers(servers, f.ShutdownTimeout)
		_ = mgr.Shutdown(context.Background())
		return err
	}
	servers = append(servers, api)

	if f.Start {
		if err := mgr.Start(); err != nil {
			logger.Error("initial start failed", "error", err)
		}
	}

	var sched *lokivisor.Scheduler
	if len(cfg.Schedule) > 0 {
		if sched, err = lokivisor.NewScheduler(cfg.Schedule, mgr); err != nil {
			shutdownServers(servers, f.ShutdownTimeout)
			_ = mgr.Shutdown(context.Background())
			return err
		}
		sched.Start()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errCh:
		logger.Error("server stopped unexpectedly", "error", runErr)
	}

	shutdownServers(servers, f.ShutdownTimeout)

	timeout := f.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	sctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if sched != nil {
		select {
		case <-sched.Stop().Done():
		case <-sctx.Done():
		}
	}
	if f.ManagedStopOnExit && mgr.Status() == lokivisor.StatusRunning {
		if err := mgr.ManagedStop(); err != nil {
			logger.Warn("managed stop on exit failed", "error", err)
		}
	}
	return errors.Join(runErr, mgr.Shutdown(sctx))
}

// serveOn binds srv.Addr synchronously and serves in the background.
func serveOn(srv *http.Server, errCh chan<- error, logger *slog.Logger, name string) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listen %s on %s: %w", name, srv.Addr, err)
	}
	logger.Info("listening", "server", name, "addr", ln.Addr().String(), "tls", srv.TLSConfig != nil)
	serve := srv.Serve
	if srv.TLSConfig != nil {
		serve = func(l net.Listener) error { return srv.ServeTLS(l, "", "") }
	}
	go func() {
		if err := serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("%s server: %w", name, err)
		}
	}()
	return nil
}

func shutdownServers(servers []*http.Server, timeout time.Duration) {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	for _, s := range servers {
		if err := s.Shutdown(ctx); err != nil {
			_ = s.Close()
		}
	}
}
