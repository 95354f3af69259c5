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

	"github.com/gonzalop/ftpbridge/davserver"
	"github.com/gonzalop/ftpbridge/ftp"
	"github.com/gonzalop/ftpbridge/internal/bufpool"
	"github.com/gonzalop/ftpbridge/internal/config"
	"github.com/gonzalop/ftpbridge/internal/watchdog"
	"github.com/gonzalop/ftpbridge/relay"
	"github.com/gonzalop/ftpbridge/server"
)

const shutdownGrace = 10 * time.Second

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	path := fs.String("config", "ftpbridge.yaml", "configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.Load(*path)
	if err != nil {
		return err
	}
	logger := cfg.Log.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	wdt := watchdog.New(cfg.Watchdog.Timeout, watchdog.WithLogger(logger.With("component", "watchdog")))
	go wdt.Run(ctx)

	relayHandler, err := newRelay(cfg, logger, wdt)
	if err != nil {
		return err
	}

	errc := make(chan error, 3)
	var httpServers []*http.Server
	serveHTTP := func(name, addr string, h http.Handler) {
		srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}
		httpServers = append(httpServers, srv)
		go func() {
			logger.Info(name+"_listening", "addr", addr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				errc <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	serveHTTP("relay", cfg.Proxy.Listen, relayHandler)

	if cfg.WebDAV.Enabled {
		dav, err := davserver.New(cfg.WebDAV.Root,
			davserver.WithPrefix(cfg.WebDAV.Prefix),
			davserver.WithReadOnly(cfg.WebDAV.ReadOnly),
			davserver.WithLogger(logger.With("component", "webdav")),
		)
		if err != nil {
			return err
		}
		serveHTTP("webdav", cfg.WebDAV.Listen, dav)
	}

	var ftpServer *server.Server
	if cfg.FTPServer.Enabled {
		ftpServer, err = newFTPServer(cfg.FTPServer, logger.With("component", "ftp_server"))
		if err != nil {
			return err
		}
		go func() {
			if err := ftpServer.ListenAndServe(); !errors.Is(err, server.ErrServerClosed) {
				errc <- fmt.Errorf("ftp server: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting_down")
	case err = <-errc:
		logger.Error("server_failed", "error", err)
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	for _, srv := range httpServers {
		if serr := srv.Shutdown(sctx); serr != nil {
			logger.Warn("shutdown_incomplete", "addr", srv.Addr, "error", serr)
		}
	}
	if ftpServer != nil {
		_ = ftpServer.Shutdown()
	}
	return err
}

func newRelay(cfg *config.Config, logger *slog.Logger, wdt *watchdog.Watchdog) (*relay.Handler, error) {
	p := cfg.Proxy
	pool, err := bufpool.New(p.MemoryBudget)
	if err != nil {
		return nil, err
	}
	return relay.New(
		relay.Upstream{Addr: p.FTP.Addr(), Username: p.FTP.Username, Password: p.FTP.Password},
		p.RemotePaths,
		relay.WithLogger(logger.With("component", "relay")),
		relay.WithBufferPool(pool),
		relay.WithWatchdog(wdt, "relay", cfg.Watchdog.FeedBytes),
		relay.WithFTPOptions(
			ftp.WithTimeout(p.FTP.ControlTimeout),
			ftp.WithStallTimeout(p.FTP.StallTimeout),
		),
		relay.WithMaxBandwidth(p.MaxBandwidth),
		relay.WithUploadDir(p.UploadDir),
		relay.WithListDir(p.ListDir),
		relay.WithExposeListed(p.ExposeListed),
		relay.WithMaxUpload(p.MaxUpload),
	)
}

func newFTPServer(c config.FTPServerConfig, logger *slog.Logger) (*server.Server, error) {
	var opts []server.FSDriverOption
	switch {
	case c.PasswordHash != "":
		opts = append(opts, server.WithAccountHash(c.Username, c.PasswordHash))
	case c.Password != "":
		opts = append(opts, server.WithAccount(c.Username, c.Password))
	}
	opts = append(opts, server.WithAnonymous(c.Anonymous))

	driver, err := server.NewFSDriver(c.Root, opts...)
	if err != nil {
		return nil, err
	}
	return server.NewServer(c.Listen,
		server.WithDriver(driver),
		server.WithLogger(logger),
		server.WithMaxConnections(c.MaxConnections),
		server.WithMaxIdleTime(c.IdleTimeout),
		server.WithBandwidthLimit(c.MaxBandwidth),
		server.WithSettings(server.Settings{PasvMinPort: c.PasvMinPort, PasvMaxPort: c.PasvMaxPort}),
	)
}
