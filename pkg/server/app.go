package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"SignalFusion/pkg/config"
	xhttp "SignalFusion/pkg/http"
	applogger "SignalFusion/pkg/logger"
)

// Service is a component with an explicit start and a graceful stop.
type Service struct {
	Start func(ctx context.Context) error
	Stop  func(ctx context.Context) error
}

type namedService struct {
	name string
	Service
}

type namedRunner struct {
	name string
	run  func(ctx context.Context)
}

type namedCloser struct {
	name  string
	close func() error
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	log        *applogger.Logger
	httpServer *xhttp.Server

	runners  []namedRunner
	services []namedService
	closers  []namedCloser
}

// New creates a new App around the HTTP server.
func New(cfg *config.Config, log *applogger.Logger, httpServer *xhttp.Server) *App {
	return &App{cfg: cfg, log: log, httpServer: httpServer}
}

// AddRunner registers a loop that runs until the app context ends.
func (a *App) AddRunner(name string, run func(ctx context.Context)) {
	a.runners = append(a.runners, namedRunner{name: name, run: run})
}

// AddService registers a component started in order and stopped in reverse.
func (a *App) AddService(name string, s Service) {
	a.services = append(a.services, namedService{name: name, Service: s})
}

// AddCloser registers a resource released after every service has stopped.
func (a *App) AddCloser(name string, fn func() error) {
	a.closers = append(a.closers, namedCloser{name: name, close: fn})
}

// Run starts the application and blocks until SIGINT or SIGTERM.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx)
}

// RunContext starts everything and blocks until ctx ends, then shuts down.
func (a *App) RunContext(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for _, r := range a.runners {
		wg.Add(1)
		go func(r namedRunner) {
			defer wg.Done()
			r.run(runCtx)
		}(r)
		a.log.Info("app.runner started", applogger.String("name", r.name))
	}

	started := 0
	for _, s := range a.services {
		if err := s.Start(runCtx); err != nil {
			a.log.Error("app.service start failed", applogger.String("name", s.name), applogger.Error(err))
			cancel()
			a.stopServices(started)
			wg.Wait()
			a.closeAll()
			return fmt.Errorf("start %s: %w", s.name, err)
		}
		started++
		a.log.Info("app.service started", applogger.String("name", s.name))
	}

	if err := a.httpServer.Start(); err != nil {
		cancel()
		a.stopServices(started)
		wg.Wait()
		a.closeAll()
		return fmt.Errorf("start http: %w", err)
	}
	a.log.Info("app.started",
		applogger.String("env", a.cfg.Environment),
		applogger.Int("port", a.cfg.Server.Port),
		applogger.Strings("watchlist", a.cfg.Analysis.Watchlist))

	<-ctx.Done()
	a.log.Info("app.shutdown signal received")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancelShutdown()
	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		a.log.Error("app.http shutdown failed", applogger.Error(err))
	}
	a.stopServices(started)
	cancel()
	wg.Wait()
	a.closeAll()
	a.log.Info("app.shutdown complete")
	return nil
}

func (a *App) stopServices(n int) {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	for i := n - 1; i >= 0; i-- {
		s := a.services[i]
		if s.Stop == nil {
			continue
		}
		if err := s.Stop(ctx); err != nil {
			a.log.Warn("app.service stop failed", applogger.String("name", s.name), applogger.Error(err))
		}
	}
}

// closeAll flushes the log digest first so its last batch still has a
// producer to go out on.
func (a *App) closeAll() {
	a.log.DetachDigest()
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			a.log.Warn("app.close failed", applogger.String("name", c.name), applogger.Error(err))
		}
	}
}
