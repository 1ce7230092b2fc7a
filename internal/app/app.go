package app

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aussiebroadwan/tabsession/pkg/slogx"
	"github.com/aussiebroadwan/tabsession/pkg/tabsync/sockbus"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Application is the tab broker: it relays cross-tab events between session
// managers running in separate processes.
type Application struct {
	cfg    Config
	logger *slog.Logger
	broker *sockbus.Broker
}

// New creates the broker application and binds its socket.
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "tabbroker",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	if err := app.initBroker(); err != nil {
		return nil, err
	}

	return app, nil
}

// Addr is the address the broker listens on.
func (app *Application) Addr() net.Addr { return app.broker.Addr() }

// Tabs reports how many tabs are connected on channel.
func (app *Application) Tabs(channel string) int { return app.broker.Peers(channel) }

// Run serves until shutdown is requested or the listener fails.
func (app *Application) Run() error {
	app.logger.Info("tab broker starting", "addr", app.Addr().String(), "version", BuildVersion)

	brokerErrors := make(chan error, 1)
	go func() {
		brokerErrors <- app.broker.Serve()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	select {
	case err := <-brokerErrors:
		if err != nil {
			return fmt.Errorf("broker failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown disconnects every tab and stops the broker, giving up after the
// configured grace period.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down tab broker...")

	done := make(chan error, 1)
	go func() { done <- app.broker.Close() }()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, net.ErrClosed) {
			app.logger.Error("error closing broker", "error", err)
			return err
		}
	case <-time.After(app.cfg.ShutdownGracePeriod):
		return fmt.Errorf("broker did not stop within %s", app.cfg.ShutdownGracePeriod)
	}

	app.logger.Info("tab broker stopped")
	return nil
}

func (app *Application) initBroker() error {
	network, address, err := app.cfg.BusEndpoint()
	if err != nil {
		return err
	}

	// A previous broker that died without cleanup leaves its socket file behind.
	if network == "unix" {
		if err := os.Remove(address); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove stale socket: %w", err)
		}
	}

	broker, err := sockbus.Listen(network, address, app.logger)
	if err != nil {
		return fmt.Errorf("failed to start broker: %w", err)
	}
	broker.SetPeerLimit(sockbus.RateLimit{
		EventsPerWindow: app.cfg.BrokerEventsPerMinute,
		Window:          time.Minute,
		Burst:           app.cfg.BrokerEventBurst,
	})
	app.broker = broker
	return nil
}
