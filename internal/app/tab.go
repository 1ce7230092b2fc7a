package app

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/aussiebroadwan/tabsession/pkg/authsdk"
	"github.com/aussiebroadwan/tabsession/pkg/credstore"
	"github.com/aussiebroadwan/tabsession/pkg/credstore/sqlite"
	"github.com/aussiebroadwan/tabsession/pkg/session"
	"github.com/aussiebroadwan/tabsession/pkg/slogx"
	"github.com/aussiebroadwan/tabsession/pkg/tabsync"
	"github.com/aussiebroadwan/tabsession/pkg/tabsync/sockbus"
)

// processHub connects every tab opened in this process when SESSION_BUS is
// "memory".
var processHub = tabsync.NewHub()

type TabOptions struct {
	// Navigator receives the entry point when the session ends.
	Navigator session.Navigator

	// Hub overrides the process-wide hub for the memory bus.
	Hub *tabsync.Hub

	Logger *slog.Logger
}

// Tab is a fully wired session for one tab, together with the resources it
// owns.
type Tab struct {
	*session.Manager

	// Client is an HTTP client for business APIs: it carries the session's
	// bearer token and cookie jar.
	Client *http.Client

	durable *sqlite.Store
}

// OpenTab wires a session.Manager from cfg: durable SQLite tier, cookie
// mirror, rate limited auth client and the configured cross-tab bus.
func OpenTab(cfg Config, opts TabOptions) (*Tab, error) {
	logger := slogx.OrDiscard(opts.Logger)

	bus, err := openBus(cfg, opts, logger)
	if err != nil {
		return nil, err
	}

	jar, err := credstore.NewCookieJar()
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	mirror, err := credstore.NewJarMirror(jar, cfg.Origin)
	if err != nil {
		return nil, fmt.Errorf("failed to bind cookie mirror: %w", err)
	}

	tab := &Tab{}
	durable := credstore.Discard
	if cfg.DBFile != "" {
		store, err := sqlite.NewStore(cfg.DBFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open credential database: %w", err)
		}
		if err := store.ApplyMigrations(); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to apply credential database migrations: %w", err)
		}
		tab.durable = store
		durable = store
	}

	client := authsdk.NewSDKClient(cfg.APIBaseURL)
	client.HTTPClient = &http.Client{
		Timeout:   cfg.HTTPTimeout,
		Jar:       jar,
		Transport: slogx.NewTransport(http.DefaultTransport, logger),
	}
	if cfg.RateLimitRPS > 0 {
		client.Limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), 1)
	}

	manager, err := session.New(session.Options{
		Store: credstore.New(credstore.Options{
			Durable: durable,
			Cookies: mirror,
			Logger:  logger,
		}),
		API:              client,
		Bus:              bus,
		Channel:          cfg.Channel,
		Navigator:        opts.Navigator,
		RefreshThreshold: cfg.RefreshThreshold,
		RefreshTimeout:   cfg.RefreshTimeout,
		LogoutTimeout:    cfg.LogoutTimeout,
		Logger:           logger,
	})
	if err != nil {
		_ = tab.closeDurable()
		return nil, err
	}
	tab.Manager = manager

	tab.Client = &http.Client{
		Timeout:   cfg.HTTPTimeout,
		Jar:       jar,
		Transport: manager.Transport(slogx.NewTransport(http.DefaultTransport, logger)),
	}

	logger.Info("tab opened", "tab_id", manager.TabID().String(), "bus", cfg.Bus, "durable", cfg.DBFile != "")
	return tab, nil
}

// Close leaves the bus and closes the durable store. The session itself
// survives in the durable tier.
func (t *Tab) Close() error {
	return errors.Join(t.Manager.Close(), t.closeDurable())
}

func (t *Tab) closeDurable() error {
	if t.durable == nil {
		return nil
	}
	return t.durable.Close()
}

func openBus(cfg Config, opts TabOptions, logger *slog.Logger) (tabsync.Bus, error) {
	switch cfg.Bus {
	case BusMemory, "":
		if opts.Hub != nil {
			return opts.Hub, nil
		}
		return processHub, nil
	case BusSocket:
		network, address, err := cfg.BusEndpoint()
		if err != nil {
			return nil, err
		}
		return &sockbus.Bus{Network: network, Address: address, Logger: logger}, nil
	case BusNone:
		return tabsync.Nop, nil
	default:
		return nil, fmt.Errorf("invalid SESSION_BUS %q: want memory, socket or none", cfg.Bus)
	}
}
