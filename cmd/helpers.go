package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/giantswarm/authkeeper/internal/config"
	"github.com/giantswarm/authkeeper/internal/session"
	"github.com/giantswarm/authkeeper/pkg/logging"
	"github.com/giantswarm/authkeeper/pkg/oauth"
)

// environment is everything a command needs to act on the session.
type environment struct {
	cfg         config.Config
	client      *oauth.Client
	storage     session.Storage
	storagePath string
	manager     *session.Manager
	closers     []func() error
}

// envOptions tweak how the manager is built for one command.
type envOptions struct {
	opener      session.URLOpener
	interactive bool
	autoRefresh *bool
}

// loadConfig is replaced in tests.
var loadConfig = config.LoadConfig

func newEnvironment(ctx context.Context, opts envOptions) (*environment, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	initLogging(cfg, opts.interactive)

	env := &environment{cfg: cfg}

	storage, path, closer, err := openStorage(cfg.Storage)
	if err != nil {
		return nil, err
	}
	env.storage = storage
	env.storagePath = path
	if closer != nil {
		env.closers = append(env.closers, closer)
	}

	env.client = oauth.NewClient(cfg.Provider.Endpoints(), oauth.WithLogger(logging.Logger("OAuthClient")))
	if cfg.Provider.NeedsDiscovery() {
		logging.Debug("Setup", "Discovering endpoints from %s", cfg.Provider.Issuer)
		if err := env.client.ResolveEndpoints(ctx, cfg.Provider.Issuer); err != nil {
			env.Close()
			return nil, fmt.Errorf("failed to discover provider endpoints: %w", err)
		}
	}

	autoRefresh := cfg.Session.AutoRefresh
	if opts.autoRefresh != nil {
		autoRefresh = *opts.autoRefresh
	}

	manager, err := session.NewManager(session.Config{
		Client:             env.client,
		Storage:            storage,
		RedirectURI:        cfg.Provider.RedirectURI,
		Opener:             opts.opener,
		RefreshThreshold:   cfg.Session.RefreshThreshold,
		DisableAutoRefresh: !autoRefresh,
		PKCELength:         cfg.Session.PKCEVerifierLength,
		PKCEMaxAge:         cfg.Session.PKCEMaxAge,
	})
	if err != nil {
		env.Close()
		return nil, err
	}
	env.manager = manager
	return env, nil
}

// Close releases storage handles.
func (e *environment) Close() {
	for _, c := range e.closers {
		if err := c(); err != nil {
			logging.Warn("Setup", "Cleanup failed: %v", err)
		}
	}
	e.closers = nil
}

// providerLabel names the provider for status output.
func (e *environment) providerLabel() string {
	switch p := e.cfg.Provider; {
	case p.Domain != "":
		return p.Domain
	case p.Issuer != "":
		return p.Issuer
	default:
		return e.client.Endpoints().TokenEndpoint
	}
}

// initLogging applies the configured level. Interactive commands only show
// warnings unless --debug is set so that their own output stays readable.
func initLogging(cfg config.Config, interactive bool) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logging.LevelInfo
	}
	if interactive && level < logging.LevelWarn {
		level = logging.LevelWarn
	}
	if debugMode {
		level = logging.LevelDebug
	}

	var out io.Writer = os.Stderr
	if interactive {
		logging.InitForCLI(level, out)
		return
	}
	logging.Init(level, out, logging.FileOptions{
		Path:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
}

// openStorage creates the configured backend. The returned closer may be nil.
func openStorage(cfg config.StorageConfig) (session.Storage, string, func() error, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return session.NewMemoryStorage(), "", nil, nil

	case config.BackendSQLite:
		path := cfg.Path
		if path == "" {
			var err error
			if path, err = session.DefaultSQLitePath(); err != nil {
				return nil, "", nil, err
			}
		}
		s, err := session.NewSQLiteStorage(path)
		if err != nil {
			return nil, "", nil, err
		}
		return s, path, s.Close, nil

	case config.BackendFile, "":
		s, err := session.NewFileStorage(cfg.Path)
		if err != nil {
			return nil, "", nil, err
		}
		return s, s.Path(), nil, nil

	default:
		return nil, "", nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// eventLog collects events delivered during one command.
type eventLog struct {
	mu     sync.Mutex
	events []session.Event
}

func (l *eventLog) handle(ev session.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

// since returns events recorded after the first n.
func (l *eventLog) since(n int) []session.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n >= len(l.events) {
		return nil
	}
	return append([]session.Event(nil), l.events[n:]...)
}

func (l *eventLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// printf writes progress output unless --quiet is set.
func printf(w io.Writer, format string, args ...interface{}) {
	if !quietMode {
		_, _ = fmt.Fprintf(w, format, args...)
	}
}
