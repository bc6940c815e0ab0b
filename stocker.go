// Package stocker wires the client session subsystem: credential store,
// session transport, identity gateway and the session state machine.
//
// The App is the single owner of the session. Build it once at startup,
// pass it to whatever needs the session and Close it on exit.
package stocker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Seann-Moser/stocker/config"
	"github.com/Seann-Moser/stocker/identity"
	"github.com/Seann-Moser/stocker/metrics"
	"github.com/Seann-Moser/stocker/session"
	"github.com/Seann-Moser/stocker/tokenstore"
	"github.com/Seann-Moser/stocker/transport"
)

type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Store     tokenstore.Store
	Transport *transport.Transport
	Client    *http.Client
	Gateway   *identity.Gateway
	Session   *session.Machine

	closers []func(context.Context) error
}

type Option func(*appOptions)

type appOptions struct {
	store tokenstore.Store
	base  http.RoundTripper
}

// WithStore bypasses the configured backend.
func WithStore(s tokenstore.Store) Option {
	return func(o *appOptions) { o.store = s }
}

// WithBaseTransport sets the round tripper under the session transport.
func WithBaseTransport(rt http.RoundTripper) Option {
	return func(o *appOptions) { o.base = rt }
}

// New builds the App. The session starts in StateUnknown; call
// App.Session.Boot to run the initial verification.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("stocker: nil config")
	}
	if logger == nil {
		logger = slog.Default()
	}
	var o appOptions
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg, Logger: logger, Metrics: metrics.New()}
	a.Store = o.store
	if a.Store == nil {
		s, err := a.openStore(ctx)
		if err != nil {
			_ = a.Close(ctx)
			return nil, err
		}
		a.Store = s
	}

	a.Transport = transport.New(o.base, logger.With("component", "transport"), a.Metrics)
	a.Client = a.Transport.Client(cfg.Timeout)
	a.Gateway = identity.NewGateway(cfg.BaseURL, a.Client, a.Store, logger.With("component", "identity"))
	a.Session = session.New(ctx, a.Store, a.Gateway,
		session.WithLogger(logger.With("component", "session")),
		session.WithMetrics(a.Metrics),
		session.WithStoreTimeout(cfg.Store.Timeout),
	)
	a.Transport.Attach(a.Session)
	return a, nil
}

func (a *App) openStore(ctx context.Context) (tokenstore.Store, error) {
	sc := a.Config.Store
	switch sc.Backend {
	case config.BackendMemory:
		return tokenstore.NewMemoryStore(""), nil
	case config.BackendFile:
		var key *[32]byte
		if sc.SealKey != "" {
			k, err := tokenstore.ParseKey(sc.SealKey)
			if err != nil {
				return nil, fmt.Errorf("store.seal-key: %w", err)
			}
			key = k
		}
		return tokenstore.NewFileStore(sc.Path, key), nil
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     sc.RedisAddr,
			Password: sc.RedisPassword,
			DB:       sc.RedisDB,
		})
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })
		return tokenstore.NewRedisStore(client, sc.Profile), nil
	case config.BackendMongo:
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(sc.MongoURI))
		if err != nil {
			return nil, fmt.Errorf("failed connecting to mongo: %w", err)
		}
		a.closers = append(a.closers, client.Disconnect)
		return tokenstore.NewMongoStore(client.Database(sc.MongoDatabase), sc.Profile), nil
	}
	return nil, fmt.Errorf("%w: unknown store.backend %q", config.ErrInvalid, sc.Backend)
}

// Do issues a domain API call relative to the base url through the session
// transport. A 401 from any path logs the session out.
func (a *App) Do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), a.Config.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return a.Client.Do(req)
}

// Close releases backend connections.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
