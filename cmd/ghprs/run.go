package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/dnscache"

	ghcache "github.com/dgduncan/go-gh-cache"
	dynamocache "github.com/dgduncan/go-gh-cache/caches/dynamodb"
	"github.com/dgduncan/go-gh-cache/caches/local"
	ottercache "github.com/dgduncan/go-gh-cache/caches/otter"
	"github.com/dgduncan/go-gh-cache/caches/postgres"
	rediscache "github.com/dgduncan/go-gh-cache/caches/redis"
	"github.com/dgduncan/go-gh-cache/credentials"
	"github.com/dgduncan/go-gh-cache/internal/config"
	"github.com/dgduncan/go-gh-cache/profiles"
	"github.com/dgduncan/go-gh-cache/profiles/sqlite"
	"github.com/dgduncan/go-gh-cache/session"
)

type options struct {
	configPath  string
	demo        bool
	metricsFile string // written in the Prometheus text format on exit
}

// app is everything a command needs.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	rc      *ghcache.RequestCache
	manager *session.Manager
	store   profiles.Store // nil when no encryption secret is configured
	out     io.Writer
}

func run(ctx context.Context, opts options, args []string, out io.Writer) (err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg := config.Default()
	if opts.configPath != "" {
		if cfg, err = config.Load(opts.configPath); err != nil {
			return err
		}
	}
	if opts.demo {
		cfg.GitHub.DemoMode = true
	}

	logger := newLogger(cfg.Log, os.Stderr)

	cache, closeCache, err := newCache(ctx, cfg.Cache, logger)
	if err != nil {
		return err
	}
	defer closeCache()

	reg := prometheus.NewRegistry()
	rc := ghcache.New(cache, &ghcache.Config{
		DefaultTTL:       cfg.Cache.DefaultTTL,
		RateLimitBuffer:  cfg.Cache.RateLimitBuffer,
		TTLOverrides:     ttlOverrides(cfg.Cache.TTLOverrides),
		HTTPClient:       newHTTPClient(ctx, cfg.HTTP),
		CoalesceInFlight: cfg.Cache.Coalesce,
		Metrics:          ghcache.NewMetrics(reg),
	}, nil, logger)

	a := &app{
		cfg:     cfg,
		logger:  logger,
		rc:      rc,
		manager: session.NewManager(rc, &session.Config{DemoSeed: cfg.Profiles.DemoSeed}, nil, logger),
		out:     out,
	}

	if opts.metricsFile != "" {
		defer func() {
			if werr := prometheus.WriteToTextfile(opts.metricsFile, reg); werr != nil {
				err = errors.Join(err, fmt.Errorf("write metrics: %w", werr))
			}
		}()
	}

	if cfg.Profiles.EncryptionSecret != "" {
		store, err := sqlite.New(cfg.Profiles.DSN, credentials.Sealer{Secret: cfg.Profiles.EncryptionSecret}, logger)
		if err != nil {
			return fmt.Errorf("open profiles: %w", err)
		}
		defer store.Close()
		a.store = store
	}

	return a.dispatch(ctx, args)
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// newHTTPClient returns a client with pooled connections and, when enabled,
// cached DNS lookups refreshed until ctx is done.
func newHTTPClient(ctx context.Context, cfg config.HTTPConfig) *http.Client {
	t := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
		TLSHandshakeTimeout: 5 * time.Second,
	}

	if cfg.DNSCache {
		resolver := &dnscache.Resolver{}
		t.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := resolver.LookupHost(ctx, host)
			if err != nil {
				return nil, err
			}
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(ips[0], port))
		}

		go func() {
			tick := time.NewTicker(5 * time.Minute)
			defer tick.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-tick.C:
					resolver.Refresh(true)
				}
			}
		}()
	}

	return &http.Client{Transport: t, Timeout: cfg.Timeout}
}

func ttlOverrides(entries []config.TTLEntry) []ghcache.TTLOverride {
	out := make([]ghcache.TTLOverride, 0, len(entries))
	for _, e := range entries {
		out = append(out, ghcache.TTLOverride{URI: e.URI, Duration: e.TTL})
	}
	return out
}

// newCache builds the configured cache backend and a function releasing it.
func newCache(ctx context.Context, cfg config.CacheConfig, logger *slog.Logger) (ghcache.Cache, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Backend {
	case config.BackendOtter:
		c, err := ottercache.New(&ottercache.Config{MaximumSize: cfg.MaxSize})
		return c, noop, err

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("redis: %w", err)
		}
		c, err := rediscache.New(client, &rediscache.Config{KeyPrefix: cfg.Redis.KeyPrefix})
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		return c, client.Close, nil

	case config.BackendPostgres:
		db, err := sql.Open("postgres", cfg.Postgres.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		c, err := postgres.New(ctx, db, &postgres.Config{
			DeleteExpiredItems: cfg.Postgres.DeleteExpiredItems,
			ExpiredTaskTimer:   cfg.Postgres.ExpiredTaskTimer,
			Logger:             logger,
		})
		if err != nil {
			return nil, nil, errors.Join(err, db.Close())
		}
		return c, db.Close, nil

	case config.BackendDynamoDB:
		var loadOpts []func(*awsconfig.LoadOptions) error
		if cfg.DynamoDB.Region != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.DynamoDB.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("aws config: %w", err)
		}
		client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			if cfg.DynamoDB.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.DynamoDB.Endpoint)
			}
		})
		c, err := dynamocache.New(ctx, client, &dynamocache.Config{
			Table:       cfg.DynamoDB.Table,
			CreateTable: true,
		})
		return c, noop, err

	default:
		return local.NewBasicCache(), noop, nil
	}
}
