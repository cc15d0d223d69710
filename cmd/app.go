package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spigell/intern-allocator/internal/ai"
	"github.com/spigell/intern-allocator/internal/ai/engine"
	"github.com/spigell/intern-allocator/internal/ai/gemini"
	"github.com/spigell/intern-allocator/internal/allocation"
	"github.com/spigell/intern-allocator/internal/cycle"
	"github.com/spigell/intern-allocator/internal/expiry"
	"github.com/spigell/intern-allocator/internal/geo"
	"github.com/spigell/intern-allocator/internal/internship"
	"github.com/spigell/intern-allocator/internal/lock"
	"github.com/spigell/intern-allocator/internal/metrics"
	"github.com/spigell/intern-allocator/internal/notify"
	"github.com/spigell/intern-allocator/internal/queue"
	"github.com/spigell/intern-allocator/internal/scoring"
	"github.com/spigell/intern-allocator/internal/secrets"
	"github.com/spigell/intern-allocator/internal/store/memory"
	"github.com/spigell/intern-allocator/internal/store/postgres"
	"github.com/spigell/intern-allocator/internal/store/sqlite"
	"github.com/spigell/intern-allocator/internal/submission"
	"go.uber.org/zap"
)

// application holds every component built from the config.
type application struct {
	registry *prometheus.Registry

	store        internship.Store
	sweeper      *expiry.Sweeper
	locker       lock.Locker
	orchestrator *cycle.Orchestrator
	submissions  *submission.Service
	consumer     *queue.Redis

	closers []func() error
	logger  *zap.Logger
}

func newApplication(ctx context.Context, config *Config, logger *zap.Logger) (*application, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}

	a := &application{registry: prometheus.NewRegistry(), logger: logger}

	m, err := metrics.New(a.registry)
	if err != nil {
		return nil, fmt.Errorf("registering metrics: %w", err)
	}

	store, closeStore, err := newStore(ctx, config.Store, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, closeStore)

	similarity, err := newSimilarity(ctx, config.Similarity, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	q, err := a.newQueue(config.Queue)
	if err != nil {
		a.Close()
		return nil, err
	}

	locker, err := a.newLocker(config.Lock)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.locker = locker

	notifier := notify.NewLog(logger.Named("notify"))

	scorer := scoring.New(similarity, logger.Named("scoring"),
		scoring.WithTimeout(config.Similarity.Timeout),
		scoring.WithObserver(m),
	)

	a.submissions = submission.New(submission.Deps{
		Store:    store,
		Scorer:   scorer,
		Geocoder: newGeocoder(config.Geocoder, logger),
		Queue:    q,
		Notifier: notifier,
		Logger:   logger.Named("submission"),
	})

	batch := allocation.NewBatch(store, notifier, logger.Named("allocation"))
	batch.AccountCapacity = config.Allocation.CapacityAccounting

	a.sweeper = expiry.New(store, logger.Named("expiry"))
	a.orchestrator = cycle.New(cycle.Deps{
		Sweeper:   a.sweeper,
		Postings:  store,
		Allocator: batch,
		Locker:    locker,
		Recorder:  m,
		Logger:    logger.Named("cycle"),
	})

	return a, nil
}

// Close releases connections in reverse order of creation.
func (a *application) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("closing resource", zap.Error(err))
		}
	}
	a.closers = nil
}

func newStore(ctx context.Context, cfg *StoreConfig, logger *zap.Logger) (internship.Store, func() error, error) {
	dsn, err := secrets.Load(secrets.Source{
		Name:     "store dsn",
		Value:    cfg.DSN,
		File:     cfg.DSNFile,
		Optional: true,
	})
	if err != nil {
		return nil, nil, err
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	log := logger.Named("store").With(zap.String("driver", driver))

	switch driver {
	case "", "sqlite":
		s, err := sqlite.Open(ctx, dsn, log)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "postgres":
		s, err := postgres.Open(ctx, postgres.Config{
			DSN:             dsn,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
		}, log)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "memory":
		log.Warn("using in-memory store, nothing will be persisted")
		return memory.New(), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported store driver: %s", cfg.Driver)
	}
}

func newSimilarity(ctx context.Context, cfg *SimilarityConfig, logger *zap.Logger) (ai.Similarity, error) {
	provider := strings.TrimSpace(strings.ToLower(cfg.Provider))

	switch provider {
	case "", "none":
		logger.Info("semantic similarity disabled, keyword fallback only")
		return ai.Unavailable{}, nil
	case "engine":
		if cfg.Engine == nil || strings.TrimSpace(cfg.Engine.URL) == "" {
			logger.Warn("similarity engine url is not set, keyword fallback only",
				zap.String("hint", "set similarity.engine.url or AI_SERVICE_URL"),
			)
			return ai.Unavailable{}, nil
		}
		client, err := engine.New(cfg.Engine.URL, logger.Named("engine"))
		if err != nil {
			return nil, err
		}
		return client, nil
	case "gemini":
		return newGeminiSimilarity(ctx, cfg.Gemini, logger)
	default:
		return nil, fmt.Errorf("unsupported similarity provider: %s", cfg.Provider)
	}
}

func newGeminiSimilarity(ctx context.Context, cfg *GeminiConfig, logger *zap.Logger) (ai.Similarity, error) {
	if cfg == nil {
		cfg = &GeminiConfig{}
	}

	apiKey, err := secrets.Load(secrets.Source{
		Name: "gemini api key",
		File: cfg.APIKeyFile,
		Env:  "GEMINI_API_KEY",
	})
	if err != nil {
		return nil, fmt.Errorf("%w (set similarity.gemini.api-key-file or GEMINI_API_KEY)", err)
	}

	genLogger := logger.With(
		zap.String("provider", "gemini"),
		zap.String("model", cfg.Model),
		zap.Int("ai_retry_attempts", cfg.MaxRetries),
	)

	generator, err := gemini.NewGenerator(ctx, apiKey, cfg.Model, cfg.MaxRetries, genLogger)
	if err != nil {
		return nil, err
	}

	return gemini.NewSimilarity(generator, cfg.MaxLogLength, genLogger), nil
}

func newGeocoder(cfg *GeocoderConfig, logger *zap.Logger) geo.Geocoder {
	if cfg == nil || !cfg.Enabled {
		return geo.Nop{}
	}

	n := geo.NewNominatim(logger.Named("geocoder"))
	if cfg.URL != "" {
		n.APIURL = strings.TrimRight(cfg.URL, "/")
	}
	if cfg.UserAgent != "" {
		n.UserAgent = cfg.UserAgent
	}
	if cfg.Timeout > 0 {
		n.HTTPClient.Timeout = cfg.Timeout
	}
	return n
}

func (a *application) newQueue(cfg *QueueConfig) (queue.Queue, error) {
	if cfg == nil || !cfg.Enabled {
		return queue.Nop{}, nil
	}

	client, err := a.newRedisClient("queue", cfg.Addr, cfg.PasswordFile)
	if err != nil {
		return nil, err
	}

	a.consumer = queue.NewRedis(client, cfg.Key, a.logger.Named("queue"))
	return a.consumer, nil
}

func (a *application) newLocker(cfg *LockConfig) (lock.Locker, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "store":
		log := a.logger.Named("lock")
		switch s := a.store.(type) {
		case *sqlite.Store:
			return s.CycleLock(cfg.Key, cfg.TTL, log), nil
		case *postgres.Store:
			return s.CycleLock(cfg.Key, log), nil
		default:
			log.Warn("store has no shared lock, cycles are only serialised within this process")
			return lock.NewLocal(), nil
		}
	case "local":
		return lock.NewLocal(), nil
	case "redis":
		client, err := a.newRedisClient("lock", cfg.Addr, cfg.PasswordFile)
		if err != nil {
			return nil, err
		}
		return lock.NewRedis(client, cfg.Key, cfg.TTL, a.logger.Named("lock")), nil
	default:
		return nil, fmt.Errorf("unsupported lock backend: %s", cfg.Backend)
	}
}

func (a *application) newRedisClient(name, addr, passwordFile string) (*redis.Client, error) {
	password, err := secrets.Load(secrets.Source{
		Name:     name + " redis password",
		File:     passwordFile,
		Env:      "REDIS_PASSWORD",
		Optional: true,
	})
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	a.closers = append(a.closers, client.Close)
	return client, nil
}
