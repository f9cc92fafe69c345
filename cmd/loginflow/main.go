// Package main is the entry point for the Ledgerly login flow service.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"github.com/ledgerly/authflow/internal/authn"
	"github.com/ledgerly/authflow/internal/discovery"
	"github.com/ledgerly/authflow/internal/login"
	"github.com/ledgerly/authflow/internal/prefs"
	"github.com/ledgerly/authflow/internal/profile"
	"github.com/ledgerly/authflow/internal/scheduler"
	"github.com/ledgerly/authflow/internal/shared/cache"
	"github.com/ledgerly/authflow/internal/shared/events"
	"github.com/ledgerly/authflow/internal/shared/health"
	"github.com/ledgerly/authflow/internal/shared/logger"
	"github.com/ledgerly/authflow/internal/shared/metrics"
	"github.com/ledgerly/authflow/internal/shared/tracing"
)

// Config holds the login flow service configuration.
type Config struct {
	HTTP struct {
		Host string `mapstructure:"host"`
		Port int    `mapstructure:"port"`
	} `mapstructure:"http"`

	Metrics struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"metrics"`

	Health struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"health"`

	Auth struct {
		BaseURL          string        `mapstructure:"base_url"`
		APIKey           string        `mapstructure:"api_key"`
		Timeout          time.Duration `mapstructure:"timeout"`
		PublicKeyPath    string        `mapstructure:"public_key_path"`
		Issuer           string        `mapstructure:"issuer"`
		OAuthRedirectURL string        `mapstructure:"oauth_redirect_url"`

		OAuth map[string]authn.OAuthConfig `mapstructure:"oauth"`
	} `mapstructure:"auth"`

	Login struct {
		SubmitRate  float64 `mapstructure:"submit_rate"`
		SubmitBurst int     `mapstructure:"submit_burst"`
	} `mapstructure:"login"`

	Database struct {
		Host            string        `mapstructure:"host"`
		Port            int           `mapstructure:"port"`
		User            string        `mapstructure:"user"`
		Password        string        `mapstructure:"password"`
		Name            string        `mapstructure:"name"`
		SSLMode         string        `mapstructure:"ssl_mode"`
		MaxOpenConns    int           `mapstructure:"max_open_conns"`
		MaxIdleConns    int           `mapstructure:"max_idle_conns"`
		ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	} `mapstructure:"database"`

	Redis struct {
		Enabled bool   `mapstructure:"enabled"`
		Address string `mapstructure:"address"`
	} `mapstructure:"redis"`

	NATS struct {
		Enabled bool   `mapstructure:"enabled"`
		URL     string `mapstructure:"url"`
	} `mapstructure:"nats"`

	Consul struct {
		Enabled bool   `mapstructure:"enabled"`
		Address string `mapstructure:"address"`
	} `mapstructure:"consul"`

	Prefs struct {
		CacheTTL time.Duration `mapstructure:"cache_ttl"`
		Timeout  time.Duration `mapstructure:"timeout"`
	} `mapstructure:"prefs"`

	Jobs struct {
		SessionRefresh string `mapstructure:"session_refresh"`
		CacheSweep     string `mapstructure:"cache_sweep"`
	} `mapstructure:"jobs"`

	Tracing tracing.Config `mapstructure:"tracing"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: "ledgerly-authflow",
		Environment: os.Getenv("ENVIRONMENT"),
	})

	log := logger.Default()
	log.Info("starting ledgerly login flow service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing
	var tracer *tracing.Provider
	if cfg.Tracing.Enabled {
		provider, cleanup, err := tracing.Init(cfg.Tracing)
		if err != nil {
			log.Error("failed to initialize tracing", "error", err)
			os.Exit(1)
		}
		tracer = provider
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := cleanup(shutdownCtx); err != nil {
				log.Error("tracing shutdown error", "error", err)
			}
		}()
	}

	// Metrics
	m := metrics.New(metrics.Config{})

	// Database
	dbPool, err := initDatabase(ctx, cfg)
	if err != nil {
		log.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	// Redis cache (optional)
	var redisCache *cache.Client
	if cfg.Redis.Enabled {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.Address = cfg.Redis.Address
		redisCache, err = cache.New(cacheCfg)
		if err != nil {
			log.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redisCache.Close()
	}

	// NATS events (optional)
	var eventBus *events.Client
	if cfg.NATS.Enabled {
		eventsCfg := events.DefaultConfig()
		eventsCfg.URL = cfg.NATS.URL
		eventBus, err = events.New(eventsCfg)
		if err != nil {
			log.Error("failed to connect to nats", "error", err)
			os.Exit(1)
		}
		defer eventBus.Close()
	}

	// Consul discovery and preference loaders (optional)
	var prefLoader *prefs.Loader
	if cfg.Consul.Enabled {
		disc, err := discovery.NewClient(discovery.Config{Address: cfg.Consul.Address})
		if err != nil {
			log.Error("failed to connect to consul", "error", err)
			os.Exit(1)
		}
		prefLoader = prefs.NewLoader(prefs.Config{
			CacheTTL: cfg.Prefs.CacheTTL,
			Timeout:  cfg.Prefs.Timeout,
		}, disc, redisCache, m, log)
	}

	// Auth backend client
	authClient, err := authn.NewClient(authn.Config{
		BaseURL:       cfg.Auth.BaseURL,
		APIKey:        cfg.Auth.APIKey,
		Timeout:       cfg.Auth.Timeout,
		PublicKeyPath: cfg.Auth.PublicKeyPath,
		Issuer:        cfg.Auth.Issuer,
		OAuth:         cfg.Auth.OAuth,
	}, log)
	if err != nil {
		log.Error("failed to initialize auth client", "error", err)
		os.Exit(1)
	}

	// Profile provisioning
	store := profile.NewPostgres(dbPool)
	var prefSource profile.Preferences
	if prefLoader != nil {
		prefSource = prefLoader
	}
	provisioner := profile.NewProvisioner(store, prefSource, eventBus, m, log)

	// Login flow controller with a headless screen
	screen := login.NewScreenState()
	var loginBus login.EventPublisher
	if eventBus != nil {
		loginBus = eventBus
	}
	controller := login.New(login.Config{
		OAuthRedirectURL: cfg.Auth.OAuthRedirectURL,
		SubmitRate:       rate.Limit(cfg.Login.SubmitRate),
		SubmitBurst:      cfg.Login.SubmitBurst,
	}, authClient, provisioner, screen, screen, loginBus, m, tracer, log)
	defer controller.Close()

	go func() {
		if err := controller.Run(ctx); err != nil {
			log.Error("event loop error", "error", err)
		}
	}()

	// Background jobs
	sched := scheduler.New(log)
	if err := sched.AddJob("session-refresh", cfg.Jobs.SessionRefresh, func(ctx context.Context) error {
		if authClient.Session() == nil {
			return nil
		}
		refreshed, err := authClient.RefreshSession(ctx)
		if err != nil {
			m.ObserveSessionRefresh(metrics.OutcomeError)
			return err
		}
		m.ObserveSessionRefresh(metrics.OutcomeOK)
		if eventBus != nil && eventBus.IsConnected() {
			if err := eventBus.PublishAuthEvent(ctx, events.EventSessionRefreshed, refreshed.User.ID, nil); err != nil {
				log.WithError(err).Warn("publishing session refresh failed")
			}
		}
		return nil
	}); err != nil {
		log.Error("failed to schedule session refresh", "error", err)
		os.Exit(1)
	}
	if prefLoader != nil {
		if err := sched.AddJob("pref-cache-sweep", cfg.Jobs.CacheSweep, prefLoader.SweepCache); err != nil {
			log.Error("failed to schedule cache sweep", "error", err)
			os.Exit(1)
		}
	}
	sched.Start()
	defer sched.Stop()

	// Health checks
	healthChecker := health.NewChecker(
		health.WithVersion(version()),
		health.WithTimeout(5*time.Second),
	)
	healthChecker.Register("database", health.PingCheck("database", dbPool.Ping))
	healthChecker.Register("auth-backend", health.HTTPCheck(cfg.Auth.BaseURL+"/health"))
	if redisCache != nil {
		healthChecker.Register("redis", health.PingCheck("redis", redisCache.Ping))
	}
	if eventBus != nil {
		healthChecker.Register("nats", health.ConnectedCheck("nats", eventBus.IsConnected))
	}

	// Login API server
	apiServer := login.NewServer(controller, authClient, screen, log)
	httpAddr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           apiServer.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("starting login API server", "address", httpAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", "error", err)
		}
	}()

	// Metrics server
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", m.Handler())
	metricsServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.Metrics.Port),
		Handler:           metricsMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("starting metrics server", "address", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server error", "error", err)
		}
	}()

	// Health server
	go func() {
		healthAddr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.Health.Port)
		log.Info("starting health server", "address", healthAddr)
		if err := healthChecker.ServeHTTP(healthAddr); err != nil && err != http.ErrServerClosed {
			log.Error("health server error", "error", err)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", "error", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error("metrics server shutdown error", "error", err)
	}
	if err := healthChecker.Shutdown(shutdownCtx); err != nil {
		log.Error("health checker shutdown error", "error", err)
	}

	log.Info("stopped")
}

func initDatabase(ctx context.Context, cfg *Config) (*pgxpool.Pool, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Name,
		cfg.Database.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.Database.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.Database.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.Database.ConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

func loadConfig() (*Config, error) {
	viper.SetConfigName("loginflow")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("/etc/ledgerly")

	viper.SetDefault("http.host", "0.0.0.0")
	viper.SetDefault("http.port", 8080)
	viper.SetDefault("metrics.port", 9090)
	viper.SetDefault("health.port", 8081)
	viper.SetDefault("auth.base_url", "http://localhost:9999/auth/v1")
	viper.SetDefault("auth.timeout", "10s")
	viper.SetDefault("auth.oauth_redirect_url", "ledgerly://login-callback")
	viper.SetDefault("login.submit_rate", 1.0)
	viper.SetDefault("login.submit_burst", 5)
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "ledgerly")
	viper.SetDefault("database.password", "ledgerly_secret")
	viper.SetDefault("database.name", "ledgerly")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.address", "localhost:6379")
	viper.SetDefault("nats.enabled", false)
	viper.SetDefault("nats.url", "nats://localhost:4222")
	viper.SetDefault("consul.enabled", false)
	viper.SetDefault("consul.address", "localhost:8500")
	viper.SetDefault("prefs.cache_ttl", "15m")
	viper.SetDefault("prefs.timeout", "3s")
	viper.SetDefault("jobs.session_refresh", "@every 10m")
	viper.SetDefault("jobs.cache_sweep", "@every 1h")
	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")

	viper.SetEnvPrefix("LOGINFLOW")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

func version() string {
	if v := os.Getenv("VERSION"); v != "" {
		return v
	}
	return "dev"
}
