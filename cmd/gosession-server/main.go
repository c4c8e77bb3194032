// Command gosession-server runs the goSession HTTP API against Redis and
// PostgreSQL.
//
// Configuration comes from an optional file (-config), an optional .env file
// (-env-file) and GOSESSION_* environment variables. Besides the engine keys,
// the server reads:
//
//	server.addr              listen address (":8080")
//	server.shutdown_timeout  graceful shutdown bound ("15s")
//	server.trust_proxy       honor X-Forwarded-For / X-Real-IP (false)
//	server.allowed_origins   origins allowed credentialed CORS (none)
//	redis.addr               Redis address ("localhost:6379")
//	redis.password, redis.db
//	postgres.dsn             principal store; empty uses an in-memory store
//	nats.url                 audit events are published here when set
//	nats.subject             subject root ("gosession.audit")
//	bootstrap.identifier     optional principal created at startup
//	bootstrap.credential
//	log.level, log.format    zerolog level and "json" or "console"
//	sentry.dsn               report 5xx failures to Sentry when set
//	sentry.environment
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/audit/natssink"
	"github.com/MrEthical07/goSession/httpapi"
	promexport "github.com/MrEthical07/goSession/metrics/export/prometheus"
	"github.com/MrEthical07/goSession/password"
	"github.com/MrEthical07/goSession/principal"
	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type repository interface {
	goSession.PrincipalRepository
	principal.IdentifierLookup
}

func main() {
	var (
		configFile = flag.String("config", "", "path to a YAML/TOML/JSON config file")
		envFile    = flag.String("env-file", ".env", "path to an optional .env file")
	)
	flag.Parse()

	if err := run(*configFile, *envFile); err != nil {
		fmt.Fprintf(os.Stderr, "gosession-server: %v\n", err)
		os.Exit(1)
	}
}

func run(configFile, envFile string) error {
	cfg, v, err := goSession.LoadConfig(goSession.LoadOptions{ConfigFile: configFile, EnvFile: envFile})
	if err != nil {
		return err
	}
	setServerDefaults(v)

	log := newLogger(v)
	if dsn := v.GetString("sentry.dsn"); dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              dsn,
			Environment:      v.GetString("sentry.environment"),
			AttachStacktrace: true,
		}); err != nil {
			return fmt.Errorf("init sentry: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{
		Addr:     v.GetString("redis.addr"),
		Password: v.GetString("redis.password"),
		DB:       v.GetInt("redis.db"),
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Msg("redis not reachable at startup; continuing")
	}

	repo, closeRepo, err := openRepository(ctx, v, log)
	if err != nil {
		return err
	}
	defer closeRepo()

	hasher, err := password.NewArgon2(cfg.Password)
	if err != nil {
		return err
	}
	if err := bootstrapPrincipal(ctx, v, repo, hasher, log); err != nil {
		return err
	}

	var sink goSession.AuditSink = goSession.NewLoggerSink(log)
	if url := v.GetString("nats.url"); url != "" {
		ns, nc, err := natssink.Connect(url, v.GetString("nats.subject"), log)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer nc.Drain()
		sink = goSession.MultiSink{sink, ns}
	}

	b := goSession.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithPrincipalRepository(repo).
		WithPasswordHasher(hasher).
		WithAuditSink(sink).
		WithLogger(log)
	if cfg.OAuth2.Enabled {
		b = b.WithOAuth2IdentityResolver(&principal.UserInfoResolver{
			Principals:           repo,
			OAuth2:               cfg.OAuth2.ClientConfig(),
			UserInfoURL:          cfg.OAuth2.UserInfoURL,
			RequireVerifiedEmail: true,
		})
	}
	engine, err := b.Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	opts := httpapi.Options{
		Logger:            log,
		TrustProxyHeaders: v.GetBool("server.trust_proxy"),
		AllowedOrigins:    v.GetStringSlice("server.allowed_origins"),
	}
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			promexport.NewCollector(engine),
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		opts.Registerer = reg
		opts.Metrics = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	srv := &http.Server{
		Addr:              v.GetString("server.addr"),
		Handler:           otelhttp.NewHandler(httpapi.NewRouter(engine, opts), "gosession"),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), v.GetDuration("server.shutdown_timeout"))
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func setServerDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.trust_proxy", false)
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject", natssink.DefaultSubject)
	v.SetDefault("bootstrap.identifier", "")
	v.SetDefault("bootstrap.credential", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "production")
}

func newLogger(v *viper.Viper) zerolog.Logger {
	level, err := zerolog.ParseLevel(v.GetString("log.level"))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var log zerolog.Logger
	if strings.EqualFold(v.GetString("log.format"), "console") {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		log = zerolog.New(os.Stderr)
	}
	return log.Level(level).With().Timestamp().Str("service", "gosession").Logger()
}

func openRepository(ctx context.Context, v *viper.Viper, log zerolog.Logger) (repository, func(), error) {
	dsn := v.GetString("postgres.dsn")
	if dsn == "" {
		log.Warn().Msg("postgres.dsn not set; principals are kept in memory")
		return principal.NewMemoryRepository(), func() {}, nil
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	repo := principal.NewPostgresRepository(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return repo, pool.Close, nil
}

// bootstrapPrincipal creates the configured principal if its identifier is
// not taken yet.
func bootstrapPrincipal(ctx context.Context, v *viper.Viper, repo repository, hasher *password.Argon2, log zerolog.Logger) error {
	identifier := v.GetString("bootstrap.identifier")
	credential := v.GetString("bootstrap.credential")
	if identifier == "" || credential == "" {
		return nil
	}

	if _, err := repo.FindByIdentifier(ctx, identifier); err == nil {
		return nil
	} else if !errors.Is(err, goSession.ErrPrincipalNotFound) {
		return fmt.Errorf("bootstrap lookup: %w", err)
	}

	hash, err := hasher.Hash(credential)
	if err != nil {
		return fmt.Errorf("bootstrap hash: %w", err)
	}
	p := goSession.Principal{ID: uuid.NewString(), Identifier: identifier, CredentialHash: hash}

	switch r := repo.(type) {
	case *principal.PostgresRepository:
		err = r.Create(ctx, p)
	case *principal.MemoryRepository:
		err = r.Put(p)
	default:
		err = errors.New("repository does not support creation")
	}
	if err != nil {
		return fmt.Errorf("bootstrap create: %w", err)
	}
	log.Info().Str("principal_id", p.ID).Msg("bootstrap principal created")
	return nil
}
