package cli

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"

	"quiz-client/internal/app"
	"quiz-client/internal/config"
	"quiz-client/internal/domain"
	"quiz-client/internal/infra/memory"
	"quiz-client/internal/infra/postgres"
	redisinfra "quiz-client/internal/infra/redis"
	"quiz-client/internal/quizapi"
)

// env is everything a command needs, built once from config and flags.
type env struct {
	cfg    config.Config
	api    *quizapi.Client
	policy app.RetryPolicy
	redis  *redis.Client
	pool   *pgxpool.Pool
}

func loadEnv(ctx context.Context, opts *rootOptions) (*env, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.baseURL != "" {
		cfg.API.BaseURL = opts.baseURL
	}
	if opts.token != "" {
		cfg.API.Token = opts.token
	}
	if err := quizapi.CheckCredential(cfg.API.Token, time.Now()); err != nil {
		return nil, err
	}

	e := &env{
		cfg: cfg,
		api: quizapi.NewClient(cfg.API.BaseURL, cfg.API.Token, &http.Client{
			Timeout: config.TTLDuration(cfg.API.Timeout, 10*time.Second),
		}),
		policy: app.RetryPolicy{
			InitialInterval: config.TTLDuration(cfg.Retry.InitialInterval, 250*time.Millisecond),
			MaxInterval:     config.TTLDuration(cfg.Retry.MaxInterval, 2*time.Second),
			MaxElapsed:      config.TTLDuration(cfg.Retry.MaxElapsed, 10*time.Second),
			CallTimeout:     config.TTLDuration(cfg.Retry.CallTimeout, 5*time.Second),
		},
	}
	if cfg.Redis.Addr != "" {
		e.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	return e, nil
}

func (e *env) Close() {
	if e.redis != nil {
		_ = e.redis.Close()
	}
	if e.pool != nil {
		e.pool.Close()
	}
}

// quizRepository caches quiz content in Redis when configured, in process otherwise.
func (e *env) quizRepository() app.QuizRepository {
	ttl := config.TTLDuration(e.cfg.Cache.TTL, time.Minute)
	if e.redis != nil {
		return redisinfra.NewQuizRepository(e.redis, e.api, ttl)
	}
	return memory.NewQuizRepository(e.api, ttl)
}

func (e *env) catalog() *app.Catalog {
	return app.NewCatalog(e.api, e.quizRepository())
}

// journal keeps publish progress in Postgres when configured. The in-memory
// journal only survives within one process.
func (e *env) journal(ctx context.Context) (app.PublishJournal, error) {
	if e.cfg.Postgres.URL == "" {
		return memory.NewPublishJournal(), nil
	}
	if err := runMigrationsWithConfig(ctx, e.cfg); err != nil {
		return nil, err
	}
	pool, err := pgxpool.Connect(ctx, e.cfg.Postgres.URL)
	if err != nil {
		return nil, err
	}
	e.pool = pool
	return postgres.NewPublishJournal(pool), nil
}

func (e *env) sessionOptions(clock app.Clock, signals app.Signals) app.SessionOptions {
	return app.SessionOptions{
		Clock:            clock,
		Signals:          signals,
		AutosaveDebounce: config.TTLDuration(e.cfg.Attempt.AutosaveDebounce, 300*time.Millisecond),
		AutoSubmit:       e.cfg.Attempt.AutoSubmit,
		ReportPaste:      e.cfg.PasteReporting(),
		FlushTimeout:     config.TTLDuration(e.cfg.Attempt.FlushTimeout, 15*time.Second),
	}
}

// sessionFactory builds sessions that each own an outbox worker, so one
// attempt stuck in retries never delays another. Session.Close stops it.
func (e *env) sessionFactory(ctx context.Context, clock app.Clock) func(domain.Quiz, app.Signals) *app.Session {
	return func(quiz domain.Quiz, signals app.Signals) *app.Session {
		outbox := app.NewOutbox(e.policy)
		outbox.Start(ctx)
		return app.NewSession(quiz, e.api, outbox, e.sessionOptions(clock, signals))
	}
}

func (e *env) sessionStore() app.SessionRepository {
	if e.redis != nil {
		return redisinfra.NewSessionStore(e.redis, config.TTLDuration(e.cfg.Redis.TTL, 30*time.Minute))
	}
	return memory.NewSessionStore()
}
