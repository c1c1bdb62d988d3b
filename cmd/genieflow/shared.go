package main

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/genieflow/genieflow/internal/common/config"
	"github.com/genieflow/genieflow/internal/common/logger"
	"github.com/genieflow/genieflow/internal/flows"
	"github.com/genieflow/genieflow/internal/invoker"
	"github.com/genieflow/genieflow/internal/model"
	"github.com/genieflow/genieflow/internal/statemachine"
	"github.com/genieflow/genieflow/internal/store"
	redisstore "github.com/genieflow/genieflow/internal/store/redis"
	sqlitestore "github.com/genieflow/genieflow/internal/store/sqlite"
	"github.com/genieflow/genieflow/internal/template"
)

// components holds the pieces the serve and worker subcommands both need
// that don't depend on which role the process plays.
type components struct {
	cfg       *config.Config
	log       *logger.Logger
	store     store.Store
	env       *template.Environment
	flows     *statemachine.Registry
	models    *model.ModelKeyRegistry
}

// buildCommon loads config, a logger, the store backend, the template
// environment, and registers the example flows - serve and worker both
// need this much before they can do their own job; migrate does not use it.
func buildCommon() (*components, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	logger.SetDefault(log)

	st, err := buildStore(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	factory := invoker.NewFactory()
	factory.Register("verbatim", invoker.NewVerbatimInvoker)
	factory.Register("http", invoker.NewHTTPInvoker)
	factory.Register("anthropic_chat", invoker.NewAnthropicChatInvoker)
	factory.Register("openai_chat", invoker.NewOpenAIChatInvoker)
	factory.Register("openai_json", invoker.NewOpenAIJSONInvoker)
	factory.Register("neo4j", invoker.NewNeo4jInvoker)
	factory.Register("weaviate", invoker.NewWeaviateInvoker)

	templateRoot := "internal/flows/templates"
	env, err := template.NewEnvironment(templateRoot, factory, 4)
	if err != nil {
		return nil, fmt.Errorf("initializing template environment: %w", err)
	}
	if err := env.RegisterTemplateDirectory("qa", templateRoot+"/qa"); err != nil {
		return nil, fmt.Errorf("registering qa templates: %w", err)
	}
	if err := env.RegisterTemplateDirectory("qa_invoker", templateRoot+"/qa_invoker"); err != nil {
		return nil, fmt.Errorf("registering qa_invoker templates: %w", err)
	}

	flowRegistry := statemachine.NewRegistry()
	qaFlow := flows.NewQAFlow()
	if err := qaFlow.Validate(env); err != nil {
		return nil, fmt.Errorf("qa flow failed validation: %w", err)
	}
	flowRegistry.Register(qaFlow)

	modelRegistry := model.NewModelKeyRegistry()
	modelRegistry.Register(flows.QAFlowTypeKey, model.DefaultConstructor)

	return &components{
		cfg:    cfg,
		log:    log,
		store:  st,
		env:    env,
		flows:  flowRegistry,
		models: modelRegistry,
	}, nil
}

// buildStore constructs the Store backend named by cfg.Store.Backend.
func buildStore(cfg *config.Config, log *logger.Logger) (store.Store, error) {
	switch cfg.Store.Backend {
	case "sqlite":
		st, err := sqlitestore.New(sqlitestore.Config{
			Path:             cfg.SQLite.Path,
			AppPrefix:        cfg.Store.AppPrefix,
			ObjectExpiration: time.Duration(cfg.Store.ObjectExpirationSeconds) * time.Second,
			Compression:      cfg.Store.Compression,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		return st, nil

	case "redis", "":
		objectClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.ObjectDB})
		lockClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.LockDB})
		progressClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.ProgDB})
		return redisstore.New(redisstore.Config{
			ObjectClient:     objectClient,
			LockClient:       lockClient,
			ProgressClient:   progressClient,
			AppPrefix:        cfg.Store.AppPrefix,
			ObjectExpiration: time.Duration(cfg.Store.ObjectExpirationSeconds) * time.Second,
			LockExpiration:   time.Duration(cfg.Store.LockExpirationSeconds) * time.Second,
			ProgExpiration:   time.Duration(cfg.Store.ProgressExpirationSeconds) * time.Second,
			Compression:      cfg.Store.Compression,
		}, log), nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
