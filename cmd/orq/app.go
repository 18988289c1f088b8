package main

import (
	"fmt"

	"github.com/zulandar/orquestrix/internal/actor"
	"github.com/zulandar/orquestrix/internal/assistant"
	"github.com/zulandar/orquestrix/internal/chat"
	"github.com/zulandar/orquestrix/internal/config"
	"github.com/zulandar/orquestrix/internal/db"
	"github.com/zulandar/orquestrix/internal/embedding"
	"github.com/zulandar/orquestrix/internal/file"
	"github.com/zulandar/orquestrix/internal/logger"
	"github.com/zulandar/orquestrix/internal/models"
	"github.com/zulandar/orquestrix/internal/reconcile"
	"github.com/zulandar/orquestrix/internal/remote"
	"github.com/zulandar/orquestrix/internal/responder"
	"github.com/zulandar/orquestrix/internal/vectorstore"
	"github.com/zulandar/orquestrix/internal/worker"
	"gorm.io/gorm"
)

// app bundles the services every command builds from one config.
type app struct {
	cfg          *config.Config
	db           *gorm.DB
	log          *logger.Logger
	gw           remote.Gateway
	actor        *models.User
	engine       *reconcile.Engine
	assistants   *assistant.Service
	vectorStores *vectorstore.Service
	files        *file.Service
	chats        *chat.Service
	workers      *worker.Service
}

func connectFromConfig(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to %s: %w", db.Location(cfg.Database), err)
	}
	return cfg, gormDB, nil
}

// newApp loads the config, connects, resolves the actor and wires the
// services. gw overrides the HTTP client when non-nil.
func newApp(configPath string, gw remote.Gateway) (*app, error) {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	user, err := actor.Resolve(gormDB, cfg.Actor.Username)
	if err != nil {
		return nil, fmt.Errorf("resolve actor (run \"orq db seed\"): %w", err)
	}
	if gw == nil {
		client, err := remote.New(remote.Options{
			APIKey:  cfg.OpenAI.APIKey,
			BaseURL: cfg.OpenAI.BaseURL,
			Timeout: config.Seconds(cfg.OpenAI.RequestTimeout),
			Log:     log,
		})
		if err != nil {
			return nil, err
		}
		gw = client
	}

	maint := embedding.New(gw, log)
	resp := responder.New(gw, responder.Options{
		PollInterval: config.Seconds(cfg.OpenAI.PollInterval),
		PollTimeout:  config.Seconds(cfg.OpenAI.PollTimeout),
		Log:          log,
	})
	return &app{
		cfg:          cfg,
		db:           gormDB,
		log:          log,
		gw:           gw,
		actor:        user,
		engine:       reconcile.New(gw, maint, log),
		assistants:   assistant.NewService(gw, log),
		vectorStores: vectorstore.NewService(gw, log),
		files:        file.NewService(gw, maint, log),
		chats:        chat.NewService(resp, cfg.OpenAI.ChatModel, log),
		workers: worker.NewService(gw, worker.Options{
			PollInterval:     config.Seconds(cfg.OpenAI.PollInterval),
			PollTimeout:      config.Seconds(cfg.OpenAI.WorkerPollTimeout),
			StepsPollTimeout: config.Seconds(cfg.OpenAI.StepsPollTimeout),
			DefaultModel:     cfg.OpenAI.WorkerModel,
			Log:              log,
		}),
	}, nil
}
