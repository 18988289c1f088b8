// Package api serves the JSON HTTP surface over every Orquestrix operation.
package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/orquestrix/internal/assistant"
	"github.com/zulandar/orquestrix/internal/chat"
	"github.com/zulandar/orquestrix/internal/file"
	"github.com/zulandar/orquestrix/internal/logger"
	"github.com/zulandar/orquestrix/internal/models"
	"github.com/zulandar/orquestrix/internal/reconcile"
	"github.com/zulandar/orquestrix/internal/remote"
	"github.com/zulandar/orquestrix/internal/vectorstore"
	"github.com/zulandar/orquestrix/internal/worker"
	"gorm.io/gorm"
)

// Deps holds everything the handlers call into.
type Deps struct {
	DB           *gorm.DB
	Gateway      remote.Gateway
	Actor        *models.User
	Engine       *reconcile.Engine
	Assistants   *assistant.Service
	VectorStores *vectorstore.Service
	Files        *file.Service
	Chats        *chat.Service
	Workers      *worker.Service
	ChatModel    string
	WorkerModel  string
	Log          *logger.Logger
}

// StartOpts holds configuration for the API server.
type StartOpts struct {
	Deps
	Port int
	Out  io.Writer
}

// Start launches the API server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.DB == nil {
		return fmt.Errorf("api: db is required")
	}
	if opts.Actor == nil {
		return fmt.Errorf("api: actor is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           NewRouter(opts.Deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "API listening on http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(d Deps) *gin.Engine {
	if d.Log == nil {
		d.Log = logger.Nop()
	}
	d.Log = d.Log.With("component", "api")

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestID(), accessLog(d.Log))

	h := &handlers{Deps: d}
	registerRoutes(router, h)
	return router
}

type handlers struct {
	Deps
}
