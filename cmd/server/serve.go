package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"runningnotes/internal/audit"
	"runningnotes/internal/config"
	"runningnotes/internal/db"
	"runningnotes/internal/flowcells"
	"runningnotes/internal/linkage"
	mcpserver "runningnotes/internal/mcp"
	"runningnotes/internal/middleware"
	"runningnotes/internal/notes"
	"runningnotes/internal/notify"
	"runningnotes/internal/users"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and MCP server",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, logger, err := loadConfig()
		if err != nil {
			fatal("failed to load config", err)
		}
		if err := serve(cfg, logger); err != nil {
			fatal("server error", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(cfg *config.Config, logger *slog.Logger) error {
	// Context for startup
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("connecting to MongoDB", "uri", cfg.Mongo.URI)
	database, err := db.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
	if err != nil {
		return err
	}
	defer database.Client().Disconnect(context.Background())
	logger.Info("connected to MongoDB")

	colls := cfg.Mongo.Collections
	noteRepo := notes.NewRepo(database, colls.RunningNotes)
	if err := noteRepo.EnsureIndexes(ctx); err != nil {
		logger.Warn("failed to ensure indexes", "error", err)
	}
	resolver := linkage.NewResolver(database, linkage.Collections{
		Projects:     colls.Projects,
		XFlowcells:   colls.XFlowcells,
		Worksets:     colls.Worksets,
		NanoporeRuns: colls.NanoporeRuns,
	})

	// Notification delivery
	dispatchOpts := []notify.Option{
		notify.WithBaseURL(cfg.BaseURL),
		notify.WithWorkers(cfg.Notify.Workers),
		notify.WithTimeout(cfg.Notify.Timeout),
	}
	var auditLog *audit.Log
	if cfg.Audit.DSN != "" {
		auditDB, err := openAudit(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer auditDB.Close()
		auditLog = audit.NewLog(auditDB)
		dispatchOpts = append(dispatchOpts, notify.WithRecorder(auditLog))
	}

	var messenger notify.Messenger
	if cfg.Slack.Token != "" {
		messenger = notify.NewSlackMessenger(cfg.Slack.Token)
	} else {
		logger.Warn("no slack token configured, notifications go out by e-mail only")
	}
	mailer := notify.NewSMTPMailer(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.From, cfg.SMTP.FromName)
	dispatcher := notify.NewDispatcher(
		users.NewDirectory(database, colls.Users),
		messenger,
		mailer,
		logger,
		dispatchOpts...,
	)

	noteSvc := notes.NewService(noteRepo, resolver, dispatcher, logger)
	noteHandler := notes.NewHandler(noteSvc, logger)

	// Flowcell search
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer rdb.Close()
	}
	loader := flowcells.NewMongoLoader(database, map[flowcells.Source]string{
		flowcells.SourceFlowcells:    colls.Flowcells,
		flowcells.SourceXFlowcells:   colls.XFlowcells,
		flowcells.SourceNanoporeRuns: colls.NanoporeRuns,
	})
	searcher := flowcells.NewSearcher(flowcells.NewNameCache(loader, rdb, cfg.Redis.FlowcellCacheTTL, logger), logger)

	mcpSrv := mcpserver.NewServer(noteSvc, searcher)

	// HTTP router
	mux := http.NewServeMux()
	noteHandler.Register(mux)
	searcher.Register(mux)
	if auditLog != nil {
		audit.NewHandler(auditLog, logger).Register(mux)
	}

	// MCP endpoint (HTTP transport)
	// MCP uses POST for requests and GET for SSE streams
	mcpHTTP := server.NewStreamableHTTPServer(mcpSrv, server.WithHTTPContextFunc(mcpserver.HTTPContext))
	mux.Handle("POST /mcp", mcpHTTP)
	mux.Handle("GET /mcp", mcpHTTP)
	mux.Handle("DELETE /mcp", mcpHTTP)

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr: cfg.Listen,
		Handler: middleware.Chain(mux,
			middleware.Recovery(logger),
			middleware.AccessLog(logger),
			middleware.WithIdentity,
		),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return err
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("server starting", "addr", cfg.Listen)
	logger.Info("endpoints available",
		"api", cfg.BaseURL+"/api/v1",
		"mcp", cfg.BaseURL+"/mcp",
	)

	if err := runServer(sigCtx, srv, ln, logger); err != nil {
		return err
	}

	// No handler is running any more, so no new notification can be queued.
	logger.Info("waiting for pending notifications")
	dispatcher.Wait()
	logger.Info("server stopped")
	return nil
}

// runServer serves on ln until ctx is done, then shuts srv down and returns once every
// in-flight request has finished.
func runServer(ctx context.Context, srv *http.Server, ln net.Listener, logger *slog.Logger) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()

		logger.Info("shutting down server...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
	}()

	if err := srv.Serve(ln); err != http.ErrServerClosed {
		return err
	}
	<-done
	return nil
}

func openAudit(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sql.DB, error) {
	logger.Info("opening audit database", "driver", cfg.Audit.Driver)
	auditDB, err := audit.Open(cfg.Audit.Driver, cfg.Audit.DSN)
	if err != nil {
		return nil, err
	}
	if err := audit.NewLog(auditDB).EnsureSchema(ctx); err != nil {
		auditDB.Close()
		return nil, err
	}
	return auditDB, nil
}
