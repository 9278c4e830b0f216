package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/stupiduntilnot/pixelchat/internal/assets"
	"github.com/stupiduntilnot/pixelchat/internal/chatcontext"
	"github.com/stupiduntilnot/pixelchat/internal/config"
	"github.com/stupiduntilnot/pixelchat/internal/db"
	"github.com/stupiduntilnot/pixelchat/internal/openai"
	"github.com/stupiduntilnot/pixelchat/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel)

	database, err := db.OpenDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer database.Close()
	if err := db.InitSchema(database); err != nil {
		return err
	}

	store := assets.NewStore(cfg.AssetRoot, cfg.AssetBaseURL, database, logger)
	assembler := chatcontext.NewAssembler(&db.TurnSource{DB: database}, chatcontext.Options{
		RecentFetchLimit:   cfg.RecentFetchLimit,
		RelevantFetchLimit: cfg.RelevantFetchLimit,
		RecencyWeight:      cfg.RecencyWeight,
	}, logger)
	client := openai.NewClient(openai.Config{
		APIKey:     cfg.OpenAIAPIKey,
		BaseURL:    cfg.OpenAIBaseURL,
		ChatModel:  cfg.ChatModel,
		ImageModel: cfg.ImageModel,
		Timeout:    time.Duration(cfg.ProviderTimeoutSeconds) * time.Second,
	})

	srv := server.New(cfg, database, assembler, client, client, store, logger)
	httpSrv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Handler(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("listening")
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
