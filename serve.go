package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/deemkeen/rendezvous/activitypub"
	"github.com/deemkeen/rendezvous/util"
	"github.com/deemkeen/rendezvous/web"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the federation server",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			if err := conf.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			if conf.Conf.TokenSecret == util.DefaultTokenSecret {
				logger.Warn("token secret is the shipped default, set RENDEZVOUS_TOKEN_SECRET")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, conf, logger)
		},
	}
}

func serve(ctx context.Context, conf *util.AppConfig, logger *zap.Logger) error {
	database, err := openDB(ctx, conf, logger)
	if err != nil {
		return err
	}
	defer database.Close()

	var client *http.Client
	if conf.Conf.FetchTimeout > 0 {
		client = &http.Client{Timeout: conf.Conf.FetchTimeout}
	}
	transport := activitypub.NewTransport(client, logger.Named("transport"))
	engine, err := activitypub.NewEngine(conf.BaseURL(), database,
		activitypub.WithLogger(logger.Named("engine")),
		activitypub.WithTransport(transport),
		activitypub.WithMaxExpandDepth(conf.Conf.MaxExpandDepth),
	)
	if err != nil {
		return err
	}

	tokens := activitypub.NewTokens(conf.Conf.TokenSecret, conf.Conf.TokenTTL)
	gate := activitypub.NewGate(engine, tokens, logger.Named("gate"))

	if !conf.Conf.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	server := web.NewServer(conf, engine, database, gate, logger)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", conf.Conf.Host, conf.Conf.HttpPort),
		Handler:           server.Router(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server",
			zap.String("addr", httpServer.Addr),
			zap.String("base", conf.BaseURL()),
			zap.String("version", util.GetVersion()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", zap.Error(err))
	}

	// let in-flight publications settle before the store goes away
	engine.Wait()
	logger.Info("server stopped")
	return nil
}
