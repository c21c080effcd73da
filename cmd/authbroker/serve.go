package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/MrEthical07/authbroker"
	"github.com/MrEthical07/authbroker/internal/httpapi"
	"github.com/MrEthical07/authbroker/internal/store"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), root)
		},
	}
}

func serve(ctx context.Context, root *rootOptions) error {
	cfg, log, err := root.load(true)
	if err != nil {
		return err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	defer rdb.Close()

	db, err := store.Open(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer db.Close()

	engine, err := authbroker.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(store.NewUsers(db, log)).
		WithLogger(log.Logger).
		Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := engine.Close(closeCtx); err != nil {
			log.Warn().Err(err).Msg("engine close")
		}
	}()

	if err := engine.Ping(ctx); err != nil {
		log.Warn().Err(err).Msg("redis not reachable at startup")
	}

	server := httpapi.NewServer(httpapi.NewHandler(engine, log), cfg.HTTP, log)
	return server.Run(ctx)
}
