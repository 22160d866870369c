package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"pixcache/internal/adapters/fetcher"
	"pixcache/internal/adapters/handler"
	"pixcache/internal/adapters/metadata"
	"pixcache/internal/adapters/storage"
	"pixcache/internal/adapters/transformer"
	"pixcache/internal/core/domain"
	"pixcache/internal/core/port"
	"pixcache/internal/core/service"
)

func main() {
	log.Info().Msg("starting pixcache...")

	viper.AddConfigPath(".")
	viper.SetConfigType("toml")

	log.Info().Msg("reading config file...")
	if err := viper.ReadInConfig(); err != nil {
		log.Fatal().Err(err).Msg("could not read config file")
	}

	switch viper.GetString("log.level") {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	s3, err := storage.NewS3Store(ctx,
		viper.GetString("storage.endpoint"),
		viper.GetString("storage.access_key"),
		viper.GetString("storage.secret_key"),
		viper.GetString("storage.bucket"),
		viper.GetBool("storage.use_ssl"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed initializing object store")
	}

	var store port.ObjectStore = s3
	if size := viper.GetInt("cache.lru_size"); size > 0 {
		store, err = storage.NewLRUStore(s3, size)
		if err != nil {
			log.Fatal().Err(err).Msg("failed initializing lru store")
		}
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     viper.GetString("metadata.redis_addr"),
		Password: viper.GetString("metadata.redis_password"),
		DB:       viper.GetInt("metadata.redis_db"),
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("failed connecting to redis")
	}
	meta := metadata.NewRedisStore(redisClient)

	fetchTimeout, err := time.ParseDuration(viper.GetString("ingest.fetch_timeout"))
	if err != nil {
		log.Fatal().Err(err).Msg("invalid fetch timeout in config")
	}
	httpFetcher := fetcher.NewHTTPFetcher(fetchTimeout)

	urlTTL, err := time.ParseDuration(viper.GetString("ingest.url_cache_ttl"))
	if err != nil {
		log.Fatal().Err(err).Msg("invalid url cache ttl in config")
	}

	persister := service.NewPersister(store,
		viper.GetInt("cache.persist_workers"),
		viper.GetInt("cache.persist_queue"))

	codec := domain.Codec{Prefix: viper.GetString("storage.key_prefix")}

	cache := service.NewCache(store, meta, transformer.NewEngine(), httpFetcher,
		persister, codec, service.Config{URLCacheTTL: urlTTL})

	if viper.GetString("log.level") != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	handler.NewServer(cache).Register(router)

	srv := &http.Server{
		Addr:    viper.GetString("server.listen_addr"),
		Handler: router,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}

	// Let queued rendition writes land before exiting.
	persister.Close()

	if err := httpFetcher.Close(); err != nil {
		log.Warn().Err(err).Msg("failed closing fetcher")
	}
	if err := redisClient.Close(); err != nil {
		log.Warn().Err(err).Msg("failed closing redis client")
	}

	log.Info().Msg("bye")
}
