package redis

import (
	"context"
	"fmt"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"time"
)

type Config struct {
	Addr     string
	Password string
	DB       int
}

// New returns a client for cfg. The connection is checked once; a failed
// ping is logged and the client is still returned, since go-redis
// reconnects on demand.
func New(cfg Config, log *logrus.Logger) redis.UniversalClient {
	log.Info(fmt.Sprintf("Connecting to Redis at %s...", cfg.Addr))

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		log.Error(fmt.Sprintf("Failed to connect to Redis: %v", err))
	} else {
		log.Info("Successfully connected to Redis")
	}

	return client
}
