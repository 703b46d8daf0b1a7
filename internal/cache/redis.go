package cache

import (
	"context"
	"log"

	"github.com/redis/go-redis/v9"
)

var Client *redis.Client

// InitRedis connects the process-wide client used for baseline caching. An
// unreachable Redis is fatal; a deployment that wants no cache leaves the
// address empty.
func InitRedis(ctx context.Context, addr string) {
	if addr == "" {
		log.Println("no Redis address configured, baseline caching disabled")
		return
	}
	Client = redis.NewClient(&redis.Options{
		Addr: addr,
	})
	if err := Client.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	log.Println("Connected to Redis")
}
