// Package redis provides helpers for connecting to a Redis server.
//
// It wraps the go-redis client with a Connect function that retries the
// initial connection, and a Healthcheck probe for liveness and readiness
// endpoints. The billing webhook handler uses Redis for event deduplication.
//
// Configuration is described by the Config struct whose fields are populated
// from environment variables via pkg/config.
//
//	import "github.com/dmitrymomot/billingkit/pkg/redis"
//
//	var cfg redis.Config
//	config.MustLoad(&cfg)
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
package redis
