// Package config provides a type-safe, generic and cached way to load
// application configuration from environment variables.
//
// It wraps github.com/joho/godotenv and github.com/caarlos0/env/v11 to
// deliver an API that:
//
//   - Loads values from the default .env file in the working directory, or
//     from explicit files via LoadEnv.
//   - Parses the environment into any Go struct using `env` field tags.
//   - Caches each successfully loaded configuration type so it is parsed at
//     most once for the lifetime of the process.
//   - Exposes MustLoad for configuration the application cannot start
//     without.
//
// # Usage
//
//	type PostgresConfig struct {
//	    ConnectionString string `env:"DATABASE_URL,required"`
//	}
//
//	import "github.com/dmitrymomot/billingkit/pkg/config"
//
//	var db PostgresConfig
//	config.MustLoad(&db)
//
// Subsequent calls to config.Load for the same struct type are served from
// the in-memory cache without re-parsing.
//
// # Error Handling
//
// The package defines sentinel errors comparable with errors.Is:
// ErrParsingConfig, ErrLoadingEnv, ErrConfigNotLoaded and ErrNilPointer.
//
// # Testing
//
// ResetCache clears the global cache between tests that mutate the process
// environment.
package config
