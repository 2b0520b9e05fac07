package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	connectcors "connectrpc.com/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/genjobs/internal/store"
	memorystore "github.com/wolfeidau/genjobs/internal/store/memory"
	postgresstore "github.com/wolfeidau/genjobs/internal/store/postgres"
)

type Globals struct {
	Dev     bool
	Version string
}

func configureHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       time.Minute,
		// change streams and synchronous generations outlive any write timeout
		WriteTimeout:   0,
		IdleTimeout:    5 * time.Minute,
		MaxHeaderBytes: 8 * 1024, // 8KiB
	}
}

// withCORS adds CORS support for browser clients of the API and change stream.
func withCORS(allowedOrigins []string, h http.Handler) http.Handler {
	middleware := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   connectcors.AllowedMethods(),
		AllowedHeaders:   append(connectcors.AllowedHeaders(), "Authorization", "Cache-Control"),
		ExposedHeaders:   append(connectcors.ExposedHeaders(), "Cache-Control"),
		AllowCredentials: true,
	})
	return middleware.Handler(h)
}

type PostgresStoreFlags struct {
	ConnString string `help:"PostgreSQL connection string" env:"POSTGRES_CONNECTION_STRING"`

	// Connection Pool Configuration
	MaxConns        int32         `help:"maximum number of connections in pool" default:"20"`
	MinConns        int32         `help:"minimum number of connections in pool" default:"2"`
	MaxConnLifetime time.Duration `help:"maximum connection lifetime" default:"1h"`
	MaxConnIdleTime time.Duration `help:"maximum connection idle time" default:"30m"`

	QueryTimeout time.Duration `help:"timeout applied to each store query" default:"10s"`
	AutoMigrate  bool          `help:"run database migrations on startup" default:"false" env:"GENJOBS_POSTGRES_AUTO_MIGRATE"`
}

func (s *PostgresStoreFlags) Validate() error {
	if s.ConnString == "" {
		return errors.New("PostgreSQL connection string is required (--postgres-conn-string or POSTGRES_CONNECTION_STRING)")
	}
	return nil
}

func (s *PostgresStoreFlags) openPool(ctx context.Context) (*pgxpool.Pool, error) {
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate postgres flags: %w", err)
	}

	return postgresstore.NewPool(ctx, &postgresstore.PoolConfig{
		ConnString:      s.ConnString,
		MaxConns:        s.MaxConns,
		MinConns:        s.MinConns,
		MaxConnLifetime: s.MaxConnLifetime,
		MaxConnIdleTime: s.MaxConnIdleTime,
		ApplicationName: "genjobs-server",
	})
}

type StoreFlags struct {
	StoreType     string             `help:"store type (memory or postgres)" default:"memory" env:"GENJOBS_STORE_TYPE" enum:"memory,postgres"`
	PostgresStore PostgresStoreFlags `embed:"" prefix:"postgres-"`
}

// openStore creates and starts the configured job store. The returned func
// stops it and releases its connections.
func (s *StoreFlags) openStore(ctx context.Context) (store.JobStore, func(), error) {
	switch s.StoreType {
	case "postgres":
		pool, err := s.PostgresStore.openPool(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
		}

		if s.PostgresStore.AutoMigrate {
			if err := postgresstore.RunMigrations(ctx, pool); err != nil {
				pool.Close()
				return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
			}
		}

		jobStore, err := postgresstore.NewJobStore(pool, &postgresstore.JobStoreConfig{
			QueryTimeout: s.PostgresStore.QueryTimeout,
		})
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("failed to create postgres job store: %w", err)
		}
		if err := jobStore.Start(); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("failed to start postgres job store: %w", err)
		}

		return jobStore, func() {
			if err := jobStore.Stop(); err != nil {
				log.Error().Err(err).Msg("Failed to stop job store")
			}
			pool.Close()
		}, nil

	default:
		log.Warn().Msg("Using the memory store, jobs are lost on restart")

		jobStore := memorystore.NewJobStore()
		if err := jobStore.Start(); err != nil {
			return nil, nil, fmt.Errorf("failed to start memory job store: %w", err)
		}

		return jobStore, func() {
			if err := jobStore.Stop(); err != nil {
				log.Error().Err(err).Msg("Failed to stop job store")
			}
		}, nil
	}
}
