package kvstore

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Options selects and configures a backend. Only the fields of the chosen
// driver are read.
type Options struct {
	Driver string // memory, redis, sqlite, postgres, mongo

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	SQLitePath string

	Postgres Credentials

	MongoURI        string
	MongoDatabase   string
	MongoCollection string
}

// Open connects to the configured backend and prepares its schema.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case "", "memory":
		return NewMemoryStore(), nil

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     opts.RedisAddr,
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		return NewRedisStore(client, opts.RedisPrefix), nil

	case "sqlite":
		s, err := OpenSQLite(opts.SQLitePath)
		if err != nil {
			return nil, err
		}
		if err := s.RunMigrations(); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		return s, nil

	case "postgres":
		cred := opts.Postgres
		s, err := OpenPostgres(&cred)
		if err != nil {
			return nil, err
		}
		if err := s.RunMigrations(); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		return s, nil

	case "mongo":
		db, err := ConnectMongoDB(ctx, opts.MongoURI, opts.MongoDatabase)
		if err != nil {
			return nil, err
		}
		return NewMongoStore(db, opts.MongoCollection), nil
	}

	return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
}
