package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/extendhq/extend-mcp-server-go/storage"
	"github.com/extendhq/extend-mcp-server-go/storage/file"
	"github.com/extendhq/extend-mcp-server-go/storage/memory"
	redisstore "github.com/extendhq/extend-mcp-server-go/storage/redis"
	"github.com/redis/go-redis/v9"
)

// Storage backend names.
const (
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Default file store locations.
const (
	DefaultTokenStorePath = "mcp_tokens.json"
	DefaultCodeStorePath  = "mcp_auth_codes.json"
)

// StorageConfig selects the backend for the code and token stores.
type StorageConfig struct {
	// Backend is one of "file", "redis" or "memory". When empty, "redis" is
	// used if Redis.Addr is set and "file" otherwise.
	//
	// The file backend keeps state in local JSON documents guarded by an
	// in-process lock. It is not safe to point more than one server instance
	// at the same files; use redis for multi-instance deployments.
	Backend string

	TokenPath string
	CodePath  string

	Redis RedisConfig

	// MaxItems bounds each memory store. Zero uses the backend default.
	MaxItems int
}

// RedisConfig configures the redis backend.
type RedisConfig struct {
	Addr      string
	Username  string
	Password  string
	DB        int
	KeyPrefix string
}

// ResolvedBackend applies the environment-derived default to Backend.
func (c StorageConfig) ResolvedBackend() string {
	b := strings.ToLower(strings.TrimSpace(c.Backend))
	if b != "" {
		return b
	}
	if c.Redis.Addr != "" {
		return BackendRedis
	}
	return BackendFile
}

// Validate rejects unknown backends and incomplete backend settings.
func (c *StorageConfig) Validate() error {
	switch c.ResolvedBackend() {
	case BackendFile:
		if c.TokenPath == "" {
			c.TokenPath = DefaultTokenStorePath
		}
		if c.CodePath == "" {
			c.CodePath = DefaultCodeStorePath
		}
		if c.TokenPath == c.CodePath {
			return &ConfigError{Field: "storage", Reason: "token and code stores must use different files"}
		}
	case BackendRedis:
		if c.Redis.Addr == "" {
			return &ConfigError{Field: "storage.redis.addr", Reason: "required for the redis backend"}
		}
	case BackendMemory:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Backend)
	}
	return nil
}

// Stores is an opened pair of code and token stores.
type Stores struct {
	Backend string
	Codes   CodeStore
	Tokens  TokenStore

	closers []func() error
}

// Close releases both stores and any client they share.
func (s *Stores) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// OpenStores constructs the configured backend. An unknown backend name
// fails with ErrUnknownBackend before anything is opened.
func OpenStores(ctx context.Context, cfg StorageConfig, log *slog.Logger, opts ...storage.Option) (*Stores, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	opts = append([]storage.Option{storage.WithLogger(log)}, opts...)

	backend := cfg.ResolvedBackend()
	switch backend {
	case BackendFile:
		return openFileStores(cfg, log, opts)
	case BackendRedis:
		return openRedisStores(ctx, cfg, log, opts)
	default:
		return openMemoryStores(cfg, opts)
	}
}

func openFileStores(cfg StorageConfig, log *slog.Logger, opts []storage.Option) (*Stores, error) {
	codes, err := file.New[*AuthorizationCode](cfg.CodePath, opts...)
	if err != nil {
		return nil, err
	}
	tokens, err := file.New[*BearerToken](cfg.TokenPath, opts...)
	if err != nil {
		return nil, err
	}
	log.Warn("storage.file.single_instance",
		slog.String("token_path", cfg.TokenPath),
		slog.String("code_path", cfg.CodePath),
		slog.String("hint", "the file backend is not safe for multiple server instances; use redis"),
	)
	return &Stores{
		Backend: BackendFile,
		Codes:   codes,
		Tokens:  tokens,
		closers: []func() error{codes.Close, tokens.Close},
	}, nil
}

func openRedisStores(ctx context.Context, cfg StorageConfig, log *slog.Logger, opts []storage.Option) (*Stores, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, &storage.Error{Op: "open", Err: fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)}
	}

	prefix := cfg.Redis.KeyPrefix
	if prefix == "" {
		prefix = redisstore.DefaultKeyPrefix
	}
	codes, err := redisstore.New[*AuthorizationCode](redisstore.Config{Client: client, KeyPrefix: prefix + "code:"}, opts...)
	if err != nil {
		client.Close()
		return nil, err
	}
	tokens, err := redisstore.New[*BearerToken](redisstore.Config{Client: client, KeyPrefix: prefix + "token:"}, opts...)
	if err != nil {
		client.Close()
		return nil, err
	}

	log.Info("storage.redis.open", slog.String("addr", cfg.Redis.Addr), slog.String("prefix", prefix))
	return &Stores{
		Backend: BackendRedis,
		Codes:   codes,
		Tokens:  tokens,
		closers: []func() error{codes.Close, tokens.Close, client.Close},
	}, nil
}

func openMemoryStores(cfg StorageConfig, opts []storage.Option) (*Stores, error) {
	codes, err := memory.New[*AuthorizationCode](cfg.MaxItems, opts...)
	if err != nil {
		return nil, err
	}
	tokens, err := memory.New[*BearerToken](cfg.MaxItems, opts...)
	if err != nil {
		return nil, err
	}
	return &Stores{
		Backend: BackendMemory,
		Codes:   codes,
		Tokens:  tokens,
		closers: []func() error{codes.Close, tokens.Close},
	}, nil
}
