package loadercache

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	valkey "github.com/valkey-io/valkey-go"
)

// RedisTLSConfig controls TLS for the redis backend.
type RedisTLSConfig struct {
	Enabled bool
	CAFile  string
}

// RedisConfig carries the connection settings for the redis backend.
type RedisConfig struct {
	Address  string
	Username string
	Password string
	DB       int
	TTL      time.Duration
	TLS      RedisTLSConfig
}

type redisCache struct {
	client valkey.Client
	ttl    time.Duration
}

// NewRedis connects to the configured redis/valkey server and verifies the
// connection with a ping before handing the backend to the loader.
func NewRedis(cfg RedisConfig) (Cache, error) {
	if cfg.Address == "" {
		return nil, errors.New("loadercache: redis address required")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	option := valkey.ClientOption{
		InitAddress:       []string{cfg.Address},
		Username:          cfg.Username,
		Password:          cfg.Password,
		SelectDB:          cfg.DB,
		AlwaysRESP2:       true,
		ForceSingleClient: true,
		DisableCache:      true,
	}

	if cfg.TLS.Enabled {
		tlsConfig := &tls.Config{}
		if cfg.TLS.CAFile != "" {
			caData, err := os.ReadFile(cfg.TLS.CAFile)
			if err != nil {
				return nil, fmt.Errorf("loadercache: read redis ca file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caData) {
				return nil, errors.New("loadercache: redis ca file contains no certificates")
			}
			tlsConfig.RootCAs = pool
		}
		option.TLSConfig = tlsConfig
	}

	client, err := valkey.NewClient(option)
	if err != nil {
		return nil, fmt.Errorf("loadercache: redis client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("loadercache: redis ping: %w", err)
	}

	return &redisCache{client: client, ttl: ttl}, nil
}

func (c *redisCache) Lookup(ctx context.Context, key string) (Entry, bool, error) {
	resp := c.client.Do(ctx, c.client.B().Get().Key(key).Build())
	if err := resp.Error(); err != nil {
		if errors.Is(err, valkey.Nil) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("loadercache: redis get: %w", err)
	}
	payload, err := resp.AsBytes()
	if err != nil {
		return Entry{}, false, fmt.Errorf("loadercache: redis get bytes: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("loadercache: redis unmarshal: %w", err)
	}
	return entry, true, nil
}

func (c *redisCache) Store(ctx context.Context, key string, entry Entry) error {
	if entry.StoredAt.IsZero() {
		entry.StoredAt = time.Now().UTC()
	}
	if entry.ExpiresAt.IsZero() || entry.ExpiresAt.Before(entry.StoredAt) {
		entry.ExpiresAt = entry.StoredAt.Add(c.ttl)
	}
	ttl := time.Until(entry.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("loadercache: redis marshal: %w", err)
	}
	cmd := c.client.B().Set().Key(key).Value(string(payload)).Px(ttl).Build()
	if err := c.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("loadercache: redis set: %w", err)
	}
	return nil
}

// DeletePrefix is a no-op on redis; entries expire via their TTL and reloads
// rotate the key namespace instead of scanning.
func (c *redisCache) DeletePrefix(context.Context, string) error {
	return nil
}

func (c *redisCache) Size(ctx context.Context) (int64, error) {
	resp := c.client.Do(ctx, c.client.B().Dbsize().Build())
	size, err := resp.ToInt64()
	if err != nil {
		return 0, fmt.Errorf("loadercache: redis dbsize: %w", err)
	}
	return size, nil
}

func (c *redisCache) Close(context.Context) error {
	c.client.Close()
	return nil
}
