package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/IliaW/page-guard/config"
	"github.com/IliaW/page-guard/internal/domain"
	"github.com/bradfitz/gomemcache/memcache"
)

var (
	ThresholdReachedError = errors.New("threshold reached")
)

// CachedClient tracks how many classifications each domain consumed within the threshold window.
type CachedClient interface {
	IncrementThreshold(string) error
	Close()
}

type MemcachedClient struct {
	client *memcache.Client
	cfg    *config.CacheConfig
	mu     sync.Mutex
}

func NewMemcachedClient(cacheConfig *config.CacheConfig) *MemcachedClient {
	slog.Info("connecting to memcached...")
	ss := new(memcache.ServerList)
	err := ss.SetServers(cacheConfig.Servers...)
	if err != nil {
		slog.Error("failed to set memcached servers.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	c := &MemcachedClient{
		client: memcache.NewFromSelector(ss),
		cfg:    cacheConfig,
	}
	slog.Info("pinging the memcached.")
	err = c.client.Ping()
	if err != nil {
		slog.Error("connection to the memcached is failed.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	slog.Info("connected to memcached!")

	return c
}

// IncrementThreshold counts one classification for the url's domain.
// It returns ThresholdReachedError once the domain used up its budget for the window.
func (mc *MemcachedClient) IncrementThreshold(url string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	key := DomainKey(url)
	value, err := mc.client.Increment(key, 0) // returns current value
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			slog.Debug("cache not found. Creating new threshold.", slog.String("url", url))
			err = mc.set(key, 1, int32((mc.cfg.TtlForThreshold).Seconds()))
			if err != nil {
				slog.Error("failed to create new counter for the domain.", slog.String("url", url),
					slog.String("err", err.Error()))
				return err
			}
			slog.Debug("new counter is created.", slog.String("url", url), slog.String("key", key),
				slog.Uint64("value", 1))
			return nil
		}
		slog.Error("failed to increment the threshold.", slog.String("url", url),
			slog.String("key", key), slog.String("err", err.Error()))
		return err
	}
	if value >= mc.cfg.Threshold {
		slog.Info("threshold reached.", slog.String("url", url), slog.Uint64("value", value))
		return ThresholdReachedError
	}
	value, err = mc.client.Increment(key, 1)
	if err != nil {
		slog.Warn("failed to increment the threshold.", slog.String("key", key), slog.String("err", err.Error()))
		return nil
	}
	slog.Debug("new value is set.", slog.String("key", key), slog.Uint64("value", value))
	return nil
}

func (mc *MemcachedClient) Close() {
	slog.Info("closing memcached connection.")
	err := mc.client.Close()
	if err != nil {
		slog.Error("failed to close memcached connection.", slog.String("err", err.Error()))
	}
}

func (mc *MemcachedClient) set(key string, value any, expiration int32) error {
	byteValue, err := json.Marshal(value)
	if err != nil {
		slog.Error("failed to marshal value.", slog.String("err", err.Error()))
		return err
	}
	item := &memcache.Item{
		Key:        key,
		Value:      byteValue,
		Expiration: expiration,
	}

	return mc.client.Set(item)
}

// NoopClient never limits. Used when memcached is disabled.
type NoopClient struct{}

func (NoopClient) IncrementThreshold(string) error { return nil }
func (NoopClient) Close()                          {}

// DomainKey is the memcached key of the url's domain budget; malformed urls are keyed by the full url.
func DomainKey(url string) string {
	if host, ok := domain.Of(url); ok {
		return fmt.Sprintf("%s-classify-budget", hashURL(host))
	}
	slog.Debug("failed to parse url. Use full url as a key.", slog.String("url", url))
	return fmt.Sprintf("%s-classify-budget", hashURL(url))
}

func hashURL(url string) string {
	hash := sha256.New()
	hash.Write([]byte(url))
	return hex.EncodeToString(hash.Sum(nil))
}
