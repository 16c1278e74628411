package store

import "github.com/redis/go-redis/v9"

// NewClient builds the redis.Client used by New, from connection settings in
// internal/config.StoreConfig.
func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}
