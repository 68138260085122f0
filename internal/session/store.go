// Package session is the client's persistent key/value storage: the
// bearer tokens and the pending guest draft live here between runs.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/aetherhome/aether/pkg/config"
)

var ErrNotFound = errors.New("session: key not found")

type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Open picks redis when a URL is configured and the bbolt file otherwise.
func Open(cfg config.ClientConfig) (Store, error) {
	if cfg.SessionRedis != "" {
		s, err := NewRedisStore(cfg.SessionRedis, "aether:session:")
		if err != nil {
			return nil, fmt.Errorf("open redis session store: %w", err)
		}
		return s, nil
	}
	s, err := NewBoltStore(cfg.SessionPath)
	if err != nil {
		return nil, fmt.Errorf("open session file: %w", err)
	}
	return s, nil
}
