package shops

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/bloomdesk/shipsync/internal/cache"
	"github.com/bloomdesk/shipsync/internal/models"
)

type ConnectionStore interface {
	GetShopConnection(ctx context.Context, shopDomain string) (*models.ShopConnection, error)
}

// Service resolves per-shop API credentials. The cache is best effort; the
// store stays the source of truth.
type Service struct {
	store ConnectionStore
	cache cache.BytesCache
	ttl   time.Duration
}

func New(store ConnectionStore, c cache.BytesCache, ttl time.Duration) *Service {
	return &Service{store: store, cache: c, ttl: ttl}
}

func (s *Service) AccessToken(ctx context.Context, shopDomain string) (string, error) {
	if shopDomain == "" {
		return "", errors.New("shopDomain is required")
	}

	key := tokenKey(shopDomain)
	if s.cache != nil && s.ttl > 0 {
		if b, ok, err := s.cache.Get(ctx, key); err == nil && ok && len(b) > 0 {
			return string(b), nil
		}
	}

	conn, err := s.store.GetShopConnection(ctx, shopDomain)
	if err != nil {
		return "", err
	}
	if conn == nil {
		return "", errors.Errorf("no connection for shop %s", shopDomain)
	}

	if s.cache != nil && s.ttl > 0 {
		_ = s.cache.Set(ctx, key, []byte(conn.AccessToken), s.ttl)
	}
	return conn.AccessToken, nil
}

func tokenKey(shopDomain string) string {
	return "shop:" + shopDomain + ":token"
}
