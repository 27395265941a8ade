package pgjobs

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/bloomdesk/shipsync/internal/models"
)

func (s *Storage) GetShopConnection(ctx context.Context, shopDomain string) (*models.ShopConnection, error) {
	var c models.ShopConnection
	err := s.db.QueryRow(ctx, `
SELECT shop_domain, access_token, created_at, updated_at
FROM shop_connections
WHERE shop_domain = $1
`, shopDomain).Scan(&c.ShopDomain, &c.AccessToken, &c.CreatedAt, &c.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select shop connection")
	}
	return &c, nil
}

func (s *Storage) UpsertShopConnection(ctx context.Context, shopDomain, accessToken string) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(ctx, `
INSERT INTO shop_connections (shop_domain, access_token, created_at, updated_at)
VALUES ($1,$2,$3,$3)
ON CONFLICT (shop_domain)
DO UPDATE SET access_token = EXCLUDED.access_token, updated_at = EXCLUDED.updated_at
`, shopDomain, accessToken, now)
	return errors.Wrap(err, "upsert shop connection")
}
