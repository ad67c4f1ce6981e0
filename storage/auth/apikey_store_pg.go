package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	core "taskblitz-backend/core/marketplace"
)

// PGAPIKeyStore persists API keys in Postgres.
type PGAPIKeyStore struct {
	pool *pgxpool.Pool
}

// NewPGAPIKeyStore connects and initializes schema.
func NewPGAPIKeyStore(ctx context.Context, dsn string) (*PGAPIKeyStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &PGAPIKeyStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PGAPIKeyStore) initSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS tb_api_keys (
  key TEXT PRIMARY KEY,
  email TEXT,
  wallet_address TEXT,
  per_minute INT DEFAULT 0,
  per_hour INT DEFAULT 0,
  per_day INT DEFAULT 0,
  source TEXT,
  created_at TIMESTAMPTZ DEFAULT now()
);
`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Validate implements APIKeyValidator.
func (s *PGAPIKeyStore) Validate(key string) bool {
	if key == "" {
		return false
	}
	var exists bool
	err := s.pool.QueryRow(context.Background(),
		"SELECT true FROM tb_api_keys WHERE key=$1", key).Scan(&exists)
	return err == nil && exists
}

// Get returns the API key record for the provided key.
func (s *PGAPIKeyStore) Get(key string) (APIKey, bool) {
	if key == "" {
		return APIKey{}, false
	}
	var rec APIKey
	err := s.pool.QueryRow(context.Background(),
		"SELECT key, COALESCE(email,''), COALESCE(wallet_address,''), per_minute, per_hour, per_day, COALESCE(source,''), created_at FROM tb_api_keys WHERE key=$1",
		key,
	).Scan(&rec.Key, &rec.Email, &rec.Wallet, &rec.PerMinute, &rec.PerHour, &rec.PerDay, &rec.Source, &rec.CreatedAt)
	if err != nil {
		return APIKey{}, false
	}
	return rec, true
}

// Issue implements APIKeyIssuer.
func (s *PGAPIKeyStore) Issue(email, wallet, source string) (APIKey, error) {
	key, err := generateKey()
	if err != nil {
		return APIKey{}, err
	}
	rec := APIKey{
		Key:       key,
		Email:     email,
		Wallet:    wallet,
		Source:    source,
		CreatedAt: time.Now(),
	}
	_, err = s.pool.Exec(context.Background(),
		"INSERT INTO tb_api_keys (key, email, wallet_address, source, created_at) VALUES ($1,$2,$3,$4,$5)",
		rec.Key, rec.Email, rec.Wallet, rec.Source, rec.CreatedAt)
	if err != nil {
		return APIKey{}, err
	}
	return rec, nil
}

// UpdateWallet binds a wallet address to an existing API key.
func (s *PGAPIKeyStore) UpdateWallet(key, wallet string) (APIKey, error) {
	normalizedKey := strings.TrimSpace(key)
	normalizedWallet := strings.TrimSpace(wallet)
	if normalizedKey == "" {
		return APIKey{}, fmt.Errorf("api key required")
	}
	if normalizedWallet == "" {
		return APIKey{}, fmt.Errorf("wallet_address required")
	}
	var rec APIKey
	err := s.pool.QueryRow(context.Background(), `
UPDATE tb_api_keys
SET wallet_address=$2
WHERE key=$1
RETURNING key, COALESCE(email,''), COALESCE(wallet_address,''), per_minute, per_hour, per_day, COALESCE(source,''), created_at
`, normalizedKey, normalizedWallet).Scan(&rec.Key, &rec.Email, &rec.Wallet, &rec.PerMinute, &rec.PerHour, &rec.PerDay, &rec.Source, &rec.CreatedAt)
	if err != nil {
		return APIKey{}, err
	}
	return rec, nil
}

// SetLimits stores per-key rate limit ceilings.
func (s *PGAPIKeyStore) SetLimits(key string, perMinute, perHour, perDay int) error {
	tag, err := s.pool.Exec(context.Background(),
		"UPDATE tb_api_keys SET per_minute=$2, per_hour=$3, per_day=$4 WHERE key=$1",
		key, perMinute, perHour, perDay)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("api key not found")
	}
	return nil
}

// Ceilings returns the rate ceilings bound to the key record. ok is false when
// the key is unknown or carries no ceilings.
func (s *PGAPIKeyStore) Ceilings(key string) (core.APIRateLimit, bool) {
	rec, ok := s.Get(key)
	if !ok || (rec.PerMinute == 0 && rec.PerHour == 0 && rec.PerDay == 0) {
		return core.APIRateLimit{}, false
	}
	return core.APIRateLimit{
		APIKey:    key,
		PerMinute: rec.PerMinute,
		PerHour:   rec.PerHour,
		PerDay:    rec.PerDay,
	}, true
}

// Seed inserts a provided key if not empty.
func (s *PGAPIKeyStore) Seed(key, email, source string) {
	if key == "" {
		return
	}
	_, _ = s.pool.Exec(context.Background(),
		"INSERT INTO tb_api_keys (key, email, source, created_at) VALUES ($1,$2,$3,$4) ON CONFLICT DO NOTHING",
		key, email, source, time.Now())
}
