package stores

import (
	"context"
	"time"

	"github.com/oarkflow/squealx"
)

// SQLSecretStore is the durable apiKey -> secret mapping in SQL.
type SQLSecretStore struct {
	db *squealx.DB
}

func NewSQLSecretStore(db *squealx.DB) *SQLSecretStore {
	return &SQLSecretStore{db: db}
}

func (s *SQLSecretStore) Put(ctx context.Context, apiKey, secret string) error {
	q := `INSERT INTO api_secrets(api_key, secret, created_at, updated_at)
VALUES(:api_key, :secret, :now, :now)
ON CONFLICT(api_key) DO UPDATE SET secret = excluded.secret, updated_at = excluded.updated_at`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"api_key": apiKey,
		"secret":  secret,
		"now":     time.Now(),
	})
	return err
}

func (s *SQLSecretStore) Delete(ctx context.Context, apiKey string) error {
	q := `DELETE FROM api_secrets WHERE api_key = :api_key`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"api_key": apiKey})
	return err
}

func (s *SQLSecretStore) Get(ctx context.Context, apiKey string) (string, bool, error) {
	q := `SELECT secret FROM api_secrets WHERE api_key = :api_key`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"api_key": apiKey})
	if err != nil {
		return "", false, err
	}
	defer r.Close()
	if !r.Next() {
		return "", false, nil
	}
	var secret string
	if err := r.Scan(&secret); err != nil {
		return "", false, err
	}
	return secret, true, nil
}

func (s *SQLSecretStore) All(ctx context.Context) (map[string]string, error) {
	q := `SELECT api_key, secret FROM api_secrets`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make(map[string]string)
	for r.Next() {
		var key, secret string
		if err := r.Scan(&key, &secret); err != nil {
			return nil, err
		}
		out[key] = secret
	}
	return out, nil
}
