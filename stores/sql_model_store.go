package stores

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/oarkflow/squealx"

	"github.com/altlock/authkit"
)

// SQLModelConfigStore persists model configuration versions in SQL.
type SQLModelConfigStore struct {
	db *squealx.DB
}

func NewSQLModelConfigStore(db *squealx.DB) *SQLModelConfigStore {
	return &SQLModelConfigStore{db: db}
}

const modelColumns = "id, content, version, status, remark, created_by, created_at, approved_by, approved_at"

func (s *SQLModelConfigStore) Insert(ctx context.Context, mc *authkit.ModelConfig) error {
	q := `INSERT INTO model_configs(id, content, version, status, remark, created_by, created_at, approved_by, approved_at)
VALUES(:id, :content, :version, :status, :remark, :created_by, :created_at, :approved_by, :approved_at)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":          mc.ID,
		"content":     mc.Content,
		"version":     mc.Version,
		"status":      string(mc.Status),
		"remark":      mc.Remark,
		"created_by":  mc.CreatedBy,
		"created_at":  mc.CreatedAt,
		"approved_by": mc.ApprovedBy,
		"approved_at": sqlNullTimeOrNil(mc.ApprovedAt),
	})
	return err
}

func (s *SQLModelConfigStore) Get(ctx context.Context, id string) (*authkit.ModelConfig, error) {
	q := `SELECT ` + modelColumns + ` FROM model_configs WHERE id = :id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, fmt.Errorf("model config not found: %s", id)
	}
	return scanModelConfig(r)
}

func (s *SQLModelConfigStore) Active(ctx context.Context) (*authkit.ModelConfig, error) {
	q := `SELECT ` + modelColumns + ` FROM model_configs WHERE status = :status LIMIT 1`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"status": string(authkit.ModelStatusActive)})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, nil
	}
	return scanModelConfig(r)
}

func (s *SQLModelConfigStore) NextVersion(ctx context.Context) (int, error) {
	q := `SELECT COALESCE(MAX(version), 0) + 1 FROM model_configs`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{})
	if err != nil {
		return 0, err
	}
	defer r.Close()
	if !r.Next() {
		return 1, nil
	}
	var next int
	if err := r.Scan(&next); err != nil {
		return 0, err
	}
	return next, nil
}

// Activate archives the current active version and activates the target in
// a single UPDATE, so no statement interleaving can leave two active rows.
// Concurrent activations degrade to last-writer-wins.
func (s *SQLModelConfigStore) Activate(ctx context.Context, id, approvedBy string, approvedAt time.Time) error {
	q := `UPDATE model_configs
SET status = CASE WHEN id = :id THEN :active ELSE :archived END,
    approved_by = CASE WHEN id = :id THEN :approved_by ELSE approved_by END,
    approved_at = CASE WHEN id = :id THEN :approved_at ELSE approved_at END
WHERE status = :active OR id = :id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":          id,
		"active":      string(authkit.ModelStatusActive),
		"archived":    string(authkit.ModelStatusArchived),
		"approved_by": approvedBy,
		"approved_at": approvedAt,
	})
	return err
}

func (s *SQLModelConfigStore) List(ctx context.Context) ([]*authkit.ModelConfig, error) {
	q := `SELECT ` + modelColumns + ` FROM model_configs ORDER BY version ASC`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*authkit.ModelConfig, 0)
	for r.Next() {
		mc, err := scanModelConfig(r)
		if err != nil {
			return nil, err
		}
		out = append(out, mc)
	}
	return out, nil
}

// scanModelConfig reads the current row; the caller drives Next.
func scanModelConfig(r interface{ Scan(dest ...any) error }) (*authkit.ModelConfig, error) {
	var id, content, status string
	var remark, createdBy, approvedBy sql.NullString
	var version int
	var createdRaw, approvedRaw interface{}
	if err := r.Scan(&id, &content, &version, &status, &remark, &createdBy, &createdRaw, &approvedBy, &approvedRaw); err != nil {
		return nil, err
	}
	mc := &authkit.ModelConfig{
		ID:         id,
		Content:    content,
		Version:    version,
		Status:     authkit.ModelStatus(status),
		Remark:     remark.String,
		CreatedBy:  createdBy.String,
		ApprovedBy: approvedBy.String,
	}
	if createdRaw != nil {
		mc.CreatedAt = scanTime(createdRaw)
	}
	if approvedRaw != nil {
		mc.ApprovedAt = scanTime(approvedRaw)
	}
	return mc, nil
}
