package upload

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/taskhub/taskhub-api/internal/pkg/database"
)

const queryTimeout = 3 * time.Second

// Repository defines upload data access interface
type Repository interface {
	// Save stores u unless the user already uploaded the same content, in which
	// case the existing row is returned.
	Save(ctx context.Context, u *Upload) (*Upload, error)
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates upload repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Save(ctx context.Context, u *Upload) (*Upload, error) {
	ctx, cancel := database.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var out Upload
	err := database.QuerierFromCtx(ctx, r.db).GetContext(ctx, &out, `
		INSERT INTO uploads (id, user_id, storage_key, url, hash, mime_type, size, width, height, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id, hash) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING id, user_id, storage_key, url, hash, mime_type, size, width, height, created_at
	`, u.ID, u.UserID, u.Key, u.URL, u.Hash, u.MimeType, u.Size, u.Width, u.Height, u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &out, nil
}
