package upload

import (
	"time"

	"github.com/google/uuid"
)

// Upload is one stored screenshot. Hash is the sha256 of the bytes the client
// sent, before normalization, so resubmitting the same file always matches.
type Upload struct {
	ID        uuid.UUID `db:"id" json:"id"`
	UserID    uuid.UUID `db:"user_id" json:"user_id"`
	Key       string    `db:"storage_key" json:"-"`
	URL       string    `db:"url" json:"url"`
	Hash      string    `db:"hash" json:"hash"`
	MimeType  string    `db:"mime_type" json:"mime_type"`
	Size      int64     `db:"size" json:"size"`
	Width     int       `db:"width" json:"width"`
	Height    int       `db:"height" json:"height"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
