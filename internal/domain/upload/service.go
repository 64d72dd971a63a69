package upload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/taskhub/taskhub-api/internal/pkg/imaging"
	"github.com/taskhub/taskhub-api/internal/pkg/storage"
)

// Normalizer re-encodes screenshots for storage.
type Normalizer interface {
	Normalize(data []byte) (*imaging.Normalized, error)
}

// Service handles upload business logic
type Service struct {
	repo     Repository
	store    storage.Storage
	images   Normalizer
	maxBytes int64
	now      func() time.Time
}

// NewService creates upload service
func NewService(repo Repository, store storage.Storage, images Normalizer, maxBytes int64) *Service {
	return &Service{
		repo:     repo,
		store:    store,
		images:   images,
		maxBytes: maxBytes,
		now:      time.Now,
	}
}

// MaxBytes is the largest accepted file.
func (s *Service) MaxBytes() int64 {
	return s.maxBytes
}

// Store validates a screenshot, stores a normalized copy under a content
// addressed key and returns its url and hash. Uploading the same bytes twice
// returns the first upload.
func (s *Service) Store(ctx context.Context, userID uuid.UUID, r io.Reader) (*Upload, error) {
	data, mimeType, err := storage.ValidateFile(r, storage.CategoryScreenshot, s.maxBytes)
	if err != nil {
		return nil, mapValidationError(err)
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	norm, err := s.images.Normalize(data)
	if err != nil {
		if errors.Is(err, imaging.ErrUndecodable) {
			return nil, ErrUndecodable
		}
		return nil, err
	}

	key := fmt.Sprintf("screenshots/%s/%s.jpg", userID, hash)
	exists, err := s.store.Exists(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("check stored object: %w", err)
	}
	if !exists {
		if err := s.store.Put(ctx, key, norm.Data, norm.ContentType); err != nil {
			return nil, fmt.Errorf("store object: %w", err)
		}
	}

	up, err := s.repo.Save(ctx, &Upload{
		ID:        uuid.New(),
		UserID:    userID,
		Key:       key,
		URL:       s.store.GetURL(key),
		Hash:      hash,
		MimeType:  mimeType,
		Size:      int64(len(data)),
		Width:     norm.Width,
		Height:    norm.Height,
		CreatedAt: s.now(),
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("upload_id", up.ID.String()).
		Str("user_id", userID.String()).
		Str("hash", hash).
		Bool("reused", exists).
		Msg("screenshot stored")
	return up, nil
}

func mapValidationError(err error) error {
	switch {
	case errors.Is(err, storage.ErrFileTooLarge):
		return ErrFileTooLarge
	case errors.Is(err, storage.ErrInvalidMimeType):
		return ErrInvalidMime
	case errors.Is(err, storage.ErrEmptyFile):
		return ErrEmptyFile
	default:
		return err
	}
}
