package storage

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

var (
	ErrFileTooLarge    = errors.New("file exceeds maximum size")
	ErrInvalidMimeType = errors.New("file type not allowed")
	ErrEmptyFile       = errors.New("file is empty")
)

// Category names a class of uploads with its own MIME allow-list.
const CategoryScreenshot = "screenshot"

// AllowedMimeTypes maps a category to the content types sniffed from magic bytes.
var AllowedMimeTypes = map[string][]string{
	CategoryScreenshot: {"image/jpeg", "image/png", "image/webp", "image/gif"},
}

// ValidateFile reads at most maxSize bytes and checks the sniffed MIME type for category.
func ValidateFile(reader io.Reader, category string, maxSize int64) ([]byte, string, error) {
	allowedTypes, ok := AllowedMimeTypes[category]
	if !ok {
		return nil, "", fmt.Errorf("unknown category: %s", category)
	}

	data, err := io.ReadAll(io.LimitReader(reader, maxSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read file: %w", err)
	}
	if len(data) == 0 {
		return nil, "", ErrEmptyFile
	}
	if int64(len(data)) > maxSize {
		return nil, "", ErrFileTooLarge
	}

	mimeType := http.DetectContentType(data)
	if idx := strings.Index(mimeType, ";"); idx != -1 {
		mimeType = strings.TrimSpace(mimeType[:idx])
	}

	for _, t := range allowedTypes {
		if t == mimeType {
			return data, mimeType, nil
		}
	}
	return nil, "", ErrInvalidMimeType
}
