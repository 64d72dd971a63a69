package upload

import "errors"

var (
	ErrFileTooLarge = errors.New("file exceeds maximum allowed size")
	ErrInvalidMime  = errors.New("file type is not allowed")
	ErrEmptyFile    = errors.New("file is empty")
	ErrUndecodable  = errors.New("image cannot be decoded")
)
