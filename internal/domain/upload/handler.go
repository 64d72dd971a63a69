package upload

import (
	"errors"
	"net/http"

	"github.com/taskhub/taskhub-api/internal/middleware"
	"github.com/taskhub/taskhub-api/internal/pkg/errorhandler"
	"github.com/taskhub/taskhub-api/internal/pkg/response"
)

// multipartOverhead leaves room for form boundaries and headers.
const multipartOverhead = 1 << 20

// Handler handles upload HTTP requests
type Handler struct {
	service *Service
}

// NewHandler creates upload handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Create handles POST /uploads
// Multipart form: file
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	limit := h.service.MaxBytes() + multipartOverhead
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "File exceeds maximum size")
			return
		}
		response.BadRequest(w, "Invalid multipart form")
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		response.BadRequest(w, "No file provided")
		return
	}
	defer file.Close()

	up, err := h.service.Store(r.Context(), middleware.GetUserID(r.Context()), file)
	if err != nil {
		switch {
		case errors.Is(err, ErrFileTooLarge):
			response.Error(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "File exceeds maximum size")
		case errors.Is(err, ErrInvalidMime):
			response.Error(w, http.StatusUnsupportedMediaType, "INVALID_FILE_TYPE", "File type not allowed")
		case errors.Is(err, ErrEmptyFile):
			response.BadRequest(w, "File is empty")
		case errors.Is(err, ErrUndecodable):
			response.BadRequest(w, "File is not a readable image")
		default:
			errorhandler.Internal(r.Context(), w, err)
		}
		return
	}

	response.Created(w, up)
}
