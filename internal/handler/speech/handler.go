package speech

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/startup-chat/client/internal/service/conversation"
	"github.com/zhouzirui/startup-chat/client/pkg/utils"
)

const maxUploadBytes = 32 << 20

// Transcriber turns an audio clip into text for the active conversation.
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error)
}

// Handler serves audio uploads.
type Handler struct {
	transcriber Transcriber
	texts       conversation.Texts
	logger      *zap.Logger
}

// New creates a speech handler. A nil logger disables logging.
func New(transcriber Transcriber, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		transcriber: transcriber,
		texts:       conversation.DefaultTexts(),
		logger:      logger.Named("speech"),
	}
}

// RegisterRoutes mounts the speech routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/transcribe", h.handleTranscribe)
}

func (h *Handler) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "failed to parse multipart form: "+err.Error())
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	transcript, err := h.transcriber.Transcribe(r.Context(), file, header.Filename)
	if err != nil {
		category := conversation.Classify(err)
		h.logger.Warn("transcription failed",
			zap.String("filename", header.Filename), zap.String("category", string(category)), zap.Error(err))
		utils.RespondJSON(w, http.StatusBadGateway, map[string]string{
			"error":    h.texts.For(category),
			"category": string(category),
		})
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{"transcript": transcript})
}
