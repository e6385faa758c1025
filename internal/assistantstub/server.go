// Package assistantstub is an in-process stand-in for the remote assistant
// service. It speaks the same wire contract (token issue, encoded process
// endpoint, audio endpoint) and is used by tests and by the local stub tool.
package assistantstub

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhouzirui/startup-chat/client/internal/service/transport"
	"github.com/zhouzirui/startup-chat/client/pkg/utils"
)

// Query records one decoded process request.
type Query struct {
	Text      string  `json:"text"`
	SessionID string  `json:"session_id"`
	Token     *string `json:"csrf_token"`
}

// Server holds stub state. The zero value is not usable; call New.
type Server struct {
	mu sync.Mutex

	answer     func(text string) string
	transcript string
	failQuery  int
	failToken  int
	nextIDs    []string

	tokens  map[string]string
	queries []Query
	logger  *zap.Logger
}

// Option customises a Server.
type Option func(*Server)

// WithAnswer sets how replies are produced.
func WithAnswer(fn func(text string) string) Option {
	return func(s *Server) { s.answer = fn }
}

// WithTranscript fixes the transcript returned for any audio upload.
func WithTranscript(text string) Option {
	return func(s *Server) { s.transcript = text }
}

// WithSessionIDs makes the token endpoint hand out ids in this order before
// falling back to random ones.
func WithSessionIDs(ids ...string) Option {
	return func(s *Server) { s.nextIDs = append(s.nextIDs, ids...) }
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// New returns a stub that echoes queries unless WithAnswer is given.
func New(opts ...Option) *Server {
	s := &Server{
		answer: func(text string) string { return "उत्तर: " + text },
		tokens: make(map[string]string),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FailQueries makes the process endpoint answer with status until reset with 0.
func (s *Server) FailQueries(status int) {
	s.mu.Lock()
	s.failQuery = status
	s.mu.Unlock()
}

// FailTokens makes the token endpoint answer with status until reset with 0.
func (s *Server) FailTokens(status int) {
	s.mu.Lock()
	s.failToken = status
	s.mu.Unlock()
}

// Queries returns the process requests seen so far.
func (s *Server) Queries() []Query {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Query(nil), s.queries...)
}

// TokensIssued reports how many integrity tokens were handed out.
func (s *Server) TokensIssued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

// Handler returns the HTTP surface of the stub.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"message": "assistant stub is running"})
	})
	r.Get("/csrf-token", s.handleToken)
	r.Post("/csrf-token", s.handleToken)
	r.Post("/api/v1/secure/process", s.handleProcess)
	r.Post("/api/v1/secure/audio", s.handleAudio)
	return r
}

func (s *Server) handleToken(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	if s.failToken != 0 {
		status := s.failToken
		s.mu.Unlock()
		utils.RespondError(w, status, "token unavailable")
		return
	}
	sessionID := uuid.NewString()
	if len(s.nextIDs) > 0 {
		sessionID, s.nextIDs = s.nextIDs[0], s.nextIDs[1:]
	}
	token := strings.ReplaceAll(uuid.NewString(), "-", "")
	s.tokens[sessionID] = token
	s.mu.Unlock()

	s.logger.Debug("issued token", zap.String("session", sessionID))
	utils.RespondJSON(w, http.StatusOK, transport.Grant{SessionID: sessionID, Token: token})
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var wrapped struct {
		Data string `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&wrapped); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var query Query
	if err := transport.Decode(wrapped.Data, &query); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "failed to decode request")
		return
	}

	s.mu.Lock()
	s.queries = append(s.queries, query)
	failStatus := s.failQuery
	expected, known := s.tokens[query.SessionID]
	answerFn := s.answer
	s.mu.Unlock()

	if failStatus != 0 {
		utils.RespondError(w, failStatus, "query failed")
		return
	}
	if query.SessionID != "" && query.Token != nil && (!known || expected != *query.Token) {
		utils.RespondError(w, http.StatusForbidden, "invalid csrf token")
		return
	}
	if strings.TrimSpace(query.Text) == "" {
		utils.RespondError(w, http.StatusBadRequest, "query text cannot be empty")
		return
	}

	sessionID := query.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	encoded, err := transport.Encode(transport.Answer{
		Answer:           answerFn(query.Text),
		SimilarQuestions: []string{},
		SessionID:        sessionID,
	})
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "encode failed")
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"data": encoded})
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get("X-Session-ID")
	token := r.Header.Get("X-CSRF-Token")

	s.mu.Lock()
	expected, known := s.tokens[sessionID]
	transcript := s.transcript
	s.mu.Unlock()

	if token == "" || !known || expected != token {
		utils.RespondError(w, http.StatusForbidden, "invalid csrf token")
		return
	}

	if err := r.ParseMultipartForm(10 << 20); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, _, err := r.FormFile("file")
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil || len(data) == 0 {
		utils.RespondError(w, http.StatusBadRequest, "invalid audio file")
		return
	}

	encoded, err := transport.Encode(map[string]string{"transcript": transcript})
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "encode failed")
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"data": encoded})
}
