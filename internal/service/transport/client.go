// Package transport talks to the remote assistant service.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/startup-chat/client/internal/config"
)

const (
	tokenPath   = "/csrf-token"
	processPath = "/api/v1/secure/process"
	audioPath   = "/api/v1/secure/audio"

	maxResponseBytes = 4 << 20
)

// Grant is the server-issued session identifier and integrity token for a
// brand-new conversation.
type Grant struct {
	SessionID string `json:"session_id"`
	Token     string `json:"csrf_token"`
}

// Answer is the decoded reply to a query.
type Answer struct {
	Answer           string   `json:"answer"`
	SimilarQuestions []string `json:"similar_questions,omitempty"`
	SessionID        string   `json:"session_id,omitempty"`
}

type queryPayload struct {
	Text      string  `json:"text"`
	SessionID string  `json:"session_id"`
	Token     *string `json:"csrf_token"`
}

type transcriptPayload struct {
	Transcript string `json:"transcript"`
}

// Client issues calls to the assistant service. It never retries.
type Client struct {
	baseURL     string
	tokenMethod string
	http        *http.Client
	logger      *zap.Logger
}

// NewClient builds a client for cfg. A nil logger disables logging.
func NewClient(cfg config.RemoteConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	method := strings.ToUpper(strings.TrimSpace(cfg.TokenMethod))
	if method == "" {
		method = http.MethodPost
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		tokenMethod: method,
		http:        &http.Client{Timeout: cfg.Timeout},
		logger:      logger.Named("transport"),
	}
}

// RequestIntegrityToken asks the server for a new session id and token.
func (c *Client) RequestIntegrityToken(ctx context.Context) (Grant, error) {
	const op = "request integrity token"

	req, err := http.NewRequestWithContext(ctx, c.tokenMethod, c.baseURL+tokenPath, nil)
	if err != nil {
		return Grant{}, &TransportError{Op: op, Kind: KindUnexpected, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(op, req)
	if err != nil {
		return Grant{}, err
	}

	var grant Grant
	if err := json.Unmarshal(body, &grant); err != nil || grant.SessionID == "" {
		if err == nil {
			err = fmt.Errorf("response has no session_id")
		}
		return Grant{}, &TransportError{Op: op, Kind: KindUnexpected, Err: err}
	}
	return grant, nil
}

// SendQuery sends one user turn. An empty token is sent as null.
func (c *Client) SendQuery(ctx context.Context, text, sessionID, token string) (Answer, error) {
	const op = "send query"

	payload := queryPayload{Text: text, SessionID: sessionID}
	if token != "" {
		payload.Token = &token
	}
	encoded, err := Encode(payload)
	if err != nil {
		return Answer{}, &TransportError{Op: op, Kind: KindUnexpected, Err: err}
	}
	body, err := json.Marshal(envelope{Data: encoded})
	if err != nil {
		return Answer{}, &TransportError{Op: op, Kind: KindUnexpected, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+processPath, bytes.NewReader(body))
	if err != nil {
		return Answer{}, &TransportError{Op: op, Kind: KindUnexpected, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	respBody, err := c.do(op, req)
	if err != nil {
		return Answer{}, err
	}

	var wrapped envelope
	if err := json.Unmarshal(respBody, &wrapped); err != nil {
		return Answer{}, &TransportError{Op: op, Kind: KindUnexpected, Err: err}
	}
	var answer Answer
	if err := Decode(wrapped.Data, &answer); err != nil {
		return Answer{}, &TransportError{Op: op, Kind: KindUnexpected, Err: err}
	}

	c.logger.Debug("query answered",
		zap.String("session", sessionID),
		zap.Int("answer_runes", len([]rune(answer.Answer))))
	return answer, nil
}

// Transcribe uploads an audio clip and returns its transcript.
func (c *Client) Transcribe(ctx context.Context, audio io.Reader, filename, sessionID, token string) (string, error) {
	const op = "transcribe"

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filepath.Base(filename)))
	header.Set("Content-Type", AudioContentType(filename))
	part, err := writer.CreatePart(header)
	if err != nil {
		return "", &TransportError{Op: op, Kind: KindUnexpected, Err: err}
	}
	if _, err := io.Copy(part, audio); err != nil {
		return "", &TransportError{Op: op, Kind: KindUnexpected, Err: fmt.Errorf("read audio: %w", err)}
	}
	if err := writer.Close(); err != nil {
		return "", &TransportError{Op: op, Kind: KindUnexpected, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+audioPath, &buf)
	if err != nil {
		return "", &TransportError{Op: op, Kind: KindUnexpected, Err: err}
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("X-Session-ID", sessionID)
	req.Header.Set("X-CSRF-Token", token)

	respBody, err := c.do(op, req)
	if err != nil {
		return "", err
	}

	// The service answers either {"transcript": ...} or {"data": <encoded>}.
	var probe struct {
		Transcript *string `json:"transcript"`
		Data       string  `json:"data"`
	}
	if err := json.Unmarshal(respBody, &probe); err != nil {
		return "", &TransportError{Op: op, Kind: KindUnexpected, Err: err}
	}
	if probe.Transcript != nil {
		return *probe.Transcript, nil
	}
	var decoded transcriptPayload
	if err := Decode(probe.Data, &decoded); err != nil {
		return "", &TransportError{Op: op, Kind: KindUnexpected, Err: err}
	}
	return decoded.Transcript, nil
}

func (c *Client) do(op string, req *http.Request) ([]byte, error) {
	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("request failed", zap.String("op", op), zap.Error(err))
		return nil, &TransportError{Op: op, Kind: KindNetworkUnreachable, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &TransportError{Op: op, Kind: KindNetworkUnreachable, Err: err}
	}

	c.logger.Debug("request completed",
		zap.String("op", op),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(started)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{Op: op, Kind: KindForStatus(resp.StatusCode), Status: resp.StatusCode}
	}
	return body, nil
}

// AudioContentType infers a MIME type from the clip's file extension.
func AudioContentType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".m4a":
		return "audio/mp4"
	case ".aac":
		return "audio/aac"
	case ".ogg":
		return "audio/ogg"
	default:
		return "audio/webm"
	}
}
