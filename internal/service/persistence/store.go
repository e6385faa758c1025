// Package persistence keeps the session registry and the current-session
// pointer in a key-value backend.
//
// A structurally invalid record is discarded on load and the caller sees an
// empty registry. Unreadable timestamps are recovered field by field.
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/startup-chat/client/internal/model/chat"
	"github.com/zhouzirui/startup-chat/client/internal/storage"
)

const (
	SessionsKey = "chatSessions"
	CurrentKey  = "currentSessionId"
)

var (
	errNotArray        = errors.New("stored sessions are not a JSON array")
	errMissingID       = errors.New("session has no id")
	errMissingMessages = errors.New("session has no messages array")
)

// Store reads and writes the chat session registry.
type Store struct {
	kv     storage.KV
	logger *zap.Logger
}

// New wraps kv. A nil logger disables logging.
func New(kv storage.KV, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{kv: kv, logger: logger.Named("persistence")}
}

// Load returns the stored sessions in stored order. It never fails: a missing
// record yields an empty slice, a corrupted one is deleted and yields an
// empty slice.
func (s *Store) Load(ctx context.Context) []chat.Session {
	raw, ok, err := s.kv.Get(ctx, SessionsKey)
	if err != nil {
		s.logger.Warn("failed to read stored sessions", zap.Error(err))
		return []chat.Session{}
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return []chat.Session{}
	}

	sessions, err := s.decodeSessions([]byte(raw))
	if err != nil {
		s.logger.Warn("discarding corrupted session record", zap.Error(err))
		if delErr := s.kv.Delete(ctx, SessionsKey); delErr != nil {
			s.logger.Warn("failed to delete corrupted session record", zap.Error(delErr))
		}
		return []chat.Session{}
	}
	return sessions
}

// Save replaces the stored registry with sessions.
func (s *Store) Save(ctx context.Context, sessions []chat.Session) error {
	records := make([]storedSession, 0, len(sessions))
	for _, session := range sessions {
		records = append(records, toStored(session))
	}

	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode sessions: %w", err)
	}
	if err := s.kv.Set(ctx, SessionsKey, string(data)); err != nil {
		return fmt.Errorf("save sessions: %w", err)
	}
	return nil
}

// LoadCurrent returns the stored current session id, or "" when none.
func (s *Store) LoadCurrent(ctx context.Context) string {
	value, ok, err := s.kv.Get(ctx, CurrentKey)
	if err != nil {
		s.logger.Warn("failed to read current session id", zap.Error(err))
		return ""
	}
	if !ok {
		return ""
	}
	return strings.TrimSpace(value)
}

// SaveCurrent stores id as the current session pointer.
func (s *Store) SaveCurrent(ctx context.Context, id string) error {
	if err := s.kv.Set(ctx, CurrentKey, id); err != nil {
		return fmt.Errorf("save current session: %w", err)
	}
	return nil
}

// ClearCurrent removes the current session pointer.
func (s *Store) ClearCurrent(ctx context.Context) error {
	if err := s.kv.Delete(ctx, CurrentKey); err != nil {
		return fmt.Errorf("clear current session: %w", err)
	}
	return nil
}

type storedMessage struct {
	ID        string          `json:"id"`
	Text      string          `json:"text"`
	Direction chat.Direction  `json:"direction,omitempty"`
	CreatedAt json.RawMessage `json:"createdAt,omitempty"`

	// Older browser records.
	IsOutgoing *bool           `json:"isOutgoing,omitempty"`
	Timestamp  json.RawMessage `json:"timestamp,omitempty"`
}

type storedSession struct {
	ID                 string             `json:"id"`
	Title              string             `json:"title"`
	LastMessagePreview string             `json:"lastMessagePreview,omitempty"`
	UpdatedAt          json.RawMessage    `json:"updatedAt,omitempty"`
	Messages           *[]json.RawMessage `json:"messages"`

	LastMessage string          `json:"lastMessage,omitempty"`
	Timestamp   json.RawMessage `json:"timestamp,omitempty"`
}

func toStored(session chat.Session) storedSession {
	messages := make([]json.RawMessage, 0, len(session.Messages))
	for _, msg := range session.Messages {
		data, _ := json.Marshal(storedMessage{
			ID:        msg.ID,
			Text:      msg.Text,
			Direction: msg.Direction,
			CreatedAt: encodeTime(msg.CreatedAt),
		})
		messages = append(messages, data)
	}

	return storedSession{
		ID:                 session.ID,
		Title:              session.Title,
		LastMessagePreview: session.LastMessagePreview,
		UpdatedAt:          encodeTime(session.UpdatedAt),
		Messages:           &messages,
	}
}

func (s *Store) decodeSessions(data []byte) ([]chat.Session, error) {
	trimmed := strings.TrimSpace(string(data))
	if !strings.HasPrefix(trimmed, "[") {
		return nil, errNotArray
	}

	var records []json.RawMessage
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode sessions: %w", err)
	}

	sessions := make([]chat.Session, 0, len(records))
	for i, raw := range records {
		session, err := s.decodeSession(raw)
		if err != nil {
			return nil, fmt.Errorf("session %d: %w", i, err)
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

func (s *Store) decodeSession(raw json.RawMessage) (chat.Session, error) {
	var record storedSession
	if err := json.Unmarshal(raw, &record); err != nil {
		return chat.Session{}, err
	}
	if record.ID == "" {
		return chat.Session{}, errMissingID
	}
	if record.Messages == nil {
		return chat.Session{}, errMissingMessages
	}

	preview := record.LastMessagePreview
	if preview == "" {
		preview = record.LastMessage
	}
	updatedRaw := record.UpdatedAt
	if len(updatedRaw) == 0 {
		updatedRaw = record.Timestamp
	}

	session := chat.Session{
		ID:                 record.ID,
		Title:              record.Title,
		LastMessagePreview: preview,
		UpdatedAt:          s.recoverTime(updatedRaw, zap.String("session", record.ID)),
		Messages:           make([]chat.Message, 0, len(*record.Messages)),
	}

	for i, rawMsg := range *record.Messages {
		msg, err := s.decodeMessage(rawMsg, record.ID)
		if err != nil {
			s.logger.Warn("skipping unreadable message",
				zap.String("session", record.ID), zap.Int("index", i), zap.Error(err))
			continue
		}
		session.Messages = append(session.Messages, msg)
	}
	return session, nil
}

func (s *Store) decodeMessage(raw json.RawMessage, sessionID string) (chat.Message, error) {
	var record storedMessage
	if err := json.Unmarshal(raw, &record); err != nil {
		return chat.Message{}, err
	}

	direction := record.Direction
	if !direction.Valid() {
		switch {
		case record.IsOutgoing != nil && *record.IsOutgoing:
			direction = chat.Outgoing
		case record.IsOutgoing != nil:
			direction = chat.Incoming
		default:
			return chat.Message{}, fmt.Errorf("unknown direction %q", record.Direction)
		}
	}

	createdRaw := record.CreatedAt
	if len(createdRaw) == 0 {
		createdRaw = record.Timestamp
	}

	return chat.Message{
		ID:        record.ID,
		Text:      record.Text,
		Direction: direction,
		CreatedAt: s.recoverTime(createdRaw, zap.String("session", sessionID), zap.String("message", record.ID)),
	}, nil
}

// recoverTime parses an RFC 3339 string or a unix-millisecond number. Anything
// else becomes the zero time.
func (s *Store) recoverTime(raw json.RawMessage, fields ...zap.Field) time.Time {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}
	}
	t, err := decodeTime(raw)
	if err != nil {
		s.logger.Warn("unreadable timestamp, using zero time", append(fields, zap.Error(err))...)
		return time.Time{}
	}
	return t
}

func decodeTime(raw json.RawMessage) (time.Time, error) {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return time.Parse(time.RFC3339Nano, text)
	}

	millis, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("unsupported timestamp %s", raw)
	}
	return time.UnixMilli(millis).UTC(), nil
}

func encodeTime(t time.Time) json.RawMessage {
	data, _ := json.Marshal(t.UTC().Format(time.RFC3339Nano))
	return data
}
