// Package conversation orchestrates chat turns: optimistic append, session
// resolution, the remote call, and reconciliation into the registry.
package conversation

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/startup-chat/client/internal/model/chat"
	"github.com/zhouzirui/startup-chat/client/internal/service/registry"
	"github.com/zhouzirui/startup-chat/client/internal/service/transport"
)

// Gateway is the remote side of a turn.
type Gateway interface {
	RequestIntegrityToken(ctx context.Context) (transport.Grant, error)
	SendQuery(ctx context.Context, text, sessionID, token string) (transport.Answer, error)
	Transcribe(ctx context.Context, audio io.Reader, filename, sessionID, token string) (string, error)
}

// Snapshot is the read model handed to the presentation layer.
type Snapshot struct {
	Messages         []chat.Message `json:"messages"`
	IsTyping         bool           `json:"isTyping"`
	ChatSessions     []chat.Session `json:"chatSessions"`
	CurrentSessionID string         `json:"currentSessionId"`
}

// ConversationState is the transient state of the active conversation. The
// current session id itself lives in the registry.
type ConversationState struct {
	Messages []chat.Message
	// Token is the integrity token of a conversation started in this process.
	Token string
	// Epoch advances whenever the active conversation is replaced.
	Epoch uint64
	// InFlight counts turns awaiting a response.
	InFlight int
}

// Controller owns one ConversationState.
type Controller struct {
	mu    sync.Mutex
	state ConversationState

	gateway  Gateway
	registry *registry.Registry
	texts    Texts
	logger   *zap.Logger
	now      func() time.Time

	subMu       sync.Mutex
	subscribers map[int]func(Snapshot)
	nextSub     int
}

// Option customises a Controller.
type Option func(*Controller)

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger.Named("conversation")
		}
	}
}

// WithClock overrides the time source for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithTexts overrides the failure replies.
func WithTexts(texts Texts) Option {
	return func(c *Controller) { c.texts = texts }
}

// NewController wires a controller. Call Restore before serving.
func NewController(gateway Gateway, reg *registry.Registry, opts ...Option) *Controller {
	c := &Controller{
		state:       ConversationState{Messages: []chat.Message{}},
		gateway:     gateway,
		registry:    reg,
		texts:       DefaultTexts(),
		logger:      zap.NewNop(),
		now:         func() time.Time { return time.Now().UTC() },
		subscribers: make(map[int]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Restore loads persisted sessions and reopens the current one, if any.
func (c *Controller) Restore(ctx context.Context) {
	c.registry.Restore(ctx)

	c.mu.Lock()
	current := c.registry.Current()
	if session, ok := c.registry.Find(current); ok {
		c.state.Messages = session.Messages
	}
	c.mu.Unlock()
	c.notify()
}

// SendMessage runs one turn. The outgoing message is appended before any
// network call. Remote failures are turned into a synthetic incoming message
// and are not returned; the only error is ErrEmptyMessage.
func (c *Controller) SendMessage(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	c.mu.Lock()
	outgoing := chat.NewMessage(text, chat.Outgoing, c.now())
	c.state.Messages = append(c.state.Messages, outgoing)
	c.state.InFlight++
	epoch := c.state.Epoch
	sessionID := c.registry.Current()
	token := c.state.Token
	c.mu.Unlock()
	c.notify()

	if sessionID == "" {
		grant, err := c.gateway.RequestIntegrityToken(ctx)
		if err != nil {
			c.fail(epoch, err)
			return nil
		}
		sessionID, token = grant.SessionID, grant.Token
		c.adoptGrant(ctx, epoch, grant)
	}

	answer, err := c.gateway.SendQuery(ctx, text, sessionID, token)
	if err != nil {
		c.fail(epoch, err)
		return nil
	}

	c.mu.Lock()
	incoming := chat.NewMessage(answer.Answer, chat.Incoming, c.now())
	c.registry.Upsert(ctx, sessionID, outgoing, incoming)
	if c.state.Epoch == epoch {
		c.state.Messages = append(c.state.Messages, incoming)
	} else {
		c.logger.Info("turn finished after conversation changed; recorded in its session only",
			zap.String("session", sessionID))
	}
	c.state.InFlight--
	c.mu.Unlock()
	c.notify()
	return nil
}

// NewConversation resets to the no-session state. It performs no network or
// storage calls.
func (c *Controller) NewConversation() {
	c.mu.Lock()
	c.state.Messages = []chat.Message{}
	c.state.Token = ""
	c.state.Epoch++
	c.registry.ClearCurrent()
	c.mu.Unlock()
	c.notify()
}

// SelectChat makes sessionID the active conversation. Unknown ids start an
// empty conversation under that id.
func (c *Controller) SelectChat(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return ErrSessionIDEmpty
	}

	c.mu.Lock()
	c.state.Messages = c.registry.Select(ctx, sessionID)
	c.state.Token = ""
	c.state.Epoch++
	c.mu.Unlock()
	c.notify()
	return nil
}

// DeleteChat removes sessionID. Deleting the active conversation resets the
// transient state; deleting another leaves it untouched.
func (c *Controller) DeleteChat(ctx context.Context, sessionID string) {
	c.mu.Lock()
	if _, wasCurrent := c.registry.Delete(ctx, sessionID); wasCurrent {
		c.state.Messages = []chat.Message{}
		c.state.Token = ""
		c.state.Epoch++
	}
	c.mu.Unlock()
	c.notify()
}

// Transcribe converts an audio clip to text for the active conversation,
// acquiring a session id and token first when none exists.
func (c *Controller) Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error) {
	c.mu.Lock()
	sessionID := c.registry.Current()
	token := c.state.Token
	epoch := c.state.Epoch
	c.mu.Unlock()

	if sessionID == "" {
		grant, err := c.gateway.RequestIntegrityToken(ctx)
		if err != nil {
			return "", err
		}
		sessionID, token = grant.SessionID, grant.Token
		c.adoptGrant(ctx, epoch, grant)
		c.notify()
	}

	transcript, err := c.gateway.Transcribe(ctx, audio, filename, sessionID, token)
	if err != nil {
		c.logger.Warn("transcription failed",
			zap.String("session", sessionID), zap.String("category", string(Classify(err))), zap.Error(err))
		return "", err
	}
	return transcript, nil
}

// Snapshot returns a copy of the read model.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Subscribe registers fn to receive a snapshot after every state change.
func (c *Controller) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subscribers[id] = fn
	c.subMu.Unlock()

	return func() {
		c.subMu.Lock()
		delete(c.subscribers, id)
		c.subMu.Unlock()
	}
}

func (c *Controller) adoptGrant(ctx context.Context, epoch uint64, grant transport.Grant) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Epoch != epoch {
		return
	}
	c.state.Token = grant.Token
	c.registry.SetCurrent(ctx, grant.SessionID)
}

func (c *Controller) fail(epoch uint64, err error) {
	category := Classify(err)
	c.logger.Warn("turn failed", zap.String("category", string(category)), zap.Error(err))

	c.mu.Lock()
	if c.state.Epoch == epoch {
		synthetic := chat.NewMessage(c.texts.For(category), chat.Incoming, c.now())
		c.state.Messages = append(c.state.Messages, synthetic)
	}
	c.state.InFlight--
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		Messages:         chat.CloneMessages(c.state.Messages),
		IsTyping:         c.state.InFlight > 0,
		ChatSessions:     c.registry.Sessions(),
		CurrentSessionID: c.registry.Current(),
	}
}

func (c *Controller) notify() {
	c.subMu.Lock()
	if len(c.subscribers) == 0 {
		c.subMu.Unlock()
		return
	}
	subs := make([]func(Snapshot), 0, len(c.subscribers))
	for _, fn := range c.subscribers {
		subs = append(subs, fn)
	}
	c.subMu.Unlock()

	snapshot := c.Snapshot()
	for _, fn := range subs {
		fn(snapshot)
	}
}
