package chat

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"giglink/internal/api"
	"giglink/internal/models"
)

// Service is the slice of the chat API the engine needs.
type Service interface {
	History(ctx context.Context, otherID int64, page, size int) ([]models.Message, error)
	Send(ctx context.Context, req api.SendRequest) error
	MarkRead(ctx context.Context, otherID int64) error
}

// Publisher broadcasts over the realtime connection, fire-and-forget.
type Publisher interface {
	SendTyping(ev models.TypingEvent)
}

type Phase int

const (
	// PhaseNone: nothing selected, prompt the user to pick a conversation.
	PhaseNone Phase = iota
	PhaseLoading
	PhaseReady
	PhaseError
	// PhaseSelf: the user tried to open a conversation with themselves.
	PhaseSelf
)

type Config struct {
	Self           models.Session
	Service        Service
	Publisher      Publisher
	PageSize       int
	TypingExpiry   time.Duration
	TypingDebounce time.Duration
	// OnRead is called after a successful mark-read so list badges update.
	OnRead func(otherID int64)
}

// Engine reconciles the currently open conversation: REST history against
// realtime push, typing presence in both directions, and the read-receipt
// guard. All methods are safe for concurrent use from the event callbacks.
type Engine struct {
	self           models.Session
	service        Service
	publisher      Publisher
	pageSize       int
	typingExpiry   time.Duration
	typingDebounce time.Duration
	onRead         func(otherID int64)

	mu            sync.Mutex
	phase         Phase
	otherID       int64
	otherUsername string
	projectID     int64
	messages      []models.Message
	loadErr       error

	// epoch guards commits: a history fetch started for a superseded
	// selection must not overwrite the current one.
	epoch int64

	peerTyping   peerTypingState
	selfTyping   bool
	typingTo     int64
	typingToName string
	typingTimer  *time.Timer
	focused      bool
	readMarked   bool
	readMarkedID int64
}

func New(ctx context.Context, cfg Config) *Engine {
	e := &Engine{
		self:           cfg.Self,
		service:        cfg.Service,
		publisher:      cfg.Publisher,
		pageSize:       cfg.PageSize,
		typingExpiry:   cfg.TypingExpiry,
		typingDebounce: cfg.TypingDebounce,
		onRead:         cfg.OnRead,
	}
	if e.pageSize <= 0 {
		e.pageSize = 50
	}
	if e.typingExpiry <= 0 {
		e.typingExpiry = 2 * time.Second
	}
	if e.typingDebounce <= 0 {
		e.typingDebounce = 1500 * time.Millisecond
	}
	e.peerTyping.init(ctx, e.typingExpiry)
	return e
}

// Select switches the open conversation to the peer with the given id.
// A non-positive id clears the selection; selecting yourself is rejected
// without ever touching the network.
func (e *Engine) Select(ctx context.Context, otherID int64) error {
	e.mu.Lock()
	e.epoch++
	epoch := e.epoch
	e.messages = nil
	e.loadErr = nil
	e.otherUsername = ""
	e.projectID = 0
	e.peerTyping.clear()

	switch {
	case otherID <= 0:
		e.phase = PhaseNone
		e.otherID = 0
		e.mu.Unlock()
		return models.ErrNoConversation
	case otherID == e.self.UserID:
		e.phase = PhaseSelf
		e.otherID = 0
		e.mu.Unlock()
		return models.ErrSelfConversation
	}

	e.phase = PhaseLoading
	e.otherID = otherID
	// New key: the read-once guard rearms for the new conversation.
	e.readMarked = false
	e.readMarkedID = otherID
	e.mu.Unlock()

	return e.reload(ctx, otherID, epoch)
}

// Reload re-fetches the current conversation history. Used after sends and
// pushes; also the recovery path out of PhaseError.
func (e *Engine) Reload(ctx context.Context) error {
	e.mu.Lock()
	otherID := e.otherID
	epoch := e.epoch
	e.mu.Unlock()
	if otherID == 0 {
		return models.ErrNoConversation
	}
	return e.reload(ctx, otherID, epoch)
}

func (e *Engine) reload(ctx context.Context, otherID int64, epoch int64) error {
	msgs, err := e.service.History(ctx, otherID, 0, e.pageSize)

	e.mu.Lock()
	if e.epoch != epoch || e.otherID != otherID {
		// Selection moved on while we were in flight; drop the result.
		e.mu.Unlock()
		return nil
	}
	if err != nil {
		e.phase = PhaseError
		e.loadErr = err
		e.mu.Unlock()
		return err
	}

	sortMessages(msgs)
	e.messages = msgs
	e.phase = PhaseReady
	e.loadErr = nil
	e.deriveLocked()
	focused := e.focused
	e.mu.Unlock()

	if focused {
		e.maybeMarkRead(ctx)
	}
	return nil
}

// deriveLocked fills otherUsername and projectID from the earliest message.
func (e *Engine) deriveLocked() {
	if len(e.messages) == 0 {
		return
	}
	first := e.messages[0]
	if first.SenderID == e.self.UserID {
		e.otherUsername = first.ReceiverUsername
	} else {
		e.otherUsername = first.SenderUsername
	}
	if first.ProjectID != 0 {
		e.projectID = first.ProjectID
	}
}

// sortMessages orders ascending by createdAt, ties broken by id. The sort is
// stable so equal keys keep their arrival order.
func sortMessages(msgs []models.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
		}
		return msgs[i].ID < msgs[j].ID
	})
}

// OnPush handles a realtime message. Anything not addressed to the open
// conversation is ignored here; the full history is re-fetched rather than
// merged so the canonical server ordering always wins.
func (e *Engine) OnPush(ctx context.Context, msg models.Message) {
	e.mu.Lock()
	otherID := e.otherID
	epoch := e.epoch
	relevant := otherID != 0 && msg.Involves(e.self.UserID, otherID)
	e.mu.Unlock()

	if !relevant {
		return
	}
	_ = e.reload(ctx, otherID, epoch)
}

// SendMessage persists via REST, then re-fetches so the server-assigned id
// and timestamp are what gets displayed. No optimistic insert.
func (e *Engine) SendMessage(ctx context.Context, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return models.ErrEmptyMessage
	}

	e.mu.Lock()
	otherID := e.otherID
	projectID := e.projectID
	e.mu.Unlock()
	if otherID == 0 {
		return models.ErrNoConversation
	}

	req := api.SendRequest{RecipientID: otherID, Content: content, ProjectID: projectID}
	if err := e.service.Send(ctx, req); err != nil {
		return err
	}
	return e.Reload(ctx)
}

// SetFocused tracks window focus. The mark-read call fires on the transition
// into focused-with-a-ready-conversation, at most once per conversation key.
func (e *Engine) SetFocused(ctx context.Context, focused bool) {
	e.mu.Lock()
	e.focused = focused
	e.mu.Unlock()
	if focused {
		e.maybeMarkRead(ctx)
	}
}

func (e *Engine) maybeMarkRead(ctx context.Context) {
	e.mu.Lock()
	if !e.focused || e.phase != PhaseReady || e.readMarked || e.otherID == 0 {
		e.mu.Unlock()
		return
	}
	otherID := e.otherID
	e.readMarked = true
	e.mu.Unlock()

	if err := e.service.MarkRead(ctx, otherID); err != nil {
		// Rearm so the next focus transition can retry.
		e.mu.Lock()
		if e.readMarkedID == otherID {
			e.readMarked = false
		}
		e.mu.Unlock()
		return
	}
	if e.onRead != nil {
		e.onRead(otherID)
	}
}

func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loadErr
}

// Other returns the current peer's id and derived username.
func (e *Engine) Other() (int64, string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.otherID, e.otherUsername
}

func (e *Engine) ProjectID() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.projectID
}

// Messages returns a copy of the reconciled, ordered message list.
func (e *Engine) Messages() []models.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.Message, len(e.messages))
	copy(out, e.messages)
	return out
}
