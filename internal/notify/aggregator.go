package notify

import (
	"context"
	"sync"

	"giglink/internal/models"
)

// ConversationService is the slice of the chat API the aggregator reads.
type ConversationService interface {
	Conversations(ctx context.Context, page, size int) ([]models.ConversationSummary, error)
}

// NotificationService is the notification endpoint surface.
type NotificationService interface {
	List(ctx context.Context, page, size int) ([]models.Notification, error)
	UnreadCount(ctx context.Context) (int, error)
	MarkRead(ctx context.Context, id int64) error
	MarkAllRead(ctx context.Context) error
	Delete(ctx context.Context, id int64) error
}

// Aggregator maintains the conversation list with unread counters and the
// notification feed. List refreshes are full snapshot replaces: cheap to
// reason about, and the server stays the single source of truth.
type Aggregator struct {
	chat     ConversationService
	notif    NotificationService
	pageSize int

	mu            sync.Mutex
	conversations []models.ConversationSummary
	notifications []models.Notification
	badge         int
}

func NewAggregator(chat ConversationService, notif NotificationService, pageSize int) *Aggregator {
	if pageSize <= 0 {
		pageSize = 50
	}
	return &Aggregator{chat: chat, notif: notif, pageSize: pageSize}
}

// RefreshConversations replaces the conversation snapshot. Called on mount
// and on every realtime push.
func (a *Aggregator) RefreshConversations(ctx context.Context) error {
	list, err := a.chat.Conversations(ctx, 0, a.pageSize)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.conversations = list
	a.mu.Unlock()
	return nil
}

// RefreshBadge fetches the aggregate unread count. Fetched on mount only;
// it may lag the per-conversation counters until the next list refresh.
func (a *Aggregator) RefreshBadge(ctx context.Context) error {
	count, err := a.notif.UnreadCount(ctx)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.badge = count
	a.mu.Unlock()
	return nil
}

// OnPush is wired to realtime message delivery: the list snapshot is
// re-fetched wholesale rather than merged incrementally.
func (a *Aggregator) OnPush(ctx context.Context) {
	_ = a.RefreshConversations(ctx)
}

// OnNotification is wired to realtime notification delivery: the new entry
// is prepended to the feed and the badge bumped without a server round trip.
func (a *Aggregator) OnNotification(n models.Notification) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.notifications = append([]models.Notification{n}, a.notifications...)
	if !n.IsRead {
		a.badge++
	}
}

// ConversationRead zeroes the local unread counter for one peer. Invoked by
// the conversation engine after a successful mark-read.
func (a *Aggregator) ConversationRead(otherID int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.conversations {
		if a.conversations[i].ConversationID == otherID {
			a.conversations[i].UnreadCount = 0
		}
	}
}

// OpenPanel loads the notification feed and marks everything read, locally
// first and then on the server. A failed server call rolls the local read
// flags back so unread state is not silently lost.
func (a *Aggregator) OpenPanel(ctx context.Context) ([]models.Notification, error) {
	list, err := a.notif.List(ctx, 0, a.pageSize)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.notifications = list
	a.mu.Unlock()

	unread := false
	for _, n := range list {
		if !n.IsRead {
			unread = true
			break
		}
	}
	if unread {
		if err := a.exec(ctx, a.markAllCommand()); err != nil {
			return a.Notifications(), err
		}
	}
	return a.Notifications(), nil
}

// MarkRead marks one notification read, optimistically with rollback.
func (a *Aggregator) MarkRead(ctx context.Context, id int64) error {
	return a.exec(ctx, a.markOneCommand(id))
}

// Delete removes one notification, optimistically with rollback.
func (a *Aggregator) Delete(ctx context.Context, id int64) error {
	return a.exec(ctx, a.deleteCommand(id))
}

func (a *Aggregator) Conversations() []models.ConversationSummary {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]models.ConversationSummary, len(a.conversations))
	copy(out, a.conversations)
	return out
}

func (a *Aggregator) Notifications() []models.Notification {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]models.Notification, len(a.notifications))
	copy(out, a.notifications)
	return out
}

func (a *Aggregator) Badge() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.badge
}
